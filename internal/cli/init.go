package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Terrapin project",
	Long:  `Creates a new Terrapin project with default configuration files.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(".terrapin", 0755); err != nil {
		return fmt.Errorf("failed to create .terrapin directory: %w", err)
	}

	mainPkl := "main.pkl"
	if _, err := os.Stat(mainPkl); os.IsNotExist(err) {
		content := `// Terrapin configuration

amends "terrapin:Config"

resources {
  // Add your resources here
}

outputs {
  // Add your outputs here
}
`
		if err := os.WriteFile(mainPkl, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", mainPkl, err)
		}
		fmt.Printf("Created %s\n", mainPkl)
	}

	stateFile := filepath.Join(".terrapin", "state.pkl")
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		content := `// terrapin state file
amends "terrapin:State"

version = 1
serial = 0
lineage = ""

outputs = new {}

resources {}
`
		if err := os.WriteFile(stateFile, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create state file: %w", err)
		}
		fmt.Printf("Created %s\n", stateFile)
	}

	fmt.Println("\nTerrapin initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit main.pkl to define your infrastructure")
	fmt.Println("  2. Run 'terrapin plan' to see what will be created")
	fmt.Println("  3. Run 'terrapin apply' to create your infrastructure")

	return nil
}
