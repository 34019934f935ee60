package ir

// Resource is a single declared resource.
type Resource struct {
	Type       string         `pkl:"type"` // e.g. "aws:EC2.Vpc"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	DependsOn  []string       `pkl:"dependsOn"`
	Count      int            `pkl:"count"`
	ForEach    map[string]any `pkl:"forEach"`
	Timeout    string         `pkl:"timeout"`
	Properties map[string]any `pkl:"properties"` // Dynamic properties, may contain ref:// values
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}
