package domain

// Card is one catalog entry: a titled launcher for a remote workflow.
type Card struct {
	ID          string          `json:"id" yaml:"id" validate:"required"`
	Title       string          `json:"title" yaml:"title" validate:"required"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	WorkflowID  string          `json:"workflowId" yaml:"workflow_id" validate:"required"`
	Parameters  []CardParameter `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`
}

// CardParameter describes one input a card's workflow expects.
type CardParameter struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// MissingParameters returns the required parameter names absent from params.
func (c Card) MissingParameters(params map[string]any) []string {
	var missing []string
	for _, p := range c.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// ApplyDefaults returns params with card defaults filled in for absent keys.
func (c Card) ApplyDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(c.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range c.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
