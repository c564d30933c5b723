package engine

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema is the JSON object shape requested from a structured Chat call.
// Only the subset both backends accept is modelled.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is one field of a Schema. Items is the element type of an
// array field and defaults to string.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// itemsOf returns the element type of an array property.
func itemsOf(p SchemaProperty) SchemaProperty {
	if p.Items != nil {
		return *p.Items
	}
	return SchemaProperty{Type: "string"}
}

// PullProgress is one progress report of a model download.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
