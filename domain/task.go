package domain

// Task represents a single board item.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Assignee    *TeamMember `json:"assignee,omitempty"`
}

// Column is one of the three fixed board stages. Titles carry decorative
// glyphs for display; notification details use the stripped label.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

// Board is the full column/task structure persisted per identity.
type Board struct {
	Columns []Column `json:"columns"`
}
