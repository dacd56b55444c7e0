package domain

import "time"

// ListName identifies one of the three board lists.
type ListName string

const (
	Todo  ListName = "todo"
	Doing ListName = "doing"
	Done  ListName = "done"
)

// Lists is the fixed display order of the board columns.
var Lists = [...]ListName{Todo, Doing, Done}

// Valid reports whether l names one of the three board lists.
func (l ListName) Valid() bool {
	switch l {
	case Todo, Doing, Done:
		return true
	}
	return false
}

type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Card represents a single task on the board.
type Card struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	DueAt       *time.Time      `json:"dueAt,omitempty"`
	LabelIDs    []string        `json:"labelIds,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// WIPLimits caps the number of cards admitted into each list.
type WIPLimits struct {
	Todo  int `json:"todo"`
	Doing int `json:"doing"`
	Done  int `json:"done"`
}

// DefaultWIPLimits returns the limits used until the server sends its own.
func DefaultWIPLimits() WIPLimits {
	return WIPLimits{Todo: 99, Doing: 3, Done: 99}
}

// Limit returns the limit configured for list l.
func (w WIPLimits) Limit(l ListName) int {
	switch l {
	case Todo:
		return w.Todo
	case Doing:
		return w.Doing
	case Done:
		return w.Done
	}
	return 0
}

// Merge returns w with every positive value of other applied on top.
// Non-positive values are not valid limits and are ignored.
func (w WIPLimits) Merge(other WIPLimits) WIPLimits {
	if other.Todo > 0 {
		w.Todo = other.Todo
	}
	if other.Doing > 0 {
		w.Doing = other.Doing
	}
	if other.Done > 0 {
		w.Done = other.Done
	}
	return w
}
