package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task in the external store.
type Status string

const (
	StatusNotStarted Status = "Not started"
	StatusInProgress Status = "In progress"
	StatusDone       Status = "Done"
	StatusArchived   Status = "Archived"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusDone, StatusArchived:
		return true
	}
	return false
}

const dateLayout = "2006-01-02"

// DateBound is either a calendar date or a date with a time and UTC offset.
type DateBound struct {
	Time    time.Time
	HasTime bool
}

// NewDate returns a date-only bound.
func NewDate(t time.Time) *DateBound {
	y, m, d := t.Date()
	return &DateBound{Time: time.Date(y, m, d, 0, 0, 0, 0, t.Location())}
}

// NewDateTime returns a bound carrying a time of day.
func NewDateTime(t time.Time) *DateBound {
	return &DateBound{Time: t, HasTime: true}
}

// String formats the bound as 2006-01-02 or as RFC 3339 with its offset.
func (b DateBound) String() string {
	if b.HasTime {
		return b.Time.Format(time.RFC3339)
	}
	return b.Time.Format(dateLayout)
}

func (b DateBound) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *DateBound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		*b = DateBound{Time: t, HasTime: true}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("failed to parse date bound '%s': %w", s, err)
	}
	*b = DateBound{Time: t}
	return nil
}

// DateRange is a start bound with an optional end.
type DateRange struct {
	Start *DateBound `json:"start,omitempty"`
	End   *DateBound `json:"end,omitempty"`
}

// TaskDescriptor is the structured form of a task extracted from chat text.
// When used as a patch, empty fields mean "leave unchanged".
type TaskDescriptor struct {
	ID         string     `json:"id,omitempty"`
	Title      string     `json:"title,omitempty"`
	Project    string     `json:"project,omitempty"`
	Workspace  string     `json:"workspace,omitempty"`
	Date       *DateRange `json:"date,omitempty"`
	Status     *Status    `json:"status,omitempty"`
	ParentTask string     `json:"parentTask,omitempty"`
}

// Grouping returns the handle used to resolve where the task is filed.
// A project always wins over a workspace.
func (t TaskDescriptor) Grouping() (kind, name string) {
	if t.Project != "" {
		return GroupProject, t.Project
	}
	if t.Workspace != "" {
		return GroupWorkspace, t.Workspace
	}
	return "", ""
}

const (
	GroupProject   = "project"
	GroupWorkspace = "workspace"
)

// ErrNotFound is matched by every ResolutionError.
var ErrNotFound = errors.New("not found")

// ResolutionError reports a project or workspace that could not be matched.
type ResolutionError struct {
	Kind string
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrNotFound
}
