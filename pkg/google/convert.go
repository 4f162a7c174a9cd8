package google

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/tasks/v1"

	"github.com/harrisonrobin/tasklink/pkg/model"
)

const (
	statusNeedsAction = "needsAction"
	statusCompleted   = "completed"

	// startedPrefix marks an in-progress task, since Google Tasks only knows
	// open and completed.
	startedPrefix = "‣ "
)

// notes holds the descriptor fields that have no native Google Tasks field.
// They are kept as "Key: value" lines in the task notes.
type notes struct {
	Project   string
	Workspace string
	Start     string
	End       string
}

func notesOf(d model.TaskDescriptor) notes {
	n := notes{Project: d.Project, Workspace: d.Workspace}
	if d.Date != nil && d.Date.Start != nil {
		n.Start = d.Date.Start.String()
		if d.Date.End != nil {
			n.End = d.Date.End.String()
		}
	}
	return n
}

func parseNotes(s string) notes {
	var n notes
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Project":
			n.Project = value
		case "Workspace":
			n.Workspace = value
		case "Start":
			n.Start = value
		case "End":
			n.End = value
		}
	}
	return n
}

func (n notes) String() string {
	var b strings.Builder
	if n.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n", n.Project)
	}
	if n.Workspace != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", n.Workspace)
	}
	if n.Start != "" {
		fmt.Fprintf(&b, "Start: %s\n", n.Start)
	}
	if n.End != "" {
		fmt.Fprintf(&b, "End: %s\n", n.End)
	}
	return b.String()
}

// due returns the RFC 3339 timestamp Google Tasks expects for a due date.
// Only the date part is kept by the API.
func due(start string) string {
	if len(start) < len("2006-01-02") {
		return ""
	}
	t, err := time.Parse("2006-01-02", start[:10])
	if err != nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func sameDay(a, b string) bool {
	if len(a) < 10 || len(b) < 10 {
		return a == b
	}
	return a[:10] == b[:10]
}

// title renders the task title for a status.
func title(base string, st model.Status) string {
	if st == model.StatusInProgress {
		return startedPrefix + base
	}
	return base
}

func baseTitle(t *tasks.Task) string {
	return strings.TrimPrefix(t.Title, startedPrefix)
}

// statusOf recovers the model status from a stored task.
func statusOf(t *tasks.Task) model.Status {
	switch {
	case t.Deleted:
		return model.StatusArchived
	case t.Status == statusCompleted:
		return model.StatusDone
	case strings.HasPrefix(t.Title, startedPrefix):
		return model.StatusInProgress
	}
	return model.StatusNotStarted
}

// ConvertDescriptorToTask builds the Google task for a new descriptor.
func ConvertDescriptorToTask(d model.TaskDescriptor) *tasks.Task {
	st := model.StatusNotStarted
	if d.Status != nil {
		st = *d.Status
	}
	n := notesOf(d)
	t := &tasks.Task{
		Title: title(d.Title, st),
		Notes: n.String(),
		Due:   due(n.Start),
	}
	applyStatus(t, st)
	return t
}

func applyStatus(t *tasks.Task, st model.Status) {
	t.Status = statusNeedsAction
	t.Deleted = false
	switch st {
	case model.StatusDone:
		t.Status = statusCompleted
	case model.StatusArchived:
		t.Status = statusCompleted
		t.Deleted = true
	}
}

// applyPatch returns the task as it should look after patch. Empty patch
// fields keep the stored values; a project or workspace replaces the whole
// grouping.
func applyPatch(existing *tasks.Task, patch model.TaskDescriptor) *tasks.Task {
	n := parseNotes(existing.Notes)
	if patch.Project != "" || patch.Workspace != "" {
		n.Project, n.Workspace = patch.Project, patch.Workspace
	}
	if patch.Date != nil && patch.Date.Start != nil {
		pn := notesOf(patch)
		n.Start, n.End = pn.Start, pn.End
	}

	base := baseTitle(existing)
	if patch.Title != "" {
		base = patch.Title
	}
	st := statusOf(existing)
	if patch.Status != nil {
		st = *patch.Status
	}

	target := &tasks.Task{
		Title: title(base, st),
		Notes: n.String(),
		Due:   existing.Due,
	}
	if n.Start != "" {
		target.Due = due(n.Start)
	}
	applyStatus(target, st)
	return target
}

// TaskNeedsUpdate returns a patch holding the fields of target that differ
// from existing, or nil when they match.
func TaskNeedsUpdate(existing, target *tasks.Task) *tasks.Task {
	patch := &tasks.Task{}
	needsUpdate := false

	if existing.Title != target.Title {
		patch.Title = target.Title
		needsUpdate = true
	}
	if existing.Notes != target.Notes {
		patch.Notes = target.Notes
		if target.Notes == "" {
			patch.NullFields = append(patch.NullFields, "Notes")
		}
		needsUpdate = true
	}
	if !sameDay(existing.Due, target.Due) {
		patch.Due = target.Due
		needsUpdate = true
	}
	if existing.Status != target.Status {
		patch.Status = target.Status
		if target.Status == statusNeedsAction {
			// Reopening requires the completion time to be cleared.
			patch.NullFields = append(patch.NullFields, "Completed")
		}
		needsUpdate = true
	}
	if existing.Deleted != target.Deleted {
		patch.Deleted = target.Deleted
		patch.ForceSendFields = append(patch.ForceSendFields, "Deleted")
		needsUpdate = true
	}

	if needsUpdate {
		return patch
	}
	return nil
}
