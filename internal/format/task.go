package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// TasksPath is the well-known location of the task list.
const TasksPath = "tasks/tasks.json"

// CurrentTaskVersion is the task file format version written by SerializeTasks.
const CurrentTaskVersion = 1

// List is a GTD list category.
type List string

const (
	ListInbox   List = "inbox"
	ListToday   List = "today"
	ListNext    List = "next"
	ListSomeday List = "someday"
	ListDone    List = "done"
)

// Valid reports whether l is one of the known lists.
func (l List) Valid() bool {
	switch l {
	case ListInbox, ListToday, ListNext, ListSomeday, ListDone:
		return true
	}
	return false
}

// Task is a single GTD task. Timestamps are epoch milliseconds.
//
// Completed tasks normally live in ListDone, but files written by older
// clients or mid-merge may violate that. The codec never rewrites List.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	List      List   `json:"list"`
	Completed bool   `json:"completed"`
	CreatedAt int64  `json:"createdAt"`
	DueDate   *int64 `json:"dueDate"`
	Notes     string `json:"notes"`

	Order     *int   `json:"order,omitempty"`
	Starred   bool   `json:"starred,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	ColumnID  string `json:"columnId,omitempty"`
	Pomodoros int    `json:"pomodoros,omitempty"`

	// Recency hints used by MergeTasks. Older files do not carry them.
	CompletedAt *int64 `json:"completedAt,omitempty"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
}

// Validate checks the fields a task must have before it is written.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.List.Valid() {
		return fmt.Errorf("invalid list %q", t.List)
	}
	return nil
}

// SetDefaults fills missing optional fields.
func (t *Task) SetDefaults() {
	if t.List == "" {
		t.List = ListInbox
	}
}

// lastTouched is the best recency estimate a task carries.
func (t *Task) lastTouched() int64 {
	latest := t.CreatedAt
	if t.UpdatedAt > latest {
		latest = t.UpdatedAt
	}
	if t.CompletedAt != nil && *t.CompletedAt > latest {
		latest = *t.CompletedAt
	}
	return latest
}

// filledFields counts the optional fields that carry a value.
func (t *Task) filledFields() int {
	n := 0
	for _, set := range []bool{
		t.Notes != "",
		t.DueDate != nil,
		t.Order != nil,
		t.Starred,
		t.ProjectID != "",
		t.ColumnID != "",
		t.Pomodoros > 0,
		t.CompletedAt != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// TaskFile is the on-disk envelope of the task list.
type TaskFile struct {
	Version   int    `json:"version"`
	UpdatedAt int64  `json:"updatedAt"`
	Tasks     []Task `json:"tasks"`
}

// SerializeTasks encodes the whole task list as one JSON document.
// updatedAt is stored in the envelope; pass 0 when unknown.
func SerializeTasks(tasks []Task, updatedAt int64) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	file := TaskFile{
		Version:   CurrentTaskVersion,
		UpdatedAt: updatedAt,
		Tasks:     tasks,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tasks: %w", err)
	}
	return append(data, '\n'), nil
}

// CreateEmptyTaskFile returns the content of a task file with no tasks.
func CreateEmptyTaskFile() []byte {
	data, _ := SerializeTasks(nil, 0)
	return data
}

// DeserializeTasks decodes a task file. Both the envelope form and a bare
// array are accepted. path is only used to identify the file in errors.
func DeserializeTasks(path string, data []byte) ([]Task, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, formatErr(path, errors.New("empty task file"))
	}

	var tasks []Task
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, formatErr(path, err)
		}
	} else {
		var file TaskFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, formatErr(path, err)
		}
		tasks = file.Tasks
	}

	if tasks == nil {
		tasks = []Task{}
	}
	for i := range tasks {
		if tasks[i].ID == "" {
			return nil, formatErr(path, fmt.Errorf("task %d: %w", i, ErrMissingID))
		}
		tasks[i].SetDefaults()
	}
	return tasks, nil
}

// Side names one end of a synchronization.
type Side int

const (
	// PreferNone lets MergeTasks pick by recency and completeness.
	PreferNone Side = iota
	PreferLocal
	PreferRemote
)

// String returns a human-readable representation of the side.
func (s Side) String() string {
	switch s {
	case PreferLocal:
		return "local"
	case PreferRemote:
		return "remote"
	default:
		return "none"
	}
}

// MergeTasks merges two task lists keyed by id. A task present on only one
// side is always kept. When both sides hold different versions of a task,
// the one with the later recency hint wins, then the one with more
// optional fields set, then the local one.
func MergeTasks(local, remote []Task) []Task {
	merged, _ := MergeTasksPreferring(local, remote, PreferNone)
	return merged
}

// MergeTasksPreferring merges like MergeTasks but lets prefer decide every
// id that was edited differently on both sides. It also returns those ids,
// in merge order.
//
// Output order is local order followed by remote-only tasks in remote order.
func MergeTasksPreferring(local, remote []Task, prefer Side) ([]Task, []string) {
	return mergeTasks(nil, local, remote, prefer)
}

// MergeTasksWithBase is a three-way MergeTasksPreferring. base is the list
// both sides last agreed on; a task changed on one side only takes that
// side's version without counting as a collision. Tasks missing from one
// side are still kept.
func MergeTasksWithBase(base, local, remote []Task, prefer Side) ([]Task, []string) {
	byID := make(map[string]Task, len(base))
	for _, t := range base {
		byID[t.ID] = t
	}
	return mergeTasks(byID, local, remote, prefer)
}

func mergeTasks(base map[string]Task, local, remote []Task, prefer Side) ([]Task, []string) {
	merged := make([]Task, 0, len(local)+len(remote))
	index := make(map[string]int, len(local)+len(remote))
	var collisions []string

	for _, t := range local {
		if i, ok := index[t.ID]; ok {
			merged[i] = newer(merged[i], t)
			continue
		}
		index[t.ID] = len(merged)
		merged = append(merged, t)
	}

	// Remote duplicates of an id are folded first so a collision is
	// judged against a single remote version.
	remoteByID := make(map[string]Task, len(remote))
	remoteOrder := make([]string, 0, len(remote))
	for _, t := range remote {
		if prev, ok := remoteByID[t.ID]; ok {
			remoteByID[t.ID] = newer(prev, t)
			continue
		}
		remoteByID[t.ID] = t
		remoteOrder = append(remoteOrder, t.ID)
	}

	for _, id := range remoteOrder {
		r := remoteByID[id]
		i, ok := index[id]
		if !ok {
			index[id] = len(merged)
			merged = append(merged, r)
			continue
		}
		l := merged[i]
		if reflect.DeepEqual(l, r) {
			continue
		}
		if b, ok := base[id]; ok {
			if reflect.DeepEqual(l, b) {
				merged[i] = r
				continue
			}
			if reflect.DeepEqual(r, b) {
				continue
			}
		}
		collisions = append(collisions, id)
		switch prefer {
		case PreferLocal:
		case PreferRemote:
			merged[i] = r
		default:
			merged[i] = newer(l, r)
		}
	}

	return merged, collisions
}

// newer picks between two versions of the same task, favoring a on ties.
func newer(a, b Task) Task {
	ta, tb := a.lastTouched(), b.lastTouched()
	if tb > ta {
		return b
	}
	if ta > tb {
		return a
	}
	if b.filledFields() > a.filledFields() {
		return b
	}
	return a
}
