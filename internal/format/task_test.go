package format

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr string
	}{
		{
			name: "valid task",
			task: Task{ID: "t1", Title: "Buy milk", List: ListInbox},
		},
		{
			name:    "missing id",
			task:    Task{Title: "Buy milk", List: ListInbox},
			wantErr: "id is required",
		},
		{
			name:    "missing title",
			task:    Task{ID: "t1", List: ListInbox},
			wantErr: "title is required",
		},
		{
			name:    "unknown list",
			task:    Task{ID: "t1", Title: "Buy milk", List: "later"},
			wantErr: "invalid list",
		},
		{
			name: "completed outside done is tolerated",
			task: Task{ID: "t1", Title: "Buy milk", List: ListToday, Completed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSerializeTasks_RoundTrip(t *testing.T) {
	tasks := []Task{
		{ID: "a", Title: "Write report", List: ListToday, CreatedAt: 1700000000000, DueDate: ptr(int64(1700086400000)), Notes: "draft first"},
		{ID: "b", Title: "Call bank", List: ListDone, Completed: true, CreatedAt: 1700000001000, CompletedAt: ptr(int64(1700000500000))},
		{ID: "c", Title: "Plan trip", List: ListSomeday, Order: ptr(0), Starred: true, ProjectID: "p1", ColumnID: "backlog", Pomodoros: 3},
	}

	data, err := SerializeTasks(tasks, 1700000600000)
	if err != nil {
		t.Fatalf("SerializeTasks() error = %v", err)
	}

	got, err := DeserializeTasks(TasksPath, data)
	if err != nil {
		t.Fatalf("DeserializeTasks() error = %v", err)
	}
	if diff := cmp.Diff(tasks, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	var file TaskFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("serialized output is not JSON: %v", err)
	}
	if file.Version != CurrentTaskVersion || file.UpdatedAt != 1700000600000 {
		t.Errorf("envelope = {version:%d updatedAt:%d}, want {%d 1700000600000}", file.Version, file.UpdatedAt, CurrentTaskVersion)
	}
}

func TestCreateEmptyTaskFile(t *testing.T) {
	data := CreateEmptyTaskFile()
	if !strings.Contains(string(data), `"tasks": []`) {
		t.Errorf("CreateEmptyTaskFile() = %s, want an empty tasks array", data)
	}
	got, err := DeserializeTasks(TasksPath, data)
	if err != nil {
		t.Fatalf("DeserializeTasks() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("DeserializeTasks(empty file) = %#v, want empty non-nil slice", got)
	}
}

func TestDeserializeTasks_Lenient(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []Task
	}{
		{
			name: "bare array",
			data: `[{"id":"a","title":"x","list":"next"}]`,
			want: []Task{{ID: "a", Title: "x", List: ListNext}},
		},
		{
			name: "missing list defaults to inbox",
			data: `{"version":1,"tasks":[{"id":"a","title":"x"}]}`,
			want: []Task{{ID: "a", Title: "x", List: ListInbox}},
		},
		{
			name: "unknown fields ignored",
			data: `{"version":1,"extra":true,"tasks":[{"id":"a","title":"x","list":"today","color":"red"}]}`,
			want: []Task{{ID: "a", Title: "x", List: ListToday}},
		},
		{
			name: "null tasks",
			data: `{"version":1,"tasks":null}`,
			want: []Task{},
		},
		{
			name: "null project id",
			data: `{"tasks":[{"id":"a","title":"x","list":"inbox","projectId":null,"dueDate":null}]}`,
			want: []Task{{ID: "a", Title: "x", List: ListInbox}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeserializeTasks(TasksPath, []byte(tt.data))
			if err != nil {
				t.Fatalf("DeserializeTasks() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DeserializeTasks() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeserializeTasks_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"truncated", `{"version":1,"tasks":[{"id":"a"`},
		{"not json", "hello"},
		{"task without id", `{"tasks":[{"title":"x"}]}`},
		{"wrong type", `{"tasks":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeTasks(TasksPath, []byte(tt.data))
			if !IsFormatError(err) {
				t.Fatalf("DeserializeTasks() error = %v, want *FormatError", err)
			}
			var fe *FormatError
			errors.As(err, &fe)
			if fe.Path != TasksPath {
				t.Errorf("FormatError.Path = %q, want %q", fe.Path, TasksPath)
			}
		})
	}

	_, err := DeserializeTasks(TasksPath, []byte(`[{"title":"x"}]`))
	if !errors.Is(err, ErrMissingID) {
		t.Errorf("DeserializeTasks(task without id) error = %v, want ErrMissingID", err)
	}
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestMergeTasks_KeepsOneSidedTasks(t *testing.T) {
	local := []Task{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	remote := []Task{{ID: "c", Title: "C"}, {ID: "b", Title: "B"}}

	got := MergeTasks(local, remote)
	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("MergeTasks() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeTasks_CommutativeOnDisjointIDs(t *testing.T) {
	a := []Task{{ID: "1", Title: "one"}, {ID: "2", Title: "two"}}
	b := []Task{{ID: "3", Title: "three"}}

	ab := ids(MergeTasks(a, b))
	ba := ids(MergeTasks(b, a))
	sort.Strings(ab)
	sort.Strings(ba)
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("MergeTasks is not commutative on disjoint ids (-ab +ba):\n%s", diff)
	}
}

func TestMergeTasks_Idempotent(t *testing.T) {
	a := []Task{
		{ID: "1", Title: "one", List: ListToday, CreatedAt: 10},
		{ID: "2", Title: "two", List: ListNext, CreatedAt: 20, Notes: "n"},
	}
	if diff := cmp.Diff(a, MergeTasks(a, a)); diff != "" {
		t.Errorf("MergeTasks(a, a) != a (-want +got):\n%s", diff)
	}
}

func TestMergeTasks_SameIDResolution(t *testing.T) {
	tests := []struct {
		name   string
		local  Task
		remote Task
		want   string
	}{
		{
			name:   "later updatedAt wins",
			local:  Task{ID: "x", Title: "local", CreatedAt: 1, UpdatedAt: 50},
			remote: Task{ID: "x", Title: "remote", CreatedAt: 1, UpdatedAt: 90},
			want:   "remote",
		},
		{
			name:   "completedAt counts as recency",
			local:  Task{ID: "x", Title: "local", CreatedAt: 1, CompletedAt: ptr(int64(100))},
			remote: Task{ID: "x", Title: "remote", CreatedAt: 1, UpdatedAt: 90},
			want:   "local",
		},
		{
			name:   "more fields wins on equal recency",
			local:  Task{ID: "x", Title: "local", CreatedAt: 1},
			remote: Task{ID: "x", Title: "remote", CreatedAt: 1, Notes: "more", Starred: true},
			want:   "remote",
		},
		{
			name:   "local wins full tie",
			local:  Task{ID: "x", Title: "local", CreatedAt: 1},
			remote: Task{ID: "x", Title: "remote", CreatedAt: 1},
			want:   "local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeTasks([]Task{tt.local}, []Task{tt.remote})
			if len(got) != 1 {
				t.Fatalf("MergeTasks() returned %d tasks, want 1", len(got))
			}
			if got[0].Title != tt.want {
				t.Errorf("MergeTasks() picked %q, want %q", got[0].Title, tt.want)
			}
		})
	}
}

func TestMergeTasksPreferring(t *testing.T) {
	local := []Task{
		{ID: "shared", Title: "local edit", UpdatedAt: 999},
		{ID: "same", Title: "same"},
		{ID: "local-only", Title: "L"},
	}
	remote := []Task{
		{ID: "same", Title: "same"},
		{ID: "shared", Title: "remote edit", UpdatedAt: 1},
		{ID: "remote-only", Title: "R"},
	}

	merged, collisions := MergeTasksPreferring(local, remote, PreferRemote)

	if diff := cmp.Diff([]string{"shared"}, collisions); diff != "" {
		t.Errorf("collisions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"shared", "same", "local-only", "remote-only"}, ids(merged)); diff != "" {
		t.Errorf("merge order mismatch (-want +got):\n%s", diff)
	}
	if merged[0].Title != "remote edit" {
		t.Errorf("preferred side lost the collision: got %q", merged[0].Title)
	}

	merged, _ = MergeTasksPreferring(local, remote, PreferLocal)
	if merged[0].Title != "local edit" {
		t.Errorf("PreferLocal: got %q, want %q", merged[0].Title, "local edit")
	}
}

func TestMergeTasksWithBase(t *testing.T) {
	base := []Task{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	local := []Task{{ID: "a", Title: "A edited locally"}, {ID: "b", Title: "B"}}
	remote := []Task{{ID: "a", Title: "A"}, {ID: "b", Title: "B edited remotely"}, {ID: "c", Title: "C"}}

	merged, collisions := MergeTasksWithBase(base, local, remote, PreferRemote)
	if len(collisions) != 0 {
		t.Errorf("collisions = %v, want none for edits to different tasks", collisions)
	}
	want := []Task{
		{ID: "a", Title: "A edited locally"},
		{ID: "b", Title: "B edited remotely"},
		{ID: "c", Title: "C"},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("MergeTasksWithBase() mismatch (-want +got):\n%s", diff)
	}

	remote[0].Title = "A edited remotely"
	_, collisions = MergeTasksWithBase(base, local, remote, PreferRemote)
	if diff := cmp.Diff([]string{"a"}, collisions); diff != "" {
		t.Errorf("same task edited on both sides: collisions mismatch (-want +got):\n%s", diff)
	}
}
