package format

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestProject_RoundTrip(t *testing.T) {
	p := &Project{
		ID:          "p1",
		Title:       "Garden",
		Description: "Spring planting",
		Color:       "#88cc44",
		Columns:     DefaultColumns(),
		CreatedAt:   1700000000000,
		UpdatedAt:   1700000100000,
	}

	data, err := SerializeProject(p)
	if err != nil {
		t.Fatalf("SerializeProject() error = %v", err)
	}
	got, err := DeserializeProject(ProjectPath(p.ID), data)
	if err != nil {
		t.Fatalf("DeserializeProject() error = %v", err)
	}
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeProject_LegacyWrapper(t *testing.T) {
	data := []byte(`{"version":1,"project":{"id":"p2","title":"Old","columns":[{"id":"todo","title":"Todo"}],"archived":true}}`)
	got, err := DeserializeProject("projects/p2.json", data)
	if err != nil {
		t.Fatalf("DeserializeProject() error = %v", err)
	}
	want := &Project{ID: "p2", Title: "Old", Columns: []Column{{ID: "todo", Title: "Todo"}}, Archived: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DeserializeProject() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeserializeProject_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"malformed", `{"id":`},
		{"missing id", `{"title":"no id"}`},
		{"legacy missing id", `{"version":1,"project":{"title":"no id"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeProject("projects/x.json", []byte(tt.data))
			if !IsFormatError(err) {
				t.Errorf("DeserializeProject() error = %v, want *FormatError", err)
			}
		})
	}

	_, err := DeserializeProject("projects/x.json", []byte(`{"title":"no id"}`))
	if !errors.Is(err, ErrMissingID) {
		t.Errorf("error = %v, want ErrMissingID", err)
	}
}

func TestCreateEmptyProjectFile(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	data, err := CreateEmptyProjectFile("p3", "Inbox zero", now)
	if err != nil {
		t.Fatalf("CreateEmptyProjectFile() error = %v", err)
	}
	got, err := DeserializeProject(ProjectPath("p3"), data)
	if err != nil {
		t.Fatalf("DeserializeProject() error = %v", err)
	}
	for _, col := range []string{"backlog", "in_progress", "done"} {
		if !got.HasColumn(col) {
			t.Errorf("new project is missing column %q", col)
		}
	}
	if got.CreatedAt != now.UnixMilli() || got.Archived {
		t.Errorf("unexpected skeleton: %+v", got)
	}
}

func TestProjectIDFromPath(t *testing.T) {
	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"projects/p1.json", "p1", true},
		{"projects/sub/p1.json", "", false},
		{"projects/p1.md", "", false},
		{"tasks/tasks.json", "", false},
		{"projects/.hidden.json", "", false},
		{`projects/a\b.json`, "", false},
		{"projects/...json", "", false},
	}
	for _, tt := range tests {
		id, ok := ProjectIDFromPath(tt.path)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("ProjectIDFromPath(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestValidateProjectID(t *testing.T) {
	tests := []struct {
		id   string
		want error
	}{
		{"p1", nil},
		{"4f1c-proj_2", nil},
		{"", ErrMissingID},
		{"../tasks/tasks", ErrInvalidID},
		{"sub/p1", ErrInvalidID},
		{`..\tasks`, ErrInvalidID},
		{".hidden", ErrInvalidID},
		{"a..b", ErrInvalidID},
	}
	for _, tt := range tests {
		if err := ValidateProjectID(tt.id); !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
			t.Errorf("ValidateProjectID(%q) = %v, want %v", tt.id, err, tt.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"tasks/tasks.json", KindTasks},
		{"/tasks/tasks.json", KindTasks},
		{"tasks/tasks.conflict-20240115-093000.json", KindOther},
		{"journals/2024/01/2024-01-15.md", KindJournal},
		{"journals/2024/01/2024-01-15.conflict-20240115-093000.md", KindOther},
		{"journals/2024/01/notes.md", KindOther},
		{"projects/p1.json", KindProject},
		{"projects/p1.conflict-20240115-093000.json", KindOther},
		{"readme.txt", KindOther},
	}
	for _, tt := range tests {
		if got := KindOf(tt.path); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
