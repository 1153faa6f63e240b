package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

const projectDir = "projects"

// Column is one board column of a project.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Project groups tasks on a board of columns.
type Project struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Color       string   `json:"color,omitempty"`
	Columns     []Column `json:"columns"`
	Archived    bool     `json:"archived"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// DefaultColumns are the columns of a new project.
func DefaultColumns() []Column {
	return []Column{
		{ID: "backlog", Title: "Backlog"},
		{ID: "in_progress", Title: "In Progress"},
		{ID: "done", Title: "Done"},
	}
}

// HasColumn reports whether the project defines a column with id.
func (p *Project) HasColumn(id string) bool {
	for _, c := range p.Columns {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ValidateProjectID checks that id names a file directly inside projects/.
// Ids are non-empty, hold no path separator or ".." and do not start with a dot.
func ValidateProjectID(id string) error {
	switch {
	case id == "":
		return ErrMissingID
	case strings.ContainsAny(id, `/\`), strings.HasPrefix(id, "."), strings.Contains(id, ".."):
		return fmt.Errorf("project id %q: %w", id, ErrInvalidID)
	}
	return nil
}

// ProjectPath returns projects/<id>.json. Callers validate id with
// ValidateProjectID first.
func ProjectPath(id string) string {
	return projectDir + "/" + id + ".json"
}

// ProjectIDFromPath is the inverse of ProjectPath. Paths whose id fails
// ValidateProjectID are not project files.
func ProjectIDFromPath(p string) (string, bool) {
	dir, name := path.Split(p)
	if dir != projectDir+"/" || !strings.HasSuffix(name, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(name, ".json")
	return id, ValidateProjectID(id) == nil
}

// SerializeProject encodes p as a JSON object.
func SerializeProject(p *Project) ([]byte, error) {
	out := *p
	if out.Columns == nil {
		out.Columns = []Column{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project %s: %w", p.ID, err)
	}
	return append(data, '\n'), nil
}

// legacyProjectFile is the {version, project} wrapper older clients wrote.
type legacyProjectFile struct {
	Version int             `json:"version"`
	Project json.RawMessage `json:"project"`
}

// DeserializeProject decodes a project file, unwrapping the legacy envelope
// when present.
func DeserializeProject(p string, data []byte) (*Project, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, formatErr(p, errors.New("empty project file"))
	}

	var legacy legacyProjectFile
	if err := json.Unmarshal(trimmed, &legacy); err != nil {
		return nil, formatErr(p, err)
	}
	if len(legacy.Project) > 0 && !bytes.Equal(legacy.Project, []byte("null")) {
		trimmed = legacy.Project
	}

	var proj Project
	if err := json.Unmarshal(trimmed, &proj); err != nil {
		return nil, formatErr(p, err)
	}
	if proj.ID == "" {
		return nil, formatErr(p, ErrMissingID)
	}
	if proj.Columns == nil {
		proj.Columns = []Column{}
	}
	return &proj, nil
}

// CreateEmptyProjectFile returns the file content of a new project with the
// default columns.
func CreateEmptyProjectFile(id, title string, now time.Time) ([]byte, error) {
	ms := now.UnixMilli()
	return SerializeProject(&Project{
		ID:        id,
		Title:     title,
		Columns:   DefaultColumns(),
		CreatedAt: ms,
		UpdatedAt: ms,
	})
}
