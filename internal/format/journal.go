package format

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	journalDir      = "journals"
	dateLayout      = "2006-01-02"
	titleLayout     = "2006.01.02"
	frontmatterMark = "---"
)

var journalNameRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})\.md$`)

// Journal is one day's journal entry.
type Journal struct {
	ID        string
	Date      time.Time // civil day at midnight UTC
	Title     string
	Content   string // markdown body, kept verbatim
	CreatedAt int64
	UpdatedAt int64
	AIPrompts []string
	AIContext map[string]any
}

// journalFrontmatter is the YAML header of a journal file.
type journalFrontmatter struct {
	ID        string         `yaml:"id"`
	Date      string         `yaml:"date"`
	Title     string         `yaml:"title"`
	CreatedAt int64          `yaml:"createdAt,omitempty"`
	UpdatedAt int64          `yaml:"updatedAt,omitempty"`
	AIPrompts []string       `yaml:"aiPrompts,omitempty"`
	AIContext map[string]any `yaml:"aiContext,omitempty"`
}

// CivilDate truncates t to its calendar day, expressed as midnight UTC.
// The day is taken in t's own location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// JournalPath returns journals/YYYY/MM/YYYY-MM-DD.md for date.
func JournalPath(date time.Time) string {
	y, m, _ := date.Date()
	return fmt.Sprintf("%s/%04d/%02d/%s.md", journalDir, y, int(m), date.Format(dateLayout))
}

// JournalID returns journal-YYYY-MM-DD for date.
func JournalID(date time.Time) string {
	return "journal-" + date.Format(dateLayout)
}

// ParseDateFromPath extracts the day encoded in a journal file name.
func ParseDateFromPath(p string) (time.Time, bool) {
	if !journalNameRe.MatchString(path.Base(p)) {
		return time.Time{}, false
	}
	d, err := time.Parse(dateLayout, path.Base(p)[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// DefaultJournalTitle is the title given to a journal created without one.
func DefaultJournalTitle(date time.Time) string {
	return date.Format(titleLayout)
}

// NewJournal returns an empty journal for the day of date. An empty title
// is replaced by DefaultJournalTitle.
func NewJournal(date time.Time, title string, now time.Time) *Journal {
	day := CivilDate(date)
	if title == "" {
		title = DefaultJournalTitle(day)
	}
	ms := now.UnixMilli()
	return &Journal{
		ID:        JournalID(day),
		Date:      day,
		Title:     title,
		CreatedAt: ms,
		UpdatedAt: ms,
	}
}

// SerializeJournal renders j as YAML frontmatter followed by its body.
func SerializeJournal(j *Journal) ([]byte, error) {
	day := CivilDate(j.Date)
	fm := journalFrontmatter{
		ID:        j.ID,
		Date:      day.Format(dateLayout),
		Title:     j.Title,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		AIPrompts: j.AIPrompts,
		AIContext: j.AIContext,
	}
	if fm.ID == "" {
		fm.ID = JournalID(day)
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal journal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(header) + len(j.Content) + 8)
	buf.WriteString(frontmatterMark + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterMark + "\n")
	buf.WriteString(j.Content)
	return buf.Bytes(), nil
}

// DeserializeJournal parses a journal file. A file without frontmatter is
// read as a bare body whose id and date come from path.
func DeserializeJournal(p string, data []byte) (*Journal, error) {
	header, body, ok := splitFrontmatter(data)
	if !ok {
		date, found := ParseDateFromPath(p)
		if !found {
			return nil, formatErr(p, errors.New("no frontmatter and no date in file name"))
		}
		return &Journal{
			ID:      JournalID(date),
			Date:    date,
			Title:   DefaultJournalTitle(date),
			Content: string(data),
		}, nil
	}

	var fm journalFrontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return nil, formatErr(p, err)
	}

	j := &Journal{
		ID:        fm.ID,
		Title:     fm.Title,
		Content:   string(body),
		CreatedAt: fm.CreatedAt,
		UpdatedAt: fm.UpdatedAt,
		AIPrompts: fm.AIPrompts,
		AIContext: fm.AIContext,
	}

	switch {
	case fm.Date != "":
		d, err := time.Parse(dateLayout, fm.Date)
		if err != nil {
			return nil, formatErr(p, fmt.Errorf("invalid date %q: %w", fm.Date, err))
		}
		j.Date = d
	default:
		d, found := ParseDateFromPath(p)
		if !found {
			return nil, formatErr(p, errors.New("journal has no date"))
		}
		j.Date = d
	}
	if j.ID == "" {
		j.ID = JournalID(j.Date)
	}
	return j, nil
}

// splitFrontmatter separates a leading "---" delimited block from the rest.
// The body is returned exactly as it follows the closing delimiter line.
func splitFrontmatter(data []byte) (header, body []byte, ok bool) {
	first, rest, found := cutLine(data)
	if !found || string(trimCR(first)) != frontmatterMark {
		return nil, nil, false
	}

	offset := len(data) - len(rest)
	for len(rest) > 0 {
		line, next, _ := cutLine(rest)
		if string(trimCR(line)) == frontmatterMark {
			end := len(data) - len(rest)
			return data[offset:end], next, true
		}
		rest = next
	}
	return nil, nil, false
}

func cutLine(b []byte) (line, rest []byte, found bool) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i], b[i+1:], true
	}
	return b, nil, false
}

func trimCR(b []byte) []byte {
	return bytes.TrimSuffix(b, []byte("\r"))
}
