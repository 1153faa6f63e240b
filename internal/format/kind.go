package format

import (
	"path"
	"regexp"
	"strings"
)

// Kind classifies a managed file by its location.
type Kind int

const (
	KindOther Kind = iota
	KindTasks
	KindJournal
	KindProject
)

func (k Kind) String() string {
	switch k {
	case KindTasks:
		return "tasks"
	case KindJournal:
		return "journal"
	case KindProject:
		return "project"
	default:
		return "other"
	}
}

// conflictCopyRe matches names produced for preserved conflict losers,
// e.g. tasks.conflict-20240115-093000.json.
var conflictCopyRe = regexp.MustCompile(`\.conflict-\d{8}-\d{6}(-\d+)?(\.[^./]*)?$`)

// IsConflictCopy reports whether p names a preserved conflict copy.
func IsConflictCopy(p string) bool {
	return conflictCopyRe.MatchString(path.Base(p))
}

// KindOf classifies a slash-separated logical path.
func KindOf(p string) Kind {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if IsConflictCopy(p) {
		return KindOther
	}
	switch {
	case path.Dir(p) == path.Dir(TasksPath) && strings.HasSuffix(p, ".json"):
		return KindTasks
	case strings.HasPrefix(p, journalDir+"/") && strings.HasSuffix(p, ".md"):
		if _, ok := ParseDateFromPath(p); ok {
			return KindJournal
		}
	default:
		if _, ok := ProjectIDFromPath(p); ok {
			return KindProject
		}
	}
	return KindOther
}
