package retention

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wasilibs/go-re2"
)

// Kind classifies a directory entry by its name.
type Kind int

const (
	KindIgnored Kind = iota
	KindSnapshot
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindArchive:
		return "archive"
	default:
		return "ignored"
	}
}

const (
	archivePrefix = "dynamic."
	archiveSuffix = ".zip"
)

var archivePattern = re2.MustCompile(`^dynamic\.([0-9a-fA-F]+)\.zip$`)

// Entry is a snapshot or archive file found in the managed directory.
type Entry struct {
	Name   string
	Serial string // hex text exactly as it appears in the name
	Key    uint64
	Size   int64
}

// Matcher classifies file names into snapshots (<prefix>.dynamic.<hex>) and
// archives (dynamic.<hex>.zip).
type Matcher struct {
	snapshot *re2.Regexp
}

// NewMatcher builds a matcher for snapshots named with prefix. An empty
// prefix accepts any non-empty prefix.
func NewMatcher(prefix string) (*Matcher, error) {
	prefixPattern := `.+`
	if prefix != "" {
		prefixPattern = quoteMeta(prefix)
	}

	snapshot, err := re2.Compile(`^` + prefixPattern + `\.dynamic\.([0-9a-fA-F]+)$`)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot pattern for prefix %q: %w", prefix, err)
	}
	return &Matcher{snapshot: snapshot}, nil
}

// Classify returns the kind of name and its hex serial.
func (m *Matcher) Classify(name string) (Kind, string) {
	if sub := archivePattern.FindStringSubmatch(name); sub != nil {
		return KindArchive, sub[1]
	}
	if sub := m.snapshot.FindStringSubmatch(name); sub != nil {
		return KindSnapshot, sub[1]
	}
	return KindIgnored, ""
}

// ParseSerial decodes a hex serial into its ordering key.
func ParseSerial(serial string) (uint64, error) {
	key, err := strconv.ParseUint(serial, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex serial %q: %w", serial, err)
	}
	return key, nil
}

// ArchiveName returns the archive file name for a bundle whose oldest member
// carries serial.
func ArchiveName(serial string) string {
	return archivePrefix + serial + archiveSuffix
}

// sortByKey orders entries oldest first.
func sortByKey(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func quoteMeta(s string) string {
	const special = `\.+*?()|[]{}^$`

	var b strings.Builder
	b.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
