package engine

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EntryKind classifies a directory entry (§3 "Directory listing").
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindLink
	KindUnknown
)

// TimePrecision records how precise an entry's timestamp is, so timezone
// correction only ever shifts entries that actually carry a time component
// (§3 invariant, §4.G step 6).
type TimePrecision int

const (
	PrecisionNone TimePrecision = iota
	PrecisionDate
	PrecisionTime
	PrecisionSeconds
)

// Entry is one row of a directory listing (§3).
type Entry struct {
	Name      string
	Kind      EntryKind
	Size      int64
	HasSize   bool
	Precision TimePrecision
	Time      time.Time
	Perm      string
	Owner     string
	Group     string
	Target    string
	Raw       string
	Unsure    bool
}

// Listing is an ordered sequence of entries plus the bookkeeping the cache
// needs (§3).
type Listing struct {
	Entries         []*Entry
	FirstListTime   time.Time
	HasUnsureEntries bool
}

// Parser turns one raw listing line into an Entry. Implementations mirror
// the teacher's ListingParser interface (directory.go).
type Parser interface {
	Parse(line string) (*Entry, bool)
}

// UnixParser parses classic Unix-style "ls -l" entries, 8- or 9-field,
// symbolic or numeric permissions (adapted from the teacher's directory.go).
type UnixParser struct{}

func (UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}
	e := &Entry{Raw: line}
	if !parseUnixEntry(e, fields) {
		return nil, false
	}
	return e, true
}

func parseUnixEntry(entry *Entry, fields []string) bool {
	perms := fields[0]
	isSymbolic := len(perms) >= 1 && strings.ContainsRune("-dlbcps", rune(perms[0]))
	isNumeric := len(perms) >= 3 && len(perms) <= 4
	for _, ch := range perms {
		if ch < '0' || ch > '7' {
			isNumeric = false
			break
		}
	}
	if !isSymbolic && !isNumeric {
		return false
	}

	switch {
	case isSymbolic && perms[0] == 'd':
		entry.Kind = KindDirectory
	case isSymbolic && perms[0] == 'l':
		entry.Kind = KindLink
	default:
		entry.Kind = KindFile
	}
	entry.Perm = perms

	var sizeIdx, nameStart int
	switch {
	case len(fields) >= 9:
		if _, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
			sizeIdx, nameStart = 4, 8
		} else if _, err := strconv.ParseInt(fields[3], 10, 64); err == nil {
			sizeIdx, nameStart = 3, 7
		} else {
			return false
		}
	case len(fields) >= 8:
		if _, err := strconv.ParseInt(fields[3], 10, 64); err != nil {
			return false
		}
		sizeIdx, nameStart = 3, 7
	default:
		return false
	}

	size, err := strconv.ParseInt(fields[sizeIdx], 10, 64)
	if err != nil {
		return false
	}
	entry.Size = size
	entry.HasSize = true
	if sizeIdx == 4 {
		entry.Owner = fields[2]
		entry.Group = fields[3]
	} else {
		entry.Owner = fields[2]
	}

	entry.Precision = guessUnixTimePrecision(fields[nameStart-3])

	fullName := strings.Join(fields[nameStart:], " ")
	if entry.Kind == KindLink {
		if before, after, ok := strings.Cut(fullName, " -> "); ok {
			entry.Name = before
			entry.Target = after
		} else {
			entry.Name = fullName
		}
	} else {
		entry.Name = fullName
	}
	return true
}

// guessUnixTimePrecision looks at the field that precedes the name in a Unix
// listing (typically the year or HH:MM) to decide how precise the timestamp
// is; full timestamp parsing with month/day is left to the caller that has
// the other two fields, this only distinguishes date-only from time-bearing.
func guessUnixTimePrecision(field string) TimePrecision {
	if strings.Contains(field, ":") {
		return PrecisionTime
	}
	return PrecisionDate
}

// DOSParser parses DOS/Windows-style entries (adapted from directory.go).
type DOSParser struct{}

func (DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}
	e := &Entry{Raw: line, Precision: PrecisionTime}
	if fields[2] == "<DIR>" {
		e.Kind = KindDirectory
		e.HasSize = true
		e.Name = strings.Join(fields[3:], " ")
		return e, true
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, false
	}
	e.Kind = KindFile
	e.Size = size
	e.HasSize = true
	e.Name = strings.Join(fields[3:], " ")
	return e, true
}

func isDOSDate(s string) bool {
	var parts []string
	switch {
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
	default:
		return false
	}
	if len(parts) != 3 {
		return false
	}
	for i, part := range parts {
		if len(part) < 1 || len(part) > 4 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

// EPLFParser parses Easily Parsed LIST Format entries.
type EPLFParser struct{}

func (EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	body := line[1:]
	idx := strings.IndexAny(body, "\t ")
	if idx == -1 {
		return nil, false
	}
	facts := body[:idx]
	name := strings.TrimSpace(body[idx+1:])
	if name == "" {
		return nil, false
	}
	e := &Entry{Raw: line, Name: name, Kind: KindFile}
	for _, fact := range strings.Split(facts, ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			e.Kind = KindDirectory
		case 's':
			if len(fact) > 1 {
				if size, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
					e.Size = size
					e.HasSize = true
				}
			}
		case 'm':
			if len(fact) > 1 {
				if secs, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
					e.Time = time.Unix(secs, 0).UTC()
					e.Precision = PrecisionSeconds
				}
			}
		}
	}
	return e, true
}

// DefaultParsers returns the teacher's three-parser chain in priority order.
func DefaultParsers() []Parser {
	return []Parser{EPLFParser{}, DOSParser{}, UnixParser{}}
}

// ParseListLine tries each parser in order, falling back to an "unknown" raw
// entry rather than dropping the line (directory.go CompositeParser).
func ParseListLine(line string, parsers []Parser) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}
	for _, p := range parsers {
		if e, ok := p.Parse(trimmed); ok {
			return e
		}
	}
	return &Entry{Raw: line, Name: line, Kind: KindUnknown}
}

// ParseListing scans r line by line with ParseListLine.
func ParseListing(r io.Reader, parsers []Parser) ([]*Entry, error) {
	var entries []*Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if e := ParseListLine(scanner.Text(), parsers); e != nil {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}

// MLSTFact is one parsed RFC 3659 fact entry line.
func ParseMLSTEntry(line string) *Entry {
	spaceIdx := strings.Index(line, " ")
	if spaceIdx == -1 {
		return nil
	}
	factsStr := line[:spaceIdx]
	name := line[spaceIdx+1:]

	e := &Entry{Name: name, Raw: line}
	for _, pair := range strings.Split(factsStr, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "type":
			switch strings.ToLower(v) {
			case "dir", "cdir", "pdir":
				e.Kind = KindDirectory
			default:
				e.Kind = KindFile
			}
		case "size":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				e.Size = n
				e.HasSize = true
			}
		case "modify":
			ts := strings.Split(v, ".")[0]
			if len(ts) == 14 {
				if t, err := time.Parse("20060102150405", ts); err == nil {
					e.Time = t.UTC()
					e.Precision = PrecisionSeconds
				}
			}
		case "perm":
			e.Perm = v
		case "unix.owner":
			e.Owner = v
		case "unix.group":
			e.Group = v
		}
	}
	return e
}

// hiddenListIsSubset reports whether every name in plain also appears in all,
// i.e. names(plain) ⊆ names(all) — the property the §4.G hidden-files probe
// and §8's round-trip property both require. This corrects the original's
// `CheckInclusion` bug (§9 Open Questions / REDESIGN FLAG 2): the sorted
// merge walk must advance to names2's end, not stop at its begin.
func hiddenListIsSubset(plain, all []*Entry) bool {
	names1 := entryNames(plain)
	names2 := entryNames(all)
	sort.Strings(names1)
	sort.Strings(names2)

	i := 0
	for _, want := range names1 {
		for i < len(names2) && names2[i] < want {
			i++
		}
		if i >= len(names2) || names2[i] != want {
			return false
		}
		i++
	}
	return true
}

func entryNames(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

// ApplyTimezoneOffset shifts every time-precision-or-finer entry in a listing
// by offset exactly once (§4.G step 6, §8 invariant).
func ApplyTimezoneOffset(entries []*Entry, offset time.Duration) {
	for _, e := range entries {
		if e.Precision >= PrecisionTime {
			e.Time = e.Time.Add(offset)
		}
	}
}
