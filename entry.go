package ftp

import (
	"time"

	"github.com/gonzalop/ftpengine/engine"
)

// Entry represents a file or directory entry from a LIST command.
type Entry struct {
	Name   string
	Type   string // "file", "dir", "link", or "unknown"
	Size   int64
	Target string // for symlinks, the target path
	Raw    string // the raw line from the LIST command
}

func entryKindString(k engine.EntryKind) string {
	switch k {
	case engine.KindDirectory:
		return "dir"
	case engine.KindLink:
		return "link"
	case engine.KindFile:
		return "file"
	default:
		return "unknown"
	}
}

func fromEngineEntry(e *engine.Entry) *Entry {
	return &Entry{
		Name:   e.Name,
		Type:   entryKindString(e.Kind),
		Size:   e.Size,
		Target: e.Target,
		Raw:    e.Raw,
	}
}

func fromEngineEntries(entries []*engine.Entry) []*Entry {
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		out[i] = fromEngineEntry(e)
	}
	return out
}

// ListingParser is an interface for parsing directory listing entries. It
// lets callers plug a non-standard LIST format ahead of the built-in
// EPLF/DOS/Unix parsers.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

// engineParserAdapter lets a facade-level ListingParser run inside the
// engine's listing pipeline, which speaks engine.Entry.
type engineParserAdapter struct{ p ListingParser }

func (a engineParserAdapter) Parse(line string) (*engine.Entry, bool) {
	e, ok := a.p.Parse(line)
	if !ok {
		return nil, false
	}
	var kind engine.EntryKind
	switch e.Type {
	case "dir":
		kind = engine.KindDirectory
	case "link":
		kind = engine.KindLink
	case "file":
		kind = engine.KindFile
	default:
		kind = engine.KindUnknown
	}
	return &engine.Entry{
		Name:   e.Name,
		Kind:   kind,
		Size:   e.Size,
		Target: e.Target,
		Raw:    e.Raw,
	}, true
}

// MLEntry is one parsed MLST/MLSD fact line.
type MLEntry struct {
	Name     string
	Type     string
	Size     int64
	ModTime  time.Time
	Perm     string
	Owner    string
	Group    string
}

func fromEngineMLEntry(e *engine.Entry) *MLEntry {
	return &MLEntry{
		Name:    e.Name,
		Type:    entryKindString(e.Kind),
		Size:    e.Size,
		ModTime: e.Time,
		Perm:    e.Perm,
		Owner:   e.Owner,
		Group:   e.Group,
	}
}
