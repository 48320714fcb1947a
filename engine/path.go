package engine

import "strings"

// ServerType hints at the remote filesystem's path dialect (§3).
type ServerType int

const (
	ServerTypeDefault ServerType = iota
	ServerTypeUnix
	ServerTypeMVS
	ServerTypeVMS
	ServerTypeZVM
	ServerTypeHPNonStop
)

// ServerPath is a typed path carrying the server type it was built against.
// Its type must be resolved (never Default) before any Format* call;
// Default paths resolve from the owning session's ServerType at first use.
type ServerPath struct {
	kind     ServerType
	segments []string
	absolute bool
}

// NewServerPath parses path text into a ServerPath of the given type. kind
// must not be ServerTypeDefault when formatting is required — callers that
// don't yet know the session's server type should call ResolveType once it
// is known.
func NewServerPath(kind ServerType, raw string) ServerPath {
	p := ServerPath{kind: kind}
	raw = strings.TrimSpace(raw)
	switch kind {
	case ServerTypeVMS, ServerTypeZVM:
		return parseVMSPath(kind, raw)
	case ServerTypeMVS:
		return parseMVSPath(raw)
	default:
		return parseUnixLikePath(kind, raw)
	}
}

func parseUnixLikePath(kind ServerType, raw string) ServerPath {
	p := ServerPath{kind: kind}
	p.absolute = strings.HasPrefix(raw, "/")
	raw = strings.Trim(raw, "/")
	if raw != "" {
		for _, seg := range strings.Split(raw, "/") {
			if seg != "" {
				p.segments = append(p.segments, seg)
			}
		}
	}
	return p
}

// parseVMSPath handles VMS/Z-VM device:[dir.subdir] notation by flattening
// it into ordinary segments; round-tripping is verified by FormatAbsolute.
func parseVMSPath(kind ServerType, raw string) ServerPath {
	p := ServerPath{kind: kind, absolute: true}
	raw = strings.TrimSuffix(raw, "]")
	if idx := strings.Index(raw, "["); idx >= 0 {
		dev := raw[:idx]
		if dev != "" {
			p.segments = append(p.segments, dev)
		}
		raw = raw[idx+1:]
	}
	for _, seg := range strings.Split(raw, ".") {
		if seg != "" {
			p.segments = append(p.segments, seg)
		}
	}
	return p
}

func parseMVSPath(raw string) ServerPath {
	p := ServerPath{kind: ServerTypeMVS, absolute: true}
	raw = strings.Trim(raw, "'")
	if raw != "" {
		for _, seg := range strings.Split(raw, ".") {
			if seg != "" {
				p.segments = append(p.segments, seg)
			}
		}
	}
	return p
}

// ResolveType sets the path's server type if it is still Default. It is the
// session's job to call this once the SYST/FEAT negotiation has determined
// the real server type (§3 invariant).
func (p ServerPath) ResolveType(kind ServerType) ServerPath {
	if p.kind == ServerTypeDefault {
		p.kind = kind
	}
	return p
}

// Parent returns the path's parent, or the path itself if it has no parent.
func (p ServerPath) Parent() ServerPath {
	if len(p.segments) == 0 {
		return p
	}
	out := p
	out.segments = append([]string{}, p.segments[:len(p.segments)-1]...)
	return out
}

// LastSegment returns the final path component, or "" for the root.
func (p ServerPath) LastSegment() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// AddSegment appends a child segment and returns the new path.
func (p ServerPath) AddSegment(seg string) ServerPath {
	out := p
	out.segments = append(append([]string{}, p.segments...), seg)
	return out
}

func (p ServerPath) separator() string {
	switch p.kind {
	case ServerTypeVMS, ServerTypeZVM, ServerTypeMVS:
		return "."
	default:
		return "/"
	}
}

// FormatAbsolute renders the path in the server's native absolute notation.
func (p ServerPath) FormatAbsolute() string {
	switch p.kind {
	case ServerTypeVMS, ServerTypeZVM:
		if len(p.segments) == 0 {
			return "[]"
		}
		dev := p.segments[0]
		rest := p.segments[1:]
		if len(rest) == 0 {
			return dev + ":[000000]"
		}
		return dev + ":[" + strings.Join(rest, ".") + "]"
	case ServerTypeMVS:
		return "'" + strings.Join(p.segments, ".") + "'"
	default:
		if len(p.segments) == 0 {
			return "/"
		}
		return "/" + strings.Join(p.segments, "/")
	}
}

// FormatFilename renders a path for use as a command argument, either
// absolute or relative to currentDir when it is a descendant of it.
func (p ServerPath) FormatFilename(currentDir ServerPath, preferRelative bool) string {
	if !preferRelative || !currentDir.IsParentOf(p) {
		return p.FormatAbsolute()
	}
	rel := p.segments[len(currentDir.segments):]
	if len(rel) == 0 {
		return "."
	}
	return strings.Join(rel, p.separator())
}

// IsParentOf reports whether p is a (possibly indirect) parent of other.
func (p ServerPath) IsParentOf(other ServerPath) bool {
	if len(other.segments) <= len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if other.segments[i] != seg {
			return false
		}
	}
	return true
}

// IsSubdirOf reports whether p is a (possibly indirect) child of other.
func (p ServerPath) IsSubdirOf(other ServerPath) bool {
	return other.IsParentOf(p)
}

// CommonParent returns the deepest path that is a parent of (or equal to)
// both p and other.
func (p ServerPath) CommonParent(other ServerPath) ServerPath {
	out := ServerPath{kind: p.kind, absolute: true}
	for i := 0; i < len(p.segments) && i < len(other.segments); i++ {
		if p.segments[i] != other.segments[i] {
			break
		}
		out.segments = append(out.segments, p.segments[i])
	}
	return out
}

// Equal reports whether two paths denote the same location.
func (p ServerPath) Equal(other ServerPath) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// IsRoot reports whether the path has no segments.
func (p ServerPath) IsRoot() bool { return len(p.segments) == 0 }

// Type returns the path's resolved ServerType.
func (p ServerPath) Type() ServerType { return p.kind }
