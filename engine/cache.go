package engine

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// dirCacheTTL bounds how long a stored listing is considered fresh before
// List (§4.G step 2) treats it as outdated and refreshes from the wire.
const dirCacheTTL = 60 * time.Second

// dirCacheEntry is what DirectoryCache stores per (server, path) (§3
// "Directory cache").
type dirCacheEntry struct {
	listing   Listing
	hasUnsure bool
}

// DirectoryCache is the process-wide, server-shared cache of directory
// listings (§3, §6 "Directory-cache API"). It is backed by
// github.com/patrickmn/go-cache so "outdated-by-TTL" falls out of the
// library instead of being hand-rolled, and is safe for concurrent use by
// any session.
type DirectoryCache struct {
	c *gocache.Cache
}

// NewDirectoryCache constructs a cache with the package default TTL.
func NewDirectoryCache() *DirectoryCache {
	return &DirectoryCache{c: gocache.New(dirCacheTTL, 2*dirCacheTTL)}
}

// DefaultDirectoryCache is the process-wide instance used when a Session is
// not given its own via WithDirectoryCache.
var DefaultDirectoryCache = NewDirectoryCache()

func dirKey(server, path string) string { return server + "\x00" + path }

// DoesExist reports whether a cached entry exists for (server, path) and
// whether it is unsure/outdated.
func (d *DirectoryCache) DoesExist(server, path string) (hasUnsure, outdated bool) {
	v, found := d.c.Get(dirKey(server, path))
	if !found {
		return false, true
	}
	e := v.(dirCacheEntry)
	return e.hasUnsure, false
}

// Lookup returns the cached listing for (server, path), if any.
func (d *DirectoryCache) Lookup(server, path string) (Listing, bool) {
	v, found := d.c.Get(dirKey(server, path))
	if !found {
		return Listing{}, false
	}
	return v.(dirCacheEntry).listing, true
}

// LookupFile finds one named entry within a cached directory listing.
func (d *DirectoryCache) LookupFile(server, path, name string) (entry *Entry, dirDidExist, matchedCase bool) {
	listing, ok := d.Lookup(server, path)
	if !ok {
		return nil, false, false
	}
	for _, e := range listing.Entries {
		if e.Name == name {
			return e, true, true
		}
	}
	for _, e := range listing.Entries {
		if strings.EqualFold(e.Name, name) {
			return e, true, false
		}
	}
	return nil, true, false
}

// Store saves a freshly fetched listing for (server, path).
func (d *DirectoryCache) Store(server, path string, listing Listing) {
	d.c.Set(dirKey(server, path), dirCacheEntry{listing: listing, hasUnsure: listing.HasUnsureEntries}, gocache.DefaultExpiration)
}

// UpdateFile patches a single entry's unsure/kind state in place, used after
// a mutating op (mkdir/rename/chmod) rather than invalidating the whole
// directory (§3a supplemented feature, §6 API).
func (d *DirectoryCache) UpdateFile(server, path, name string, unsure bool, kind EntryKind) {
	listing, ok := d.Lookup(server, path)
	if !ok {
		return
	}
	for _, e := range listing.Entries {
		if e.Name == name {
			e.Unsure = unsure
			e.Kind = kind
			d.Store(server, path, listing)
			return
		}
	}
}

// RemoveFile deletes one entry from a cached listing (e.g. after DELE).
func (d *DirectoryCache) RemoveFile(server, path, name string) {
	listing, ok := d.Lookup(server, path)
	if !ok {
		return
	}
	out := listing.Entries[:0]
	for _, e := range listing.Entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	listing.Entries = out
	d.Store(server, path, listing)
}

// RemoveDir drops a whole directory's cached listing (e.g. after RMD).
func (d *DirectoryCache) RemoveDir(server, path string) {
	d.c.Delete(dirKey(server, path))
}

// InvalidateServer drops every cached listing for a server (RAW command,
// §4.J).
func (d *DirectoryCache) InvalidateServer(server string) {
	prefix := server + "\x00"
	for k := range d.c.Items() {
		if strings.HasPrefix(k, prefix) {
			d.c.Delete(k)
		}
	}
}

// InvalidateFile marks a single entry unsure without dropping the rest of
// the listing.
func (d *DirectoryCache) InvalidateFile(server, path, name string) {
	d.UpdateFile(server, path, name, true, KindUnknown)
}

// Rename updates the cache after RNFR/RNTO: removes the old name from its
// directory and marks the new directory unsure so its next List refreshes.
func (d *DirectoryCache) Rename(server, fromDir, fromName, toDir, toName string) {
	d.RemoveFile(server, fromDir, fromName)
	if listing, ok := d.Lookup(server, toDir); ok {
		listing.HasUnsureEntries = true
		d.Store(server, toDir, listing)
	}
}

// pathCacheTTL bounds how long a resolved CWD shortcut stays trusted.
const pathCacheTTL = 5 * time.Minute

// PathCache maps (server, parent, subdir) to a resolved absolute path,
// letting the change-dir orchestrator short-circuit a CWD/PWD round trip
// (§3 "Path cache", §6 API).
type PathCache struct {
	c *gocache.Cache
}

// NewPathCache constructs a path cache with the package default TTL.
func NewPathCache() *PathCache {
	return &PathCache{c: gocache.New(pathCacheTTL, 2*pathCacheTTL)}
}

// DefaultPathCache is the process-wide instance used when a Session is not
// given its own via WithPathCache.
var DefaultPathCache = NewPathCache()

func pathKey(server, parent, subdir string) string { return server + "\x00" + parent + "\x00" + subdir }

// Lookup returns the resolved path for (server, parent, subdir).
func (p *PathCache) Lookup(server, parent, subdir string) (string, bool) {
	v, ok := p.c.Get(pathKey(server, parent, subdir))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Store records that (parent, subdir) resolves to current on server.
func (p *PathCache) Store(server, current, request, subdir string) {
	p.c.Set(pathKey(server, request, subdir), current, gocache.DefaultExpiration)
}

// InvalidatePath removes one cached resolution, e.g. after a failed CWD.
func (p *PathCache) InvalidatePath(server, parent, subdir string) {
	p.c.Delete(pathKey(server, parent, subdir))
}
