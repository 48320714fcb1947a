package engine

import (
	"bytes"
	"context"
	"net"
	"time"
)

// List drives the List Orchestrator (§4.G): change into subdir if given,
// acquire the list lock for the resolved path, fetch the listing (MLSD when
// available, else LIST, with a hidden-files probe and timezone calibration),
// and cache the result.
func (s *Session) List(ctx context.Context, subdir string, wantHidden bool) (Listing, error) {
	frame := s.stack.Push(OpList)
	defer s.stack.Pop()

	frame.SubState = 0 // init
	if subdir != "" {
		frame.SubState = 1 // waitcwd
		if _, err := s.ChangeDir(ctx, subdir, false, false); err != nil {
			return Listing{}, err
		}
	}

	cur, _ := s.CurrentPath()
	pathStr := cur.FormatAbsolute()
	server := s.CapabilityKey()

	frame.SubState = 2 // waitlock
	frame.HoldsLock = LockList.String()
	release, err := s.locks.Lock(ctx, server, pathStr, LockList)
	if err != nil {
		frame.HoldsLock = ""
		return Listing{}, WrapOpError(KindCancelled, "LIST", err)
	}
	defer func() {
		release()
		frame.HoldsLock = ""
	}()

	if listing, ok := s.dirCache.Lookup(server, pathStr); ok && !listing.HasUnsureEntries {
		return listing, nil
	}

	frame.SubState = 3 // waittransfer
	entries, usedMLSD, err := s.fetchListing(pathStr)
	if err != nil {
		return Listing{}, err
	}

	if !usedMLSD && wantHidden {
		if state, _ := s.capabilities.Get(server, FeatListHidden); state != CapNo {
			hiddenEntries, hiddenErr := s.fetchListLine("LIST", "-a "+pathStr)
			if hiddenErr == nil {
				if hiddenListIsSubset(entries, hiddenEntries) {
					s.capabilities.Set(server, FeatListHidden, CapYes, nil)
					entries = hiddenEntries
				} else {
					s.capabilities.Set(server, FeatListHidden, CapNo, nil)
				}
			}
		}
	}

	frame.SubState = 4 // mdtm (timezone calibration)
	s.calibrateTimezone(server, pathStr, entries)

	listing := Listing{Entries: entries, FirstListTime: time.Now()}
	s.dirCache.Store(server, pathStr, listing)
	return listing, nil
}

// fetchListing prefers MLSD once known supported, falling back to LIST.
func (s *Session) fetchListing(pathStr string) ([]*Entry, bool, error) {
	server := s.CapabilityKey()
	if state, _ := s.capabilities.Get(server, FeatMLSDCommand); state != CapNo {
		entries, err := s.fetchMLSD(pathStr)
		if err == nil {
			s.capabilities.Set(server, FeatMLSDCommand, CapYes, nil)
			return entries, true, nil
		}
		s.capabilities.Set(server, FeatMLSDCommand, CapNo, nil)
	}
	entries, err := s.fetchListLine("LIST", pathStr)
	if err != nil {
		return nil, false, err
	}
	if len(entries) == 0 {
		// Misleading-empty-reply guard (§4.G): some servers answer an empty
		// transfer even for a non-empty directory on the very first listing
		// of a session; one retry resolves it without caching the false
		// negative.
		retry, rerr := s.fetchListLine("LIST", pathStr)
		if rerr == nil && len(retry) > 0 {
			entries = retry
		}
	}
	return entries, false, nil
}

func (s *Session) fetchMLSD(pathStr string) ([]*Entry, error) {
	var buf bytes.Buffer
	_, _, err := s.RunRawTransfer(context.Background(), DataModePassive, TypeASCII, "MLSD", pathStr, 0, func(conn net.Conn) error {
		_, err := buf.ReadFrom(conn)
		return err
	})
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, line := range splitLines(buf.String()) {
		if e := ParseMLSTEntry(line); e != nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Session) fetchListLine(verb, args string) ([]*Entry, error) {
	var buf bytes.Buffer
	_, _, err := s.RunRawTransfer(context.Background(), DataModePassive, TypeASCII, verb, args, 0, func(conn net.Conn) error {
		_, err := buf.ReadFrom(conn)
		return err
	})
	if err != nil {
		return nil, err
	}
	parsers := s.listParsers
	if parsers == nil {
		parsers = DefaultParsers()
	}
	entries, perr := ParseListing(&buf, parsers)
	if perr != nil {
		return nil, WrapOpError(KindProtocolViolation, verb, perr)
	}
	return entries, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			out = append(out, line)
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// calibrateTimezone compares one entry's MDTM-reported time (UTC, precise)
// against the same entry's time as parsed from the listing and records the
// offset once per server (§4.G step 6, §3 invariant: shifts only entries at
// PrecisionTime or finer).
func (s *Session) calibrateTimezone(server, dirPath string, entries []*Entry) {
	if state, _ := s.capabilities.Get(server, FeatTimezoneOffset); state != CapUnknown {
		if offsetMin, ok := state2offset(state, s.capabilities, server); ok {
			ApplyTimezoneOffset(entries, offsetMin)
		}
		return
	}
	for _, e := range entries {
		if e.Precision != PrecisionTime || e.Kind != KindFile {
			continue
		}
		full := dirPath
		if full != "/" {
			full += "/"
		}
		full += e.Name
		r, err := s.Exec("MDTM", full, false)
		if err != nil || !r.Is2xx() {
			continue
		}
		ts := r.Message
		if len(ts) < 14 {
			continue
		}
		t, perr := time.Parse("20060102150405", ts[:14])
		if perr != nil {
			continue
		}
		offset := t.UTC().Sub(e.Time)
		s.capabilities.Set(server, FeatTimezoneOffset, CapYes, offset)
		ApplyTimezoneOffset(entries, offset)
		return
	}
}

func state2offset(state CapState, reg *CapabilityRegistry, server string) (time.Duration, bool) {
	if state != CapYes {
		return 0, false
	}
	_, payload := reg.Get(server, FeatTimezoneOffset)
	d, ok := payload.(time.Duration)
	return d, ok
}
