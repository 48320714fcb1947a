package engine

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// resumeLargeFileThreshold2GB and resumeLargeFileThreshold4GB bound the
// offsets at which some servers mis-handle REST (§4.H, "resume-bug
// probing").
const (
	resumeLargeFileThreshold2GB int64 = 1 << 31
	resumeLargeFileThreshold4GB int64 = 1 << 32
)

// TransferDirection selects which way bytes flow for FileTransfer.
type TransferDirection int

const (
	DirectionDownload TransferDirection = iota
	DirectionUpload
)

// FileTransfer drives the File Transfer Orchestrator (§4.H): ChangeDir into
// the remote directory, a directory-cache lookup of the target filename,
// SIZE/MDTM probes, resume-vs-overwrite decision, the RETR/STOR/APPE call
// into the Raw Transfer Orchestrator, and local timestamp preservation on
// completion.
func (s *Session) FileTransfer(ctx context.Context, dir TransferDirection, remotePath, localPath string, resume bool) error {
	s.stack.Push(OpFileTransfer)
	defer s.stack.Pop()

	target, err := s.resolveTransferPath(ctx, remotePath)
	if err != nil {
		return err
	}

	remoteSize, haveSize := s.probeSize(target)
	remoteModTime, haveModTime := s.probeModTime(target)

	switch dir {
	case DirectionDownload:
		return s.download(ctx, target, localPath, resume, remoteSize, haveSize, remoteModTime, haveModTime)
	default:
		return s.upload(ctx, target, localPath, resume, remoteSize, haveSize)
	}
}

// resolveTransferPath implements §4.H step 1 ("ChangeDir to remote
// directory... mark try_absolute = true") and step 2 ("cache lookup of
// (dir, filename)... if directory unknown, trigger a refreshing LIST
// first"). It changes into remotePath's directory component and returns the
// bare filename to use against SIZE/MDTM/RETR/STOR. A CWD that fails with
// KindLinkNotDir (the directory component is actually a symlink to a file)
// falls back to passing remotePath through unchanged, the try_absolute
// behavior the spec calls out.
func (s *Session) resolveTransferPath(ctx context.Context, remotePath string) (string, error) {
	parsed := NewServerPath(s.ServerType(), remotePath)
	if len(parsed.segments) == 0 {
		return remotePath, nil
	}
	dir := parsed.Parent()
	if len(dir.segments) == 0 && !parsed.absolute {
		return remotePath, nil // bare relative filename, nothing to ChangeDir into
	}

	dirArg := dir.FormatAbsolute()
	if !parsed.absolute {
		dirArg = strings.Join(dir.segments, parsed.separator())
	}
	fileName := parsed.LastSegment()

	resolved, err := s.ChangeDir(ctx, dirArg, false, true)
	if err != nil {
		if opErr, ok := err.(*OpError); ok && opErr.Kind == KindLinkNotDir {
			return remotePath, nil
		}
		return "", err
	}

	server := s.CapabilityKey()
	absDir := resolved.FormatAbsolute()
	if _, dirDidExist, _ := s.dirCache.LookupFile(server, absDir, fileName); !dirDidExist {
		if _, err := s.List(ctx, "", false); err != nil {
			return "", err
		}
	}
	return fileName, nil
}

func (s *Session) probeSize(remotePath string) (int64, bool) {
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatSIZECommand); state == CapNo {
		return 0, false
	}
	r, err := s.Exec("SIZE", remotePath, false)
	if err != nil {
		return 0, false
	}
	if !r.Is2xx() {
		s.capabilities.Set(s.CapabilityKey(), FeatSIZECommand, CapNo, nil)
		return 0, false
	}
	s.capabilities.Set(s.CapabilityKey(), FeatSIZECommand, CapYes, nil)
	n, err := strconv.ParseInt(r.Message, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Session) probeModTime(remotePath string) (time.Time, bool) {
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatMDTMCommand); state == CapNo {
		return time.Time{}, false
	}
	r, err := s.Exec("MDTM", remotePath, false)
	if err != nil {
		return time.Time{}, false
	}
	if !r.Is2xx() {
		s.capabilities.Set(s.CapabilityKey(), FeatMDTMCommand, CapNo, nil)
		return time.Time{}, false
	}
	s.capabilities.Set(s.CapabilityKey(), FeatMDTMCommand, CapYes, nil)
	ts := r.Message
	if len(ts) < 14 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102150405", ts[:14])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (s *Session) download(ctx context.Context, remotePath, localPath string, resume bool, remoteSize int64, haveSize bool, remoteModTime time.Time, haveModTime bool) error {
	var offset int64
	truncate := true

	if info, statErr := statLocal(localPath); statErr == nil {
		if !resume {
			resp, err := s.requestAsync(ctx, AsyncRequest{
				Kind: AsyncFileExists, RemotePath: remotePath, LocalPath: localPath,
				RemoteSize: remoteSize, LocalSize: info.size,
			})
			if err != nil || !resp.Proceed || resp.FileAction == FileExistsSkip {
				return err
			}
			if resp.FileAction == FileExistsResume {
				resume = true
			}
		}
		if resume {
			offset = info.size
			truncate = false
			if haveSize && offset >= remoteSize {
				return nil // already complete
			}
			_, unsupported := s.resumeBugFor(offset)
			if !unsupported && haveSize && s.resumeBugUnknown(offset) {
				bugFound, perr := s.probeResumeBug(ctx, remotePath, remoteSize)
				if perr != nil {
					return perr
				}
				unsupported = bugFound
			}
			if unsupported {
				offset = 0
				truncate = true
			}
		}
	}

	w, err := s.ioWorker.OpenForWrite(localPath, offset, truncate)
	if err != nil {
		return WrapOpError(KindLocalIOError, "RETR", err)
	}
	defer w.Close()

	_, _, err = s.RunRawTransfer(ctx, DataModePassive, TypeBinary, "RETR", remotePath, offset, func(conn net.Conn) error {
		_, cerr := io.Copy(asWriter{w}, conn)
		return cerr
	})
	if err != nil {
		return err
	}

	if haveModTime && s.identity.PreserveTimestamps {
		_ = setLocalFileTime(localPath, remoteModTime.Unix())
	}
	return nil
}

func (s *Session) upload(ctx context.Context, remotePath, localPath string, resume bool, remoteSize int64, haveSize bool) error {
	var offset int64
	verb := "STOR"
	if resume && haveSize && remoteSize > 0 {
		offset = remoteSize
		verb = "STOR"
		if _, unsupported := s.resumeBugFor(offset); unsupported {
			verb = "APPE"
			offset = 0
		}
	}

	r, err := s.ioWorker.OpenForRead(localPath, offset)
	if err != nil {
		return WrapOpError(KindLocalIOError, verb, err)
	}
	defer r.Close()

	restOffset := offset
	if verb == "APPE" {
		restOffset = 0
	}

	_, _, err = s.RunRawTransfer(ctx, DataModePassive, TypeBinary, verb, remotePath, restOffset, func(conn net.Conn) error {
		_, cerr := io.Copy(conn, asReader{r})
		return cerr
	})
	return err
}

// resumeBugFor reports whether the offset falls in a range known (per the
// sticky capability registry) to trigger a server's broken REST handling
// around the 2/4 GiB boundary (§4.H "resume-bug probing").
func (s *Session) resumeBugFor(offset int64) (TransferEndReason, bool) {
	server := s.CapabilityKey()
	if offset >= resumeLargeFileThreshold4GB {
		if state, _ := s.capabilities.Get(server, FeatResume4GBBug); state == CapYes {
			return EndReasonFailedResumeTest, true
		}
	}
	if offset >= resumeLargeFileThreshold2GB {
		if state, _ := s.capabilities.Get(server, FeatResume2GBBug); state == CapYes {
			return EndReasonFailedResumeTest, true
		}
	}
	return EndReasonNone, false
}

// MarkResumeBug records that a transfer at offset failed REST in a way
// consistent with the 2/4 GiB resume bug, so later transfers skip straight
// to the APPE fallback (§4.H).
func (s *Session) MarkResumeBug(offset int64) {
	server := s.CapabilityKey()
	if offset >= resumeLargeFileThreshold4GB {
		s.capabilities.Set(server, FeatResume4GBBug, CapYes, nil)
	} else if offset >= resumeLargeFileThreshold2GB {
		s.capabilities.Set(server, FeatResume2GBBug, CapYes, nil)
	}
}

// resumeBugUnknown reports whether offset crosses a resume-bug threshold
// whose capability is still CapUnknown, the condition that triggers the
// one-byte probe (§4.H.6, §8 "local > 4 GiB AND resume4GBbug = unknown
// triggers the probe").
func (s *Session) resumeBugUnknown(offset int64) bool {
	server := s.CapabilityKey()
	if offset >= resumeLargeFileThreshold4GB {
		state, _ := s.capabilities.Get(server, FeatResume4GBBug)
		return state == CapUnknown
	}
	if offset >= resumeLargeFileThreshold2GB {
		state, _ := s.capabilities.Get(server, FeatResume2GBBug)
		return state == CapUnknown
	}
	return false
}

// probeResumeBug performs the §4.H.6 probing RETR: REST to remoteSize-1,
// then RETR, expecting to receive exactly the one remaining byte before the
// server closes the data connection. A server that ignores or mishandles a
// REST offset near the 2/4 GiB boundary instead starts the transfer from
// somewhere else entirely, so more than one byte arrives; that's the signal
// the bug is present, marked sticky via MarkResumeBug so later transfers
// skip straight to APPE (ported from the original engine's
// FileTransferTestResumeCapability/CTransferSocket resumetest mode).
func (s *Session) probeResumeBug(ctx context.Context, remotePath string, remoteSize int64) (bool, error) {
	probeOffset := remoteSize - 1
	var gotExtraByte bool
	_, _, err := s.RunRawTransfer(ctx, DataModePassive, TypeBinary, "RETR", remotePath, probeOffset, func(conn net.Conn) error {
		buf := make([]byte, 2)
		n, rerr := io.ReadFull(conn, buf)
		if n > 1 {
			gotExtraByte = true
			return nil
		}
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return rerr
		}
		return nil
	})
	if gotExtraByte {
		s.MarkResumeBug(remoteSize)
		return true, WrapOpError(KindResumeUnsupportedLargeFile, "RETR", err)
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// SetModTime issues MFMT to set a remote file's modification time (§4.H
// step 10, grounded on directory.go's SetModTime).
func (s *Session) SetModTime(remotePath string, t time.Time) error {
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatMFMTCommand); state == CapNo {
		return nil
	}
	ts := t.UTC().Format("20060102150405")
	r, err := s.Exec("MFMT", ts+" "+remotePath, false)
	if err != nil {
		return err
	}
	if !r.Is2xx() {
		s.capabilities.Set(s.CapabilityKey(), FeatMFMTCommand, CapNo, nil)
		return nil
	}
	s.capabilities.Set(s.CapabilityKey(), FeatMFMTCommand, CapYes, nil)
	return nil
}

type localStat struct{ size int64 }

func statLocal(path string) (localStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return localStat{}, err
	}
	return localStat{size: info.Size()}, nil
}

type asWriter struct{ w FileWriter }

func (a asWriter) Write(p []byte) (int, error) { return a.w.Write(p) }

type asReader struct{ r FileReader }

func (a asReader) Read(p []byte) (int, error) { return a.r.Read(p) }
