package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// IOWorker is the local-file side of a transfer (§6 "I/O worker contract").
// The engine treats it as an external collaborator: it opens/closes the
// local file, performs chunked reads/writes, and is told whether the
// transfer is binary or ASCII. The default implementation below is
// os-backed; a GUI-facing engine would supply its own.
type IOWorker interface {
	OpenForRead(path string, offset int64) (FileReader, error)
	OpenForWrite(path string, offset int64, truncate bool) (FileWriter, error)
}

// FileReader is the read half of the I/O worker contract.
type FileReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// FileWriter is the write half of the I/O worker contract.
type FileWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// osIOWorker is the default IOWorker, backed directly by the local
// filesystem.
type osIOWorker struct{}

// DefaultIOWorker is the package-provided os-backed worker.
var DefaultIOWorker IOWorker = osIOWorker{}

func (osIOWorker) OpenForRead(path string, offset int64) (FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (osIOWorker) OpenForWrite(path string, offset int64, truncate bool) (FileWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// setLocalFileTime applies the resolved remote modification time to the
// local file's mtime/atime (§4.H step 10), using golang.org/x/sys/unix for
// nanosecond-accurate utimes the way fclairamb-ftpserverlib and moby-moby's
// go.mod both pull it in for — the teacher never preserves timestamps at
// all.
func setLocalFileTime(path string, modTime int64) error {
	ts := unix.NsecToTimespec(modTime * int64(1e9))
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, 0)
}
