package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProbeSize(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan struct {
		size int64
		ok   bool
	}, 1)
	go func() {
		size, ok := s.probeSize("/file.txt")
		done <- struct {
			size int64
			ok   bool
		}{size, ok}
	}()

	if line := scriptedExchange(t, reader, server, "213 1048576\r\n"); line != "SIZE /file.txt\r\n" {
		t.Fatalf("command = %q, want SIZE /file.txt", line)
	}
	res := <-done
	if !res.ok || res.size != 1048576 {
		t.Errorf("probeSize() = (%d, %v), want (1048576, true)", res.size, res.ok)
	}
}

func TestProbeSize_UnsupportedMarksCapability(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan bool, 1)
	go func() {
		_, ok := s.probeSize("/file.txt")
		done <- ok
	}()
	scriptedExchange(t, reader, server, "550 Unknown command\r\n")
	if ok := <-done; ok {
		t.Error("expected probeSize to report unsupported on a non-2xx reply")
	}

	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatSIZECommand); state != CapNo {
		t.Errorf("FeatSIZECommand = %v, want CapNo after a rejected SIZE", state)
	}
}

func TestProbeModTime(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan struct {
		t  time.Time
		ok bool
	}, 1)
	go func() {
		ts, ok := s.probeModTime("/file.txt")
		done <- struct {
			t  time.Time
			ok bool
		}{ts, ok}
	}()

	if line := scriptedExchange(t, reader, server, "213 20230615120000\r\n"); line != "MDTM /file.txt\r\n" {
		t.Fatalf("command = %q, want MDTM /file.txt", line)
	}
	res := <-done
	if !res.ok {
		t.Fatal("expected probeModTime to succeed")
	}
	want := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	if !res.t.Equal(want) {
		t.Errorf("probeModTime() = %v, want %v", res.t, want)
	}
}

func TestResumeBugFor(t *testing.T) {
	t.Parallel()
	s := NewSession(WithIdentity(ServerIdentity{Host: "h", Port: 21}))

	if _, unsupported := s.resumeBugFor(1024); unsupported {
		t.Error("expected small offsets to never trigger the resume bug")
	}

	s.MarkResumeBug(resumeLargeFileThreshold2GB + 10)
	if reason, unsupported := s.resumeBugFor(resumeLargeFileThreshold2GB + 10); !unsupported || reason != EndReasonFailedResumeTest {
		t.Errorf("resumeBugFor() = (%v, %v), want (%v, true) after MarkResumeBug at the 2GiB boundary", reason, unsupported, EndReasonFailedResumeTest)
	}
	if _, unsupported := s.resumeBugFor(resumeLargeFileThreshold4GB + 10); unsupported {
		t.Error("expected the 2GiB bug marker to not also flag the 4GiB boundary")
	}
}

func TestMarkResumeBug_4GBBoundary(t *testing.T) {
	t.Parallel()
	s := NewSession(WithIdentity(ServerIdentity{Host: "h", Port: 21}))
	s.MarkResumeBug(resumeLargeFileThreshold4GB + 10)
	if _, unsupported := s.resumeBugFor(resumeLargeFileThreshold4GB + 10); !unsupported {
		t.Error("expected the 4GiB bug marker to flag offsets past the 4GiB boundary")
	}
}

func TestSetModTime(t *testing.T) {
	t.Parallel()
	s, server := newPipedSession(t)
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() { done <- s.SetModTime("/file.txt", time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)) }()

	if line := scriptedExchange(t, reader, server, "213 Modify OK\r\n"); line != "MFMT 20230615120000 /file.txt\r\n" {
		t.Fatalf("command = %q, want MFMT 20230615120000 /file.txt", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("SetModTime() error = %v", err)
	}
}

func TestProbeResumeBug_AbsentWhenOneByteArrives(t *testing.T) {
	t.Parallel()
	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { dataLn.Close() })
	dataPort := dataLn.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := dataLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("x"))
	}()

	reg := NewCapabilityRegistry()
	s, server := newPipedSession(t)
	s.capabilities = reg
	s.identity = ServerIdentity{Host: "127.0.0.1", Port: 21}
	reg.Set(s.CapabilityKey(), FeatEPSV, CapNo, nil)
	reader := bufio.NewReader(server)

	const remoteSize = resumeLargeFileThreshold2GB + 100
	done := make(chan struct {
		bug bool
		err error
	}, 1)
	go func() {
		bug, err := s.probeResumeBug(context.Background(), "remote.bin", remoteSize)
		done <- struct {
			bug bool
			err error
		}{bug, err}
	}()

	scriptedExchange(t, reader, server, "200 TYPE set to I\r\n")
	p1, p2 := dataPort/256, dataPort%256
	pasvReply := fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d)\r\n", p1, p2)
	if line := scriptedExchange(t, reader, server, pasvReply); line != "PASV\r\n" {
		t.Fatalf("command = %q, want PASV", line)
	}
	if line := scriptedExchange(t, reader, server, fmt.Sprintf("350 Restarting at %d\r\n", remoteSize-1)); line != fmt.Sprintf("REST %d\r\n", remoteSize-1) {
		t.Fatalf("command = %q, want REST %d", line, remoteSize-1)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if want := "RETR remote.bin\r\n"; line != want {
		t.Fatalf("command = %q, want %q", line, want)
	}
	server.Write([]byte("150 Opening data connection\r\n"))
	server.Write([]byte("226 Transfer complete\r\n"))

	res := <-done
	if res.bug {
		t.Error("probeResumeBug() reported the bug present when only one byte arrived")
	}
	if res.err != nil {
		t.Errorf("probeResumeBug() error = %v, want nil", res.err)
	}
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatResume2GBBug); state == CapYes {
		t.Error("expected FeatResume2GBBug to stay unmarked-yes after a clean one-byte probe")
	}
}

func TestProbeResumeBug_DetectedWhenExtraByteArrives(t *testing.T) {
	t.Parallel()
	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { dataLn.Close() })
	dataPort := dataLn.Addr().(*net.TCPAddr).Port

	go func() {
		conn, err := dataLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("too much data"))
	}()

	reg := NewCapabilityRegistry()
	s, server := newPipedSession(t)
	s.capabilities = reg
	s.identity = ServerIdentity{Host: "127.0.0.1", Port: 21}
	reg.Set(s.CapabilityKey(), FeatEPSV, CapNo, nil)
	reader := bufio.NewReader(server)

	const remoteSize = resumeLargeFileThreshold2GB + 100
	done := make(chan struct {
		bug bool
		err error
	}, 1)
	go func() {
		bug, err := s.probeResumeBug(context.Background(), "remote.bin", remoteSize)
		done <- struct {
			bug bool
			err error
		}{bug, err}
	}()

	scriptedExchange(t, reader, server, "200 TYPE set to I\r\n")
	p1, p2 := dataPort/256, dataPort%256
	pasvReply := fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d)\r\n", p1, p2)
	scriptedExchange(t, reader, server, pasvReply)
	scriptedExchange(t, reader, server, fmt.Sprintf("350 Restarting at %d\r\n", remoteSize-1))
	reader.ReadString('\n') // RETR
	server.Write([]byte("150 Opening data connection\r\n"))
	server.Write([]byte("226 Transfer complete\r\n"))

	res := <-done
	if !res.bug {
		t.Error("probeResumeBug() failed to report the bug when more than one byte arrived")
	}
	if res.err == nil {
		t.Error("probeResumeBug() error = nil, want a KindResumeUnsupportedLargeFile error")
	} else if opErr, ok := res.err.(*OpError); !ok || opErr.Kind != KindResumeUnsupportedLargeFile {
		t.Errorf("probeResumeBug() error = %v, want *OpError with Kind=KindResumeUnsupportedLargeFile", res.err)
	}
	if state, _ := s.capabilities.Get(s.CapabilityKey(), FeatResume2GBBug); state != CapYes {
		t.Errorf("FeatResume2GBBug = %v, want CapYes after a confirmed resume-bug probe", state)
	}
}

func TestFileTransfer_DownloadFreshFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	localPath := filepath.Join(dir, "out.bin")

	dataLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { dataLn.Close() })
	dataPort := dataLn.Addr().(*net.TCPAddr).Port

	const content = "downloaded content"
	go func() {
		conn, err := dataLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(content))
	}()

	reg := NewCapabilityRegistry()
	s, server := newPipedSession(t)
	s.capabilities = reg
	s.identity = ServerIdentity{Host: "127.0.0.1", Port: 21}
	reg.Set(s.CapabilityKey(), FeatEPSV, CapNo, nil)
	reg.Set(s.CapabilityKey(), FeatSIZECommand, CapNo, nil)
	reg.Set(s.CapabilityKey(), FeatMDTMCommand, CapNo, nil)
	// Pre-seed the directory cache for "/" so resolveTransferPath's
	// directory-known check short-circuits without issuing a refreshing LIST.
	s.dirCache.Store(s.CapabilityKey(), "/", Listing{})
	reader := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() {
		done <- s.FileTransfer(context.Background(), DirectionDownload, "/remote.bin", localPath, false)
	}()

	if line := scriptedExchange(t, reader, server, "250 CWD OK\r\n"); line != "CWD /\r\n" {
		t.Fatalf("command = %q, want CWD /", line)
	}
	if line := scriptedExchange(t, reader, server, `257 "/" is current directory`+"\r\n"); line != "PWD\r\n" {
		t.Fatalf("command = %q, want PWD", line)
	}
	scriptedExchange(t, reader, server, "200 TYPE set to I\r\n")
	p1, p2 := dataPort/256, dataPort%256
	pasvReply := fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d)\r\n", p1, p2)
	if line := scriptedExchange(t, reader, server, pasvReply); line != "PASV\r\n" {
		t.Fatalf("command = %q, want PASV", line)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString() error = %v", err)
	}
	if want := "RETR remote.bin\r\n"; line != want {
		t.Fatalf("command = %q, want %q (resolveTransferPath changed into the directory and passes the bare filename)", line, want)
	}
	server.Write([]byte("150 Opening data connection\r\n"))
	server.Write([]byte("226 Transfer complete\r\n"))

	if err := <-done; err != nil {
		t.Fatalf("FileTransfer() error = %v", err)
	}

	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != content {
		t.Errorf("downloaded content = %q, want %q", got, content)
	}
}
