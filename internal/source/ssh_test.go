package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func newFakeSSH(response func(remoteCmd string) ([]byte, error)) *SSH {
	s := NewSSH(SSHConfig{Host: "gpu-box", User: "dev", Root: "/home/dev/.claude/projects"})
	s.runner = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return response(args[len(args)-1])
	}
	return s
}

func TestSSHList_ParsesFindOutput(t *testing.T) {
	s := newFakeSSH(func(remoteCmd string) ([]byte, error) {
		if !strings.Contains(remoteCmd, "find") {
			t.Fatalf("unexpected remote command %q", remoteCmd)
		}
		return []byte("1024\t1756600000.123\t/home/dev/.claude/projects/p1/a.jsonl\n" +
			"2048\t1756600100.000\t/home/dev/.claude/projects/p1/session/sub.jsonl\n"), nil
	})

	entries, err := s.List(context.Background(), "/home/dev/.claude/projects")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entry count = %d, want 2", len(entries))
	}
	if entries[0].Size != 1024 {
		t.Fatalf("size = %d, want 1024", entries[0].Size)
	}
	if entries[1].Path != "/home/dev/.claude/projects/p1/session/sub.jsonl" {
		t.Fatalf("path = %q", entries[1].Path)
	}
}

func TestSSHStat_ParsesSizeAndMtime(t *testing.T) {
	s := newFakeSSH(func(remoteCmd string) ([]byte, error) {
		return []byte("4096 1756600000\n"), nil
	})

	info, err := s.Stat(context.Background(), "/remote/file.jsonl")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 4096 {
		t.Fatalf("size = %d, want 4096", info.Size)
	}
	if info.ModTime.Unix() != 1756600000 {
		t.Fatalf("mtime = %v", info.ModTime)
	}
}

func TestSSHPartialRead_SplitsSections(t *testing.T) {
	s := newFakeSSH(func(remoteCmd string) ([]byte, error) {
		out := "h1\nh2\n" + partialReadMarker + "\n" + "t1\nt2\n" + partialReadMarker + "\n" + "  940\n"
		return []byte(out), nil
	})

	content, err := s.PartialRead(context.Background(), "/remote/big.jsonl", 2, 2)
	if err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if content.TotalLines != 940 {
		t.Fatalf("total lines = %d, want 940", content.TotalLines)
	}
	if len(content.Head) != 2 || content.Head[1] != "h2" {
		t.Fatalf("head = %v", content.Head)
	}
	if len(content.Tail) != 2 || content.Tail[0] != "t1" {
		t.Fatalf("tail = %v", content.Tail)
	}
}

func TestSSHRun_WrapsFailureAsConnectionError(t *testing.T) {
	s := newFakeSSH(func(remoteCmd string) ([]byte, error) {
		return nil, fmt.Errorf("exit status 255: connection refused")
	})

	_, err := s.List(context.Background(), "/remote")
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if connErr.Host != "gpu-box" {
		t.Fatalf("host = %q, want gpu-box", connErr.Host)
	}
}

func TestSSHRead_EnforcesMaxBytes(t *testing.T) {
	s := newFakeSSH(func(remoteCmd string) ([]byte, error) {
		return []byte(strings.Repeat("x", 100)), nil
	})
	s.MaxBytes = 64

	_, err := s.Read(context.Background(), "/remote/huge.jsonl")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestSSHArgs_IncludeBatchModeAndIdentity(t *testing.T) {
	s := NewSSH(SSHConfig{Host: "h", User: "u", Port: 2222, IdentityFile: "/key"})
	args := s.sshArgs("true")

	joined := strings.Join(args, " ")
	for _, want := range []string{"BatchMode=yes", "-p 2222", "-i /key", "u@h"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}
