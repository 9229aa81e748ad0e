package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLocalList_RecursesAndReportsSizes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jsonl"), "one\n")
	writeFile(t, filepath.Join(dir, "session", "sub.jsonl"), "one\ntwo\n")

	entries, err := NewLocal().List(context.Background(), dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var files []Entry
	for _, e := range entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}
	if len(files) != 2 {
		t.Fatalf("file count = %d, want 2", len(files))
	}
	for _, f := range files {
		if f.Size == 0 {
			t.Fatalf("entry %s has zero size", f.Path)
		}
	}
}

func TestLocalList_MissingRootIsAnError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	entries, err := NewLocal().List(context.Background(), missing)
	if err == nil {
		t.Fatalf("List returned %d entries and no error for missing root", len(entries))
	}
	if !strings.Contains(err.Error(), missing) {
		t.Fatalf("err = %v, want mention of %s", err, missing)
	}
}

func TestLocalRead_RejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.jsonl")
	writeFile(t, path, strings.Repeat("x", 128)+"\n")

	src := &Local{MaxBytes: 64}
	_, err := src.Read(context.Background(), path)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestLocalPartialRead_HeadTailAndCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.jsonl")

	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line-%d\n", i)
	}
	writeFile(t, path, b.String())

	content, err := NewLocal().PartialRead(context.Background(), path, 3, 2)
	if err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if content.TotalLines != 10 {
		t.Fatalf("total lines = %d, want 10", content.TotalLines)
	}
	if len(content.Head) != 3 || content.Head[0] != "line-1" {
		t.Fatalf("head = %v", content.Head)
	}
	if len(content.Tail) != 2 || content.Tail[1] != "line-10" {
		t.Fatalf("tail = %v", content.Tail)
	}
}

func TestLocalPartialRead_ShortFileHasNoOverlapPadding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.jsonl")
	writeFile(t, path, "only\n")

	content, err := NewLocal().PartialRead(context.Background(), path, 5, 5)
	if err != nil {
		t.Fatalf("PartialRead: %v", err)
	}
	if content.TotalLines != 1 {
		t.Fatalf("total lines = %d, want 1", content.TotalLines)
	}
	if len(content.Head) != 1 || len(content.Tail) != 0 {
		t.Fatalf("head=%v tail=%v, want single head line", content.Head, content.Tail)
	}
}
