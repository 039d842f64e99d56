package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile_Atomic(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)

	path, err := s.WriteFile(context.Background(), "agent-1", "balances.csv", func(w io.Writer) error {
		_, err := io.WriteString(w, "a,b\n1,2\n")
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != filepath.Join(base, "agent-1", "balances.csv") {
		t.Fatalf("unexpected path %s", path)
	}

	rc, err := s.Open(context.Background(), "agent-1", "balances.csv")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "a,b\n1,2\n" {
		t.Fatalf("unexpected content %q", data)
	}
	assertOnlyFiles(t, filepath.Join(base, "agent-1"), "balances.csv")
}

func TestWriteFile_FailureLeavesNoFile(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)
	boom := errors.New("disk full")

	_, err := s.WriteFile(context.Background(), "", "report.csv", func(w io.Writer) error {
		io.WriteString(w, "a,b\n")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	assertOnlyFiles(t, base)
}

func TestWriteFile_FailureKeepsPreviousVersion(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)
	ctx := context.Background()

	if _, err := writeString(ctx, s, "", "report.csv", "v1"); err != nil {
		t.Fatal(err)
	}
	_, err := s.WriteFile(ctx, "", "report.csv", func(w io.Writer) error {
		io.WriteString(w, "v2 partial")
		return errors.New("interrupted")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	data, err := os.ReadFile(filepath.Join(base, "report.csv"))
	if err != nil || string(data) != "v1" {
		t.Fatalf("previous version lost: %q %v", data, err)
	}
	assertOnlyFiles(t, base, "report.csv")
}

func TestWriteFile_CanceledContext(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := writeString(ctx, s, "", "report.csv", "a")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertOnlyFiles(t, base)
}

func TestWriteFile_RejectsEscapes(t *testing.T) {
	s := NewLocalStorage(t.TempDir())
	for _, tc := range []struct{ dir, name string }{
		{"", "../x.csv"},
		{"../..", "x.csv"},
		{"", ""},
		{"", ".."},
	} {
		_, err := writeString(context.Background(), s, tc.dir, tc.name, "x")
		if !errors.Is(err, ErrInvalidPath) {
			t.Errorf("WriteFile(%q, %q): expected ErrInvalidPath, got %v", tc.dir, tc.name, err)
		}
		if _, err := s.Open(context.Background(), tc.dir, tc.name); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Open(%q, %q): expected ErrInvalidPath, got %v", tc.dir, tc.name, err)
		}
		if err := s.Delete(context.Background(), tc.dir, tc.name); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Delete(%q, %q): expected ErrInvalidPath, got %v", tc.dir, tc.name, err)
		}
	}
}

func TestDelete_RemovesEmptyDir(t *testing.T) {
	base := t.TempDir()
	s := NewLocalStorage(base)
	ctx := context.Background()

	if _, err := writeString(ctx, s, "agent-2", "r.csv", "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "agent-2", "r.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "agent-2")); !os.IsNotExist(err) {
		t.Fatalf("expected dir removed, stat err=%v", err)
	}
	if err := s.Delete(ctx, "agent-2", "r.csv"); err != nil {
		t.Fatalf("deleting a missing file should succeed: %v", err)
	}
}

func writeString(ctx context.Context, s *LocalStorage, dir, name, content string) (string, error) {
	return s.WriteFile(ctx, dir, name, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
}

func assertOnlyFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if strings.Join(got, ",") != strings.Join(names, ",") {
		t.Fatalf("dir %s holds %v, want %v", dir, got, names)
	}
}
