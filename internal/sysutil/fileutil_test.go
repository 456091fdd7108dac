package sysutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteLinesTruncateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")

	if err := WriteLines(path, []string{"a", "b"}, true); err != nil {
		t.Fatalf("WriteLines failed: %v", err)
	}
	if err := WriteLines(path, []string{"c"}, false); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a\nb\nc\n" {
		t.Errorf("unexpected content %q", data)
	}

	if err := WriteLines(path, []string{"z"}, true); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "z\n" {
		t.Errorf("truncate must rewrite the whole file, got %q", data)
	}
	if _, err := os.Stat(path + PartSuffix); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestWriteLinesEmptyTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("old\n"), 0644)
	if err := WriteLines(path, nil, true); err != nil {
		t.Fatal(err)
	}
	if info, _ := os.Stat(path); info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("one\r\ntwo\n\nthree"), 0644)

	var got []string
	err := ReadLines(path, func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	stop := errors.New("stop")
	n := 0
	err = ReadLines(path, func(string) error { n++; return stop })
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("callback error must stop reading, got %v after %d lines", err, n)
	}

	if err := ReadLines(filepath.Join(t.TempDir(), "missing"), func(string) error { return nil }); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestReadLinesLongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment")
	long := strings.Repeat("x", 70*1024)
	if err := os.WriteFile(path, []byte("/a:5:0\n"+long+"\n/b:1:0"), 0644); err != nil {
		t.Fatal(err)
	}

	var got []string
	err := ReadLines(path, func(line string) error {
		got = append(got, line)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	if len(got) != 3 || got[0] != "/a:5:0" || len(got[1]) != len(long) || got[2] != "/b:1:0" {
		t.Errorf("unexpected lines: %d read", len(got))
	}
}

func TestLookupMount(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	os.WriteFile(mounts, []byte("/dev/sda1 / ext4 rw 0 0\n/dev/sdb1 /media/my\\040disk vfat rw 0 0\n"), 0644)

	if got := LookupMount(mounts, "/dev/sdb1"); got != "/media/my disk" {
		t.Errorf("expected unescaped mount point, got %q", got)
	}
	if got := LookupMount(mounts, "/dev/sdc1"); got != "" {
		t.Errorf("expected no mount, got %q", got)
	}
	if got := LookupMount("/nonexistent/mounts", "/dev/sda1"); got != "" {
		t.Errorf("expected empty result for unreadable mounts file, got %q", got)
	}
}

func TestEnsureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "file-listener", "file-events")
	if err := EnsureFile(path); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(path, []byte("keep\n"), 0644)
	if err := EnsureFile(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "keep\n" {
		t.Errorf("EnsureFile must not truncate existing files, got %q", data)
	}
}
