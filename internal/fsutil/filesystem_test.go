package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteReadDir(t *testing.T) {
	fsys := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "session")

	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, name := range []string{"b.cut", "a.pos", "a.1"} {
		if err := fsys.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatalf("WriteFile(%s) failed: %v", name, err)
		}
	}

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"a.1", "a.pos", "b.cut"}
	if len(names) != len(want) {
		t.Fatalf("ReadDir returned %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// returned slice must not alias internal storage
	data[0] = 'X'
	again, _ := mfs.ReadFile("/test.txt")
	if again[0] != 'h' {
		t.Error("ReadFile result aliases stored data")
	}
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/data/r1.pos", []byte("position"), 0644)

	f, err := mfs.Open("/data/r1.pos")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "position" {
		t.Errorf("got %q", got)
	}

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != "r1.pos" || info.Size() != 8 {
		t.Errorf("unexpected stat: name=%q size=%d", info.Name(), info.Size())
	}
}

func TestMemoryFileSystem_OpenNonExistent(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Open("/missing"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if _, err := mfs.ReadFile("/missing"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestMemoryFileSystem_ImplicitParents(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/data/rat1/r1.pos", []byte("x"), 0644)

	for _, dir := range []string{"/data/rat1", "/data", "/"} {
		info, err := mfs.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s) failed: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s should be a directory", dir)
		}
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/data/s1/r1.pos", []byte("p"), 0644)
	_ = mfs.WriteFile("/data/s1/r1.1", []byte("t"), 0644)
	_ = mfs.WriteFile("/data/s1/nested/deep.cut", []byte("c"), 0644)

	entries, err := mfs.ReadDir("/data/s1")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	type ent struct {
		name string
		dir  bool
	}
	var got []ent
	for _, e := range entries {
		got = append(got, ent{e.Name(), e.IsDir()})
	}
	want := []ent{{"nested", true}, {"r1.1", false}, {"r1.pos", false}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := mfs.ReadDir("/nope"); !os.IsNotExist(err) {
		t.Errorf("expected not-exist for missing dir, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAllAndExists(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out/plots", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !mfs.Exists("/out/plots") || !mfs.Exists("/out") {
		t.Error("expected created directories to exist")
	}
	if mfs.Exists("/out/plots/x.png") {
		t.Error("file should not exist")
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/a/b/../c.txt", []byte("c"), 0644)

	if !mfs.Exists("/a/c.txt") {
		t.Error("expected cleaned path to exist")
	}
}

func TestMemFileInfo(t *testing.T) {
	var info fs.FileInfo = &memFileInfo{name: "x", size: 3, mode: 0600}
	if info.Name() != "x" || info.Size() != 3 || info.Mode() != 0600 || info.IsDir() {
		t.Errorf("unexpected memFileInfo values: %+v", info)
	}
	if !info.ModTime().IsZero() || info.Sys() != nil {
		t.Error("expected zero ModTime and nil Sys")
	}
}
