package dirstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

type testMeta struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func TestWriteReadMeta(t *testing.T) {
	ds := New(t.TempDir(), "schedule")
	id := "sched_0001"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	want := testMeta{Label: "nightly", Count: 3}
	if err := ds.WriteMeta(id, want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	var got testMeta
	if err := ds.ReadMeta(id, &got); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}

	if got != want {
		t.Errorf("ReadMeta = %+v, want %+v", got, want)
	}
}

func TestReadMetaNotFound(t *testing.T) {
	ds := New(t.TempDir(), "schedule")

	var out testMeta
	err := ds.ReadMeta("missing", &out)
	if err == nil {
		t.Fatal("expected error for missing meta")
	}
	if want := "schedule not found: missing"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestWriteMetaLeavesNoTempFile(t *testing.T) {
	ds := New(t.TempDir(), "schedule")
	id := "sched_0002"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := ds.WriteMeta(id, testMeta{Label: "x"}); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	entries, err := os.ReadDir(ds.Dir(id))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "meta.json" {
			t.Errorf("unexpected file %q after WriteMeta", e.Name())
		}
	}
}

func TestListDirs(t *testing.T) {
	base := t.TempDir()
	ds := New(base, "trace")

	for _, name := range []string{"nav", "dock", "_global"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0o755); err != nil {
			t.Fatalf("MkdirAll %s: %v", name, err)
		}
	}
	// A stray file must be ignored.
	if err := os.WriteFile(filepath.Join(base, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dirs, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}

	sort.Strings(dirs)
	want := []string{"_global", "dock", "nav"}
	if len(dirs) != len(want) {
		t.Fatalf("ListDirs = %v, want %v", dirs, want)
	}
	for i, d := range dirs {
		if d != want[i] {
			t.Errorf("dirs[%d] = %q, want %q", i, d, want[i])
		}
	}
}

func TestListDirsNonExistent(t *testing.T) {
	ds := New(filepath.Join(t.TempDir(), "nope"), "trace")

	dirs, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if dirs != nil {
		t.Errorf("expected nil, got %v", dirs)
	}
}

type testLine struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func TestAppendAndLoadJSONL(t *testing.T) {
	ds := New(t.TempDir(), "trace")
	id := "nav"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	lines := []testLine{
		{Seq: 1, Note: "accepted"},
		{Seq: 2, Note: "interrupted"},
		{Seq: 3, Note: "resumed"},
	}

	for _, l := range lines {
		if err := ds.AppendJSONL(id, "events.jsonl", l); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	got, err := LoadJSONL[testLine](ds, id, "events.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}

	if len(got) != len(lines) {
		t.Fatalf("LoadJSONL returned %d items, want %d", len(got), len(lines))
	}
	for i, item := range got {
		if item != lines[i] {
			t.Errorf("item[%d] = %+v, want %+v", i, item, lines[i])
		}
	}
}

func TestLoadJSONLSkipsCorruptedLines(t *testing.T) {
	ds := New(t.TempDir(), "trace")
	id := "nav"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := ds.AppendJSONL(id, "events.jsonl", testLine{Seq: 1, Note: "ok"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}

	f, err := os.OpenFile(ds.FilePath(id, "events.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	if err := ds.AppendJSONL(id, "events.jsonl", testLine{Seq: 2, Note: "after"}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}

	got, err := LoadJSONL[testLine](ds, id, "events.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 valid lines, got %d", len(got))
	}
	if got[1].Seq != 2 {
		t.Errorf("got[1].Seq = %d, want 2", got[1].Seq)
	}
}

func TestLoadJSONLEmpty(t *testing.T) {
	ds := New(t.TempDir(), "trace")

	got, err := LoadJSONL[testLine](ds, "missing", "events.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestEnsureDirRemoveDir(t *testing.T) {
	ds := New(t.TempDir(), "schedule")
	id := "sched_0003"

	if err := ds.EnsureDir(id); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	info, err := os.Stat(ds.Dir(id))
	if err != nil {
		t.Fatalf("Stat after EnsureDir: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}

	if err := ds.RemoveDir(id); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}

	if _, err := os.Stat(ds.Dir(id)); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist after RemoveDir, got: %v", err)
	}
}
