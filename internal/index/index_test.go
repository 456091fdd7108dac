package index

import (
	"path/filepath"
	"testing"

	"github.com/Hara602/fileSentry/internal/model"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	x, err := Open(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	x.kind = func(string) string { return "txt" }
	t.Cleanup(func() { x.Close() })
	return x
}

func TestMirrorAndTop(t *testing.T) {
	x := openTestIndex(t)
	records := []model.ActivityRecord{
		{Path: "/a", OpenCount: 5, ModifyCount: 1},
		{Path: "/b", OpenCount: 9, ModifyCount: 0},
		{Path: "/c", OpenCount: 5, ModifyCount: 7},
		{Path: "/d", OpenCount: 4294967295, ModifyCount: 2},
	}
	if err := x.Mirror(records); err != nil {
		t.Fatalf("Mirror failed: %v", err)
	}

	top, err := x.Top(2, ByOpen)
	if err != nil {
		t.Fatalf("Top failed: %v", err)
	}
	if len(top) != 2 || top[0].Path != "/d" || top[1].Path != "/b" {
		t.Fatalf("unexpected top: %+v", top)
	}
	if top[0].OpenCount != 4294967295 || top[0].Kind != "txt" {
		t.Errorf("unexpected entry %+v", top[0])
	}

	bottom, err := x.Bottom(3, ByOpen)
	if err != nil {
		t.Fatalf("Bottom failed: %v", err)
	}
	// 相同计数按路径排序
	if len(bottom) != 3 || bottom[0].Path != "/a" || bottom[1].Path != "/c" || bottom[2].Path != "/b" {
		t.Errorf("unexpected bottom: %+v", bottom)
	}

	mod, err := x.Top(1, ByModify)
	if err != nil {
		t.Fatal(err)
	}
	if len(mod) != 1 || mod[0].Path != "/c" {
		t.Errorf("unexpected top by modify: %+v", mod)
	}
}

func TestMirrorReplaces(t *testing.T) {
	x := openTestIndex(t)
	if err := x.Mirror([]model.ActivityRecord{{Path: "/old", OpenCount: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := x.Mirror([]model.ActivityRecord{{Path: "/new", OpenCount: 2}}); err != nil {
		t.Fatal(err)
	}
	all, err := x.Top(10, ByOpen)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Path != "/new" {
		t.Errorf("expected only /new, got %+v", all)
	}
}

func TestQueryRejectsUnknownField(t *testing.T) {
	x := openTestIndex(t)
	if _, err := x.Top(1, Field("path; DROP TABLE activity")); err == nil {
		t.Error("expected error for unknown field")
	}
}
