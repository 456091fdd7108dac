package segment

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Hara602/fileSentry/internal/model"
	"github.com/Hara602/fileSentry/internal/table"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type prefixExcluder []string

func (p prefixExcluder) IsExcluded(path string) bool {
	for _, e := range p {
		if strings.HasPrefix(path, e) {
			return true
		}
	}
	return false
}

type recordingMirror struct {
	calls   int
	records []model.ActivityRecord
}

func (m *recordingMirror) Mirror(records []model.ActivityRecord) error {
	m.calls++
	m.records = records
	return nil
}

type fixture struct {
	store *Store
	files string // 被统计的文件所在目录
	dest  string
}

func newFixture(t *testing.T, max int, excluded ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	segDir := filepath.Join(root, "segments")
	files := filepath.Join(root, "files")
	for _, d := range []string{segDir, files} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	s := New(Options{Dir: segDir, MaxSegments: max}, prefixExcluder(excluded), zap.NewNop())
	return &fixture{store: s, files: files, dest: filepath.Join(root, "file-events")}
}

// touch 创建被统计的文件并返回其路径
func (f *fixture) touch(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.files, name)
	if err := os.WriteFile(p, nil, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func loadFile(t *testing.T, s *Store, path string) *table.Table {
	t.Helper()
	tb := table.New()
	if err := s.Load(path, tb); err != nil {
		t.Fatalf("Load(%s) failed: %v", path, err)
	}
	return tb
}

func TestCheckpointRoundTrip(t *testing.T) {
	f := newFixture(t, 10)
	a, b := f.touch(t, "a"), f.touch(t, "b")
	gone := filepath.Join(f.files, "gone")

	tb := table.New()
	tb.Add(a, 2, 1)
	tb.Add(b, 0, 5)
	tb.Add(gone, 1, 1)

	if err := f.store.Checkpoint(tb, 1); err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}
	if _, ok := tb.Get(gone); ok {
		t.Error("record of a vanished file should be dropped from the live table")
	}

	got := loadFile(t, f.store, f.store.Path(1))
	if got.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", got.Len())
	}
	if r, _ := got.Get(a); r.OpenCount != 2 || r.ModifyCount != 1 {
		t.Errorf("unexpected record %+v", r)
	}
	if r, _ := got.Get(b); r.OpenCount != 0 || r.ModifyCount != 5 {
		t.Errorf("unexpected record %+v", r)
	}
}

func TestCheckpointOverwritesSegment(t *testing.T) {
	f := newFixture(t, 10)
	a, b := f.touch(t, "a"), f.touch(t, "b")

	first := table.New()
	first.Add(a, 1, 0)
	first.Add(b, 1, 0)
	if err := f.store.Checkpoint(first, 1); err != nil {
		t.Fatal(err)
	}

	second := table.New()
	second.Add(a, 3, 0)
	if err := f.store.Checkpoint(second, 1); err != nil {
		t.Fatal(err)
	}

	got := loadFile(t, f.store, f.store.Path(1))
	if got.Len() != 1 {
		t.Fatalf("expected the segment to be fully rewritten, got %d records", got.Len())
	}
	if r, _ := got.Get(a); r.OpenCount != 3 {
		t.Errorf("expected open=3, got %+v", r)
	}
}

func TestCheckpointSkipsExcludedAndZero(t *testing.T) {
	f := newFixture(t, 10)
	keep := f.touch(t, "keep")
	skip := f.touch(t, "skip-me")
	zero := f.touch(t, "zero")
	f.store.excluder = prefixExcluder{skip}

	tb := table.New()
	tb.Add(keep, 1, 0)
	tb.Add(skip, 1, 0)
	tb.Add(zero, 0, 0)
	if err := f.store.Checkpoint(tb, 2); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(f.store.Path(2))
	if err != nil {
		t.Fatal(err)
	}
	if want := keep + ":1:0\n"; string(data) != want {
		t.Errorf("expected %q, got %q", want, data)
	}
}

func TestCheckpointEmptyTableWritesNothing(t *testing.T) {
	f := newFixture(t, 10)
	if err := f.store.Checkpoint(table.New(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.store.Path(1)); !os.IsNotExist(err) {
		t.Errorf("empty table must not create a segment, stat err=%v", err)
	}
}

func TestCompactIsAdditive(t *testing.T) {
	f := newFixture(t, 10)
	a, b := f.touch(t, "a"), f.touch(t, "b")

	seg1 := table.New()
	seg1.Add(a, 2, 1)
	seg2 := table.New()
	seg2.Add(a, 1, 3)
	seg2.Add(b, 4, 0)
	if err := f.store.Checkpoint(seg1, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Checkpoint(seg2, 2); err != nil {
		t.Fatal(err)
	}

	mirror := &recordingMirror{}
	f.store.SetMirror(mirror)
	f.store.index = 2
	if err := f.store.Compact(f.dest); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	got := loadFile(t, f.store, f.dest)
	if r, _ := got.Get(a); r.OpenCount != 3 || r.ModifyCount != 4 {
		t.Errorf("expected a=3/4, got %+v", r)
	}
	if r, _ := got.Get(b); r.OpenCount != 4 || r.ModifyCount != 0 {
		t.Errorf("expected b=4/0, got %+v", r)
	}
	for i := 1; i <= 2; i++ {
		if _, err := os.Stat(f.store.Path(i)); !os.IsNotExist(err) {
			t.Errorf("segment %d should be deleted", i)
		}
	}
	if f.store.Index() != 1 {
		t.Errorf("expected index reset to 1, got %d", f.store.Index())
	}
	if mirror.calls != 1 || len(mirror.records) != 2 {
		t.Errorf("expected one mirror call with 2 records, got %d calls %+v", mirror.calls, mirror.records)
	}
}

func TestCompactZeroSegmentsLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t, 10)
	before := "/keep/me:9:9\n"
	if err := os.WriteFile(f.dest, []byte(before), 0644); err != nil {
		t.Fatal(err)
	}
	mirror := &recordingMirror{}
	f.store.SetMirror(mirror)

	if err := f.store.Compact(f.dest); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	data, err := os.ReadFile(f.dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != before {
		t.Errorf("canonical store changed: %q", data)
	}
	if mirror.calls != 0 {
		t.Error("mirror must not be called without segments")
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, 10)
	f.store.log = zap.New(core)

	good := f.touch(t, "good")
	content := "/x:notanumber:3\n" + good + ":2:7\nonlyonefield\n"
	if err := os.WriteFile(f.store.Path(1), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got := loadFile(t, f.store, f.store.Path(1))
	if got.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", got.Len())
	}
	if r, _ := got.Get(good); r.OpenCount != 2 || r.ModifyCount != 7 {
		t.Errorf("unexpected record %+v", r)
	}
	if n := logs.FilterMessage("Skipping malformed line").Len(); n != 2 {
		t.Errorf("expected 2 warnings, got %d", n)
	}
}

func TestRotateAdvancesAndCompactsAtCeiling(t *testing.T) {
	f := newFixture(t, 3)
	a := f.touch(t, "a")

	for gen := 1; gen <= 3; gen++ {
		if f.store.Index() != gen {
			t.Fatalf("generation %d: expected index %d, got %d", gen, gen, f.store.Index())
		}
		tb := table.New()
		tb.Add(a, 1, 0)
		if err := f.store.Rotate(tb, f.dest); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
		if tb.Len() != 0 {
			t.Error("live table must be cleared after rotation")
		}
		if f.store.Index() > 3 {
			t.Fatalf("index beyond ceiling: %d", f.store.Index())
		}
	}

	// 第三次轮转到达上限，触发 compaction
	if f.store.Index() != 1 {
		t.Errorf("expected index 1 after ceiling compaction, got %d", f.store.Index())
	}
	got := loadFile(t, f.store, f.dest)
	if r, _ := got.Get(a); r.OpenCount != 3 {
		t.Errorf("expected open=3 in canonical store, got %+v", r)
	}
	if _, err := os.Stat(f.store.Path(4)); !os.IsNotExist(err) {
		t.Error("segment beyond the ceiling must never exist")
	}
}

func TestRecover(t *testing.T) {
	f := newFixture(t, 5)
	a := f.touch(t, "a")
	for _, i := range []int{1, 3} {
		if err := os.WriteFile(f.store.Path(i), []byte(a+":1:1\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	part := f.store.Path(4) + ".part"
	if err := os.WriteFile(part, []byte("half"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := f.store.Recover(f.dest)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if n != 2 || f.store.Index() != 4 {
		t.Errorf("expected 2 leftovers and index 4, got %d / %d", n, f.store.Index())
	}
	if _, err := os.Stat(part); !os.IsNotExist(err) {
		t.Error("stale .part file should be removed")
	}
}

func TestRecoverCompactsAtCeiling(t *testing.T) {
	f := newFixture(t, 2)
	a := f.touch(t, "a")
	for _, i := range []int{1, 2, 7} {
		if err := os.WriteFile(f.store.Path(i), []byte(a+":1:0\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.store.Recover(f.dest); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if f.store.Index() != 1 {
		t.Errorf("expected index 1, got %d", f.store.Index())
	}
	got := loadFile(t, f.store, f.dest)
	if r, _ := got.Get(a); r.OpenCount != 3 {
		t.Errorf("expected open=3, got %+v", r)
	}
}

func TestCompactCarriesRecordsWhenDestinationFails(t *testing.T) {
	f := newFixture(t, 10)
	a, b := f.touch(t, "a"), f.touch(t, "b")
	badDest := filepath.Join(f.files, "missing", "file-events")

	first := table.New()
	first.Add(a, 1, 0)
	if err := f.store.Checkpoint(first, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Compact(badDest); err == nil {
		t.Fatal("expected error for unwritable destination")
	}
	if f.store.Index() != 1 {
		t.Fatalf("expected index reset to 1, got %d", f.store.Index())
	}
	if _, err := os.Stat(f.store.Path(carryIndex)); err != nil {
		t.Fatalf("merged records must be carried over: %v", err)
	}

	// 新一代写入 1.tmp 不能覆盖上一次未写出的记录
	second := table.New()
	second.Add(b, 1, 0)
	if err := f.store.Checkpoint(second, f.store.Index()); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Compact(f.dest); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	got := loadFile(t, f.store, f.dest)
	if r, _ := got.Get(a); r.OpenCount != 1 {
		t.Errorf("record carried from the failed compaction lost: %+v", r)
	}
	if r, _ := got.Get(b); r.OpenCount != 1 {
		t.Errorf("unexpected record %+v", r)
	}
	entries, _ := os.ReadDir(filepath.Dir(f.store.Path(1)))
	if len(entries) != 0 {
		t.Errorf("expected empty segment dir, found %d files", len(entries))
	}
}

func TestCompactMergesSegmentsBeyondIndex(t *testing.T) {
	f := newFixture(t, 10)
	a := f.touch(t, "a")
	for _, i := range []int{1, 5} {
		if err := os.WriteFile(f.store.Path(i), []byte(a+":1:0\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.store.Compact(f.dest); err != nil {
		t.Fatal(err)
	}
	if r, _ := loadFile(t, f.store, f.dest).Get(a); r.OpenCount != 2 {
		t.Errorf("expected open=2, got %+v", r)
	}
}

func TestCompactConsumesSegmentWithOverlongLine(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, 10)
	f.store.log = zap.New(core)

	a := f.touch(t, "a")
	content := a + ":5:0\n" + strings.Repeat("y", 70*1024) + "\n"
	if err := os.WriteFile(f.store.Path(1), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if err := f.store.Compact(f.dest); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if r, _ := loadFile(t, f.store, f.dest).Get(a); r.OpenCount != 5 {
		t.Errorf("expected open=5, got %+v", r)
	}
	if _, err := os.Stat(f.store.Path(1)); !os.IsNotExist(err) {
		t.Error("segment must be consumed and deleted")
	}
	if n := logs.FilterMessage("Skipping malformed line").Len(); n != 1 {
		t.Errorf("expected 1 warning, got %d", n)
	}

	// 没有新事件时再次 compaction 不会重复计数
	if err := f.store.Compact(f.dest); err != nil {
		t.Fatal(err)
	}
	if r, _ := loadFile(t, f.store, f.dest).Get(a); r.OpenCount != 5 {
		t.Errorf("expected open=5 after an idle compaction, got %+v", r)
	}
}

func TestRecoverKeepsCarrySegment(t *testing.T) {
	f := newFixture(t, 5)
	a := f.touch(t, "a")
	if err := os.WriteFile(f.store.Path(carryIndex), []byte(a+":2:0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.Recover(f.dest); err != nil {
		t.Fatal(err)
	}
	if f.store.Index() != 1 {
		t.Errorf("carry segment must not take a segment number, index=%d", f.store.Index())
	}
	if _, err := os.Stat(f.store.Path(carryIndex)); err != nil {
		t.Errorf("carry segment must survive recovery: %v", err)
	}
}
