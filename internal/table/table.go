// Package table 内存中的访问计数表，key 为绝对路径
// 只由主循环访问，不加锁
package table

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Hara602/fileSentry/internal/model"
)

var ErrInvalidPath = errors.New("invalid path")

type counters struct {
	open   uint32
	modify uint32
}

// Table 路径 -> (打开次数, 修改次数)
type Table struct {
	items map[string]*counters
}

func New() *Table {
	return &Table{items: make(map[string]*counters)}
}

// ValidPath 不能为空、不能超过 PATH_MAX、不能包含换行 (行格式无法表示)
func ValidPath(path string) error {
	if path == "" || len(path) > model.MaxPathLen || strings.ContainsAny(path, "\n\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, truncate(path))
	}
	return nil
}

// Upsert 对应计数加一；path 第一次出现时返回 true
func (t *Table) Upsert(path string, kind model.EventKind) (bool, error) {
	switch kind {
	case model.KindOpen:
		return t.Add(path, 1, 0)
	case model.KindModify:
		return t.Add(path, 0, 1)
	}
	return false, fmt.Errorf("unknown event kind %d", kind)
}

// Add 把计数累加到已有记录上 (饱和，不回绕)；合并 segment 时使用
func (t *Table) Add(path string, open, modify uint32) (bool, error) {
	if err := ValidPath(path); err != nil {
		return false, err
	}
	c, ok := t.items[path]
	if !ok {
		t.items[path] = &counters{open: open, modify: modify}
		return true, nil
	}
	c.open = saturatingAdd(c.open, open)
	c.modify = saturatingAdd(c.modify, modify)
	return false, nil
}

func (t *Table) Get(path string) (model.ActivityRecord, bool) {
	c, ok := t.items[path]
	if !ok {
		return model.ActivityRecord{}, false
	}
	return model.ActivityRecord{Path: path, OpenCount: c.open, ModifyCount: c.modify}, true
}

// ForEach 遍历顺序不固定；visitor 中可以调用 Delete
func (t *Table) ForEach(visitor func(model.ActivityRecord)) {
	for path, c := range t.items {
		visitor(model.ActivityRecord{Path: path, OpenCount: c.open, ModifyCount: c.modify})
	}
}

// Records 按路径排序的快照
func (t *Table) Records() []model.ActivityRecord {
	out := make([]model.ActivityRecord, 0, len(t.items))
	t.ForEach(func(r model.ActivityRecord) {
		out = append(out, r)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *Table) Delete(path string) {
	delete(t.items, path)
}

func (t *Table) Len() int {
	return len(t.items)
}

func (t *Table) Clear() {
	clear(t.items)
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
