// Package segment 编号的 checkpoint 文件 (segment) 以及把所有 segment 合并到规范存储的 compaction
//
// segment 每次都是整体重写，后写的同编号 segment 覆盖之前的内容；
// compaction 时各 segment 的计数相加。
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/Hara602/fileSentry/internal/lineformat"
	"github.com/Hara602/fileSentry/internal/model"
	"github.com/Hara602/fileSentry/internal/sysutil"
	"github.com/Hara602/fileSentry/internal/table"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const fileSuffix = ".tmp"

// carryIndex compaction 写入 dest 失败时保存合并结果的文件 (0.tmp)，不会被 checkpoint 覆盖
const carryIndex = 0

var segmentName = regexp.MustCompile(`^([0-9]+)\.tmp$`)

// Excluder 排除规则 (blacklist.Filter)
type Excluder interface {
	IsExcluded(path string) bool
}

// Mirror compaction 成功后接收规范存储的全部记录 (index.Index)
type Mirror interface {
	Mirror(records []model.ActivityRecord) error
}

type Options struct {
	Dir         string // segment 目录
	MaxSegments int    // MAX_SEGMENTS
}

// Store 当前 segment 编号从 1 开始，不会超过 MaxSegments
type Store struct {
	dir      string
	max      int
	index    int
	excluder Excluder
	mirror   Mirror
	log      *zap.Logger
}

func New(opts Options, excluder Excluder, log *zap.Logger) *Store {
	return &Store{
		dir:      opts.Dir,
		max:      opts.MaxSegments,
		index:    1,
		excluder: excluder,
		log:      log,
	}
}

// SetMirror 可选，nil 表示关闭
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

// Index 当前 segment 编号
func (s *Store) Index() int { return s.index }

// Path segment 文件路径，如 /tmp/file-listener/3.tmp
func (s *Store) Path(index int) string {
	return filepath.Join(s.dir, strconv.Itoa(index)+fileSuffix)
}

// keep 文件仍存在并且没有被排除
func (s *Store) keep(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return s.excluder == nil || !s.excluder.IsExcluded(path)
}

// Checkpoint 把表的当前内容整体写入编号为 index 的 segment
// 已不存在或已被排除的路径从表中删除；两个计数都为 0 的记录不写入；空表不写文件
func (s *Store) Checkpoint(t *table.Table, index int) error {
	if t.Len() == 0 {
		return nil
	}
	path := s.Path(index)
	if err := s.writeTable(t, path); err != nil {
		s.log.Error("Checkpoint failed", zap.String("segment", path), zap.Error(err))
		return err
	}
	s.log.Debug("Checkpoint written", zap.String("segment", path), zap.Int("records", t.Len()))
	return nil
}

func (s *Store) writeTable(t *table.Table, path string) error {
	var (
		lines   []string
		dropped int
	)
	for _, r := range t.Records() {
		if !s.keep(r.Path) {
			t.Delete(r.Path)
			dropped++
			continue
		}
		if r.IsZero() {
			continue
		}
		lines = append(lines, lineformat.FormatRecord(r))
	}
	if dropped > 0 {
		s.log.Debug("Dropped vanished or excluded records", zap.String("file", path), zap.Int("dropped", dropped))
	}
	return sysutil.WriteLines(path, lines, true)
}

// Compact 加载目录中全部 segment (包括 carry 文件) 并相加，写入 dest 后删除这些 segment
// 没有任何记录时不写 dest。无论成功与否，当前编号都重置为 1
// dest 写入失败时合并结果写入 carry 文件，编号 segment 照常删除，留给下一次 compaction
func (s *Store) Compact(dest string) (err error) {
	defer func() { s.index = 1 }()

	indexes, err := s.scan()
	if err != nil {
		return err
	}

	scratch := table.New()
	defer scratch.Clear()

	var loaded []int
	for _, i := range indexes {
		path := s.Path(i)
		if loadErr := s.Load(path, scratch); loadErr != nil {
			if errors.Is(loadErr, os.ErrNotExist) {
				continue
			}
			s.log.Error("Failed to load segment", zap.String("segment", path), zap.Error(loadErr))
			err = multierr.Append(err, loadErr)
			continue
		}
		loaded = append(loaded, i)
	}
	if len(loaded) == 0 {
		return err
	}

	if scratch.Len() > 0 {
		if writeErr := s.writeTable(scratch, dest); writeErr != nil {
			s.log.Error("Failed to write canonical store, carrying records over",
				zap.String("dest", dest), zap.Int("segments", len(loaded)), zap.Error(writeErr))
			err = multierr.Append(err, writeErr)
			if carryErr := s.writeTable(scratch, s.Path(carryIndex)); carryErr != nil {
				// 两次写入都失败：保留所有 segment
				s.log.Error("Failed to write carry segment, keeping segments", zap.Error(carryErr))
				return multierr.Append(err, carryErr)
			}
			return multierr.Append(err, s.remove(loaded, false))
		}
	}
	err = multierr.Append(err, s.remove(loaded, true))

	s.log.Info("🗜️ Segments compacted",
		zap.Int("segments", len(loaded)),
		zap.Int("records", scratch.Len()),
		zap.String("dest", dest))

	if s.mirror != nil && scratch.Len() > 0 {
		if mirrorErr := s.mirror.Mirror(scratch.Records()); mirrorErr != nil {
			s.log.Error("Failed to mirror canonical store", zap.Error(mirrorErr))
			err = multierr.Append(err, mirrorErr)
		}
	}
	return err
}

// remove 删除已合并的 segment；withCarry=false 时 carry 文件已被新内容覆盖，不能删除
func (s *Store) remove(indexes []int, withCarry bool) error {
	var err error
	for _, i := range indexes {
		if i == carryIndex && !withCarry {
			continue
		}
		if rmErr := os.Remove(s.Path(i)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = multierr.Append(err, fmt.Errorf("remove segment: %w", rmErr))
		}
	}
	return err
}

// scan 目录中所有 segment 的编号，升序；同时清理中断写入留下的 .part 文件
func (s *Store) scan() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan segment dir: %w", err)
	}
	var indexes []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if filepath.Ext(name) == sysutil.PartSuffix {
			_ = os.Remove(filepath.Join(s.dir, name))
			continue
		}
		m := segmentName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil {
			indexes = append(indexes, n)
		}
	}
	sort.Ints(indexes)
	return indexes, nil
}

// Load 把文件中的记录累加到表中；格式错误的行跳过并记录警告
func (s *Store) Load(path string, t *table.Table) error {
	lineNo := 0
	return sysutil.ReadLines(path, func(line string) error {
		lineNo++
		r, err := lineformat.ParseRecord(line)
		if err != nil {
			s.log.Warn("Skipping malformed line", zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
			return nil
		}
		if _, err := t.Add(r.Path, r.OpenCount, r.ModifyCount); err != nil {
			s.log.Warn("Skipping invalid record", zap.String("file", path), zap.Int("line", lineNo), zap.Error(err))
		}
		return nil
	})
}

// Rotate 当前表写入当前 segment，清空表并前进到下一个编号
// 已到 MaxSegments 时改为 compaction 到 dest，编号回到 1
// checkpoint 失败时表保持不变，编号不前进
func (s *Store) Rotate(t *table.Table, dest string) error {
	if err := s.Checkpoint(t, s.index); err != nil {
		return err
	}
	t.Clear()
	if s.index < s.max {
		s.index++
		return nil
	}
	return s.Compact(dest)
}

// Recover 启动时处理上次运行遗留的 segment：不覆盖它们，编号从最大遗留编号之后开始；
// 超过 MaxSegments 时直接 compaction。carry 文件不占用编号，下一次 compaction 时合并
func (s *Store) Recover(dest string) (int, error) {
	indexes, err := s.scan()
	if err != nil {
		return 0, err
	}
	highest, count := 0, 0
	for _, n := range indexes {
		count++
		if n > highest {
			highest = n
		}
	}
	if count == 0 {
		s.index = 1
		return 0, nil
	}

	s.log.Info("Recovering segments from previous run", zap.Int("segments", count), zap.Int("highest", highest))
	if highest < s.max {
		s.index = highest + 1
		return count, nil
	}
	return count, s.Compact(dest)
}
