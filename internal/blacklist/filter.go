// Package blacklist 路径排除列表
//
// 排除规则：
//   - 系统伪文件系统 /proc /dev /sys /run 以及 segment 目录：等于该目录或位于其下
//   - 守护进程自己的输出文件：等于该路径或以该路径开头 (覆盖 .part / -journal 等兄弟文件)
//   - 排除文件中加载的条目：按整个条目长度做字符串前缀比较，"/a/b" 同样排除 "/a/bc"
package blacklist

import (
	"fmt"
	"strings"

	"github.com/Hara602/fileSentry/internal/lineformat"
	"github.com/Hara602/fileSentry/internal/sysutil"
	"go.uber.org/zap"
)

// SystemDirs 固定排除的伪文件系统
var SystemDirs = []string{"/proc", "/dev", "/sys", "/run"}

// Options 固定排除集合来自配置
type Options struct {
	ControlFile string   // 排除文件，每行一个前缀
	OwnFiles    []string // 规范存储、排除文件、索引库
	OwnDirs     []string // segment 目录
}

// Filter 当前生效的排除集合；Reload 整体替换，不做局部修改
type Filter struct {
	controlFile string
	ownFiles    []string
	dirs        []string
	entries     []string
	log         *zap.Logger
}

func New(opts Options, log *zap.Logger) *Filter {
	f := &Filter{
		controlFile: opts.ControlFile,
		log:         log,
	}
	for _, p := range opts.OwnFiles {
		if p != "" {
			f.ownFiles = append(f.ownFiles, p)
		}
	}
	for _, d := range append(append([]string{}, SystemDirs...), opts.OwnDirs...) {
		if d = strings.TrimRight(d, "/"); d != "" {
			f.dirs = append(f.dirs, d)
		}
	}
	return f
}

// IsExcluded 路径是否被忽略
func (f *Filter) IsExcluded(path string) bool {
	for _, d := range f.dirs {
		if path == d || strings.HasPrefix(path, d+"/") {
			return true
		}
	}
	for _, p := range f.ownFiles {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, e := range f.entries {
		if strings.HasPrefix(path, e) {
			return true
		}
	}
	return false
}

// Reload 重新读取排除文件；失败时保留之前的集合
func (f *Filter) Reload() error {
	var entries []string
	err := sysutil.ReadLines(f.controlFile, func(line string) error {
		if e, ok := lineformat.ParseEntry(line); ok {
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		f.log.Error("Failed to reload blacklist, keeping previous entries",
			zap.String("path", f.controlFile),
			zap.Int("active", len(f.entries)),
			zap.Error(err))
		return fmt.Errorf("reload blacklist: %w", err)
	}

	f.entries = entries
	f.log.Info("Blacklist loaded", zap.String("path", f.controlFile), zap.Int("entries", len(entries)))
	return nil
}
