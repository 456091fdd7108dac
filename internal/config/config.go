// Package config 守护进程配置
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultSavePath       = "/var/log/file-listener/file-events"             // 规范存储
	DefaultBlacklistPath  = "/var/log/file-listener/file-listener.blacklist" // 排除文件
	DefaultSegmentDir     = "/tmp/file-listener"                             // segment 目录
	DefaultMaxSegments    = 500                                              // 最多多少个 segment
	DefaultMaxSegmentSize = 250                                              // 每个 segment 最多新增多少个路径
	DefaultInterval       = 15 * time.Second                                 // 定期 checkpoint 间隔
)

type Config struct {
	Mounts         []string
	SavePath       string
	BlacklistPath  string
	SegmentDir     string
	MaxSegments    int
	MaxSegmentSize int
	Interval       time.Duration
	IndexPath      string // 为空表示不启用 SQLite 镜像
	FollowMounts   bool
	LogLevel       string
	Syslog         bool
}

func Default() Config {
	return Config{
		Mounts:         []string{"/"},
		SavePath:       DefaultSavePath,
		BlacklistPath:  DefaultBlacklistPath,
		SegmentDir:     DefaultSegmentDir,
		MaxSegments:    DefaultMaxSegments,
		MaxSegmentSize: DefaultMaxSegmentSize,
		Interval:       DefaultInterval,
		LogLevel:       "info",
		Syslog:         true,
	}
}

// Validate 按固定顺序检查，返回全部问题
func (c Config) Validate() error {
	var err error
	if len(c.Mounts) == 0 {
		err = multierr.Append(err, errors.New("at least one mount is required"))
	}
	for _, m := range c.Mounts {
		if !filepath.IsAbs(m) {
			err = multierr.Append(err, fmt.Errorf("mount %q must be absolute", m))
		}
	}
	paths := []struct{ name, path string }{
		{"save-path", c.SavePath},
		{"blacklist-path", c.BlacklistPath},
		{"segment-dir", c.SegmentDir},
	}
	if c.IndexPath != "" {
		paths = append(paths, struct{ name, path string }{"index-path", c.IndexPath})
	}
	for _, p := range paths {
		if !filepath.IsAbs(p.path) {
			err = multierr.Append(err, fmt.Errorf("%s %q must be absolute", p.name, p.path))
		}
	}
	if c.MaxSegments < 1 {
		err = multierr.Append(err, fmt.Errorf("max-segments must be positive, got %d", c.MaxSegments))
	}
	if c.MaxSegmentSize < 1 {
		err = multierr.Append(err, fmt.Errorf("max-segment-size must be positive, got %d", c.MaxSegmentSize))
	}
	if c.Interval < time.Second {
		err = multierr.Append(err, fmt.Errorf("interval must be at least 1s, got %s", c.Interval))
	}
	return err
}
