// Package daemon 主循环：单线程，poll 驱动
//
//	INIT     接管信号，准备存储路径，加载排除列表，恢复遗留 segment
//	RUNNING  poll(最多 1 秒) -> 控制信号 -> 定期 checkpoint -> 读取并处理事件
//	DRAINING 收到终止信号后完成当前这一轮
//	STOPPED  最终 checkpoint + compaction，清空表，释放 fanotify
//
// 所有状态都在 Daemon 中，不使用包级变量。
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/fileSentry/internal/blacklist"
	"github.com/Hara602/fileSentry/internal/config"
	"github.com/Hara602/fileSentry/internal/control"
	"github.com/Hara602/fileSentry/internal/index"
	"github.com/Hara602/fileSentry/internal/monitor"
	"github.com/Hara602/fileSentry/internal/resolver"
	"github.com/Hara602/fileSentry/internal/segment"
	"github.com/Hara602/fileSentry/internal/sysutil"
	"github.com/Hara602/fileSentry/internal/table"
	"github.com/Hara602/fileSentry/internal/watcher"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// PathResolver fd -> 绝对路径
type PathResolver interface {
	Resolve(fd int32) (string, error)
}

// Options 由 cmd/agent 创建的外部资源；Daemon 负责关闭它们
type Options struct {
	Source   monitor.FileMonitor
	Devices  watcher.DeviceWatcher // 可选
	Resolver PathResolver          // 默认 /proc/self/fd
	Index    *index.Index          // 可选
}

// stats 两次定期 checkpoint 之间的计数，用于 debug 日志
type stats struct {
	events   int
	counted  int
	excluded int
	dropped  int
}

type Daemon struct {
	cfg      config.Config
	log      *zap.Logger
	source   monitor.FileMonitor
	devices  watcher.DeviceWatcher
	resolver PathResolver
	index    *index.Index
	filter   *blacklist.Filter
	table    *table.Table
	store    *segment.Store
	control  *control.Plane

	newKeys  int             // 本代新出现的路径数
	followed map[string]bool // Mount Follower 标记过的挂载点
	lastSave time.Time
	pid      int32
	stats    stats
	dropLog  *rate.Limiter

	now  func() time.Time
	poll func(fds []unix.PollFd, timeout int) (int, error)
}

// New 完成 INIT 阶段；返回后信号已由控制面接管，Run 结束时取消
func New(cfg config.Config, log *zap.Logger, opts Options) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if err := setupFiles(cfg); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		log:      log,
		source:   opts.Source,
		devices:  opts.Devices,
		resolver: opts.Resolver,
		index:    opts.Index,
		table:    table.New(),
		control:  control.New(),
		followed: make(map[string]bool),
		pid:      int32(os.Getpid()),
		dropLog:  rate.NewLimiter(rate.Every(time.Second), 10),
		now:      time.Now,
		poll:     unix.Poll,
	}
	if d.resolver == nil {
		d.resolver = resolver.New()
	}
	// Recover 可能触发 compaction，信号从这里开始由控制面接管
	d.control.Notify()

	d.filter = blacklist.New(blacklist.Options{
		ControlFile: cfg.BlacklistPath,
		OwnFiles:    []string{cfg.SavePath, cfg.BlacklistPath, cfg.IndexPath},
		OwnDirs:     []string{cfg.SegmentDir},
	}, log.Named("blacklist"))
	// 读取失败时以空列表启动，SIGUSR2 可以重试
	_ = d.filter.Reload()

	d.store = segment.New(segment.Options{
		Dir:         cfg.SegmentDir,
		MaxSegments: cfg.MaxSegments,
	}, d.filter, log.Named("segment"))
	if d.index != nil {
		d.store.SetMirror(d.index)
	}
	if _, err := d.store.Recover(cfg.SavePath); err != nil {
		log.Warn("Segment recovery incomplete", zap.Error(err))
	}
	return d, nil
}

// setupFiles 创建守护进程需要的目录和文件
func setupFiles(cfg config.Config) error {
	if err := sysutil.EnsureDir(filepath.Dir(cfg.SavePath), 0744); err != nil {
		return err
	}
	if err := sysutil.EnsureFile(cfg.SavePath); err != nil {
		return err
	}
	if err := sysutil.EnsureFile(cfg.BlacklistPath); err != nil {
		return err
	}
	return sysutil.EnsureDir(cfg.SegmentDir, 0744)
}

// Control 控制面，cmd/agent 和测试用来投递信号
func (d *Daemon) Control() *control.Plane { return d.control }

// Run 运行到收到终止信号，然后执行 STOPPED 阶段的清理
func (d *Daemon) Run() error {
	defer d.control.Stop()

	d.log.Info("Daemon has started",
		zap.Strings("mounts", d.cfg.Mounts),
		zap.Int("segment", d.store.Index()))

	d.lastSave = d.now()
	for !d.control.Stopping() {
		d.iterate()
	}

	d.log.Info("Stopping daemon...", zap.Stringer("state", d.control.State()))
	return d.shutdown()
}

// shutdown 最终 compaction，然后释放所有资源
func (d *Daemon) shutdown() error {
	d.flushAndCompact(true)
	d.table.Clear()
	d.control.MarkStopped()

	var err error
	if d.devices != nil {
		err = multierr.Append(err, d.devices.Close())
	}
	err = multierr.Append(err, d.source.Close())
	if d.index != nil {
		err = multierr.Append(err, d.index.Close())
	}
	if err != nil {
		d.log.Warn("Error while releasing resources", zap.Error(err))
	}
	d.log.Info("Daemon has stopped.")
	return err
}
