package daemon

import (
	"errors"
	"time"

	"github.com/Hara602/fileSentry/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// pollTimeout 每轮最多等待 1 秒，保证定期 checkpoint 和控制信号能及时处理
const pollTimeout = time.Second

type readiness struct {
	source  bool
	devices bool
}

// iterate 主循环的一轮
func (d *Daemon) iterate() {
	ready, err := d.wait(pollTimeout)
	if err != nil {
		d.log.Error("poll failed", zap.Error(err))
	}

	actions := d.control.Observe()
	for _, sig := range actions.Signals {
		d.log.Info("Signal received", zap.Stringer("signal", sig))
	}
	if actions.Reload {
		_ = d.filter.Reload()
	}
	if actions.Compact {
		d.flushAndCompact(false)
	}

	if now := d.now(); now.Sub(d.lastSave) >= d.cfg.Interval {
		d.periodicCheckpoint()
		d.lastSave = now
	}

	if ready.devices {
		if err := d.devices.Receive(); err != nil {
			d.log.Warn("Failed to read device event", zap.Error(err))
		}
	}
	if d.devices != nil {
		d.followMounts()
	}

	if ready.source {
		d.drain()
	}
}

// wait 等待 fanotify (以及 udev) 可读，或超时
func (d *Daemon) wait(timeout time.Duration) (readiness, error) {
	fds := []unix.PollFd{{Fd: int32(d.source.Fd()), Events: unix.POLLIN}}
	if d.devices != nil {
		fds = append(fds, unix.PollFd{Fd: int32(d.devices.Fd()), Events: unix.POLLIN})
	}

	n, err := d.poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		// 信号打断 poll，不是错误
		if errors.Is(err, unix.EINTR) {
			return readiness{}, nil
		}
		return readiness{}, err
	}
	if n == 0 {
		return readiness{}, nil
	}

	var r readiness
	r.source = fds[0].Revents&unix.POLLIN != 0
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		d.log.Error("fanotify descriptor error", zap.Int16("revents", fds[0].Revents))
	}
	if len(fds) > 1 {
		r.devices = fds[1].Revents&unix.POLLIN != 0
	}
	return r, nil
}

// drain 读取并按内核顺序处理本轮所有事件
func (d *Daemon) drain() {
	events, err := d.source.Drain()
	for _, ev := range events {
		d.processEvent(ev)
	}
	if err != nil {
		d.log.Error("Couldn't read event metadata", zap.Int("fd", d.source.Fd()), zap.Error(err))
	}
}

// processEvent 无论走哪个分支，事件的 fd 都在这里释放且只释放一次
func (d *Daemon) processEvent(ev model.RawEvent) {
	defer func() {
		if err := d.source.Release(ev); err != nil {
			d.log.Warn("Failed to release event descriptor", zap.Int32("fd", ev.Fd), zap.Error(err))
		}
	}()
	d.stats.events++

	if ev.IsOverflow() {
		d.log.Warn("fanotify queue overflow, events were lost")
		return
	}
	kinds := model.Kinds(ev.Mask)
	if len(kinds) == 0 || !ev.HasFd() {
		return
	}
	// 守护进程自己的读写 (segment、规范存储、索引) 不计数
	if ev.PID == d.pid {
		return
	}

	path, err := d.resolver.Resolve(ev.Fd)
	if err != nil {
		d.stats.dropped++
		if d.dropLog.Allow() {
			d.log.Debug("Dropping event", zap.Int32("pid", ev.PID), zap.Error(err))
		}
		return
	}
	if d.filter.IsExcluded(path) {
		d.stats.excluded++
		return
	}

	for _, kind := range kinds {
		isNew, err := d.table.Upsert(path, kind)
		if err != nil {
			d.stats.dropped++
			if d.dropLog.Allow() {
				d.log.Debug("Dropping event", zap.Error(err))
			}
			return
		}
		if isNew {
			d.newKeys++
		}
	}
	d.stats.counted++

	if d.newKeys >= d.cfg.MaxSegmentSize {
		d.rotate()
	}
}

// rotate 本代新路径数达到 MAX_SEGMENT_SIZE
func (d *Daemon) rotate() {
	from := d.store.Index()
	if err := d.store.Rotate(d.table, d.cfg.SavePath); err != nil {
		d.log.Warn("Rotation incomplete", zap.Int("segment", from), zap.Error(err))
	}
	d.newKeys = 0
	d.log.Debug("Segment rotated", zap.Int("from", from), zap.Int("to", d.store.Index()))
}

// periodicCheckpoint 覆盖写当前 segment，不清空表
func (d *Daemon) periodicCheckpoint() {
	if err := d.store.Checkpoint(d.table, d.store.Index()); err != nil {
		d.log.Warn("Periodic checkpoint failed", zap.Error(err))
	}
	d.log.Debug("Periodic checkpoint",
		zap.Int("segment", d.store.Index()),
		zap.Int("records", d.table.Len()),
		zap.Int("events", d.stats.events),
		zap.Int("counted", d.stats.counted),
		zap.Int("excluded", d.stats.excluded),
		zap.Int("dropped", d.stats.dropped))
	d.stats = stats{}
}

// flushAndCompact 先把当前表写入当前 segment，再合并全部 segment
// checkpoint 失败时：运行中跳过这次 compaction (表原样保留，下次重试)；停止时仍然合并已有的 segment
func (d *Daemon) flushAndCompact(final bool) {
	if err := d.store.Checkpoint(d.table, d.store.Index()); err != nil && !final {
		d.log.Warn("Compaction postponed, checkpoint failed", zap.Error(err))
		return
	}
	if err := d.store.Compact(d.cfg.SavePath); err != nil {
		d.log.Warn("Compaction incomplete", zap.Error(err))
	}
	d.table.Clear()
	d.newKeys = 0
}

// followMounts 把新挂载的设备加入 fanotify，设备拔出时移除
// 命令行指定的挂载点不受影响
func (d *Daemon) followMounts() {
	for _, m := range d.devices.Mounted() {
		if d.configuredMount(m.MountPoint) || d.followed[m.MountPoint] {
			continue
		}
		if err := d.source.AddWatch(m.MountPoint); err != nil {
			d.log.Error("Failed to watch mount", zap.String("mount", m.MountPoint), zap.Error(err))
			continue
		}
		d.followed[m.MountPoint] = true
		d.log.Info("👀 Monitoring started",
			zap.String("mount", m.MountPoint),
			zap.String("dev", m.DevicePath),
			zap.String("vendor", m.Vendor),
			zap.String("model", m.Model))
	}

	for _, m := range d.devices.Removed() {
		if !d.followed[m.MountPoint] {
			continue
		}
		delete(d.followed, m.MountPoint)
		if err := d.source.RemoveWatch(m.MountPoint); err != nil {
			d.log.Warn("Failed to unwatch mount", zap.String("mount", m.MountPoint), zap.Error(err))
			continue
		}
		d.log.Info("Monitoring stopped", zap.String("mount", m.MountPoint), zap.String("dev", m.DevicePath))
	}
}

func (d *Daemon) configuredMount(mountPoint string) bool {
	for _, m := range d.cfg.Mounts {
		if m == mountPoint {
			return true
		}
	}
	return false
}
