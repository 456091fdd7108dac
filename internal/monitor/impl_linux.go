//go:build linux

package monitor

import (
	"errors"
	"fmt"

	"github.com/Hara602/fileSentry/internal/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// 一次 read 最多读出 200 个事件
	readBufSize = 200 * model.FanotifyEventMetadataSize
	// 一次 Drain 最多 read 的次数，剩下的事件留给下一个循环
	maxReadsPerDrain = 64
)

type fanotifyMonitor struct {
	fd  int
	buf []byte
	log *zap.Logger
}

func newMonitor(log *zap.Logger) (FileMonitor, error) {
	flags := uint(unix.FAN_CLASS_NOTIF |
		unix.FAN_CLOEXEC |
		unix.FAN_NONBLOCK)
	eventFlags := uint(unix.O_RDONLY | unix.O_LARGEFILE | unix.O_CLOEXEC)
	fd, err := unix.FanotifyInit(flags, eventFlags)
	if err != nil {
		return nil, fmt.Errorf("fanotify init failed: %w", err)
	}
	return &fanotifyMonitor{
		fd:  fd,
		buf: make([]byte, readBufSize),
		log: log,
	}, nil
}

func (f *fanotifyMonitor) Fd() int { return f.fd }

// AddWatch FAN_MARK_MOUNT: 监控整个挂载点下的所有文件
func (f *fanotifyMonitor) AddWatch(mountPath string) error {
	err := unix.FanotifyMark(f.fd, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT, model.WatchMask, unix.AT_FDCWD, mountPath)
	if err != nil {
		return fmt.Errorf("fanotify mark %s failed: %w", mountPath, err)
	}
	f.log.Debug("Mount marked", zap.String("path", mountPath))
	return nil
}

func (f *fanotifyMonitor) RemoveWatch(mountPath string) error {
	err := unix.FanotifyMark(f.fd, unix.FAN_MARK_REMOVE|unix.FAN_MARK_MOUNT, model.WatchMask, unix.AT_FDCWD, mountPath)
	if err != nil {
		return fmt.Errorf("fanotify unmark %s failed: %w", mountPath, err)
	}
	return nil
}

func (f *fanotifyMonitor) Drain() ([]model.RawEvent, error) {
	var events []model.RawEvent
	for i := 0; i < maxReadsPerDrain; i++ {
		n, err := unix.Read(f.fd, f.buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				// 本轮没有更多事件
				return events, nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return events, fmt.Errorf("read fanotify fd %d: %w", f.fd, err)
		}
		if n <= 0 {
			return events, nil
		}

		batch, err := parseEvents(f.buf[:n])
		events = append(events, batch...)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

func (f *fanotifyMonitor) Release(ev model.RawEvent) error {
	if !ev.HasFd() {
		return nil
	}
	if err := unix.Close(int(ev.Fd)); err != nil {
		return fmt.Errorf("close event fd %d: %w", ev.Fd, err)
	}
	return nil
}

func (f *fanotifyMonitor) Close() error {
	var err error
	if f.fd >= 0 {
		err = multierr.Append(err, unix.Close(f.fd))
		f.fd = -1
	}
	return err
}
