//go:build linux

package watcher

import (
	"fmt"

	"github.com/Hara602/fileSentry/internal/model"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

type linuxWatcher struct {
	conn    *netlink.UEventConn
	tracker *tracker
	log     *zap.Logger
}

func newWatcher(log *zap.Logger) (DeviceWatcher, error) {
	// 连接 NETLINK_KOBJECT_UEVENT，接收 udev 处理后的事件
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("udev netlink connect failed: %w", err)
	}
	w := &linuxWatcher{conn: conn, tracker: newTracker(log), log: log}
	// 处理新事件前，先扫描已存在的设备
	w.tracker.scanExisting()
	return w, nil
}

func (w *linuxWatcher) Fd() int { return w.conn.Fd }

func (w *linuxWatcher) Receive() error {
	uevent, err := w.conn.ReadUEvent()
	if err != nil {
		return fmt.Errorf("read uevent: %w", err)
	}
	w.tracker.handle(string(uevent.Action), uevent.Env)
	return nil
}

func (w *linuxWatcher) Mounted() []model.MountEvent { return w.tracker.mounted() }

func (w *linuxWatcher) Removed() []model.MountEvent { return w.tracker.removed() }

func (w *linuxWatcher) Close() error { return w.conn.Close() }
