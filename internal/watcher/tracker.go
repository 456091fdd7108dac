package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hara602/fileSentry/internal/model"
	"github.com/Hara602/fileSentry/internal/sysutil"
	"go.uber.org/zap"
)

// udev 事件触发时文件系统可能还没挂载好；主循环每秒检查一次，最多 30 次
const maxMountAttempts = 30

type pendingDevice struct {
	event    model.MountEvent
	attempts int
}

// tracker 记录等待挂载的设备，以及已经交给主循环的挂载点
type tracker struct {
	mountsFile string
	sysBlock   string
	pending    map[string]*pendingDevice
	ready      []model.MountEvent
	reported   map[string]model.MountEvent // 设备 -> 已报告的挂载
	gone       []model.MountEvent
	log        *zap.Logger
}

func newTracker(log *zap.Logger) *tracker {
	return &tracker{
		mountsFile: sysutil.ProcMounts,
		sysBlock:   "/sys/class/block",
		pending:    make(map[string]*pendingDevice),
		reported:   make(map[string]model.MountEvent),
		log:        log,
	}
}

// handle 只关心块设备分区的 add / remove
func (t *tracker) handle(action string, env map[string]string) {
	if env["SUBSYSTEM"] != "block" || env["DEVTYPE"] != "partition" {
		return
	}
	devName := env["DEVNAME"]
	if devName == "" {
		return
	}
	if !strings.HasPrefix(devName, "/dev") {
		devName = "/dev/" + devName
	}

	switch action {
	case "add":
		t.pending[devName] = &pendingDevice{event: model.MountEvent{
			DevicePath: devName,
			Vendor:     env["ID_VENDOR"],
			Model:      env["ID_MODEL"],
			TimeStamp:  time.Now(),
		}}
		t.log.Info("Block device added, waiting for mount", zap.String("dev", devName))
	case "remove":
		delete(t.pending, devName)
		if ev, ok := t.reported[devName]; ok {
			delete(t.reported, devName)
			t.gone = append(t.gone, ev)
		}
		t.log.Info("❌ Block device removed", zap.String("dev", devName))
	}
}

// mounted 检查等待中的设备是否已经挂载
func (t *tracker) mounted() []model.MountEvent {
	out := t.ready
	t.ready = nil
	for dev, p := range t.pending {
		if mp := sysutil.LookupMount(t.mountsFile, dev); mp != "" {
			p.event.MountPoint = mp
			out = append(out, p.event)
			delete(t.pending, dev)
			continue
		}
		p.attempts++
		if p.attempts >= maxMountAttempts {
			t.log.Warn("Device detected but mount point not found (timeout)", zap.String("dev", dev))
			delete(t.pending, dev)
		}
	}
	for _, ev := range out {
		t.reported[ev.DevicePath] = ev
	}
	return out
}

// removed 已报告过的设备被拔出，且挂载点仍由该设备挂载
// 已经卸载的挂载点不返回：mark 随挂载一起被内核释放，
// 这时对同一路径 unmark 会作用到上层挂载
func (t *tracker) removed() []model.MountEvent {
	var out []model.MountEvent
	for _, ev := range t.gone {
		if sysutil.LookupMount(t.mountsFile, ev.DevicePath) != ev.MountPoint {
			t.log.Debug("Mount already gone", zap.String("mount", ev.MountPoint), zap.String("dev", ev.DevicePath))
			continue
		}
		out = append(out, ev)
	}
	t.gone = nil
	return out
}

// scanExisting 启动时扫描已经挂载的 USB 设备
func (t *tracker) scanExisting() {
	data, err := os.ReadFile(t.mountsFile)
	if err != nil {
		t.log.Error("Failed to scan existing mounts", zap.Error(err))
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devPath := fields[0]
		// 只关心 /dev/ 开头的设备，且不是 loop 设备
		if !strings.HasPrefix(devPath, "/dev/") || strings.HasPrefix(devPath, "/dev/loop") {
			continue
		}
		// 通过 /sys/class/block/{name} 判断是否挂在 USB 总线上
		realSysPath, err := filepath.EvalSymlinks(filepath.Join(t.sysBlock, filepath.Base(devPath)))
		if err != nil || !strings.Contains(realSysPath, "/usb") {
			continue
		}
		mp := sysutil.LookupMount(t.mountsFile, devPath)
		if mp == "" {
			continue
		}
		t.log.Info("🔍 Found existing USB device during scan", zap.String("mount", mp), zap.String("dev", devPath))
		t.ready = append(t.ready, model.MountEvent{DevicePath: devPath, MountPoint: mp, TimeStamp: time.Now()})
	}
}
