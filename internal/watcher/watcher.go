// Package watcher 跟随热插拔的块设备：分区挂载后把挂载点交给 fanotify 标记
package watcher

import (
	"errors"

	"github.com/Hara602/fileSentry/internal/model"
	"go.uber.org/zap"
)

var ErrUnsupported = errors.New("udev monitoring is only supported on linux")

// DeviceWatcher 不启动 goroutine：Fd() 放进主循环的 poll，可读时调用 Receive
type DeviceWatcher interface {
	Fd() int
	// Receive 读取一条 uevent
	Receive() error
	// Mounted 返回自上次调用以来已经挂载好的设备
	Mounted() []model.MountEvent
	// Removed 返回自上次调用以来被拔出、但挂载点还在的设备
	Removed() []model.MountEvent
	Close() error
}

func New(log *zap.Logger) (DeviceWatcher, error) {
	return newWatcher(log)
}
