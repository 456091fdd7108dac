package monitor

import (
	"errors"

	"github.com/Hara602/fileSentry/internal/model"
	"go.uber.org/zap"
)

var ErrUnsupported = errors.New("fanotify is only supported on linux")

// FileMonitor 内核文件事件通道 (整个挂载点，递归，OPEN|MODIFY)
// 不启动 goroutine：调用方对 Fd() 做 poll，可读时调用 Drain
type FileMonitor interface {
	Fd() int
	AddWatch(mountPath string) error // 标记挂载点
	RemoveWatch(mountPath string) error
	// Drain 读取当前可读的全部事件；没有更多事件 (EAGAIN) 时返回
	// 出错时也会返回已读出的事件，这些事件的 fd 同样需要 Release
	Drain() ([]model.RawEvent, error)
	// Release 关闭事件的 fd；每个事件必须且只能调用一次
	Release(ev model.RawEvent) error
	Close() error
}

func New(log *zap.Logger) (FileMonitor, error) {
	return newMonitor(log)
}
