package model

import "time"

// EventKind 事件类型：打开 或 修改
type EventKind int

const (
	KindOpen EventKind = iota
	KindModify
)

func (k EventKind) String() string {
	switch k {
	case KindOpen:
		return "OPEN"
	case KindModify:
		return "MODIFY"
	}
	return "UNKNOWN"
}

// MaxPathLen 路径最大长度 (PATH_MAX - 1)
const MaxPathLen = 4095

// ActivityRecord 单个文件的累计访问次数
type ActivityRecord struct {
	Path        string
	OpenCount   uint32
	ModifyCount uint32
}

// IsZero 两个计数都为0的记录不落盘
func (r ActivityRecord) IsZero() bool {
	return r.OpenCount == 0 && r.ModifyCount == 0
}

// RawEvent 从 fanotify 读出的一条原始事件
// Fd 由调用方负责关闭，并且只能关闭一次
type RawEvent struct {
	Mask uint64
	Fd   int32
	PID  int32
}

// MountEvent 新挂载的块设备 (热插拔)
type MountEvent struct {
	DevicePath string // e.g., /dev/sdb1
	MountPoint string // e.g., /media/usb
	Vendor     string
	Model      string
	TimeStamp  time.Time
}
