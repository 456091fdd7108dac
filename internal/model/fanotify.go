package model

import "golang.org/x/sys/unix"

const (
	// FanotifyEventMetadataSize sizeof(struct fanotify_event_metadata)
	FanotifyEventMetadataSize = 24

	// FanNoFd 队列溢出事件不携带 fd
	FanNoFd = -1

	// WatchMask 监听的事件：打开、修改，递归到子项
	WatchMask = uint64(unix.FAN_OPEN | unix.FAN_MODIFY | unix.FAN_EVENT_ON_CHILD)
)

/*
type FanotifyEventMetadata struct {
	Event_len    uint32
	Vers         uint8
	Reserved     uint8
	Metadata_len uint16
	Mask         uint64
	Fd           int32
	Pid          int32
}
*/

// Kinds 把事件掩码转换成要计数的类型；掩码里既有 OPEN 又有 MODIFY 时两个都算
func Kinds(mask uint64) []EventKind {
	var kinds []EventKind
	if mask&unix.FAN_OPEN != 0 {
		kinds = append(kinds, KindOpen)
	}
	if mask&unix.FAN_MODIFY != 0 {
		kinds = append(kinds, KindModify)
	}
	return kinds
}

// IsOverflow 内核事件队列溢出
func (e RawEvent) IsOverflow() bool {
	return e.Mask&unix.FAN_Q_OVERFLOW != 0
}

// HasFd 事件是否带有需要关闭的 fd
func (e RawEvent) HasFd() bool {
	return e.Fd >= 0
}
