//go:build linux

package monitor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Hara602/fileSentry/internal/model"
	"golang.org/x/sys/unix"
)

// parseEvents 解析一次 read 得到的缓冲区
// 缓冲区结构: [FanotifyEventMetadata][可选 info 记录] [FanotifyEventMetadata] ...
// 出错时返回已经解析出的事件，调用方必须释放它们的 fd
func parseEvents(buf []byte) ([]model.RawEvent, error) {
	var events []model.RawEvent
	offset := 0
	for len(buf)-offset >= model.FanotifyEventMetadataSize {
		var meta unix.FanotifyEventMetadata
		reader := bytes.NewReader(buf[offset : offset+model.FanotifyEventMetadataSize])
		if err := binary.Read(reader, binary.NativeEndian, &meta); err != nil {
			return events, fmt.Errorf("fanotify metadata read failed: %w", err)
		}
		// 检查版本
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			return events, fmt.Errorf("fanotify metadata version mismatch: got %d, want %d",
				meta.Vers, unix.FANOTIFY_METADATA_VERSION)
		}
		// FAN_EVENT_OK
		if meta.Event_len < model.FanotifyEventMetadataSize || int(meta.Event_len) > len(buf)-offset {
			if meta.Fd >= 0 {
				events = append(events, model.RawEvent{Mask: meta.Mask, Fd: meta.Fd, PID: meta.Pid})
			}
			return events, fmt.Errorf("fanotify event truncated: event_len=%d remaining=%d",
				meta.Event_len, len(buf)-offset)
		}

		events = append(events, model.RawEvent{Mask: meta.Mask, Fd: meta.Fd, PID: meta.Pid})
		offset += int(meta.Event_len)
	}
	return events, nil
}
