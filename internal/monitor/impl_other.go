//go:build !linux

package monitor

import "go.uber.org/zap"

func newMonitor(log *zap.Logger) (FileMonitor, error) { return nil, ErrUnsupported }
