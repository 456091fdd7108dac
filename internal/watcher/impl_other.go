//go:build !linux

package watcher

import "go.uber.org/zap"

func newWatcher(log *zap.Logger) (DeviceWatcher, error) { return nil, ErrUnsupported }
