// Package resolver 把 fanotify 事件携带的 fd 转换成绝对路径
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Hara602/fileSentry/internal/model"
)

// ErrUnresolvable fd 已经关闭或目标文件已被删除
var ErrUnresolvable = errors.New("unresolvable descriptor")

const deletedSuffix = " (deleted)"

// Resolver 通过 /proc/self/fd/N 读取 fd 对应的路径
type Resolver struct {
	fdDir string
}

func New() *Resolver {
	return &Resolver{fdDir: "/proc/self/fd"}
}

// Resolve 返回 fd 指向的绝对路径
func (r *Resolver) Resolve(fd int32) (string, error) {
	target, err := os.Readlink(filepath.Join(r.fdDir, strconv.Itoa(int(fd))))
	if err != nil {
		return "", fmt.Errorf("%w: fd %d: %v", ErrUnresolvable, fd, err)
	}
	// 文件句柄还在，但目标已经被 unlink
	if strings.HasSuffix(target, deletedSuffix) {
		return "", fmt.Errorf("%w: fd %d: target deleted", ErrUnresolvable, fd)
	}
	// 匿名 inode、socket 等不是文件路径，如 "anon_inode:[eventfd]"
	if !strings.HasPrefix(target, "/") {
		return "", fmt.Errorf("%w: fd %d: not a path: %s", ErrUnresolvable, fd, target)
	}
	if len(target) > model.MaxPathLen {
		return "", fmt.Errorf("%w: fd %d: path too long", ErrUnresolvable, fd)
	}
	return target, nil
}
