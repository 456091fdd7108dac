package sysutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

// PartSuffix 原子写入时使用的临时文件后缀
const PartSuffix = ".part"

// ReadLines 逐行读取文件，每行去掉换行符后交给 fn 处理
// 行的长度不受限制，是否合法由 fn 判断
// fn 返回错误时停止读取并返回该错误
func ReadLines(path string, fn func(line string) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		multierr.AppendInto(&err, f.Close())
	}()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if err := fn(line); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
}

// WriteLines 写入若干行，每行自动补换行符
// truncate=true 时先写 path.part 再 rename 覆盖；否则追加到文件末尾
func WriteLines(path string, lines []string, truncate bool) error {
	if !truncate {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return err
		}
		return multierr.Append(writeAll(f, lines), f.Close())
	}

	tmp := path + PartSuffix
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	err = writeAll(f, lines)
	if err == nil {
		err = f.Sync()
	}
	if err = multierr.Append(err, f.Close()); err != nil {
		return multierr.Append(fmt.Errorf("write %s: %w", tmp, err), removeIfExists(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return multierr.Append(fmt.Errorf("rename %s: %w", tmp, err), removeIfExists(tmp))
	}
	return nil
}

func writeAll(f *os.File, lines []string) error {
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// EnsureDir 目录不存在则创建
func EnsureDir(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// EnsureFile 文件不存在则创建空文件，同时创建父目录
func EnsureFile(path string) error {
	if err := EnsureDir(filepath.Dir(path), 0744); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	return f.Close()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
