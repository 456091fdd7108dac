// Package lineformat 解析和生成持久化文件中的行
//
// 记录行格式: <绝对路径>:<打开次数>:<修改次数>
// 排除文件: 每行一个路径前缀
package lineformat

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Hara602/fileSentry/internal/model"
)

// Delimiter 字段分隔符
const Delimiter = ":"

var ErrMalformed = errors.New("malformed line")

// ParseRecord 从右往左拆分，路径本身可以包含 ':'
// 因此超过 3 个字段的行不算格式错误："/x:1:2:3" 解析为路径 "/x:1"；
// 路径中带 ':' 的记录写出后才能原样读回
// 超过 uint32 范围的计数截断为 math.MaxUint32
func ParseRecord(line string) (model.ActivityRecord, error) {
	i := strings.LastIndex(line, Delimiter)
	if i < 0 {
		return model.ActivityRecord{}, fmt.Errorf("%w: want 3 fields: %q", ErrMalformed, line)
	}
	rest, modStr := line[:i], line[i+1:]
	j := strings.LastIndex(rest, Delimiter)
	if j < 0 {
		return model.ActivityRecord{}, fmt.Errorf("%w: want 3 fields: %q", ErrMalformed, line)
	}
	path, openStr := rest[:j], rest[j+1:]
	if path == "" {
		return model.ActivityRecord{}, fmt.Errorf("%w: empty path: %q", ErrMalformed, line)
	}

	open, err := parseCounter(openStr)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("%w: open count: %v", ErrMalformed, err)
	}
	mod, err := parseCounter(modStr)
	if err != nil {
		return model.ActivityRecord{}, fmt.Errorf("%w: modify count: %v", ErrMalformed, err)
	}
	return model.ActivityRecord{Path: path, OpenCount: open, ModifyCount: mod}, nil
}

func parseCounter(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			return math.MaxUint32, nil
		}
		return 0, err
	}
	if v > math.MaxUint32 {
		return math.MaxUint32, nil
	}
	return uint32(v), nil
}

// FormatRecord 生成不带换行符的一行
func FormatRecord(r model.ActivityRecord) string {
	return r.Path + Delimiter +
		strconv.FormatUint(uint64(r.OpenCount), 10) + Delimiter +
		strconv.FormatUint(uint64(r.ModifyCount), 10)
}

// ParseEntry 排除文件中的一行；空行返回 ok=false
// 空前缀会匹配所有路径，所以必须跳过
func ParseEntry(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", false
	}
	return line, true
}
