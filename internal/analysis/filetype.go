package analysis

import (
	"io"
	"os"

	"github.com/h2non/filetype"
)

// Unknown 无法识别的类型 (纯文本、空文件、不可读)
const Unknown = "unknown"

// headerLen 262 bytes 是 filetype 库建议的文件头长度
const headerLen = 262

// Kind 根据文件头识别真实类型，返回扩展名，如 "zip" "elf" "png"
// 只读取普通文件
func Kind(path string) string {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Unknown
	}
	file, err := os.Open(path)
	if err != nil {
		return Unknown
	}
	defer file.Close()

	head := make([]byte, headerLen)
	n, err := io.ReadFull(file, head)
	if n == 0 {
		// 空文件：没有 Magic Bytes
		return Unknown
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return Unknown
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown {
		return Unknown
	}
	return kind.Extension
}
