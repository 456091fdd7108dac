package sysutil

import (
	"bufio"
	"os"
	"strings"
)

// ProcMounts 默认的挂载表
const ProcMounts = "/proc/mounts"

// LookupMount 在挂载表中查找设备的挂载点，没有挂载时返回 ""
// 只扫描一次，不等待；调用方在下一个循环周期重试
func LookupMount(mountsFile, devPath string) string {
	f, err := os.Open(mountsFile)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == devPath {
			return unescapeMount(fields[1])
		}
	}
	return ""
}

// /proc/mounts 中空格等字符是八进制转义的，如 \040
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
