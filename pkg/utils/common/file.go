package common

import (
	"os"
	"strings"
)

// Exists 判断文件是否存在（仅当可访问且存在时返回 true）
func Exists(path string) bool {
	_, err := os.Stat(path)
	if err != nil {
		// 文件不存在，或权限不足，或I/O错误，都视为“不存在”
		return false
	}
	return true
}

// DirIsExist 判断指定目录是否存在
func DirIsExist(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsJSONFile 判断文件是否为JSON格式
func IsJSONFile(filename string) bool {
	return strings.HasSuffix(filename, ".json")
}
