package common

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/axgle/mahonia"
)

// charsetRegex 从Content-Type或meta标签中提取charset声明
var charsetRegex = regexp.MustCompile(`(?i)charset=["']?([\w-]+)["']?`)

// SniffCharset 从Content-Type头与HTML前缀中嗅探字符集声明
// 未声明时返回空串
func SniffCharset(contentType string, body []byte) string {
	if m := charsetRegex.FindStringSubmatch(contentType); len(m) >= 2 {
		return strings.ToLower(m[1])
	}

	// 仅在文档前部查找meta charset，避免扫描全文
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	if m := charsetRegex.FindSubmatch(head); len(m) >= 2 {
		return strings.ToLower(string(m[1]))
	}
	return ""
}

// Str2UTF8 将声明字符集的文本转换为UTF-8
// 无法识别的字符集按UTF-8处理，非法序列以替换符兜底
func Str2UTF8(s string, charset string) string {
	switch charset {
	case "", "utf-8", "utf8", "ascii":
		return sanitizeUTF8(s)
	}

	decoder := mahonia.NewDecoder(charset)
	if decoder == nil {
		return sanitizeUTF8(s)
	}
	return sanitizeUTF8(decoder.ConvertString(s))
}

// sanitizeUTF8 将非法UTF-8序列替换为U+FFFD
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}
