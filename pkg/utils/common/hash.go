package common

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Mmh3Hash32 计算数据的murmur3 32位哈希
func Mmh3Hash32(data []byte) int32 {
	h := murmur3.New32()
	_, _ = h.Write(data)
	return int32(h.Sum32())
}

// Mmh3HashName 生成字符串的哈希文件名（内容哈希命名缓存文件用）
func Mmh3HashName(s string) string {
	return fmt.Sprintf("%08x", murmur3.Sum32([]byte(s)))
}

// MD5Hash 计算字符串的MD5值
func MD5Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
