package rule

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// LoadCache 从本地msgpack缓存加载规则库
func LoadCache(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lib := NewLibrary()
	if err := msgpack.Unmarshal(data, lib); err != nil {
		return nil, fmt.Errorf("规则库缓存反序列化失败: %w", err)
	}
	return lib, nil
}

// SaveCache 将规则库以msgpack形式缓存到本地
func SaveCache(path string, lib *Library) error {
	data, err := msgpack.Marshal(lib)
	if err != nil {
		return fmt.Errorf("规则库缓存序列化失败: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
