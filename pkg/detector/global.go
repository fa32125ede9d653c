package detector

import (
	"errors"
	"sync"

	"xwappalyzer/pkg/rule"
)

// ErrNotInitialized 在Init之前调用检测接口
var ErrNotInitialized = errors.New("检测器未初始化，请先调用 detector.Init")

// 全局检测器单例
var (
	globalMu       sync.RWMutex
	globalDetector *Detector
)

// Init 加载规则库并初始化全局检测器
// 重复调用是幂等的：已初始化时直接返回nil
func Init(opts rule.LoadOptions) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDetector != nil {
		return nil
	}

	lib, err := rule.Load(opts)
	if err != nil {
		return err
	}
	globalDetector = New(lib)
	return nil
}

// InitWithLibrary 以现成规则库初始化全局检测器（测试与嵌入方使用）
func InitWithLibrary(lib *rule.Library) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalDetector = New(lib)
}

// Global 获取全局检测器
func Global() (*Detector, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalDetector == nil {
		return nil, ErrNotInitialized
	}
	return globalDetector, nil
}

// DetectFull 全局检测器的完整检测入口
func DetectFull(headers map[string][]string, urls []string, body []byte) ([]rule.Technology, error) {
	d, err := Global()
	if err != nil {
		return nil, err
	}
	return d.Detect(headers, urls, body)
}

// DetectLite 全局检测器的快速检测入口
func DetectLite(headers map[string][]string, urls []string, body []byte) ([]rule.TechnologyLite, error) {
	d, err := Global()
	if err != nil {
		return nil, err
	}
	return d.DetectLite(headers, urls, body)
}
