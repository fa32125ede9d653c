package rule

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"xwappalyzer/pkg/network"

	"github.com/donnie4w/go-logger/logger"
)

//go:embed rules
var embeddedRules embed.FS

// ErrNoSources 所有规则源都没有产出任何技术
var ErrNoSources = errors.New("所有规则源均未加载到任何技术规则")

// 远程规则库的分片命名：a..z 加下划线，外加 categories.json
var shardLetters = func() []string {
	letters := make([]string, 0, 27)
	for c := 'a'; c <= 'z'; c++ {
		letters = append(letters, string(c))
	}
	return append(letters, "_")
}()

// LoadOptions 规则加载配置
// 源按声明优先级生效：内嵌规则库 < 本地目录 < 远程仓库
type LoadOptions struct {
	RulesDir        string        // 本地规则目录（含分片与categories.json）
	RemoteBaseURL   string        // 远程规则库根URL（HTTPS）
	MirrorPrefix    string        // 远程拉取失败时的镜像前缀
	Proxy           string        // HTTP代理
	Timeout         time.Duration // 远程拉取超时
	CachePath       string        // 规则库msgpack缓存文件
	ShardCacheDir   string        // 远程分片响应缓存目录
	DisableEmbedded bool          // 跳过内嵌规则库
}

// ruleSource 单个规则源的解析产物
type ruleSource struct {
	name  string
	techs map[string]*TechRule
	cats  map[int]*CategoryRule
}

// Load 按优先级加载并合并所有规则源，返回归一化规则库
// 存在可用的msgpack缓存时直接命中，跳过源解析
func Load(opts LoadOptions) (*Library, error) {
	if opts.CachePath != "" {
		if lib, err := LoadCache(opts.CachePath); err == nil {
			logger.Debugf("从本地缓存 %s 加载规则库成功，共 %d 项技术", opts.CachePath, len(lib.Technologies))
			return lib, nil
		} else if !os.IsNotExist(err) {
			logger.Warnf("本地规则缓存不可用，回退到规则源加载：%v", err)
		}
	}

	var sources []ruleSource
	if !opts.DisableEmbedded {
		src, err := loadEmbedded()
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if opts.RulesDir != "" {
		src, err := loadDir(opts.RulesDir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if opts.RemoteBaseURL != "" {
		src, err := loadRemote(opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	lib := mergeSources(sources)
	validateLibrary(lib)

	if len(lib.Technologies) == 0 {
		return nil, ErrNoSources
	}

	if opts.CachePath != "" {
		if err := SaveCache(opts.CachePath, lib); err != nil {
			logger.Warnf("规则库缓存写入失败：%v", err)
		}
	}

	logger.Debugf("规则库加载完成：技术 %d 项，分类 %d 项", len(lib.Technologies), len(lib.Categories))
	return lib, nil
}

// loadEmbedded 加载内嵌规则库
func loadEmbedded() (ruleSource, error) {
	src := ruleSource{name: "embedded", techs: make(map[string]*TechRule)}

	err := fs.WalkDir(embeddedRules, "rules", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := embeddedRules.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取内嵌规则 %s 失败: %w", path, err)
		}
		return src.absorb(path, filepath.Base(path), data)
	})
	if err != nil {
		return src, err
	}
	return src, nil
}

// loadDir 加载本地规则目录（遍历所有json分片）
func loadDir(dir string) (ruleSource, error) {
	src := ruleSource{name: dir, techs: make(map[string]*TechRule)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return src, fmt.Errorf("读取规则目录 %s 失败: %w", dir, err)
	}

	// 排序保证加载顺序确定
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return src, fmt.Errorf("读取规则文件 %s 失败: %w", path, err)
		}
		if err := src.absorb(path, name, data); err != nil {
			return src, err
		}
	}
	return src, nil
}

// loadRemote 拉取远程规则库（a..z + _ 分片与categories.json）
// 响应按内容哈希名缓存到分片缓存目录，优先读缓存
func loadRemote(opts LoadOptions) (ruleSource, error) {
	src := ruleSource{name: opts.RemoteBaseURL, techs: make(map[string]*TechRule)}

	fetcher := network.NewFetcher(network.FetchOptions{
		Proxy:    opts.Proxy,
		Timeout:  opts.Timeout,
		CacheDir: opts.ShardCacheDir,
	})

	for _, letter := range shardLetters {
		path := fmt.Sprintf("technologies/%s.json", letter)
		data, err := fetchWithMirror(fetcher, opts, path)
		if err != nil {
			return src, fmt.Errorf("拉取远程分片 %s 失败: %w", path, err)
		}
		if err := src.absorb(opts.RemoteBaseURL+"/"+path, letter+".json", data); err != nil {
			return src, err
		}
	}

	data, err := fetchWithMirror(fetcher, opts, "categories.json")
	if err != nil {
		return src, fmt.Errorf("拉取远程分类文件失败: %w", err)
	}
	return src, src.absorb(opts.RemoteBaseURL+"/categories.json", "categories.json", data)
}

// fetchWithMirror 先访问原始URL，失败后走镜像前缀重试
func fetchWithMirror(fetcher *network.Fetcher, opts LoadOptions, path string) ([]byte, error) {
	base := strings.TrimSuffix(opts.RemoteBaseURL, "/")
	data, err := fetcher.Get(base + "/" + path)
	if err == nil {
		return data, nil
	}
	if opts.MirrorPrefix == "" {
		return nil, err
	}
	logger.Debugf("原始仓库拉取 %s 失败，尝试镜像前缀", path)
	mirror := strings.TrimSuffix(opts.MirrorPrefix, "/") + "/" + strings.TrimPrefix(base, "https://")
	return fetcher.Get(mirror + "/" + path)
}

// absorb 将一个分片并入规则源；同源内的技术名冲突视为源损坏
func (s *ruleSource) absorb(path, base string, data []byte) error {
	if base == "categories.json" {
		cats, err := ParseCategories(path, data)
		if err != nil {
			return err
		}
		s.cats = cats
		return nil
	}

	techs, err := ParseTechShard(path, data)
	if err != nil {
		return err
	}
	for name, tech := range techs {
		if _, exists := s.techs[name]; exists {
			return fmt.Errorf("规则源 %s 中技术 %s 重复定义", s.name, name)
		}
		s.techs[name] = tech
	}
	return nil
}

// mergeSources 按优先级合并规则源：模式集合取并集，标量元数据由高优先级源覆盖
func mergeSources(sources []ruleSource) *Library {
	lib := NewLibrary()

	for _, src := range sources {
		for id, cat := range src.cats {
			lib.Categories[id] = cat
		}
		for name, tech := range src.techs {
			existing, ok := lib.Technologies[name]
			if !ok {
				lib.Technologies[name] = tech
				continue
			}
			mergeTech(existing, tech)
		}
	}
	return lib
}

// mergeTech 高优先级定义并入已有技术
func mergeTech(dst, src *TechRule) {
	dst.URL = dedupStrings(append(dst.URL, src.URL...))
	dst.HTML = dedupStrings(append(dst.HTML, src.HTML...))
	dst.Scripts = dedupStrings(append(dst.Scripts, src.Scripts...))
	dst.JS = dedupStrings(append(dst.JS, src.JS...))
	dst.Headers = mergeKeyed(dst.Headers, src.Headers)
	dst.Cookies = mergeKeyed(dst.Cookies, src.Cookies)
	dst.Meta = mergeKeyed(dst.Meta, src.Meta)
	dst.DOM = append(dst.DOM, src.DOM...)

	dst.Implies = mergeImplies(dst.Implies, src.Implies)
	dst.Requires = dedupStrings(append(dst.Requires, src.Requires...))
	dst.Excludes = dedupStrings(append(dst.Excludes, src.Excludes...))
	dst.RequiresCategory = dedupInts(append(dst.RequiresCategory, src.RequiresCategory...))

	// 标量元数据：高优先级源非空值覆盖
	if len(src.CategoryIDs) > 0 {
		dst.CategoryIDs = src.CategoryIDs
	}
	if src.Website != "" {
		dst.Website = src.Website
	}
	if src.Icon != "" {
		dst.Icon = src.Icon
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.CPE != "" {
		dst.CPE = src.CPE
	}
	if src.Saas != nil {
		dst.Saas = src.Saas
	}
	if src.OSS != nil {
		dst.OSS = src.OSS
	}
	if len(src.Pricing) > 0 {
		dst.Pricing = src.Pricing
	}
}

func mergeKeyed(dst, src map[string][]string) map[string][]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string][]string, len(src))
	}
	for key, patterns := range src {
		dst[key] = dedupStrings(append(dst[key], patterns...))
	}
	return dst
}

func mergeImplies(dst, src []ImplyRef) []ImplyRef {
	seen := make(map[string]struct{}, len(dst))
	for _, ref := range dst {
		seen[ref.Tech] = struct{}{}
	}
	for _, ref := range src {
		if _, ok := seen[ref.Tech]; ok {
			continue
		}
		seen[ref.Tech] = struct{}{}
		dst = append(dst, ref)
	}
	return dst
}

func dedupInts(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(in))
	out := in[:0]
	for _, n := range in {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// validateLibrary 合并后校验：
// 未知分类ID、指向未知技术的implies/requires边都在此裁剪并告警
func validateLibrary(lib *Library) {
	for name, tech := range lib.Technologies {
		kept := tech.CategoryIDs[:0]
		for _, id := range tech.CategoryIDs {
			if _, ok := lib.Categories[id]; !ok {
				logger.Warnf("技术 %s 引用未知分类ID %d，已丢弃", name, id)
				continue
			}
			kept = append(kept, id)
		}
		tech.CategoryIDs = kept

		implies := tech.Implies[:0]
		for _, ref := range tech.Implies {
			if _, ok := lib.Technologies[ref.Tech]; !ok {
				logger.Warnf("技术 %s 的推导目标 %s 不存在，已丢弃", name, ref.Tech)
				continue
			}
			implies = append(implies, ref)
		}
		tech.Implies = implies

		requires := tech.Requires[:0]
		for _, target := range tech.Requires {
			if _, ok := lib.Technologies[target]; !ok {
				logger.Warnf("技术 %s 的依赖目标 %s 不存在，已丢弃", name, target)
				continue
			}
			requires = append(requires, target)
		}
		tech.Requires = requires
	}
}
