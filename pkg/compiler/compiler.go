package compiler

import (
	"sort"
	"time"

	"xwappalyzer/pkg/rule"

	"github.com/donnie4w/go-logger/logger"
)

// CompiledDOM 编译后的DOM检测规则
type CompiledDOM struct {
	Selector string
	Check    string // exists、text 或属性名
	Pattern  *Pattern
}

// CompiledTech 编译后的单项技术规则
type CompiledTech struct {
	Name    string
	URL     []*Pattern
	HTML    []*Pattern
	Scripts []*Pattern
	Headers map[string][]*Pattern
	Cookies map[string][]*Pattern
	Meta    map[string][]*Pattern
	DOM     []CompiledDOM

	CategoryIDs      []int
	Implies          []rule.ImplyRef
	Requires         []string
	RequiresCategory []int
	Excludes         []string

	Website     string
	Description string
	Icon        string
	CPE         string
}

// Library 编译后的规则库：编译模式 + 预筛器 + 分类映射
// 构建完成后不可变，可跨并发检测共享（惟一的写点是模式的一次性编译）
type Library struct {
	Techs      map[string]*CompiledTech
	Categories map[int]*rule.CategoryRule
	Prefilter  *Prefilter
}

// Compile 编译规则库
// 遍历顺序按技术名排序，保证预筛器构建的确定性
func Compile(lib *rule.Library) *Library {
	start := time.Now()

	compiled := &Library{
		Techs:      make(map[string]*CompiledTech, len(lib.Technologies)),
		Categories: lib.Categories,
		Prefilter:  NewPrefilter(),
	}

	names := make([]string, 0, len(lib.Technologies))
	for name := range lib.Technologies {
		names = append(names, name)
	}
	sort.Strings(names)

	var stats compileStats
	for _, name := range names {
		compiled.Techs[name] = compileTech(name, lib.Technologies[name], compiled.Prefilter, &stats)
	}
	compiled.Prefilter.Build()

	logger.Debugf("规则编译完成，耗时%v；URL模式%d条、HTML模式%d条、Script模式%d条、Header模式%d条、Cookie模式%d条、Meta模式%d条、DOM规则%d条",
		time.Since(start), stats.url, stats.html, stats.script, stats.header, stats.cookie, stats.meta, stats.dom)
	return compiled
}

// compileTech 编译单项技术规则并注册预筛字面量
func compileTech(name string, tech *rule.TechRule, pf *Prefilter, stats *compileStats) *CompiledTech {
	ct := &CompiledTech{
		Name:             name,
		CategoryIDs:      tech.CategoryIDs,
		Implies:          tech.Implies,
		Requires:         tech.Requires,
		RequiresCategory: tech.RequiresCategory,
		Excludes:         tech.Excludes,
		Website:          tech.Website,
		Description:      tech.Description,
		Icon:             tech.Icon,
		CPE:              tech.CPE,
	}

	ct.URL = compileList(name, "", tech.URL, DimURL, pf, &stats.url)
	ct.HTML = compileList(name, "", tech.HTML, DimHTML, pf, &stats.html)
	ct.Scripts = compileList(name, "", tech.Scripts, DimScripts, pf, &stats.script)
	ct.Headers = compileKeyed(name, tech.Headers, DimHeaders, pf, &stats.header)
	ct.Cookies = compileKeyed(name, tech.Cookies, DimCookies, pf, &stats.cookie)
	ct.Meta = compileKeyed(name, tech.Meta, DimMeta, pf, &stats.meta)

	for _, dom := range tech.DOM {
		ct.DOM = append(ct.DOM, CompiledDOM{
			Selector: dom.Selector,
			Check:    dom.Check,
			Pattern:  ParsePattern(dom.Pattern),
		})
		stats.dom++
	}
	return ct
}

// compileList 编译列表型模式（url/html/scripts）
func compileList(tech, key string, raws []string, dim Dimension, pf *Prefilter, counter *int) []*Pattern {
	if len(raws) == 0 {
		return nil
	}
	patterns := make([]*Pattern, 0, len(raws))
	for _, raw := range raws {
		p := ParsePattern(raw)
		pf.Add(dim, PatternRef{Tech: tech, Key: key, Pattern: p}, p.Literals)
		patterns = append(patterns, p)
		*counter++
	}
	return patterns
}

// compileKeyed 编译键值对型模式（headers/cookies/meta）
func compileKeyed(tech string, raws map[string][]string, dim Dimension, pf *Prefilter, counter *int) map[string][]*Pattern {
	if len(raws) == 0 {
		return nil
	}
	keyed := make(map[string][]*Pattern, len(raws))
	for key, list := range raws {
		patterns := make([]*Pattern, 0, len(list))
		for _, raw := range list {
			p := ParsePattern(raw)
			pf.Add(dim, PatternRef{Tech: tech, Key: key, Pattern: p}, p.Literals)
			patterns = append(patterns, p)
			*counter++
		}
		keyed[key] = patterns
	}
	return keyed
}

// compileStats 编译统计信息
type compileStats struct {
	url, html, script, header, cookie, meta, dom int
}
