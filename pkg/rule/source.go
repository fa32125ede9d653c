package rule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/donnie4w/go-logger/logger"
)

// wappTech Wappalyzer 规则方言中的单条技术定义
// 模式字段的取值可能是 string、[]string 或 map，统一在归一化阶段展开
type wappTech struct {
	Cats        []int           `json:"cats"`
	Description string          `json:"description"`
	Website     string          `json:"website"`
	Icon        string          `json:"icon"`
	CPE         string          `json:"cpe"`
	Saas        *bool           `json:"saas"`
	OSS         *bool           `json:"oss"`
	Pricing     []string        `json:"pricing"`
	URL         json.RawMessage `json:"url"`
	HTML        json.RawMessage `json:"html"`
	Scripts     json.RawMessage `json:"scripts"`
	ScriptSrc   json.RawMessage `json:"scriptSrc"`
	JS          json.RawMessage `json:"js"`
	DOM         json.RawMessage `json:"dom"`
	Headers     json.RawMessage `json:"headers"`
	Cookies     json.RawMessage `json:"cookies"`
	Meta        json.RawMessage `json:"meta"`
	Implies     json.RawMessage `json:"implies"`
	Requires    json.RawMessage `json:"requires"`
	RequiresCat json.RawMessage `json:"requiresCategory"`
	Excludes    json.RawMessage `json:"excludes"`
}

// ParseTechShard 解析单个技术规则分片（对象以技术名为键）
// 整个分片JSON非法时返回错误；单条技术内的坏字段记录警告后跳过
func ParseTechShard(source string, data []byte) (map[string]*TechRule, error) {
	raw := make(map[string]*wappTech)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析规则源 %s 失败: %w", source, err)
	}

	techs := make(map[string]*TechRule, len(raw))
	for name, wt := range raw {
		if wt == nil {
			logger.Warnf("规则源 %s 中技术 %s 定义为空，已跳过", source, name)
			continue
		}
		techs[name] = normalizeTech(name, wt)
	}
	return techs, nil
}

// ParseCategories 解析 categories.json（对象以数字ID字符串为键）
func ParseCategories(source string, data []byte) (map[int]*CategoryRule, error) {
	type wappCategory struct {
		Name     string `json:"name"`
		Priority int    `json:"priority"`
	}
	raw := make(map[string]*wappCategory)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析分类文件 %s 失败: %w", source, err)
	}

	cats := make(map[int]*CategoryRule, len(raw))
	for key, wc := range raw {
		id, err := strconv.Atoi(key)
		if err != nil || wc == nil {
			logger.Warnf("分类文件 %s 中存在无效分类键 %q，已跳过", source, key)
			continue
		}
		cats[id] = &CategoryRule{ID: id, Name: wc.Name, Priority: wc.Priority}
	}
	return cats, nil
}

// normalizeTech 将方言字段归一化为 TechRule
func normalizeTech(name string, wt *wappTech) *TechRule {
	tech := &TechRule{
		Name:        name,
		CategoryIDs: wt.Cats,
		Description: wt.Description,
		Website:     wt.Website,
		Icon:        wt.Icon,
		CPE:         wt.CPE,
		Saas:        wt.Saas,
		OSS:         wt.OSS,
		Pricing:     wt.Pricing,
	}

	tech.URL = decodePatternList(name, "url", wt.URL)
	tech.HTML = decodePatternList(name, "html", wt.HTML)

	// script 与 scriptSrc 合并为一个列表，按原始模式去重
	scripts := decodePatternList(name, "scripts", wt.Scripts)
	scripts = append(scripts, decodePatternList(name, "scriptSrc", wt.ScriptSrc)...)
	tech.Scripts = dedupStrings(scripts)

	tech.Headers = decodeKeyedPatterns(name, "headers", wt.Headers, true)
	tech.Cookies = decodeKeyedPatterns(name, "cookies", wt.Cookies, false)
	tech.Meta = decodeKeyedPatterns(name, "meta", wt.Meta, true)
	tech.DOM = decodeDOM(name, wt.DOM)

	// js 模式只接受不求值，保留键名以便统计与缓存往返
	if jsMap := decodeKeyedPatterns(name, "js", wt.JS, false); len(jsMap) > 0 {
		for key := range jsMap {
			tech.JS = append(tech.JS, key)
		}
		sort.Strings(tech.JS)
	} else {
		tech.JS = decodePatternList(name, "js", wt.JS)
	}

	tech.Implies = decodeImplies(name, wt.Implies)
	tech.Requires = decodeStringList(name, "requires", wt.Requires)
	tech.Excludes = decodeStringList(name, "excludes", wt.Excludes)
	tech.RequiresCategory = decodeIntList(name, "requiresCategory", wt.RequiresCat)

	return tech
}

// decodePatternList 展开 string | []string 形式的模式值
func decodePatternList(tech, field string, raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	logger.Warnf("技术 %s 的 %s 规则类型不支持，已跳过", tech, field)
	return nil
}

// decodeKeyedPatterns 展开 map[name]string|[]string 形式的键值模式
func decodeKeyedPatterns(tech, field string, raw json.RawMessage, lowerKey bool) map[string][]string {
	if len(raw) == 0 {
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil
	}

	out := make(map[string][]string, len(keyed))
	for key, val := range keyed {
		patterns := decodePatternList(tech, field+"."+key, val)
		if patterns == nil {
			// 空值表示存在性检测，等价于空模式
			patterns = []string{""}
		}
		if lowerKey {
			key = strings.ToLower(key)
		}
		out[key] = append(out[key], patterns...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeDOM 展开DOM规则的三种方言形式：
// string、[]string（仅存在性检测）、map[selector]{exists|text|attributes}
func decodeDOM(tech string, raw json.RawMessage) []DOMRule {
	if len(raw) == 0 {
		return nil
	}

	var out []DOMRule
	for _, sel := range decodePatternListQuiet(raw) {
		out = append(out, DOMRule{Selector: sel, Check: "exists"})
	}
	if out != nil {
		return out
	}

	type domChecks struct {
		Exists     *string           `json:"exists"`
		Text       json.RawMessage   `json:"text"`
		Attributes map[string]string `json:"attributes"`
		Properties map[string]string `json:"properties"`
	}
	keyed := make(map[string]*domChecks)
	if err := json.Unmarshal(raw, &keyed); err != nil {
		logger.Warnf("技术 %s 的 dom 规则类型不支持，已跳过", tech)
		return nil
	}

	for selector, checks := range keyed {
		if checks == nil {
			out = append(out, DOMRule{Selector: selector, Check: "exists"})
			continue
		}
		if checks.Exists != nil {
			out = append(out, DOMRule{Selector: selector, Check: "exists"})
		}
		for _, text := range decodePatternList(tech, "dom.text", checks.Text) {
			out = append(out, DOMRule{Selector: selector, Check: "text", Pattern: text})
		}
		for attr, pattern := range checks.Attributes {
			out = append(out, DOMRule{Selector: selector, Check: attr, Pattern: pattern})
		}
		// properties 依赖JS运行时，与 js 维度同样惰性保留语义：丢弃
		if len(checks.Properties) > 0 {
			logger.Debugf("技术 %s 的 dom properties 检查无JS运行时支持，已忽略", tech)
		}
	}
	return out
}

// decodePatternListQuiet 同 decodePatternList 但不记录日志（用于类型探测）
func decodePatternListQuiet(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

// decodeImplies 展开 implies 条目，条目可携带 \;confidence:N 后缀
func decodeImplies(tech string, raw json.RawMessage) []ImplyRef {
	var out []ImplyRef
	for _, entry := range decodeStringList(tech, "implies", raw) {
		ref := parseImplyRef(entry)
		if ref.Tech == "" {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// parseImplyRef 解析单条推导边，缺省置信度为100
func parseImplyRef(entry string) ImplyRef {
	ref := ImplyRef{Confidence: DefaultConfidence}
	parts := strings.Split(entry, `\;`)
	ref.Tech = strings.TrimSpace(parts[0])
	for _, part := range parts[1:] {
		key, value, found := strings.Cut(part, ":")
		if !found || key != "confidence" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			ref.Confidence = clampConfidence(n)
		}
	}
	return ref
}

// decodeStringList 展开 string | []string 形式的关联目标列表
func decodeStringList(tech, field string, raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	list := decodePatternListQuiet(raw)
	if list == nil {
		logger.Warnf("技术 %s 的 %s 规则类型不支持，已跳过", tech, field)
	}
	return list
}

// decodeIntList 展开 int | []int 形式的分类ID列表
func decodeIntList(tech, field string, raw json.RawMessage) []int {
	if len(raw) == 0 {
		return nil
	}
	var single int
	if err := json.Unmarshal(raw, &single); err == nil {
		return []int{single}
	}
	var list []int
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	logger.Warnf("技术 %s 的 %s 规则类型不支持，已跳过", tech, field)
	return nil
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clampConfidence(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
