// Package detector 技术检测器
// 组合预筛器、编译模式与提取器，跨全部维度执行匹配并输出检测结果
package detector

import (
	"errors"
	"sort"
	"strings"

	"xwappalyzer/pkg/compiler"
	"xwappalyzer/pkg/extractor"
	"xwappalyzer/pkg/rule"

	"github.com/PuerkitoBio/goquery"
	"github.com/donnie4w/go-logger/logger"
)

// ErrInvalidHeaders 全部响应头的值都不是合法UTF-8且响应体为空
var ErrInvalidHeaders = errors.New("所有响应头的值均非法且响应体为空")

// Detector 技术检测器
// 自身无状态，惟一共享状态是编译后的规则库（加载后只读）
type Detector struct {
	lib *compiler.Library
}

// New 从归一化规则库创建检测器（完成编译与预筛器构建）
func New(rules *rule.Library) *Detector {
	return &Detector{lib: compiler.Compile(rules)}
}

// Library 暴露编译库（输出分组等协作方使用）
func (d *Detector) Library() *compiler.Library {
	return d.lib
}

// techHit 单项技术的运行期累加器
type techHit struct {
	confidence int
	versions   []string // 有序去重
	direct     bool     // 是否存在直接模式命中
	impliedBy  string   // 仅无直接命中时有效
}

func (h *techHit) addConfidence(n int) {
	h.confidence += n
	if h.confidence > 100 {
		h.confidence = 100
	}
}

func (h *techHit) addVersion(v string) {
	if v == "" {
		return
	}
	for _, existing := range h.versions {
		if existing == v {
			return
		}
	}
	h.versions = append(h.versions, v)
}

// Detect 完整检测流程
func (d *Detector) Detect(headers map[string][]string, urls []string, body []byte) ([]rule.Technology, error) {
	hits, err := d.match(headers, urls, body, false)
	if err != nil {
		return nil, err
	}
	return d.finalize(hits), nil
}

// DetectLite 快速检测：跳过版本提取与多级推导，仅输出名称与置信度
func (d *Detector) DetectLite(headers map[string][]string, urls []string, body []byte) ([]rule.TechnologyLite, error) {
	hits, err := d.match(headers, urls, body, true)
	if err != nil {
		return nil, err
	}

	full := d.finalize(hits)
	lite := make([]rule.TechnologyLite, 0, len(full))
	for _, tech := range full {
		lite = append(lite, rule.TechnologyLite{Name: tech.Name, Confidence: tech.Confidence})
	}
	return lite, nil
}

// match 执行各维度匹配与关联规则，产出命中表
func (d *Detector) match(headers map[string][]string, urls []string, body []byte, lite bool) (map[string]*techHit, error) {
	doc := extractor.Extract(headers, urls, body)
	if len(doc.Headers) == 0 && doc.DroppedHeaders > 0 && len(body) == 0 {
		return nil, ErrInvalidHeaders
	}

	hits := make(map[string]*techHit)

	d.matchList(hits, compiler.DimURL, doc.URLs, lite)
	d.matchList(hits, compiler.DimScripts, doc.Scripts, lite)
	if doc.HTML != "" {
		d.matchList(hits, compiler.DimHTML, []string{doc.HTML}, lite)
	}
	d.matchKeyed(hits, compiler.DimHeaders, doc.Headers, lite)
	d.matchKeyed(hits, compiler.DimCookies, doc.Cookies, lite)
	d.matchKeyed(hits, compiler.DimMeta, doc.Meta, lite)
	d.matchDOM(hits, doc.HTML, lite)

	d.applyImplies(hits, lite)
	dropZeroConfidence(hits)
	d.applyRequires(hits)
	d.applyExcludes(hits)

	return hits, nil
}

// matchList 列表型维度匹配（url/scripts/html）
// 预筛在拼接后的干草堆上单次扫描；候选模式逐个在确切作用域上求值，
// 同一模式在一个维度内至多计一次命中
func (d *Detector) matchList(hits map[string]*techHit, dim compiler.Dimension, haystacks []string, lite bool) {
	if len(haystacks) == 0 {
		return
	}

	for _, ref := range d.lib.Prefilter.Candidates(dim, strings.Join(haystacks, "\n")) {
		for _, haystack := range haystacks {
			if d.evaluate(hits, ref, haystack, lite) {
				break
			}
		}
	}
}

// matchKeyed 键值对维度匹配（headers/cookies/meta）
// 干草堆以 name\x1Fvalue 形式拼接，名称约束参与预筛；
// 求值仅针对该模式声明的键下的各个值
func (d *Detector) matchKeyed(hits map[string]*techHit, dim compiler.Dimension, inputs map[string][]string, lite bool) {
	if len(inputs) == 0 {
		return
	}

	var b strings.Builder
	for name, values := range inputs {
		for _, value := range values {
			b.WriteString(name)
			b.WriteString(compiler.KeySep)
			b.WriteString(value)
			b.WriteByte('\n')
		}
	}

	for _, ref := range d.lib.Prefilter.Candidates(dim, b.String()) {
		for _, value := range inputs[ref.Key] {
			if d.evaluate(hits, ref, value, lite) {
				break
			}
		}
	}
}

// matchDOM DOM维度匹配：goquery选择器 + exists/text/属性检查
func (d *Detector) matchDOM(hits map[string]*techHit, htmlText string, lite bool) {
	if htmlText == "" {
		return
	}

	// 先确认库里存在DOM规则，避免无谓的文档解析
	names := make([]string, 0)
	for name, tech := range d.lib.Techs {
		if len(tech.DOM) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		logger.Debugf("DOM解析失败，跳过DOM维度：%v", err)
		return
	}

	for _, name := range names {
		for _, domRule := range d.lib.Techs[name].DOM {
			d.evaluateDOM(hits, name, domRule, doc, lite)
		}
	}
}

// evaluateDOM 求值单条DOM规则，规则至多计一次命中
func (d *Detector) evaluateDOM(hits map[string]*techHit, tech string, domRule compiler.CompiledDOM, doc *goquery.Document, lite bool) {
	matched := false
	var captures []string

	doc.Find(domRule.Selector).EachWithBreak(func(_ int, selection *goquery.Selection) bool {
		switch domRule.Check {
		case "exists", "":
			matched = true
		case "text":
			matched, captures = domRule.Pattern.Match(selection.Text())
		default:
			if attrValue, exists := selection.Attr(domRule.Check); exists {
				matched, captures = domRule.Pattern.Match(attrValue)
			}
		}
		return !matched
	})

	if matched {
		d.record(hits, tech, domRule.Pattern, captures, lite)
	}
}

// evaluate 在确切作用域干草堆上求值候选模式
func (d *Detector) evaluate(hits map[string]*techHit, ref compiler.PatternRef, haystack string, lite bool) bool {
	if lite {
		if !ref.Pattern.MatchOnly(haystack) {
			return false
		}
		d.record(hits, ref.Tech, ref.Pattern, nil, lite)
		return true
	}

	ok, captures := ref.Pattern.Match(haystack)
	if !ok {
		return false
	}
	d.record(hits, ref.Tech, ref.Pattern, captures, lite)
	return true
}

// record 记录一次直接命中：叠加置信度（上限100），展开版本模板
func (d *Detector) record(hits map[string]*techHit, tech string, p *compiler.Pattern, captures []string, lite bool) {
	hit := hits[tech]
	if hit == nil {
		hit = &techHit{}
		hits[tech] = hit
	}
	hit.direct = true
	hit.impliedBy = ""
	hit.addConfidence(p.Confidence)

	if !lite {
		if version := p.ExtractVersion(captures); version != "" {
			hit.addVersion(version)
			logger.Debugf("技术 %s 命中并提取到版本 %s（模式 %q）", tech, version, p.Raw)
		}
	}
}

// applyImplies 推导规则定点传播
// 置信度取推导边声明值与父技术当前累计值的较小者；
// visited集保证环上每个技术只处理一次；lite只展开一级推导
func (d *Detector) applyImplies(hits map[string]*techHit, lite bool) {
	queue := make([]string, 0, len(hits))
	for name := range hits {
		queue = append(queue, name)
	}
	sort.Strings(queue)

	visited := make(map[string]struct{}, len(hits))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, done := visited[name]; done {
			continue
		}
		visited[name] = struct{}{}

		tech, ok := d.lib.Techs[name]
		if !ok {
			continue
		}
		parent := hits[name]

		for _, imply := range tech.Implies {
			confidence := imply.Confidence
			if parent.confidence < confidence {
				confidence = parent.confidence
			}

			child := hits[imply.Tech]
			if child == nil {
				child = &techHit{impliedBy: name}
				hits[imply.Tech] = child
			} else if !child.direct && child.impliedBy == "" {
				child.impliedBy = name
			}
			child.addConfidence(confidence)

			if !lite {
				queue = append(queue, imply.Tech)
			}
		}
	}
}

// dropZeroConfidence 置信度为0的命中不能独立存活
func dropZeroConfidence(hits map[string]*techHit) {
	for name, hit := range hits {
		if hit.confidence <= 0 {
			delete(hits, name)
		}
	}
}

// applyRequires requires与requiresCategory过滤，迭代至稳定
// （被剔除的技术可能连带破坏其他技术的前置条件）
func (d *Detector) applyRequires(hits map[string]*techHit) {
	for changed := true; changed; {
		changed = false

		presentCats := make(map[int]struct{})
		for name := range hits {
			if tech, ok := d.lib.Techs[name]; ok {
				for _, id := range tech.CategoryIDs {
					presentCats[id] = struct{}{}
				}
			}
		}

		names := sortedKeys(hits)
		for _, name := range names {
			tech, ok := d.lib.Techs[name]
			if !ok {
				continue
			}
			for _, required := range tech.Requires {
				if _, present := hits[required]; !present {
					logger.Debugf("技术 %s 的前置技术 %s 未命中，已剔除", name, required)
					delete(hits, name)
					changed = true
					break
				}
			}
			if _, still := hits[name]; !still {
				continue
			}
			for _, catID := range tech.RequiresCategory {
				if _, present := presentCats[catID]; !present {
					logger.Debugf("技术 %s 的前置分类 %d 未出现，已剔除", name, catID)
					delete(hits, name)
					changed = true
					break
				}
			}
		}
	}
}

// applyExcludes 排斥规则：存活技术声明的排斥目标从结果中移除
func (d *Detector) applyExcludes(hits map[string]*techHit) {
	for _, name := range sortedKeys(hits) {
		hit, still := hits[name]
		if !still || hit == nil {
			continue
		}
		tech, ok := d.lib.Techs[name]
		if !ok {
			continue
		}
		for _, excluded := range tech.Excludes {
			if _, present := hits[excluded]; present {
				logger.Debugf("技术 %s 被 %s 排斥，已移除", excluded, name)
				delete(hits, excluded)
			}
		}
	}
}

// finalize 产出最终结果
// 版本取字典序最大的非空版本（并列时保留先出现者）；
// 分类名去重排序；排序按置信度降序、名称升序
func (d *Detector) finalize(hits map[string]*techHit) []rule.Technology {
	out := make([]rule.Technology, 0, len(hits))

	for _, name := range sortedKeys(hits) {
		hit := hits[name]
		tech, ok := d.lib.Techs[name]
		if !ok {
			continue
		}

		impliedBy := hit.impliedBy
		if impliedBy != "" {
			if _, present := hits[impliedBy]; !present {
				impliedBy = ""
			}
		}

		out = append(out, rule.Technology{
			Name:        name,
			Categories:  d.categoryNames(tech.CategoryIDs),
			Confidence:  hit.confidence,
			Version:     pickVersion(hit.versions),
			ImpliedBy:   impliedBy,
			Website:     tech.Website,
			Description: tech.Description,
			Icon:        tech.Icon,
			CPE:         tech.CPE,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// categoryNames 分类ID映射为排序去重后的名称
func (d *Detector) categoryNames(ids []int) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(ids))
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		cat, ok := d.lib.Categories[id]
		if !ok {
			continue
		}
		if _, dup := seen[cat.Name]; dup {
			continue
		}
		seen[cat.Name] = struct{}{}
		names = append(names, cat.Name)
	}
	sort.Strings(names)
	return names
}

// pickVersion 取字典序最大的版本，保证确定性
func pickVersion(versions []string) string {
	best := ""
	for _, v := range versions {
		if v > best {
			best = v
		}
	}
	return best
}

func sortedKeys(hits map[string]*techHit) []string {
	names := make([]string, 0, len(hits))
	for name := range hits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
