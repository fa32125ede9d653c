package compiler

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Dimension 输入证据维度
type Dimension int

const (
	DimURL Dimension = iota
	DimHTML
	DimScripts
	DimHeaders
	DimCookies
	DimMeta
	dimCount
)

// KeySep 键控维度（header/cookie/meta）预筛干草堆中名称与值的分隔符
// 使用U+001F保证名称约束参与字面量匹配且不会出现在正常输入里
const KeySep = "\x1f"

// PatternRef 预筛命中的候选模式引用
type PatternRef struct {
	Tech    string   // 技术名
	Key     string   // 键控维度的名称（header/cookie/meta名），其余维度为空
	Pattern *Pattern // 待全量求值的模式
}

// dimensionIndex 单维度的字面量索引
type dimensionIndex struct {
	literals []string       // 自动机词表
	refSets  [][]PatternRef // 与词表对齐的引用集合
	slots    map[string]int // 字面量 -> 词表下标（构建期）
	always   []PatternRef   // 无字面量模式：恒为候选
	matcher  *ahocorasick.Matcher
}

func newDimensionIndex() *dimensionIndex {
	return &dimensionIndex{slots: make(map[string]int)}
}

func (d *dimensionIndex) add(ref PatternRef, literals []string) {
	if len(literals) == 0 {
		d.always = append(d.always, ref)
		return
	}
	for _, literal := range literals {
		slot, ok := d.slots[literal]
		if !ok {
			slot = len(d.literals)
			d.slots[literal] = slot
			d.literals = append(d.literals, literal)
			d.refSets = append(d.refSets, nil)
		}
		d.refSets[slot] = append(d.refSets[slot], ref)
	}
}

func (d *dimensionIndex) build() {
	if len(d.literals) > 0 {
		d.matcher = ahocorasick.NewStringMatcher(d.literals)
	}
	d.slots = nil
}

// Prefilter 多模式字面量预筛器
// 每个维度一个Aho-Corasick自动机，把字面量缺席的技术整体跳过
type Prefilter struct {
	dims [dimCount]*dimensionIndex
}

// NewPrefilter 创建空预筛器
func NewPrefilter() *Prefilter {
	pf := &Prefilter{}
	for i := range pf.dims {
		pf.dims[i] = newDimensionIndex()
	}
	return pf
}

// Add 注册一条模式的字面量
// 键控维度在模式自身无字面量时退化使用键名作字面量
// （键名必然出现在 name\x1Fvalue 干草堆中）
func (pf *Prefilter) Add(dim Dimension, ref PatternRef, literals []string) {
	if len(literals) == 0 && ref.Key != "" && len(ref.Key) >= 3 {
		literals = []string{strings.ToLower(ref.Key)}
	}
	pf.dims[dim].add(ref, literals)
}

// Build 冻结索引并构建各维度自动机（加载末尾调用一次）
func (pf *Prefilter) Build() {
	for _, d := range pf.dims {
		d.build()
	}
}

// Candidates 对维度干草堆做单次扫描，返回候选模式引用集合
// 干草堆在此统一小写；同一模式只出现一次
func (pf *Prefilter) Candidates(dim Dimension, haystack string) []PatternRef {
	d := pf.dims[dim]

	out := make([]PatternRef, 0, len(d.always)+8)
	seen := make(map[*Pattern]struct{}, len(d.always)+8)
	for _, ref := range d.always {
		seen[ref.Pattern] = struct{}{}
		out = append(out, ref)
	}

	if d.matcher == nil || haystack == "" {
		return out
	}

	for _, slot := range d.matcher.Match([]byte(strings.ToLower(haystack))) {
		for _, ref := range d.refSets[slot] {
			if _, ok := seen[ref.Pattern]; ok {
				continue
			}
			seen[ref.Pattern] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
