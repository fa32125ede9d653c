// Package compiler 模式编译器
// 将声明式规则模式编译为运行期匹配器：惰性正则编译 + 多模式字面量预筛
package compiler

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/donnie4w/go-logger/logger"
)

// DefaultConfidence 模式默认置信度
const DefaultConfidence = 100

// 正则单次匹配超时，防止回溯型模式拖垮检测
const matchTimeout = 2 * time.Second

// Pattern 编译后的单条模式
// 正则在首次匹配时编译且只编译一次，并发首次使用安全；
// 编译失败的模式标记为dead，永不匹配
type Pattern struct {
	Raw             string // 原始模式串（含\;元数据）
	Source          string // 正则源
	Confidence      int    // 置信度 0-100
	VersionTemplate string // 版本模板，空串表示无
	Literals        []string

	compileOnce sync.Once
	re          *regexp2.Regexp
	dead        bool
}

// ParsePattern 解析模式串
// 以字面 \; 分隔：首段为正则源，其余段为 key:value 元数据，
// 识别 confidence 与 version，未知键忽略
func ParsePattern(raw string) *Pattern {
	p := &Pattern{
		Raw:        raw,
		Confidence: DefaultConfidence,
	}

	segments := strings.Split(raw, `\;`)
	p.Source = segments[0]

	for _, segment := range segments[1:] {
		key, value, found := strings.Cut(segment, ":")
		if !found {
			continue
		}
		switch key {
		case "confidence":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				p.Confidence = clampConfidence(n)
			}
		case "version":
			p.VersionTemplate = value
		}
	}

	p.Literals = ExtractLiterals(p.Source)
	return p
}

// compile 惰性编译正则（只执行一次，结果对所有读者可见）
func (p *Pattern) compile() {
	p.compileOnce.Do(func() {
		re, err := regexp2.Compile(p.Source, regexp2.IgnoreCase)
		if err != nil {
			logger.Warnf("模式 %q 正则编译失败，该模式永不匹配：%v", p.Raw, err)
			p.dead = true
			return
		}
		re.MatchTimeout = matchTimeout
		p.re = re
	})
}

// Match 在输入上执行模式匹配
// 返回是否命中与捕获组内容（下标0为整体匹配）
func (p *Pattern) Match(input string) (bool, []string) {
	p.compile()
	if p.dead {
		return false, nil
	}

	m, err := p.re.FindStringMatch(input)
	if err != nil || m == nil {
		return false, nil
	}

	groups := m.Groups()
	captures := make([]string, len(groups))
	for i, g := range groups {
		captures[i] = g.String()
	}
	return true, captures
}

// MatchOnly 仅判断是否命中，不提取捕获组（lite检测用）
func (p *Pattern) MatchOnly(input string) bool {
	p.compile()
	if p.dead {
		return false
	}
	ok, err := p.re.MatchString(input)
	return err == nil && ok
}

// ExtractVersion 按版本模板展开捕获组
// 模板语法：\N 取第N组；\N?A:B 按第N组是否非空选择A或B（A/B内可继续展开\M）
// 展开结果去除首尾空白，空结果视为无版本
func (p *Pattern) ExtractVersion(captures []string) string {
	if p.VersionTemplate == "" || captures == nil {
		return ""
	}
	return strings.TrimSpace(expandTemplate(p.VersionTemplate, captures))
}

// expandTemplate 展开版本模板
func expandTemplate(template string, captures []string) string {
	if n, rest, ok := splitTernary(template); ok {
		a, b, _ := strings.Cut(rest, ":")
		if groupText(captures, n) != "" {
			return substituteGroups(a, captures)
		}
		return substituteGroups(b, captures)
	}
	return substituteGroups(template, captures)
}

// splitTernary 识别 \N?A:B 形式，返回组号与问号后的剩余部分
func splitTernary(template string) (int, string, bool) {
	if !strings.HasPrefix(template, `\`) {
		return 0, "", false
	}
	i := 1
	for i < len(template) && template[i] >= '0' && template[i] <= '9' {
		i++
	}
	if i == 1 || i >= len(template) || template[i] != '?' {
		return 0, "", false
	}
	n, _ := strconv.Atoi(template[1:i])
	return n, template[i+1:], true
}

// substituteGroups 将模板中的 \N 替换为对应捕获组文本，未知组展开为空
func substituteGroups(s string, captures []string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) || s[i+1] < '0' || s[i+1] > '9' {
			b.WriteByte(s[i])
			continue
		}
		j := i + 1
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		n, _ := strconv.Atoi(s[i+1 : j])
		b.WriteString(groupText(captures, n))
		i = j - 1
	}
	return b.String()
}

// groupText 安全取第n个捕获组
func groupText(captures []string, n int) string {
	if n < 0 || n >= len(captures) {
		return ""
	}
	return captures[n]
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
