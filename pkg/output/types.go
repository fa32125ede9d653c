// Package output 检测结果输出：控制台、文件与JSON序列化
package output

import (
	"encoding/json"
	"sort"

	"xwappalyzer/pkg/rule"
)

// TargetResult 单个目标的扫描结果
type TargetResult struct {
	URL          string            `json:"url"`
	StatusCode   int               `json:"status_code,omitempty"`
	Title        string            `json:"title,omitempty"`
	Technologies []rule.Technology `json:"technologies"`
	Error        string            `json:"error,omitempty"`
}

// Report 对外JSON结构
type Report struct {
	Technologies []rule.Technology `json:"technologies"`
}

// ToJSON 序列化技术列表为标准输出schema
func ToJSON(techs []rule.Technology) ([]byte, error) {
	if techs == nil {
		techs = []rule.Technology{}
	}
	return json.Marshal(Report{Technologies: techs})
}

// GroupByCategory 将检测结果按分类名分组（报告输出用）
// 无分类的技术归入 Miscellaneous
func GroupByCategory(techs []rule.Technology) map[string][]string {
	grouped := make(map[string][]string)
	for _, tech := range techs {
		cats := tech.Categories
		if len(cats) == 0 {
			cats = []string{"Miscellaneous"}
		}
		for _, cat := range cats {
			grouped[cat] = append(grouped[cat], tech.String())
		}
	}
	for cat := range grouped {
		sort.Strings(grouped[cat])
	}
	return grouped
}
