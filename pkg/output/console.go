package output

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// CreateProgressBar 创建进度条
func CreateProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetWidth(50),
		progressbar.OptionEnableColorCodes(false),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetDescription("指纹识别"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionClearOnFinish(),
	)
}

// PrintResult 输出单个目标的检测结果到控制台
func PrintResult(result *TargetResult) {
	if result.Error != "" {
		fmt.Printf("%s %s  %s\n", color.RedString("[失败]"), result.URL, result.Error)
		return
	}

	statusCodeStr := ""
	if result.StatusCode > 0 {
		statusCodeStr = fmt.Sprintf("（%d）", result.StatusCode)
	}

	techParts := make([]string, 0, len(result.Technologies))
	for _, tech := range result.Technologies {
		techParts = append(techParts, tech.String())
	}

	if len(techParts) == 0 {
		fmt.Printf("%s %s%s  标题：%s\n", color.YellowString("[无指纹]"), result.URL, statusCodeStr, result.Title)
		return
	}

	fmt.Printf("%s %s%s  标题：%s  技术栈：[%s]\n",
		color.GreenString("[命中]"), result.URL, statusCodeStr, result.Title,
		color.CyanString(strings.Join(techParts, ", ")))
}

// PrintSummary 打印汇总信息
func PrintSummary(results []*TargetResult) {
	matchCount := 0
	noMatchCount := 0
	for _, result := range results {
		if len(result.Technologies) > 0 {
			matchCount++
		} else {
			noMatchCount++
		}
	}

	fmt.Println(color.CyanString("─────────────────────────────────────────────────────"))
	fmt.Printf("扫描统计: 目标总数 %d, 识别成功 %d, 未识别 %d\n", len(results), matchCount, noMatchCount)
}
