// Package cli 命令行交互：参数解析、banner与版本信息
package cli

import (
	"fmt"

	"xwappalyzer/pkg/types"

	"github.com/donnie4w/go-logger/logger"
	"github.com/projectdiscovery/goflags"
)

// NewCmdOptions 初始化并解析命令行参数
func NewCmdOptions() (*types.CmdOptions, error) {
	options := &types.CmdOptions{}

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("xwappalyzer - Web技术指纹识别工具")

	flagSet.CreateGroup("input", "输入",
		flagSet.StringSliceVarP(&options.Target, "url", "u", nil, "扫描目标URL，可多次指定", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringVarP(&options.TargetsFile, "list", "l", "", "目标文件: 指定含有扫描目标的文本文件"),
	)

	flagSet.CreateGroup("rules", "规则库",
		flagSet.StringVar(&options.RulesDir, "rules-dir", "", "本地规则目录（含分片与categories.json）"),
		flagSet.StringVar(&options.RemoteRules, "remote-rules", "", "远程规则库根URL"),
		flagSet.StringVar(&options.CachePath, "rules-cache", "", "规则库缓存文件路径"),
	)

	flagSet.CreateGroup("request", "请求",
		flagSet.IntVarP(&options.Threads, "threads", "t", 5, "URL并发线程数"),
		flagSet.IntVar(&options.Timeout, "timeout", 10, "读超时: 从连接中读取数据的最大耗时（秒）"),
		flagSet.IntVar(&options.Retries, "retries", 2, "请求失败重试次数"),
		flagSet.StringVarP(&options.Proxy, "proxy", "p", "", "HTTP客户端代理: [http|https|socks5://][username[:password]@]host[:port]"),
	)

	flagSet.CreateGroup("output", "输出",
		flagSet.StringVarP(&options.Output, "output", "o", "", "结果输出: 指定保存结果的文件路径（txt/csv/json，根据扩展名自动识别）"),
		flagSet.BoolVar(&options.JSONOutput, "json", false, "使用JSON格式输出结果"),
		flagSet.BoolVar(&options.Lite, "lite", false, "快速检测模式：仅输出技术名称与置信度"),
	)

	flagSet.CreateGroup("misc", "其他",
		flagSet.StringVarP(&options.Config, "config", "c", "config.yaml", "配置文件路径"),
		flagSet.BoolVar(&options.Debug, "debug", false, "调试：打印debug日志"),
		flagSet.BoolVarP(&options.Version, "version", "v", false, "查看版本信息"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, err
	}

	if err := verifyOptions(options); err != nil {
		return nil, err
	}
	return options, nil
}

// verifyOptions 验证命令行选项
func verifyOptions(opt *types.CmdOptions) error {
	if opt.Version {
		return nil
	}

	// 验证目标输入
	if len(opt.Target) == 0 && opt.TargetsFile == "" {
		return fmt.Errorf("必须使用`-u`或`-l`参数指定扫描目标")
	}

	// 验证线程数
	if opt.Threads <= 0 {
		logger.Warn("指定线程数无效，将使用默认值5")
		opt.Threads = 5
	}

	// 验证超时时间
	if opt.Timeout <= 0 {
		logger.Warn("指定超时时间不合法，将使用默认值10秒")
		opt.Timeout = 10
	}

	// 重试次数
	if opt.Retries < 0 {
		logger.Warn("指定重试次数不合法，将使用默认值2")
		opt.Retries = 2
	}

	return nil
}
