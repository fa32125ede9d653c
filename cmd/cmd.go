// Package cmd 工具入口
package cmd

import (
	"os"
	"time"

	"xwappalyzer/pkg/cli"
	"xwappalyzer/pkg/detector"
	"xwappalyzer/pkg/rule"
	"xwappalyzer/pkg/runner"
	"xwappalyzer/pkg/types"

	"github.com/donnie4w/go-logger/logger"
)

// init
//
//	@Description: 工具入口，初始化函数
func init() {
	// 日志格式初始化
	logger.SetFormat(logger.FORMAT_TIME | logger.FORMAT_LEVELFLAG | logger.FORMAT_SHORTFILENAME)
	logger.SetFormatter("[{time}] {level} {message} [{file}]\n")
	logger.SetLevel(logger.LEVEL_INFO)
}

// Execute
//
//	@Description: 整个程序的入口
func Execute() {
	cli.DisplayBanner()

	options, err := cli.NewCmdOptions()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	// 打印版本信息并退出
	if options.Version {
		cli.DisplayVersion()
		os.Exit(0)
	}

	// 配置日志级别
	if options.Debug {
		logger.SetLevel(logger.LEVEL_DEBUG)
		logger.Debug("设置日志级别为：DEBUG")
	}

	// 加载配置文件，命令行参数优先
	cfg, err := types.LoadConfig(options.Config)
	if err != nil {
		logger.Errorf("加载配置文件 %s 失败：%v", options.Config, err)
		os.Exit(1)
	}
	loadOpts := buildLoadOptions(options, cfg)

	// 初始化全局检测器（规则加载 + 编译 + 预筛器构建）
	if err := detector.Init(loadOpts); err != nil {
		logger.Errorf("规则库初始化失败：%v", err)
		os.Exit(1)
	}

	if err := runner.NewRunner(options).Run(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// buildLoadOptions 合并配置文件与命令行的规则加载参数
func buildLoadOptions(options *types.CmdOptions, cfg *types.Config) rule.LoadOptions {
	loadOpts := rule.LoadOptions{
		RulesDir:      cfg.RulesDir,
		RemoteBaseURL: cfg.RemoteBaseURL,
		MirrorPrefix:  cfg.MirrorPrefix,
		Proxy:         cfg.HTTPProxy,
		CachePath:     cfg.CachePath,
		ShardCacheDir: cfg.ShardCacheDir,
	}
	if cfg.RequestTimeMS > 0 {
		loadOpts.Timeout = time.Duration(cfg.RequestTimeMS) * time.Millisecond
	}

	if options.RulesDir != "" {
		loadOpts.RulesDir = options.RulesDir
	}
	if options.RemoteRules != "" {
		loadOpts.RemoteBaseURL = options.RemoteRules
	}
	if options.CachePath != "" {
		loadOpts.CachePath = options.CachePath
	}
	if options.Proxy != "" {
		loadOpts.Proxy = options.Proxy
	}
	return loadOpts
}
