// Package types 命令行与配置共享类型
package types

import (
	"github.com/projectdiscovery/goflags"
)

// CmdOptions 命令行选项结构体
type CmdOptions struct {
	Target      goflags.StringSlice // 测试目标
	TargetsFile string              // 测试目标文件
	Threads     int                 // 并发线程数
	Timeout     int                 // 超时时间（秒）
	Retries     int                 // 请求失败重试次数
	Proxy       string              // 代理地址
	Output      string              // 结果输出文件路径
	JSONOutput  bool                // 是否使用JSON格式输出结果
	Lite        bool                // 快速检测模式（仅输出名称与置信度）
	RulesDir    string              // 本地规则目录
	RemoteRules string              // 远程规则库根URL
	CachePath   string              // 规则库缓存文件路径
	Config      string              // 配置文件路径
	Debug       bool                // 设置debug模式
	Version     bool                // 查看版本信息
}
