package types

import (
	"os"

	"gopkg.in/yaml.v2"
)

// Config 文件级配置（config.yaml）
// 命令行同名参数优先于配置文件
type Config struct {
	RulesDir      string `yaml:"rules_dir"`       // 本地规则目录
	RemoteBaseURL string `yaml:"remote_base_url"` // 远程规则库根URL
	MirrorPrefix  string `yaml:"mirror_prefix"`   // 远程拉取失败时的镜像前缀
	HTTPProxy     string `yaml:"http_proxy"`      // HTTP代理
	RequestTimeMS int    `yaml:"request_timeout_ms"`
	CachePath     string `yaml:"cache_path"`      // 规则库msgpack缓存
	ShardCacheDir string `yaml:"shard_cache_dir"` // 远程分片响应缓存目录
}

// LoadConfig 读取yaml配置文件；文件不存在时返回零值配置
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
