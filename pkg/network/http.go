// Package network HTTP客户端封装
// 规则库远程拉取与批量扫描共用的重试客户端，支持代理
package network

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"xwappalyzer/pkg/utils/common"

	"github.com/chainreactors/proxyclient"
	"github.com/donnie4w/go-logger/logger"
	"github.com/zan8in/retryablehttp"
	"golang.org/x/net/context"
)

// 全局客户端配置
var (
	RetryClient    *retryablehttp.Client // 默认重试客户端
	tlsConfig      *tls.Config           // tls配置
	clientInitOnce sync.Once             // 确保客户端只初始化一次
	transportCache sync.Map              // 缓存Transport对象，避免重复创建
)

const (
	MaxDefaultBody int64 = 2 << 20          // 响应体读取上限 2MB
	DefaultTimeout       = 10 * time.Second // 默认请求超时时间
	maxRedirects         = 5                // 最大重定向次数
)

// OptionsRequest 请求配置参数结构体
type OptionsRequest struct {
	Proxy           string            // 代理地址，格式：scheme://host:port
	Timeout         time.Duration     // 请求超时时间
	Retries         int               // 最大重试次数
	FollowRedirects bool              // 是否跟随重定向
	CustomHeaders   map[string]string // 自定义请求头
}

func init() {
	clientInitOnce.Do(initGlobalClient)
}

// initGlobalClient 初始化全局客户端实例
func initGlobalClient() {
	tlsConfig = &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
	}

	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = DefaultTimeout

	transport := &http.Transport{
		TLSClientConfig:   tlsConfig,
		DisableKeepAlives: true, // 禁用连接复用，避免"Unsolicited response"错误
	}

	RetryClient = retryablehttp.NewClient(opts)
	RetryClient.HTTPClient.Transport = transport
	RetryClient.HTTPClient2.Transport = transport
}

// SendRequestHttp 构建并发送HTTP请求
func SendRequestHttp(ctx context.Context, method string, urlStr string, options OptionsRequest) (*http.Response, error) {
	setDefaults(&options)
	if options.Proxy != "" {
		logger.Debugf("使用代理：%s", options.Proxy)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	configureHeaders(req, options)

	client := configureClient(options)
	return client.Do(req)
}

// setDefaults 设置配置参数的默认值
func setDefaults(options *OptionsRequest) {
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Retries == 0 {
		options.Retries = 2
	}
}

// configureHeaders 配置请求头信息
func configureHeaders(req *retryablehttp.Request, options OptionsRequest) {
	req.Header.Set("User-Agent", common.DefaultUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Connection", "close")

	for key, value := range options.CustomHeaders {
		req.Header.Set(key, value)
	}
}

// createTransport 创建传输层（按代理地址缓存）
func createTransport(proxyURL string) (*http.Transport, error) {
	if cachedTransport, found := transportCache.Load(proxyURL); found {
		return cachedTransport.(*http.Transport), nil
	}

	var transport *http.Transport
	if proxyURL == "" {
		transport = &http.Transport{
			TLSClientConfig:   tlsConfig,
			DisableKeepAlives: true,
		}
	} else {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("代理地址解析失败: %v", err)
		}

		dialer, err := proxyclient.NewClient(proxy)
		if err != nil {
			return nil, fmt.Errorf("创建代理客户端失败: %v", err)
		}

		transport = &http.Transport{
			DialContext:       dialer.DialContext,
			TLSClientConfig:   tlsConfig,
			DisableKeepAlives: true,
		}
	}

	transportCache.Store(proxyURL, transport)
	return transport, nil
}

// configureClient 配置HTTP客户端参数
func configureClient(options OptionsRequest) *retryablehttp.Client {
	if RetryClient == nil {
		logger.Error("RetryClient 未初始化")
		initGlobalClient()
	}

	opts := retryablehttp.DefaultOptionsSingle
	opts.Timeout = options.Timeout
	opts.RetryMax = options.Retries

	client := retryablehttp.NewClient(opts)

	transport, err := createTransport(options.Proxy)
	if err != nil {
		logger.Errorf("创建传输层失败: %v", err)
	} else {
		client.HTTPClient.Transport = transport
		client.HTTPClient2.Transport = transport
	}

	client.HTTPClient.Timeout = options.Timeout
	client.HTTPClient2.Timeout = options.Timeout

	redirectPolicy := createRedirectPolicy(options.FollowRedirects)
	client.HTTPClient.CheckRedirect = redirectPolicy
	client.HTTPClient2.CheckRedirect = redirectPolicy

	return client
}

// createRedirectPolicy 创建重定向策略
func createRedirectPolicy(followRedirects bool) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if !followRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("达到最大重定向次数: %d", maxRedirects)
		}
		return nil
	}
}

// FetchOptions 规则分片拉取配置
type FetchOptions struct {
	Proxy    string        // 代理地址
	Timeout  time.Duration // 单次拉取超时
	CacheDir string        // 响应缓存目录，空则不缓存
}

// Fetcher 规则分片拉取器
// 响应按URL内容哈希名落盘，重复拉取直接命中缓存
type Fetcher struct {
	options FetchOptions
}

// NewFetcher 创建规则分片拉取器
func NewFetcher(options FetchOptions) *Fetcher {
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	return &Fetcher{options: options}
}

// Get 拉取单个URL并返回响应体
func (f *Fetcher) Get(urlStr string) ([]byte, error) {
	cachePath := f.cachePath(urlStr)
	if cachePath != "" {
		if data, err := os.ReadFile(cachePath); err == nil {
			logger.Debugf("命中分片缓存：%s", cachePath)
			return data, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.options.Timeout)
	defer cancel()

	resp, err := SendRequestHttp(ctx, http.MethodGet, urlStr, OptionsRequest{
		Proxy:           f.options.Proxy,
		Timeout:         f.options.Timeout,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, fmt.Errorf("网络请求失败: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("URL %s 返回状态码 %d", urlStr, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDefaultBody))
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if cachePath != "" {
		if err := os.MkdirAll(f.options.CacheDir, 0o755); err == nil {
			_ = os.WriteFile(cachePath, data, 0o644)
		}
	}
	return data, nil
}

// cachePath 计算URL对应的缓存文件路径
func (f *Fetcher) cachePath(urlStr string) string {
	if f.options.CacheDir == "" {
		return ""
	}
	return filepath.Join(f.options.CacheDir, common.Mmh3HashName(urlStr)+".json")
}
