package runner

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"xwappalyzer/pkg/detector"
	"xwappalyzer/pkg/extractor"
	"xwappalyzer/pkg/network"
	"xwappalyzer/pkg/output"
	"xwappalyzer/pkg/rule"
	"xwappalyzer/pkg/types"

	"github.com/donnie4w/go-logger/logger"
	"golang.org/x/net/context"
)

// Runner 批量扫描执行器
type Runner struct {
	options *types.CmdOptions
}

// scanTask 单个目标的扫描任务
type scanTask struct {
	target     string
	resultChan chan<- *output.TargetResult
	wg         *sync.WaitGroup
}

// NewRunner 创建扫描执行器
func NewRunner(options *types.CmdOptions) *Runner {
	return &Runner{options: options}
}

// Run 执行批量扫描
func (r *Runner) Run() error {
	targets, err := r.collectTargets()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("没有可扫描的目标")
	}

	bar := output.CreateProgressBar(len(targets))
	resultChan := make(chan *output.TargetResult, len(targets))
	var wg sync.WaitGroup

	pool, err := NewWorkPoolWithFunc(r.options.Threads, func(i interface{}) {
		task, ok := i.(*scanTask)
		if !ok {
			logger.Error("无效的扫描任务类型")
			return
		}
		defer task.wg.Done()
		task.resultChan <- r.scanTarget(task.target)
		atomic.AddInt64(&poolStats.CompletedTasks, 1)
	}, r.options.Threads*10, 2*time.Minute)
	if err != nil {
		return fmt.Errorf("创建工作池失败: %w", err)
	}
	defer pool.Release()

	// 结果收集协程
	results := make([]*output.TargetResult, 0, len(targets))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for result := range resultChan {
			_ = bar.Add(1)
			output.PrintResult(result)
			results = append(results, result)
		}
	}()

	for _, target := range targets {
		wg.Add(1)
		atomic.AddInt64(&poolStats.TotalTasks, 1)
		if err := pool.Invoke(&scanTask{target: target, resultChan: resultChan, wg: &wg}); err != nil {
			wg.Done()
			logger.Errorf("提交扫描任务失败：%v", err)
		}
	}

	wg.Wait()
	close(resultChan)
	<-done
	_ = bar.Finish()

	output.PrintSummary(results)

	if r.options.Output != "" {
		format := output.GetOutputFormat(r.options.JSONOutput, r.options.Output)
		if err := output.WriteResults(r.options.Output, format, results); err != nil {
			return err
		}
	}
	return nil
}

// collectTargets 汇总命令行与目标文件中的扫描目标（去重保序）
func (r *Runner) collectTargets() ([]string, error) {
	seen := make(map[string]struct{})
	var targets []string

	add := func(target string) {
		target = strings.TrimSpace(target)
		if target == "" {
			return
		}
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			target = "http://" + target
		}
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}

	for _, target := range r.options.Target {
		add(target)
	}

	if r.options.TargetsFile != "" {
		file, err := os.Open(r.options.TargetsFile)
		if err != nil {
			return nil, fmt.Errorf("读取目标文件失败: %w", err)
		}
		defer func() {
			_ = file.Close()
		}()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			add(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

// scanTarget 请求单个目标并执行技术检测
func (r *Runner) scanTarget(target string) *output.TargetResult {
	result := &output.TargetResult{URL: target, Technologies: []rule.Technology{}}

	timeout := time.Duration(r.options.Timeout) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := network.SendRequestHttp(ctx, http.MethodGet, target, network.OptionsRequest{
		Proxy:           r.options.Proxy,
		Timeout:         timeout,
		Retries:         r.options.Retries,
		FollowRedirects: true,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	result.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, network.MaxDefaultBody))
	if err != nil {
		logger.Debugf("读取响应体出错，使用已读取部分：%v", err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	urls := []string{finalURL}
	if finalURL != target {
		urls = append(urls, target)
	}

	doc := extractor.Extract(resp.Header, urls, body)
	result.Title = doc.Title

	techs, err := r.detect(resp.Header, urls, body)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Technologies = techs
	return result
}

// detect 按运行模式选择完整或精简检测
func (r *Runner) detect(headers map[string][]string, urls []string, body []byte) ([]rule.Technology, error) {
	if !r.options.Lite {
		return detector.DetectFull(headers, urls, body)
	}

	lite, err := detector.DetectLite(headers, urls, body)
	if err != nil {
		return nil, err
	}
	techs := make([]rule.Technology, 0, len(lite))
	for _, tech := range lite {
		techs = append(techs, rule.Technology{Name: tech.Name, Confidence: tech.Confidence, Categories: []string{}})
	}
	return techs, nil
}
