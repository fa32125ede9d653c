// Package runner 批量扫描调度
package runner

import (
	"sync/atomic"
	"time"

	"github.com/donnie4w/go-logger/logger"
	"github.com/panjf2000/ants/v2"
)

// Pool 抽象的工作池接口，屏蔽对 ants 的直接依赖
type Pool interface {
	Invoke(i interface{}) error
	Release()
}

// antsPoolWrapper 使用 ants.PoolWithFunc 实现 Pool 接口
type antsPoolWrapper struct {
	inner *ants.PoolWithFunc
}

func (p *antsPoolWrapper) Invoke(i interface{}) error { return p.inner.Invoke(i) }
func (p *antsPoolWrapper) Release()                   { p.inner.Release() }

// NewWorkPoolWithFunc 创建一个带函数处理器的工作池
// 统一在此集中 ants 相关实现
func NewWorkPoolWithFunc(
	workerCount int,
	handler func(interface{}),
	maxBlockingTasks int,
	expiry time.Duration,
) (Pool, error) {
	pool, err := ants.NewPoolWithFunc(
		workerCount,
		handler,
		ants.WithPreAlloc(true),
		ants.WithExpiryDuration(expiry),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(maxBlockingTasks),
		ants.WithPanicHandler(func(v interface{}) {
			atomic.AddInt64(&poolStats.FailedTasks, 1)
			logger.Errorf("扫描任务panic：%v", v)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &antsPoolWrapper{inner: pool}, nil
}

// PoolStats 工作池统计信息
type PoolStats struct {
	TotalTasks     int64 // 成功提交的总任务数
	CompletedTasks int64 // 已完成任务数
	FailedTasks    int64 // 失败任务数
}

var poolStats PoolStats

// GetPoolStats 读取工作池统计快照
func GetPoolStats() PoolStats {
	return PoolStats{
		TotalTasks:     atomic.LoadInt64(&poolStats.TotalTasks),
		CompletedTasks: atomic.LoadInt64(&poolStats.CompletedTasks),
		FailedTasks:    atomic.LoadInt64(&poolStats.FailedTasks),
	}
}
