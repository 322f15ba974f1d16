package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assetdesk/internal/config"
	"assetdesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispatcher 异步执行自动化任务。
// 触发方从不等待结果；失败在有限重试后写入死信表，
// 保证原始工单变更永远不被自动化拖垮，同时失败可追溯。
type Dispatcher struct {
	db      *gorm.DB
	logger  *logrus.Logger
	retries int
	backoff time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, logger *logrus.Logger, cfg config.AutomationConfig) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	retries := cfg.DispatchRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.DispatchBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		db:      db,
		logger:  logger,
		retries: retries,
		backoff: backoff,
		timeout: timeout,
	}
}

// Dispatch 把任务丢进后台执行，立即返回。
// panic 一并捕获计为失败；重试间隔按次数指数递增。
func (d *Dispatcher) Dispatch(task string, entityID uint, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var lastErr error
		for attempt := 1; attempt <= d.retries; attempt++ {
			lastErr = d.runOnce(fn)
			if lastErr == nil {
				return
			}
			d.logger.Warnf("dispatch: %s for entity %d attempt %d/%d failed: %v", task, entityID, attempt, d.retries, lastErr)
			if attempt < d.retries {
				time.Sleep(d.backoff * time.Duration(1<<(attempt-1)))
			}
		}

		d.deadLetter(task, entityID, lastErr)
	}()
}

func (d *Dispatcher) runOnce(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return fn(ctx)
}

func (d *Dispatcher) deadLetter(task string, entityID uint, cause error) {
	d.logger.Errorf("dispatch: %s for entity %d exhausted %d retries: %v", task, entityID, d.retries, cause)
	letter := &models.DeadLetter{
		Task:      task,
		EntityID:  entityID,
		Error:     cause.Error(),
		Attempts:  d.retries,
		CreatedAt: time.Now(),
	}
	if err := d.db.Create(letter).Error; err != nil {
		d.logger.Errorf("dispatch: record dead letter failed: %v", err)
	}
}

// Wait 等待所有在途任务完成，仅用于优雅退出与测试
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
