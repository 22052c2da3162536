package processors

import (
	"net/url"
	"time"

	"go.uber.org/zap"

	"proximg/internal/core"
)

// RequestLogger 是一个记录请求日志的处理器
type RequestLogger struct {
	name     string
	priority int
}

// NewRequestLogger 创建一个新的请求日志处理器
func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		name:     "request-logger",
		priority: -100, // 必须是第一个执行
	}
}

// Name 返回处理器名称
func (r *RequestLogger) Name() string {
	return r.name
}

// Priority 返回处理器优先级
func (r *RequestLogger) Priority() int {
	return r.priority
}

// OnRequest 记录请求开始
// request_id 和 target 已经在创建 ctx.Log 时通过 With() 注入
func (r *RequestLogger) OnRequest(ctx *core.RequestContext, target *url.URL) error {
	ctx.Log.Info("Request Started",
		zap.String("method", "GET"),
		zap.String("host", target.Host),
		zap.Int("redirect_budget", ctx.Budget),
	)
	return nil
}

// OnHop 记录每一跳上游响应
func (r *RequestLogger) OnHop(ctx *core.RequestContext, hop core.Hop) {
	ctx.Log.Debug("Upstream Hop",
		zap.Int("hop", hop.Index),
		zap.String("url", hop.URL),
		zap.Int("status", hop.Status),
		zap.Int("remaining", hop.Remaining),
		zap.Duration("elapsed", hop.Elapsed),
	)
}

// OnFinish 记录请求完成，被拒绝的请求带上原因
func (r *RequestLogger) OnFinish(ctx *core.RequestContext, err error) {
	// zap.Duration() 会自动格式化为带有单位的字符串
	latency := time.Since(ctx.StartTime)
	fields := []zap.Field{
		zap.Duration("latency", latency),
		zap.Int("hops", len(ctx.Hops())),
		zap.Int("code", ctx.Status()),
	}

	if rej, ok := core.AsRejection(err); ok {
		fields = append(fields,
			zap.String("status", "Rejected"),
			zap.String("reason", rej.Reason.String()),
			zap.String("message", rej.Error()),
		)
		ctx.Log.Info("Request Finished", fields...)
		return
	}
	if err != nil {
		fields = append(fields, zap.String("status", "Failed"), zap.Error(err))
		ctx.Log.Warn("Request Finished", fields...)
		return
	}

	fields = append(fields, zap.String("status", "Success"))
	ctx.Log.Info("Request Finished", fields...)
}
