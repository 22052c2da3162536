package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建进程级 zap logger，输出到 stdout
// level: 日志级别 (debug, info, warn, error)，未知级别按 info 处理
func New(level string) (*zap.Logger, error) {
	return NewWithOutput(level, "stdout")
}

// NewWithOutput 创建 logger 并指定输出路径（文件路径、stdout 或 stderr）
func NewWithOutput(level string, output string) (*zap.Logger, error) {
	// 使用生产配置（JSON编码）
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	// 自定义时间格式
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableCaller = false

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// ParseLevel 将配置中的级别字符串转换为 zapcore.Level
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// ForRequest 返回带有请求 ID 和目标地址的子 logger
func ForRequest(base *zap.Logger, requestID string, target string) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return base.With(
		zap.String("request_id", requestID),
		zap.String("target", target),
	)
}
