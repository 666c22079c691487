// Package events fans execution status transitions out to publishers: the
// audit log and, when configured, a RabbitMQ topic exchange.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/workflow"
	"SkyAgents-Hub/pkg/logger"
)

// Event 描述一次状态变化。
type Event struct {
	AttemptID  string           `json:"attempt_id"`
	Agent      string           `json:"agent"`
	Status     workflow.Status  `json:"status"`
	Message    string           `json:"message"`
	Code       xerrors.Code     `json:"code,omitempty"`
	Severity   xerrors.Severity `json:"severity"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Publisher 负责投递事件。
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 将事件广播给多个发布器。
type Fanout struct {
	publishers []Publisher
}

// NewFanout 创建一个新的 Fanout，忽略 nil 发布器。
func NewFanout(publishers ...Publisher) *Fanout {
	list := make([]Publisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Fanout{publishers: list}
}

// Name 实现 Publisher 接口。
func (f *Fanout) Name() string { return "fanout" }

// Publish 将事件投递到全部发布器，单个失败不影响其他发布器。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部发布器。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher 把状态变化写入审计日志。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 使用给定日志输出，为空时使用审计日志。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Audit()
	}
	return &LogPublisher{logger: l}
}

// Name 实现 Publisher 接口。
func (p *LogPublisher) Name() string { return "audit" }

// Publish 实现 Publisher 接口。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case xerrors.SeverityWarning:
		level = slog.LevelWarn
	case xerrors.SeverityCritical:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("attempt_id", event.AttemptID),
		slog.String("agent", event.Agent),
		slog.String("status", string(event.Status)),
		slog.String("message", event.Message),
	}
	if event.Code != "" {
		attrs = append(attrs, slog.String("code", string(event.Code)))
	}
	p.logger.LogAttrs(ctx, level, "execution status changed", attrs...)
	return nil
}

// Close 实现 Publisher 接口。
func (p *LogPublisher) Close() error { return nil }
