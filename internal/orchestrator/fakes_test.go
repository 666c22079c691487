package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	xerrors "SkyAgents-Hub/internal/errors"
	"SkyAgents-Hub/internal/events"
	"SkyAgents-Hub/internal/history"
	"SkyAgents-Hub/internal/workflow"
)

type fakeCatalog struct {
	steps []workflow.Step
	err   error
	calls atomic.Int32
}

func (c *fakeCatalog) GetWorkflow(_ context.Context, identifier string) ([]workflow.Step, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.steps, nil
}

type fakeAuth struct {
	ready    bool
	loginErr error
	signErr  error
	logins   atomic.Int32
	mu       sync.Mutex
	signed   []string
	signErrs []error
}

func (a *fakeAuth) IsReady() bool { return a.ready }

func (a *fakeAuth) Login(context.Context) (string, error) {
	a.logins.Add(1)
	if a.loginErr != nil {
		return "", a.loginErr
	}
	return "0xabc", nil
}

func (a *fakeAuth) Sign(ctx context.Context, message string) (string, error) {
	a.mu.Lock()
	a.signed = append(a.signed, message)
	a.signErrs = append(a.signErrs, ctx.Err())
	a.mu.Unlock()
	if a.signErr != nil {
		return "", a.signErr
	}
	return "0xsignature", nil
}

func (a *fakeAuth) signCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signed)
}

// fakeChannel 记录提交的请求，确认由测试手动触发。
type fakeChannel struct {
	connected atomic.Bool
	syncAck   *workflow.Ack

	mu       sync.Mutex
	requests []workflow.ExecutionRequest
	dones    []func(workflow.Ack)
	onResult func(string, json.RawMessage)
	onError  func(string, string)
}

func newFakeChannel() *fakeChannel {
	ch := &fakeChannel{}
	ch.connected.Store(true)
	return ch
}

func (c *fakeChannel) Submit(_ context.Context, req workflow.ExecutionRequest, _ string, done func(workflow.Ack)) error {
	if !c.connected.Load() {
		return xerrors.New(xerrors.CodeChannelDisconnected, "")
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.dones = append(c.dones, done)
	syncAck := c.syncAck
	c.mu.Unlock()
	if syncAck != nil {
		done(*syncAck)
	}
	return nil
}

func (c *fakeChannel) OnResult(fn func(string, json.RawMessage)) { c.onResult = fn }

func (c *fakeChannel) OnError(fn func(string, string)) { c.onError = fn }

func (c *fakeChannel) submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeChannel) request(i int) workflow.ExecutionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func (c *fakeChannel) ack(i int, ack workflow.Ack) {
	c.mu.Lock()
	done := c.dones[i]
	c.mu.Unlock()
	done(ack)
}

// stallingHistory 在 Save 中一直阻塞到 ctx 结束。
type stallingHistory struct {
	mu          sync.Mutex
	hadDeadline []bool
}

func (s *stallingHistory) Save(ctx context.Context, _ history.Record) error {
	_, ok := ctx.Deadline()
	s.mu.Lock()
	s.hadDeadline = append(s.hadDeadline, ok)
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *stallingHistory) List(context.Context, history.Query) ([]history.Record, error) {
	return nil, nil
}

func (s *stallingHistory) Close() error { return nil }

func (s *stallingHistory) saves() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.hadDeadline...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, string(ev.Status)+":"+ev.Message)
	}
	return out
}
