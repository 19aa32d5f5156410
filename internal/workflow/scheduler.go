package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind selects how a workflow is started.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
	TriggerWebhook  TriggerKind = "webhook"
)

// Trigger describes one registration's start condition.
type Trigger struct {
	Kind  TriggerKind
	Every time.Duration // interval
	Spec  string        // cron expression
	Path  string        // webhook path suffix
}

// Interval triggers the workflow every d.
func Interval(d time.Duration) Trigger { return Trigger{Kind: TriggerInterval, Every: d} }

// Cron triggers the workflow on a standard 5-field cron expression.
func Cron(spec string) Trigger { return Trigger{Kind: TriggerCron, Spec: spec} }

// Webhook triggers the workflow on POST /webhook/<path>.
func Webhook(path string) Trigger { return Trigger{Kind: TriggerWebhook, Path: path} }

type registration struct {
	workflow Workflow
	trigger  Trigger

	mu     sync.Mutex
	paused bool
}

// Info is the public description of one registration, served on /workflows.
type Info struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	SafeguardLevel string `json:"safeguard_level"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	TriggerKind    string `json:"trigger"`
	TriggerDetail  string `json:"trigger_detail"`
	Paused         bool   `json:"paused"`
}

// Scheduler owns the registered workflows and their trigger sources. All
// trigger paths share Run, so every execution produces the same envelope.
type Scheduler struct {
	mu       sync.RWMutex
	regs     map[string]*registration
	order    []string
	webhooks map[string]string // path -> workflow name

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		regs:     make(map[string]*registration),
		webhooks: make(map[string]string),
		cron:     cron.New(),
	}
}

// Register adds a workflow with its trigger. Duplicate names and duplicate
// webhook paths are rejected.
func (s *Scheduler) Register(wf Workflow, trigger Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := wf.Name()
	if _, exists := s.regs[name]; exists {
		return fmt.Errorf("workflow %s already registered", name)
	}
	if trigger.Kind == TriggerWebhook {
		if owner, exists := s.webhooks[trigger.Path]; exists {
			return fmt.Errorf("webhook path %s already bound to %s", trigger.Path, owner)
		}
		s.webhooks[trigger.Path] = name
	}
	s.regs[name] = &registration{workflow: wf, trigger: trigger}
	s.order = append(s.order, name)
	return nil
}

// Start launches interval tickers and the cron engine. It returns once all
// trigger sources are armed.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		reg := s.regs[name]
		switch reg.trigger.Kind {
		case TriggerInterval:
			s.wg.Add(1)
			go s.runInterval(ctx, name, reg.trigger.Every)
		case TriggerCron:
			name := name
			if _, err := s.cron.AddFunc(reg.trigger.Spec, func() {
				s.runOnce(ctx, name, map[string]any{"trigger": "cron"})
			}); err != nil {
				cancel()
				return fmt.Errorf("cron registration for %s: %w", name, err)
			}
		case TriggerWebhook:
			// armed on demand via TriggerWebhook
		}
		slog.Info("workflow registered",
			"workflow", name,
			"trigger", reg.trigger.Kind,
			"detail", triggerDetail(reg.trigger))
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) runInterval(ctx context.Context, name string, every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, name, map[string]any{"trigger": "interval"})
		case <-ctx.Done():
			return
		}
	}
}

// runOnce executes one registration if it exists and is not paused.
func (s *Scheduler) runOnce(ctx context.Context, name string, trigger map[string]any) {
	s.mu.RLock()
	reg, ok := s.regs[name]
	s.mu.RUnlock()
	if !ok {
		return
	}

	reg.mu.Lock()
	paused := reg.paused
	reg.mu.Unlock()
	if paused {
		slog.Debug("workflow paused, skipping", "workflow", name)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	Run(ctx, reg.workflow, trigger)
}

// Trigger runs a workflow by name immediately and returns its envelope.
func (s *Scheduler) Trigger(ctx context.Context, name string, trigger map[string]any) (Result, error) {
	s.mu.RLock()
	reg, ok := s.regs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("workflow not found: %s", name)
	}

	reg.mu.Lock()
	paused := reg.paused
	reg.mu.Unlock()
	if paused {
		return Result{}, fmt.Errorf("workflow %s is paused", name)
	}

	s.wg.Add(1)
	defer s.wg.Done()
	return Run(ctx, reg.workflow, trigger), nil
}

// TriggerWebhook runs the workflow bound to a webhook path.
func (s *Scheduler) TriggerWebhook(ctx context.Context, path string, payload map[string]any) (Result, error) {
	s.mu.RLock()
	name, ok := s.webhooks[path]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("no workflow bound to webhook %s", path)
	}
	trigger := map[string]any{"trigger": "webhook", "path": path, "payload": payload}
	return s.Trigger(ctx, name, trigger)
}

// Pause suspends a workflow's triggers.
func (s *Scheduler) Pause(name string) error { return s.setPaused(name, true) }

// Resume re-enables a paused workflow.
func (s *Scheduler) Resume(name string) error { return s.setPaused(name, false) }

func (s *Scheduler) setPaused(name string, paused bool) error {
	s.mu.RLock()
	reg, ok := s.regs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow not found: %s", name)
	}
	reg.mu.Lock()
	reg.paused = paused
	reg.mu.Unlock()
	slog.Info("workflow pause state changed", "workflow", name, "paused", paused)
	return nil
}

// Workflows lists registrations in registration order.
func (s *Scheduler) Workflows() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.order))
	for _, name := range s.order {
		reg := s.regs[name]
		reg.mu.Lock()
		paused := reg.paused
		reg.mu.Unlock()
		out = append(out, Info{
			Name:           name,
			Description:    reg.workflow.Description(),
			SafeguardLevel: reg.workflow.SafeguardLevel(),
			TimeoutSeconds: int(reg.workflow.Timeout().Seconds()),
			TriggerKind:    string(reg.trigger.Kind),
			TriggerDetail:  triggerDetail(reg.trigger),
			Paused:         paused,
		})
	}
	return out
}

// Shutdown stops all trigger sources and waits for in-flight runs.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	cronCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func triggerDetail(t Trigger) string {
	switch t.Kind {
	case TriggerInterval:
		return t.Every.String()
	case TriggerCron:
		return t.Spec
	case TriggerWebhook:
		return "/webhook/" + t.Path
	}
	return ""
}
