package world

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
)

// AgentTurn is what one agent did during a step.
type AgentTurn struct {
	Agent     string                 `json:"agent"`
	Actions   []model.Action         `json:"actions,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Reason    agent.TruncationReason `json:"reason,omitempty"`
	// Error is set when the act call failed. Actions then holds what the
	// agent produced before the failure.
	Error string `json:"error,omitempty"`
}

type StepReport struct {
	Step    int         `json:"step"`
	Time    *time.Time  `json:"time,omitempty"`
	Turns   []AgentTurn `json:"turns"`
	Dropped int         `json:"dropped,omitempty"`
}

// Failed returns the names of agents skipped because their act call failed.
func (s *StepReport) Failed() []string {
	var names []string
	for _, t := range s.Turns {
		if t.Error != "" {
			names = append(names, t.Agent)
		}
	}
	return names
}

type RunReport struct {
	World string        `json:"world"`
	Steps []*StepReport `json:"steps"`
}

// StepHook runs after every completed step. An error stops the run.
type StepHook func(ctx context.Context, w *World, report *StepReport) error

type runConfig struct {
	timeDelta *time.Duration
	hooks     []StepHook
}

type RunOption func(*runConfig)

// WithRunTimeDelta overrides the clock advance for this run only.
func WithRunTimeDelta(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.timeDelta = &d
	}
}

// AfterEachStep registers a hook such as a checkpoint.
func AfterEachStep(hook StepHook) RunOption {
	return func(c *runConfig) {
		c.hooks = append(c.hooks, hook)
	}
}

// Run advances the world by steps. Cancellation is checked between steps
// only; a step that has started runs every agent to completion. The report
// covers the steps run so far.
func (w *World) Run(ctx context.Context, steps int, opts ...RunOption) (*RunReport, error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	delta := w.timeDelta
	if cfg.timeDelta != nil {
		delta = *cfg.timeDelta
	}

	report := &RunReport{World: w.name}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return report, goerr.Wrap(err, "run interrupted", goerr.V("world", w.name), goerr.V("step", w.step))
		}

		sr := w.runStep(ctx, delta)
		report.Steps = append(report.Steps, sr)

		for _, hook := range cfg.hooks {
			if err := hook(ctx, w, sr); err != nil {
				return report, goerr.Wrap(err, "step hook failed", goerr.V("world", w.name), goerr.V("step", w.step))
			}
		}
	}
	return report, nil
}

func (w *World) runStep(ctx context.Context, delta time.Duration) *StepReport {
	ctx = context.WithoutCancel(ctx)
	w.step++
	w.advanceClock(delta)
	ctx, logger := logging.WithAttrs(ctx, "world", w.name, "step", w.step)
	logger.Info("step started", "agents", len(w.agents))

	// Deliveries produced during this step go to the next one.
	queue := w.pending
	w.pending = make(map[string][]model.Stimulus)

	sr := &StepReport{Step: w.step, Time: w.CurrentTime()}
	for _, a := range w.Agents() {
		turn := AgentTurn{Agent: a.Name()}
		result, err := w.act(ctx, a, queue[a.Name()])
		if err != nil {
			logger.Error("act failed", "agent", a.Name(), "error", err)
			w.metrics.ActFailure(w.name)
			turn.Error = err.Error()
		}

		// Actions stored before a failure are in the agent's memory, so
		// they are delivered like those of a completed act.
		if result != nil {
			turn.Actions = result.Actions
			turn.Truncated = result.Truncated
			turn.Reason = result.Reason
			for _, action := range result.Actions {
				if !w.route(ctx, a, action) {
					sr.Dropped++
				}
			}
		}
		sr.Turns = append(sr.Turns, turn)
	}

	w.metrics.Step(w.name)
	return sr
}

// act observes every queued stimulus but the last, which triggers the act
// call.
func (w *World) act(ctx context.Context, a *agent.Agent, stimuli []model.Stimulus) (*agent.ActResult, error) {
	var last *model.Stimulus
	if n := len(stimuli); n > 0 {
		for _, s := range stimuli[:n-1] {
			if err := a.Observe(s); err != nil {
				return nil, err
			}
		}
		last = &stimuli[n-1]
	}
	return w.actor.Act(ctx, a, last)
}

// route turns an action into next-step stimuli. It returns false when a
// delivery was dropped.
func (w *World) route(ctx context.Context, src *agent.Agent, action model.Action) bool {
	logger := logging.From(ctx).With("agent", src.Name())

	switch action.Kind {
	case model.ActionTalk:
		if action.Target == "" {
			if !w.broadcastIfNoTarget {
				return true
			}
			for _, name := range src.Accessible() {
				if w.index(name) < 0 {
					continue
				}
				w.enqueue(model.Stimulus{Kind: model.StimulusConversation, Source: src.Name(), Target: name, Content: action.Content})
			}
			return true
		}
		if w.index(action.Target) < 0 {
			logger.Warn("delivery dropped", "target", action.Target, "reason", "unknown target")
			w.metrics.DeliveryDropped(w.name, "unknown_target")
			return false
		}
		if !src.IsAccessible(action.Target) {
			logger.Warn("delivery dropped", "target", action.Target, "reason", "inaccessible")
			w.metrics.DeliveryDropped(w.name, "inaccessible")
			return false
		}
		w.enqueue(model.Stimulus{Kind: model.StimulusConversation, Source: src.Name(), Target: action.Target, Content: action.Content})
		return true

	case model.ActionReachOut:
		target, err := w.Agent(action.Target)
		if err != nil {
			logger.Warn("delivery dropped", "target", action.Target, "reason", "unknown target")
			w.metrics.DeliveryDropped(w.name, "unknown_target")
			return false
		}
		src.MakeAccessible(target.Name())
		target.MakeAccessible(src.Name())
		w.enqueue(model.Stimulus{
			Kind:    model.StimulusSocial,
			Source:  src.Name(),
			Target:  target.Name(),
			Content: fmt.Sprintf("%s reached out to you, and is now available for interaction.", src.Name()),
		})
		w.enqueue(model.Stimulus{
			Kind:    model.StimulusSocial,
			Source:  target.Name(),
			Target:  src.Name(),
			Content: fmt.Sprintf("%s was successfully reached out, and is now available for interaction.", target.Name()),
		})
		return true

	case model.ActionUseTool:
		w.enqueue(model.Stimulus{
			Kind:    model.StimulusToolResult,
			Source:  action.Tool.Name,
			Target:  src.Name(),
			Content: w.invokeTool(ctx, src, *action.Tool),
		})
		return true
	}

	return true
}

// invokeTool returns the tool output, or the error text for the agent to
// read.
func (w *World) invokeTool(ctx context.Context, src *agent.Agent, call model.ToolCall) string {
	if w.tools == nil {
		return fmt.Sprintf("error: tool %q is not available", call.Name)
	}
	out, err := w.tools.Invoke(ctx, src.Name(), call)
	if err != nil {
		logging.From(ctx).Warn("tool failed", "agent", src.Name(), "tool", call.Name, "error", err)
		return fmt.Sprintf("error: %s", err.Error())
	}
	if out == "" {
		return fmt.Sprintf("tool %q returned no output", call.Name)
	}
	return out
}
