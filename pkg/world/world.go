package world

import (
	"context"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/tool"
)

// Actor runs the cognitive loop of one agent. *agent.Loop satisfies it.
type Actor interface {
	Act(ctx context.Context, a *agent.Agent, stimulus *model.Stimulus) (*agent.ActResult, error)
}

// World owns a set of agents and advances them in discrete steps. Agents act
// in insertion order and actions are delivered at the next step.
type World struct {
	name    string
	actor   Actor
	agents  []*agent.Agent
	pending map[string][]model.Stimulus

	step                int
	currentTime         *time.Time
	timeDelta           time.Duration
	broadcastIfNoTarget bool

	tools   *tool.Registry
	metrics *metrics.Recorder
}

type Option func(*World)

func WithStartTime(t time.Time) Option {
	return func(w *World) {
		tt := t
		w.currentTime = &tt
	}
}

// WithTimeDelta sets how far the clock advances per step. It has no effect
// without a start time.
func WithTimeDelta(d time.Duration) Option {
	return func(w *World) {
		w.timeDelta = d
	}
}

// WithBroadcastIfNoTarget controls whether untargeted TALK actions reach
// every accessible agent. Enabled by default.
func WithBroadcastIfNoTarget(enabled bool) Option {
	return func(w *World) {
		w.broadcastIfNoTarget = enabled
	}
}

// WithTools sets the registry that executes USE_TOOL actions.
func WithTools(r *tool.Registry) Option {
	return func(w *World) {
		w.tools = r
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(w *World) {
		w.metrics = m
	}
}

func New(name string, actor Actor, opts ...Option) *World {
	w := &World{
		name:                name,
		actor:               actor,
		pending:             make(map[string][]model.Stimulus),
		broadcastIfNoTarget: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *World) Name() string {
	return w.name
}

// Step returns the number of steps run or skipped so far.
func (w *World) Step() int {
	return w.step
}

func (w *World) CurrentTime() *time.Time {
	if w.currentTime == nil {
		return nil
	}
	t := *w.currentTime
	return &t
}

// AddAgent appends agents to the iteration order. Names must be unique.
func (w *World) AddAgent(agents ...*agent.Agent) error {
	for _, a := range agents {
		if w.index(a.Name()) >= 0 {
			return goerr.Wrap(model.ErrDuplicateName, "agent already in world", goerr.V("world", w.name), goerr.V("agent", a.Name()))
		}
		w.agents = append(w.agents, a)
		if w.currentTime != nil {
			a.SetSimulationTime(*w.currentTime)
		}
	}
	return nil
}

// RemoveAgent removes the agent, its pending stimuli and every accessibility
// edge pointing at it.
func (w *World) RemoveAgent(name string) error {
	i := w.index(name)
	if i < 0 {
		return goerr.Wrap(model.ErrAgentNotFound, "agent not in world", goerr.V("world", w.name), goerr.V("agent", name))
	}
	w.agents = slices.Delete(w.agents, i, i+1)
	delete(w.pending, name)
	for _, a := range w.agents {
		a.MakeInaccessible(name)
	}
	return nil
}

func (w *World) Agent(name string) (*agent.Agent, error) {
	i := w.index(name)
	if i < 0 {
		return nil, goerr.Wrap(model.ErrAgentNotFound, "agent not in world", goerr.V("world", w.name), goerr.V("agent", name))
	}
	return w.agents[i], nil
}

// Agents returns members in iteration order.
func (w *World) Agents() []*agent.Agent {
	return slices.Clone(w.agents)
}

func (w *World) index(name string) int {
	return slices.IndexFunc(w.agents, func(a *agent.Agent) bool { return a.Name() == name })
}

// MakeEveryoneAccessible sets accessibility to the complete graph without
// self loops. Calling it again changes nothing.
func (w *World) MakeEveryoneAccessible() {
	for _, a := range w.agents {
		for _, b := range w.agents {
			a.MakeAccessible(b.Name())
		}
	}
}

// MakeAccessible lets from address to.
func (w *World) MakeAccessible(from, to string) error {
	src, err := w.Agent(from)
	if err != nil {
		return err
	}
	if _, err := w.Agent(to); err != nil {
		return err
	}
	src.MakeAccessible(to)
	return nil
}

func (w *World) MakeInaccessible(from, to string) error {
	src, err := w.Agent(from)
	if err != nil {
		return err
	}
	src.MakeInaccessible(to)
	return nil
}

func (w *World) MakeAllInaccessible() {
	for _, a := range w.agents {
		a.MakeAllInaccessible()
	}
}

// Deliver queues a stimulus for its target. It is observed when the target
// next acts.
func (w *World) Deliver(s model.Stimulus) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if w.index(s.Target) < 0 {
		return goerr.Wrap(model.ErrAgentNotFound, "stimulus target not in world", goerr.V("world", w.name), goerr.V("target", s.Target))
	}
	w.enqueue(s)
	return nil
}

// Broadcast queues a conversation stimulus for every agent. source may be
// empty for the user.
func (w *World) Broadcast(content, source string) error {
	return w.broadcast(model.StimulusConversation, content, source)
}

func (w *World) BroadcastThought(thought string) error {
	return w.broadcast(model.StimulusThought, thought, "")
}

func (w *World) BroadcastInternalGoal(goal string) error {
	return w.broadcast(model.StimulusInternalGoal, goal, "")
}

// BroadcastContextChange replaces the situational context of every agent.
func (w *World) BroadcastContextChange(context []string) {
	for _, a := range w.agents {
		a.ChangeContext(context)
	}
}

func (w *World) broadcast(kind model.StimulusKind, content, source string) error {
	for _, a := range w.agents {
		if a.Name() == source {
			continue
		}
		if err := w.Deliver(model.Stimulus{Kind: kind, Source: source, Target: a.Name(), Content: content}); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the stimuli queued for name.
func (w *World) Pending(name string) []model.Stimulus {
	return slices.Clone(w.pending[name])
}

func (w *World) enqueue(s model.Stimulus) {
	w.pending[s.Target] = append(w.pending[s.Target], s)
}

// Skip advances the step counter and clock without letting agents act.
func (w *World) Skip(steps int) {
	for i := 0; i < steps; i++ {
		w.step++
		w.advanceClock(w.timeDelta)
	}
}

func (w *World) advanceClock(d time.Duration) {
	if w.currentTime == nil {
		return
	}
	t := w.currentTime.Add(d)
	w.currentTime = &t
	for _, a := range w.agents {
		a.SetSimulationTime(t)
	}
}
