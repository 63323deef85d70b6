package scenario

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/m-mizutani/troupe/pkg/world"
)

// BuildInput carries the shared runtime every built object uses.
type BuildInput struct {
	Actor world.Actor
	// Embedder indexes documents. Documents are stored without vectors
	// when nil.
	Embedder memory.Embedder
	Tools    *tool.Registry
	Metrics  *metrics.Recorder
	Episodic []memory.EpisodicOption
	// WebReader fetches documents given as URLs. A default reader is used
	// when nil.
	WebReader *memory.WebReader
}

// Simulation is the set of objects a scenario defines, in definition order.
type Simulation struct {
	Agents []*agent.Agent
	Worlds []*world.World
}

// Objects returns agents then worlds, ready for registration.
func (s *Simulation) Objects() []any {
	objs := make([]any, 0, len(s.Agents)+len(s.Worlds))
	for _, a := range s.Agents {
		objs = append(objs, a)
	}
	for _, w := range s.Worlds {
		objs = append(objs, w)
	}
	return objs
}

func (s *Simulation) World(name string) (*world.World, bool) {
	for _, w := range s.Worlds {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// Build creates the agents and worlds. Building is deterministic, so the
// same scenario always yields the same initial state.
func Build(ctx context.Context, sc *Scenario, input BuildInput) (*Simulation, error) {
	logger := logging.From(ctx)
	sim := &Simulation{}
	byName := make(map[string]*agent.Agent, len(sc.Agents))

	for _, spec := range sc.Agents {
		a, err := agent.New(spec.Persona,
			agent.WithEpisodic(memory.NewEpisodic(input.Episodic...)),
			agent.WithSemantic(memory.NewSemantic(input.Embedder)),
		)
		if err != nil {
			return nil, err
		}

		for _, path := range spec.Documents {
			if err := ingest(ctx, a.Semantic(), input.WebReader, path); err != nil {
				return nil, goerr.Wrap(err, "failed to load documents", goerr.V("agent", a.Name()))
			}
		}
		for _, goal := range spec.Goals {
			if err := a.InternalizeGoal(goal); err != nil {
				return nil, err
			}
		}
		for _, thought := range spec.Thoughts {
			if err := a.Think(thought); err != nil {
				return nil, err
			}
		}

		logger.Debug("agent built", "agent", a.Name(), "documents", a.Semantic().Count())
		sim.Agents = append(sim.Agents, a)
		byName[a.Name()] = a
	}

	for _, spec := range sc.Worlds {
		w, err := buildWorld(spec, byName, input)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build world", goerr.V("world", spec.Name))
		}
		sim.Worlds = append(sim.Worlds, w)
	}
	return sim, nil
}

func ingest(ctx context.Context, sem *memory.Semantic, reader *memory.WebReader, path string) error {
	if memory.IsURL(path) {
		return sem.IngestURL(ctx, reader, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return goerr.Wrap(err, "document not found", goerr.V("path", path))
	}
	if info.IsDir() {
		_, err := sem.IngestFolder(ctx, path)
		return err
	}
	return sem.IngestFile(ctx, path)
}

func buildWorld(spec WorldSpec, agents map[string]*agent.Agent, input BuildInput) (*world.World, error) {
	opts := []world.Option{
		world.WithTools(input.Tools),
		world.WithMetrics(input.Metrics),
	}
	if spec.StartTime != nil {
		opts = append(opts, world.WithStartTime(*spec.StartTime))
	}
	if spec.TimeDelta != "" {
		d, err := time.ParseDuration(spec.TimeDelta)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid time_delta")
		}
		opts = append(opts, world.WithTimeDelta(d))
	}
	if spec.BroadcastIfNoTarget != nil {
		opts = append(opts, world.WithBroadcastIfNoTarget(*spec.BroadcastIfNoTarget))
	}

	w := world.New(spec.Name, input.Actor, opts...)
	for _, name := range spec.Agents {
		if err := w.AddAgent(agents[name]); err != nil {
			return nil, err
		}
	}

	if spec.EveryoneAccessible {
		w.MakeEveryoneAccessible()
	}
	for _, e := range spec.Accessibility {
		if err := w.MakeAccessible(e.From, e.To); err != nil {
			return nil, err
		}
		if e.Mutual {
			if err := w.MakeAccessible(e.To, e.From); err != nil {
				return nil, err
			}
		}
	}

	if len(spec.Context) > 0 {
		w.BroadcastContextChange(spec.Context)
	}
	for _, b := range spec.Broadcasts {
		if err := w.Broadcast(b, ""); err != nil {
			return nil, err
		}
	}
	for _, s := range spec.Stimuli {
		if err := w.Deliver(s.stimulus()); err != nil {
			return nil, err
		}
	}
	return w, nil
}
