package world

import (
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/model"
)

// State is the serializable snapshot of a world. Agent state, including
// accessibility, is snapshotted per agent.
type State struct {
	Name                string                      `json:"name"`
	Agents              []string                    `json:"agents"`
	Step                int                         `json:"step"`
	CurrentTime         *time.Time                  `json:"current_time,omitempty"`
	TimeDelta           time.Duration               `json:"time_delta,omitempty"`
	BroadcastIfNoTarget bool                        `json:"broadcast_if_no_target"`
	Pending             map[string][]model.Stimulus `json:"pending,omitempty"`
}

func (w *World) Snapshot() State {
	s := State{
		Name:                w.name,
		Agents:              make([]string, 0, len(w.agents)),
		Step:                w.step,
		CurrentTime:         w.CurrentTime(),
		TimeDelta:           w.timeDelta,
		BroadcastIfNoTarget: w.broadcastIfNoTarget,
	}
	for _, a := range w.agents {
		s.Agents = append(s.Agents, a.Name())
	}
	for name, stimuli := range w.pending {
		if len(stimuli) == 0 {
			continue
		}
		if s.Pending == nil {
			s.Pending = make(map[string][]model.Stimulus)
		}
		s.Pending[name] = slices.Clone(stimuli)
	}
	return s
}

// Restore replaces the world state with s. Members are looked up by name
// with resolve, or among current members when resolve is nil. The world is
// left untouched on error.
func (w *World) Restore(s State, resolve func(name string) (*agent.Agent, bool)) error {
	if s.Name != w.name {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "snapshot belongs to another world",
			goerr.V("world", w.name), goerr.V("snapshot", s.Name))
	}
	if s.Step < 0 {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "negative step", goerr.V("world", w.name), goerr.V("step", s.Step))
	}
	if resolve == nil {
		resolve = func(name string) (*agent.Agent, bool) {
			i := w.index(name)
			if i < 0 {
				return nil, false
			}
			return w.agents[i], true
		}
	}

	agents := make([]*agent.Agent, 0, len(s.Agents))
	for _, name := range s.Agents {
		a, ok := resolve(name)
		if !ok {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "unknown agent in world snapshot",
				goerr.V("world", w.name), goerr.V("agent", name))
		}
		if slices.Contains(agents, a) {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "duplicate agent in world snapshot",
				goerr.V("world", w.name), goerr.V("agent", name))
		}
		agents = append(agents, a)
	}

	pending := make(map[string][]model.Stimulus, len(s.Pending))
	for name, stimuli := range s.Pending {
		if !slices.Contains(s.Agents, name) {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "pending stimuli for non member",
				goerr.V("world", w.name), goerr.V("agent", name))
		}
		for _, st := range stimuli {
			if err := st.Validate(); err != nil {
				return goerr.Wrap(model.ErrSnapshotCorrupted, "invalid pending stimulus",
					goerr.V("world", w.name), goerr.V("agent", name), goerr.V("error", err.Error()))
			}
		}
		pending[name] = slices.Clone(stimuli)
	}

	w.agents = agents
	w.pending = pending
	w.step = s.Step
	w.currentTime = nil
	if s.CurrentTime != nil {
		t := *s.CurrentTime
		w.currentTime = &t
	}
	w.timeDelta = s.TimeDelta
	w.broadcastIfNoTarget = s.BroadcastIfNoTarget
	return nil
}
