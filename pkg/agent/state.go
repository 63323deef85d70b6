package agent

import (
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/model"
)

// State is the serializable snapshot of an agent.
type State struct {
	Persona        *model.Persona          `json:"persona"`
	Episodic       memory.EpisodicSnapshot `json:"episodic"`
	Semantic       memory.SemanticSnapshot `json:"semantic"`
	Accessible     []string                `json:"accessible,omitempty"`
	SimulationTime *time.Time              `json:"simulation_time,omitempty"`
}

func (a *Agent) Snapshot() State {
	return State{
		Persona:        a.persona.Clone(),
		Episodic:       a.episodic.Snapshot(),
		Semantic:       a.semantic.Snapshot(),
		Accessible:     slices.Clone(a.accessible),
		SimulationTime: a.SimulationTime(),
	}
}

// Restore replaces the agent state with s. The agent is left untouched when
// s is invalid or belongs to another agent.
func (a *Agent) Restore(s State) error {
	if s.Persona == nil {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "persona is missing", goerr.V("agent", a.Name()))
	}
	if s.Persona.Name != a.Name() {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "snapshot belongs to another agent",
			goerr.V("agent", a.Name()), goerr.V("snapshot", s.Persona.Name))
	}
	if err := s.Persona.Validate(); err != nil {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "invalid persona", goerr.V("agent", a.Name()), goerr.V("error", err.Error()))
	}

	// Validate both memories on scratch stores before touching the live ones,
	// which keep their configured embedder.
	if err := memory.NewEpisodic().Restore(s.Episodic); err != nil {
		return err
	}
	if err := memory.NewSemantic(nil).Restore(s.Semantic); err != nil {
		return err
	}
	if err := a.episodic.Restore(s.Episodic); err != nil {
		return err
	}
	if err := a.semantic.Restore(s.Semantic); err != nil {
		return err
	}

	a.persona = s.Persona.Clone()
	a.accessible = slices.Clone(s.Accessible)
	a.now = nil
	if s.SimulationTime != nil {
		t := *s.SimulationTime
		a.now = &t
	}
	return nil
}
