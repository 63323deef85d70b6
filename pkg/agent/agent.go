package agent

import (
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/model"
)

// Agent is a simulated persona with its own memories. It is not safe for
// concurrent use; a world drives its agents one at a time.
type Agent struct {
	persona    *model.Persona
	episodic   *memory.Episodic
	semantic   *memory.Semantic
	accessible []string
	now        *time.Time
}

type Option func(*Agent)

func WithEpisodic(e *memory.Episodic) Option {
	return func(a *Agent) {
		a.episodic = e
	}
}

func WithSemantic(s *memory.Semantic) Option {
	return func(a *Agent) {
		a.semantic = s
	}
}

// New creates an agent from a validated persona. The persona is copied.
func New(persona *model.Persona, opts ...Option) (*Agent, error) {
	if err := persona.Validate(); err != nil {
		return nil, err
	}
	p := persona.Clone()
	if p.CurrentEmotions == "" {
		p.CurrentEmotions = model.DefaultEmotions
	}

	a := &Agent{persona: p}
	for _, opt := range opts {
		opt(a)
	}
	if a.episodic == nil {
		a.episodic = memory.NewEpisodic()
	}
	if a.semantic == nil {
		a.semantic = memory.NewSemantic(nil)
	}
	return a, nil
}

func (a *Agent) Name() string {
	return a.persona.Name
}

// Persona returns the live configuration for administrative updates.
func (a *Agent) Persona() *model.Persona {
	return a.persona
}

func (a *Agent) Episodic() *memory.Episodic {
	return a.episodic
}

func (a *Agent) Semantic() *memory.Semantic {
	return a.semantic
}

// SetSimulationTime sets the clock stamped on new memory records. A zero
// time clears it.
func (a *Agent) SetSimulationTime(t time.Time) {
	if t.IsZero() {
		a.now = nil
		a.persona.CurrentDatetime = ""
		return
	}
	tt := t
	a.now = &tt
	a.persona.CurrentDatetime = t.Format(time.RFC3339)
}

func (a *Agent) SimulationTime() *time.Time {
	if a.now == nil {
		return nil
	}
	t := *a.now
	return &t
}

// Observe stores a stimulus in episodic memory. THOUGHT stimuli are stored
// with the thought role.
func (a *Agent) Observe(s model.Stimulus) error {
	if err := s.Validate(); err != nil {
		return goerr.Wrap(err, "cannot observe stimulus", goerr.V("agent", a.Name()))
	}
	role := model.MemoryRoleStimulus
	if s.Kind == model.StimulusThought {
		role = model.MemoryRoleThought
	}
	if s.Target == "" {
		s.Target = a.Name()
	}
	a.episodic.Store(model.MemoryRecord{
		Role:           role,
		Stimulus:       &s,
		SimulationTime: a.SimulationTime(),
	})
	return nil
}

// Listen stores a conversation stimulus. source may be empty for the user.
func (a *Agent) Listen(content, source string) error {
	return a.Observe(model.Stimulus{Kind: model.StimulusConversation, Source: source, Content: content})
}

// See stores a visual perception.
func (a *Agent) See(description string) error {
	return a.Observe(model.Stimulus{Kind: model.StimulusVisual, Content: description})
}

// Think injects a thought as if the agent had it.
func (a *Agent) Think(thought string) error {
	return a.Observe(model.Stimulus{Kind: model.StimulusThought, Source: a.Name(), Content: thought})
}

// Socialize stores a social perception such as someone approaching.
func (a *Agent) Socialize(content, source string) error {
	return a.Observe(model.Stimulus{Kind: model.StimulusSocial, Source: source, Content: content})
}

// InternalizeGoal stores a goal the agent should pursue.
func (a *Agent) InternalizeGoal(goal string) error {
	return a.Observe(model.Stimulus{Kind: model.StimulusInternalGoal, Content: goal})
}

// MoveTo changes the location and optionally the situational context.
func (a *Agent) MoveTo(location string, context ...string) {
	a.persona.CurrentLocation = location
	if len(context) > 0 {
		a.ChangeContext(context)
	}
}

func (a *Agent) ChangeContext(context []string) {
	a.persona.CurrentContext = append([]string(nil), context...)
}

// RelatedTo records a relationship on this agent and, when symmetric is not
// empty, the reverse relationship on other.
func (a *Agent) RelatedTo(other *Agent, description, symmetric string) error {
	if err := a.persona.DefineRelationships([]model.Relationship{{Name: other.Name(), Description: description}}, false); err != nil {
		return err
	}
	if symmetric != "" {
		return other.persona.DefineRelationships([]model.Relationship{{Name: a.Name(), Description: symmetric}}, false)
	}
	return nil
}

// Accessible returns the names this agent may currently address, in the
// order access was granted.
func (a *Agent) Accessible() []string {
	return slices.Clone(a.accessible)
}

func (a *Agent) IsAccessible(name string) bool {
	return slices.Contains(a.accessible, name)
}

func (a *Agent) makeAccessible(name string) bool {
	if name == a.Name() || a.IsAccessible(name) {
		return false
	}
	a.accessible = append(a.accessible, name)
	return true
}

func (a *Agent) makeInaccessible(name string) {
	a.accessible = slices.DeleteFunc(a.accessible, func(s string) bool { return s == name })
}

func (a *Agent) makeAllInaccessible() {
	a.accessible = nil
}

// MakeAccessible lets this agent address name. Self access is ignored.
func (a *Agent) MakeAccessible(name string) {
	a.makeAccessible(name)
}

func (a *Agent) MakeInaccessible(name string) {
	a.makeInaccessible(name)
}

func (a *Agent) MakeAllInaccessible() {
	a.makeAllInaccessible()
}

// updateCognitiveState applies the self-reported state of a decision.
func (a *Agent) updateCognitiveState(cs model.CognitiveState) {
	if len(cs.Goals) > 0 {
		a.persona.CurrentGoals = append([]string(nil), cs.Goals...)
	}
	if cs.Attention != "" {
		a.persona.CurrentAttention = cs.Attention
	}
	if cs.Emotions != "" {
		a.persona.CurrentEmotions = cs.Emotions
	}
}
