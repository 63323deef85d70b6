// Package scenario loads simulation setups from YAML files: personas, their
// documents, worlds, accessibility and the stimuli that start a run.
package scenario

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/model"
	"gopkg.in/yaml.v3"
)

type Scenario struct {
	Name   string      `yaml:"name"`
	Steps  int         `yaml:"steps"`
	Agents []AgentSpec `yaml:"agents"`
	Worlds []WorldSpec `yaml:"worlds"`
}

// AgentSpec defines one agent either inline or by a persona file. Inline
// fields override the file.
type AgentSpec struct {
	// Persona is resolved by Parse from PersonaFile and the inline persona.
	Persona     *model.Persona `yaml:"-"`
	Inline      yaml.Node      `yaml:"persona"`
	PersonaFile string         `yaml:"persona_file"`
	// Documents are files, folders or web pages ingested into semantic
	// memory.
	Documents []string `yaml:"documents"`
	Goals     []string `yaml:"goals"`
	Thoughts  []string `yaml:"thoughts"`
}

type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	// Mutual also grants the reverse edge.
	Mutual bool `yaml:"mutual"`
}

type StimulusSpec struct {
	Kind    model.StimulusKind `yaml:"kind"`
	Source  string             `yaml:"source"`
	Target  string             `yaml:"target"`
	Content string             `yaml:"content"`
}

type WorldSpec struct {
	Name                string         `yaml:"name"`
	Agents              []string       `yaml:"agents"`
	StartTime           *time.Time     `yaml:"start_time"`
	TimeDelta           string         `yaml:"time_delta"`
	BroadcastIfNoTarget *bool          `yaml:"broadcast_if_no_target"`
	EveryoneAccessible  bool           `yaml:"everyone_accessible"`
	Accessibility       []Edge         `yaml:"accessibility"`
	Context             []string       `yaml:"context"`
	Broadcasts          []string       `yaml:"broadcasts"`
	Stimuli             []StimulusSpec `yaml:"stimuli"`
}

// Load reads and validates a scenario file. Relative paths inside it are
// resolved against the file's directory.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read scenario", goerr.V("path", path))
	}
	sc, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid scenario", goerr.V("path", path))
	}
	return sc, nil
}

// Parse decodes a scenario. Unknown keys are rejected.
func Parse(data []byte, baseDir string) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode scenario")
	}

	for i := range sc.Agents {
		spec := &sc.Agents[i]
		p := &model.Persona{}
		if spec.PersonaFile != "" {
			data, err := os.ReadFile(resolve(baseDir, spec.PersonaFile))
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read persona", goerr.V("path", spec.PersonaFile))
			}
			if err := yaml.Unmarshal(data, p); err != nil {
				return nil, goerr.Wrap(err, "failed to decode persona", goerr.V("path", spec.PersonaFile))
			}
		}
		if spec.Inline.Kind != 0 {
			// decoding onto p keeps fields the inline persona does not set
			if err := spec.Inline.Decode(p); err != nil {
				return nil, goerr.Wrap(err, "failed to decode inline persona", goerr.V("index", i))
			}
		}
		spec.Persona = p
		for j, doc := range spec.Documents {
			spec.Documents[j] = resolve(baseDir, doc)
		}
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" || memory.IsURL(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate checks names and references.
func (sc *Scenario) Validate() error {
	if sc.Steps < 0 {
		return goerr.New("steps must not be negative", goerr.V("steps", sc.Steps))
	}

	var agents []string
	for i, spec := range sc.Agents {
		if spec.Persona == nil {
			return goerr.New("agent has no persona", goerr.V("index", i))
		}
		if err := spec.Persona.Validate(); err != nil {
			return goerr.Wrap(err, "invalid persona", goerr.V("index", i))
		}
		if slices.Contains(agents, spec.Persona.Name) {
			return goerr.Wrap(model.ErrDuplicateName, "agent defined twice", goerr.V("agent", spec.Persona.Name))
		}
		agents = append(agents, spec.Persona.Name)
	}

	var worlds []string
	for _, w := range sc.Worlds {
		if w.Name == "" {
			return goerr.New("world name is required")
		}
		if slices.Contains(worlds, w.Name) {
			return goerr.Wrap(model.ErrDuplicateName, "world defined twice", goerr.V("world", w.Name))
		}
		worlds = append(worlds, w.Name)

		if w.TimeDelta != "" {
			if _, err := time.ParseDuration(w.TimeDelta); err != nil {
				return goerr.Wrap(err, "invalid time_delta", goerr.V("world", w.Name))
			}
		}
		for _, name := range w.Agents {
			if !slices.Contains(agents, name) {
				return goerr.Wrap(model.ErrAgentNotFound, "world member is not defined", goerr.V("world", w.Name), goerr.V("agent", name))
			}
		}
		for _, e := range w.Accessibility {
			if !slices.Contains(w.Agents, e.From) || !slices.Contains(w.Agents, e.To) {
				return goerr.Wrap(model.ErrAgentNotFound, "accessibility refers to non member",
					goerr.V("world", w.Name), goerr.V("from", e.From), goerr.V("to", e.To))
			}
		}
		for _, s := range w.Stimuli {
			st := s.stimulus()
			if err := st.Validate(); err != nil {
				return goerr.Wrap(err, "invalid stimulus", goerr.V("world", w.Name))
			}
			if !slices.Contains(w.Agents, s.Target) {
				return goerr.Wrap(model.ErrAgentNotFound, "stimulus target is not a member",
					goerr.V("world", w.Name), goerr.V("target", s.Target))
			}
		}
	}
	return nil
}

func (s StimulusSpec) stimulus() model.Stimulus {
	kind := s.Kind
	if kind == "" {
		kind = model.StimulusConversation
	}
	return model.Stimulus{Kind: kind, Source: s.Source, Target: s.Target, Content: s.Content}
}
