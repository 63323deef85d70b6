package model

import (
	"github.com/m-mizutani/goerr/v2"
)

type StimulusKind string

const (
	StimulusConversation StimulusKind = "CONVERSATION"
	StimulusSocial       StimulusKind = "SOCIAL"
	StimulusVisual       StimulusKind = "VISUAL"
	StimulusThought      StimulusKind = "THOUGHT"
	StimulusInternalGoal StimulusKind = "INTERNAL_GOAL_FORMULATION"
	StimulusToolResult   StimulusKind = "TOOL_RESULT"
)

// Validate rejects kinds outside the closed set.
func (k StimulusKind) Validate() error {
	switch k {
	case StimulusConversation, StimulusSocial, StimulusVisual, StimulusThought, StimulusInternalGoal, StimulusToolResult:
		return nil
	default:
		return goerr.Wrap(ErrInvalidStimulus, "unknown stimulus kind", goerr.V("kind", k))
	}
}

// Stimulus is an input event delivered to an agent. Source is empty when the
// stimulus originates from the user or the environment.
type Stimulus struct {
	Kind    StimulusKind `json:"kind"`
	Source  string       `json:"source,omitempty"`
	Target  string       `json:"target,omitempty"`
	Content string       `json:"content"`
}

// Validate checks kind and payload.
func (s Stimulus) Validate() error {
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if s.Content == "" {
		return goerr.Wrap(ErrInvalidStimulus, "content is empty", goerr.V("kind", s.Kind))
	}
	return nil
}
