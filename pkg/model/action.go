package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type ActionKind string

const (
	ActionTalk          ActionKind = "TALK"
	ActionThink         ActionKind = "THINK"
	ActionDone          ActionKind = "DONE"
	ActionReachOut      ActionKind = "REACH_OUT"
	ActionRecall        ActionKind = "RECALL"
	ActionConsult       ActionKind = "CONSULT"
	ActionListDocuments ActionKind = "LIST_DOCUMENTS"
	ActionUseTool       ActionKind = "USE_TOOL"
)

// ActionKinds lists every valid kind in prompt order.
var ActionKinds = []ActionKind{
	ActionTalk,
	ActionThink,
	ActionReachOut,
	ActionRecall,
	ActionConsult,
	ActionListDocuments,
	ActionUseTool,
	ActionDone,
}

// ParseActionKind normalizes case and surrounding spaces and rejects unknown
// kinds.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ToUpper(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k ActionKind) Validate() error {
	for _, v := range ActionKinds {
		if k == v {
			return nil
		}
	}
	return goerr.Wrap(ErrInvalidAction, "unknown action kind", goerr.V("kind", k))
}

// ToolCall is the payload of a USE_TOOL action.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Action is a single decision produced by the cognitive loop. An empty
// Target means the action is not directed at anyone in particular.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Content string     `json:"content,omitempty"`
	Target  string     `json:"target,omitempty"`
	Tool    *ToolCall  `json:"tool,omitempty"`
}

// Validate checks the kind and the payload each kind requires.
func (a Action) Validate() error {
	if err := a.Kind.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case ActionTalk, ActionThink, ActionRecall, ActionConsult:
		if strings.TrimSpace(a.Content) == "" {
			return goerr.Wrap(ErrInvalidAction, "content is required", goerr.V("kind", a.Kind))
		}
	case ActionReachOut:
		if a.Target == "" {
			return goerr.Wrap(ErrInvalidAction, "target is required", goerr.V("kind", a.Kind))
		}
	case ActionUseTool:
		if a.Tool == nil || a.Tool.Name == "" {
			return goerr.Wrap(ErrInvalidAction, "tool name is required", goerr.V("kind", a.Kind))
		}
	}
	return nil
}

// Equal reports whether two actions carry the same kind, payload and target.
func (a Action) Equal(b Action) bool {
	if a.Kind != b.Kind || a.Content != b.Content || a.Target != b.Target {
		return false
	}
	if (a.Tool == nil) != (b.Tool == nil) {
		return false
	}
	return a.Tool == nil || a.Tool.Name == b.Tool.Name
}

// CognitiveState is the self-reported mental state attached to each decision.
type CognitiveState struct {
	Goals     []string `json:"goals,omitempty"`
	Attention string   `json:"attention,omitempty"`
	Emotions  string   `json:"emotions,omitempty"`
}
