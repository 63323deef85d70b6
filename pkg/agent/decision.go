package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

type decisionAction struct {
	Type    string         `json:"type" jsonschema:"one of the action types"`
	Content string         `json:"content,omitempty"`
	Target  string         `json:"target,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// decision is the document the model returns at each turn.
type decision struct {
	Action         decisionAction       `json:"action"`
	CognitiveState model.CognitiveState `json:"cognitive_state,omitempty"`
}

var decisionSchema = mustResolveDecisionSchema()

func mustResolveDecisionSchema() *jsonschema.Resolved {
	schema, err := jsonschema.For[decision](nil)
	if err != nil {
		panic(err)
	}
	// Extra keys such as a model's own commentary are ignored, not rejected.
	schema.AdditionalProperties = nil
	for _, prop := range schema.Properties {
		prop.AdditionalProperties = nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}

// decodeDecision parses and validates one model response. Every failure is
// model.ErrDecode.
func decodeDecision(raw string) (*model.Action, *model.CognitiveState, error) {
	text := stripCodeFence(raw)

	var instance map[string]any
	if err := json.Unmarshal([]byte(text), &instance); err != nil {
		return nil, nil, goerr.Wrap(model.ErrDecode, "response is not a JSON object", goerr.V("error", err.Error()), goerr.V("response", raw))
	}
	if err := decisionSchema.Validate(instance); err != nil {
		return nil, nil, goerr.Wrap(model.ErrDecode, "response does not match schema", goerr.V("error", err.Error()), goerr.V("response", raw))
	}

	var d decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, nil, goerr.Wrap(model.ErrDecode, "failed to unmarshal decision", goerr.V("error", err.Error()))
	}

	kind, err := model.ParseActionKind(d.Action.Type)
	if err != nil {
		return nil, nil, goerr.Wrap(model.ErrDecode, "unknown action type", goerr.V("type", d.Action.Type))
	}

	action := &model.Action{
		Kind:    kind,
		Content: d.Action.Content,
		Target:  strings.TrimSpace(d.Action.Target),
	}
	if kind == model.ActionUseTool {
		action.Tool = &model.ToolCall{Name: d.Action.Tool, Args: d.Action.Args}
	}
	if err := action.Validate(); err != nil {
		return nil, nil, goerr.Wrap(model.ErrDecode, "invalid action", goerr.V("error", err.Error()))
	}

	return action, &d.CognitiveState, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
