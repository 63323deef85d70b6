package agent

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/tool"
	"gopkg.in/yaml.v3"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// nextActionInstruction closes every request so the last turn is always the
// user's.
const nextActionInstruction = "Now decide your next action. Respond with the JSON object only."

type accessibleEntry struct {
	Name        string
	Description string
}

func (l *Loop) systemPrompt(ctx context.Context, a *Agent) (string, error) {
	persona, err := yaml.Marshal(a.persona)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal persona", goerr.V("agent", a.Name()))
	}

	relations := make(map[string]string, len(a.persona.Relationships))
	for _, r := range a.persona.Relationships {
		relations[r.Name] = r.Description
	}
	var accessible []accessibleEntry
	for _, name := range a.accessible {
		accessible = append(accessible, accessibleEntry{Name: name, Description: relations[name]})
	}

	var tools []tool.Description
	var toolPrompts string
	if l.tools != nil {
		tools = l.tools.Describe()
		toolPrompts = l.tools.Prompts(ctx)
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"Persona":     string(persona),
		"Accessible":  accessible,
		"Documents":   a.semantic.ListDocumentNames(),
		"Tools":       tools,
		"ToolPrompts": toolPrompts,
		"MaxActions":  l.cfg.MaxActions,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}

// buildMessages renders the system prompt, the bounded episodic view and,
// when enabled, documents relevant to the latest stimulus.
func (l *Loop) buildMessages(ctx context.Context, a *Agent) ([]llm.Message, error) {
	system, err := l.systemPrompt(ctx, a)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	view := a.episodic.RetrieveRecent()

	if l.cfg.ContextTopK > 0 && a.semantic.Count() > 0 {
		if query := latestStimulusContent(view); query != "" {
			matches, err := a.semantic.RetrieveRelevant(ctx, query, l.cfg.ContextTopK)
			if err != nil {
				return nil, err
			}
			if len(matches) > 0 {
				var b strings.Builder
				b.WriteString("Relevant information from your documents:\n")
				for _, m := range matches {
					fmt.Fprintf(&b, "\n## %s\n%s\n", m.Document.Name, truncate(m.Document.Text, l.cfg.ConsultMaxChars))
				}
				messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.String()})
			}
		}
	}

	for _, rec := range view {
		msg, err := renderRecord(rec)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: nextActionInstruction})
	return messages, nil
}

func latestStimulusContent(view []model.MemoryRecord) string {
	for i := len(view) - 1; i >= 0; i-- {
		if view[i].Role == model.MemoryRoleStimulus && view[i].Stimulus != nil {
			return view[i].Stimulus.Content
		}
	}
	return ""
}

type stimulusView struct {
	Type    model.StimulusKind `json:"type"`
	Source  string             `json:"source,omitempty"`
	Content string             `json:"content"`
}

// renderRecord converts one memory record to a chat message. Actions are
// rendered in the same JSON shape the model is asked to produce.
func renderRecord(rec model.MemoryRecord) (llm.Message, error) {
	var v any
	role := llm.RoleUser

	switch rec.Role {
	case model.MemoryRoleAction:
		if rec.Action == nil {
			return llm.Message{}, goerr.New("action record without action")
		}
		d := decision{
			Action: decisionAction{
				Type:    string(rec.Action.Kind),
				Content: rec.Action.Content,
				Target:  rec.Action.Target,
			},
		}
		if rec.Action.Tool != nil {
			d.Action.Tool = rec.Action.Tool.Name
			d.Action.Args = rec.Action.Tool.Args
		}
		if rec.CognitiveState != nil {
			d.CognitiveState = *rec.CognitiveState
		}
		v = d
		role = llm.RoleAssistant

	case model.MemoryRoleStimulus, model.MemoryRoleThought:
		if rec.Stimulus == nil {
			return llm.Message{}, goerr.New("stimulus record without stimulus")
		}
		v = map[string]any{"stimuli": []stimulusView{{
			Type:    rec.Stimulus.Kind,
			Source:  rec.Stimulus.Source,
			Content: rec.Stimulus.Content,
		}}}

	case model.MemoryRoleOmission:
		return llm.Message{Role: llm.RoleUser, Content: "(" + rec.Note + ")"}, nil

	default:
		return llm.Message{}, goerr.New("unknown memory role", goerr.V("role", rec.Role))
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return llm.Message{}, goerr.Wrap(err, "failed to marshal memory record")
	}
	return llm.Message{Role: role, Content: string(raw)}, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
