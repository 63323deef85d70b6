package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
)

const (
	DefaultMaxActions        = 15
	DefaultMaxDecodeAttempts = 5
	DefaultRecallTopK        = 5
	DefaultConsultMaxChars   = 10000
	DefaultRepetitionWindow  = 3
)

// Config bounds a single act call.
type Config struct {
	MaxActions        int
	MaxDecodeAttempts int
	// RecallTopK is the number of documents returned by RECALL.
	RecallTopK int
	// ContextTopK adds that many documents relevant to the latest stimulus
	// to every request. Zero disables it.
	ContextTopK      int
	ConsultMaxChars  int
	RepetitionWindow int
	Params           llm.Params
}

func DefaultConfig() Config {
	return Config{
		MaxActions:        DefaultMaxActions,
		MaxDecodeAttempts: DefaultMaxDecodeAttempts,
		RecallTopK:        DefaultRecallTopK,
		ConsultMaxChars:   DefaultConsultMaxChars,
		RepetitionWindow:  DefaultRepetitionWindow,
		Params: llm.Params{
			Temperature: 1.0,
			JSONOutput:  true,
		},
	}
}

type TruncationReason string

const (
	TruncationNone       TruncationReason = ""
	TruncationMaxActions TruncationReason = "max_actions"
	TruncationRepetition TruncationReason = "repetition"
)

// ActResult is the outcome of one act call. Truncation is not an error.
type ActResult struct {
	Actions   []model.Action
	Truncated bool
	Reason    TruncationReason
}

// Loop drives the perceive, decide and act cycle of agents.
type Loop struct {
	gateway llm.Gateway
	cfg     Config
	tools   *tool.Registry
	metrics *metrics.Recorder
}

type LoopOption func(*Loop)

// WithConfig replaces the loop configuration. Non-positive bounds fall back
// to their defaults.
func WithConfig(cfg Config) LoopOption {
	return func(l *Loop) {
		def := DefaultConfig()
		if cfg.MaxActions <= 0 {
			cfg.MaxActions = def.MaxActions
		}
		if cfg.MaxDecodeAttempts <= 0 {
			cfg.MaxDecodeAttempts = def.MaxDecodeAttempts
		}
		if cfg.RecallTopK <= 0 {
			cfg.RecallTopK = def.RecallTopK
		}
		if cfg.ConsultMaxChars <= 0 {
			cfg.ConsultMaxChars = def.ConsultMaxChars
		}
		if cfg.RepetitionWindow <= 0 {
			cfg.RepetitionWindow = def.RepetitionWindow
		}
		l.cfg = cfg
	}
}

// WithTools exposes a tool registry to agents through USE_TOOL and the
// system prompt.
func WithTools(r *tool.Registry) LoopOption {
	return func(l *Loop) {
		l.tools = r
	}
}

func WithMetrics(m *metrics.Recorder) LoopOption {
	return func(l *Loop) {
		l.metrics = m
	}
}

func NewLoop(gateway llm.Gateway, opts ...LoopOption) *Loop {
	l := &Loop{
		gateway: gateway,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Config() Config {
	return l.cfg
}

func (l *Loop) Tools() *tool.Registry {
	return l.tools
}

// Act runs the cognitive loop of a until it emits DONE or a truncation bound
// is hit. stimulus may be nil. On error the actions produced so far are kept
// in memory and returned along with the error.
func (l *Loop) Act(ctx context.Context, a *Agent, stimulus *model.Stimulus) (*ActResult, error) {
	ctx, logger := logging.WithAttrs(ctx, "agent", a.Name())

	if stimulus != nil {
		if err := a.Observe(*stimulus); err != nil {
			return nil, err
		}
	}

	result := &ActResult{}
	for len(result.Actions) < l.cfg.MaxActions {
		action, cs, err := l.decide(ctx, a)
		if err != nil {
			return result, err
		}

		a.episodic.Store(model.MemoryRecord{
			Role:           model.MemoryRoleAction,
			Action:         action,
			CognitiveState: cs,
			SimulationTime: a.SimulationTime(),
		})
		a.updateCognitiveState(*cs)
		result.Actions = append(result.Actions, *action)
		l.metrics.Action(string(action.Kind))
		logger.Debug("action", "kind", action.Kind, "target", action.Target, "content", action.Content)

		if err := l.applyFaculty(ctx, a, *action); err != nil {
			return result, err
		}

		if action.Kind == model.ActionDone {
			return result, nil
		}
		if repeated(result.Actions, l.cfg.RepetitionWindow) {
			result.Truncated = true
			result.Reason = TruncationRepetition
			break
		}
	}

	if !result.Truncated {
		result.Truncated = true
		result.Reason = TruncationMaxActions
	}
	l.metrics.Truncation(string(result.Reason))
	logger.Warn("act truncated", "reason", result.Reason, "actions", len(result.Actions))
	return result, nil
}

// decide asks the gateway for the next action, retrying undecodable
// responses.
func (l *Loop) decide(ctx context.Context, a *Agent) (*model.Action, *model.CognitiveState, error) {
	messages, err := l.buildMessages(ctx, a)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= l.cfg.MaxDecodeAttempts; attempt++ {
		resp, err := l.gateway.Complete(ctx, messages, l.cfg.Params)
		if err != nil {
			if errors.Is(err, model.ErrGateway) {
				return nil, nil, err
			}
			return nil, nil, goerr.Wrap(model.ErrGateway, "completion failed", goerr.V("agent", a.Name()), goerr.V("error", err.Error()))
		}

		action, cs, err := decodeDecision(resp)
		if err == nil {
			return action, cs, nil
		}
		lastErr = err
		logging.From(ctx).Warn("undecodable response", "agent", a.Name(), "attempt", attempt, "error", err)

		// A different message list changes the cache key, so a retry is a
		// new request rather than a replay of the bad one.
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "Your previous response could not be used. Respond with a valid JSON object in the required format only.",
		})
	}

	return nil, nil, goerr.Wrap(lastErr, "giving up decoding", goerr.V("agent", a.Name()), goerr.V("attempts", l.cfg.MaxDecodeAttempts))
}

// applyFaculty runs the memory faculties triggered by an action and stores
// their outcome as a thought.
func (l *Loop) applyFaculty(ctx context.Context, a *Agent, action model.Action) error {
	var thought string

	switch action.Kind {
	case model.ActionRecall:
		matches, err := a.semantic.RetrieveRelevant(ctx, action.Content, l.cfg.RecallTopK)
		if err != nil {
			return goerr.Wrap(err, "recall failed", goerr.V("agent", a.Name()))
		}
		if len(matches) == 0 {
			thought = fmt.Sprintf("I could not remember anything relevant to %q.", action.Content)
			break
		}
		var b strings.Builder
		fmt.Fprintf(&b, "I remember the following information relevant to %q:\n", action.Content)
		for _, m := range matches {
			fmt.Fprintf(&b, "\n## %s\n%s\n", m.Document.Name, truncate(m.Document.Text, l.cfg.ConsultMaxChars))
		}
		thought = b.String()

	case model.ActionConsult:
		doc, ok := a.semantic.DocumentByName(strings.TrimSpace(action.Content))
		if !ok {
			thought = fmt.Sprintf("I could not find a document named %q.", action.Content)
			break
		}
		thought = fmt.Sprintf("I have read the document %q:\n\n%s", doc.Name, truncate(doc.Text, l.cfg.ConsultMaxChars))

	case model.ActionListDocuments:
		names := a.semantic.ListDocumentNames()
		if len(names) == 0 {
			thought = "I do not know any documents."
			break
		}
		thought = "I know the following documents:\n- " + strings.Join(names, "\n- ")

	default:
		return nil
	}

	return a.Think(thought)
}

// repeated reports whether the last n actions are identical.
func repeated(actions []model.Action, n int) bool {
	if n < 2 || len(actions) < n {
		return false
	}
	last := actions[len(actions)-1]
	for _, act := range actions[len(actions)-n : len(actions)-1] {
		if !act.Equal(last) {
			return false
		}
	}
	return true
}

// ListenAndAct delivers a conversation stimulus and acts on it.
func (l *Loop) ListenAndAct(ctx context.Context, a *Agent, content, source string) (*ActResult, error) {
	return l.Act(ctx, a, &model.Stimulus{Kind: model.StimulusConversation, Source: source, Content: content})
}

// SeeAndAct delivers a visual stimulus and acts on it.
func (l *Loop) SeeAndAct(ctx context.Context, a *Agent, description string) (*ActResult, error) {
	return l.Act(ctx, a, &model.Stimulus{Kind: model.StimulusVisual, Content: description})
}

// ThinkAndAct injects a thought and acts on it.
func (l *Loop) ThinkAndAct(ctx context.Context, a *Agent, thought string) (*ActResult, error) {
	return l.Act(ctx, a, &model.Stimulus{Kind: model.StimulusThought, Source: a.Name(), Content: thought})
}
