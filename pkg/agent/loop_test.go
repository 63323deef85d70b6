package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/llm/llmtest"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/tool/document"
)

// recorder captures every message list sent to the gateway.
type recorder struct {
	mu       sync.Mutex
	requests [][]llm.Message
}

func (r *recorder) wrap(f func(context.Context, []llm.Message, llm.Params) (string, error)) func(context.Context, []llm.Message, llm.Params) (string, error) {
	return func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
		r.mu.Lock()
		r.requests = append(r.requests, append([]llm.Message(nil), messages...))
		r.mu.Unlock()
		return f(ctx, messages, params)
	}
}

func TestActStopsOnDone(t *testing.T) {
	gw := &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence(
			llmtest.Decision("TALK", "Hi Oscar", "Oscar"),
			llmtest.Decision("DONE", "", ""),
		),
	}
	lisa := newAgent(t, "Lisa")

	result, err := agent.NewLoop(gw).ListenAndAct(context.Background(), lisa, "Hello", "Oscar")
	gt.NoError(t, err)
	gt.False(t, result.Truncated)
	gt.Equal(t, result.Reason, agent.TruncationNone)
	gt.A(t, result.Actions).Length(2)
	gt.Equal(t, result.Actions[0], model.Action{Kind: model.ActionTalk, Content: "Hi Oscar", Target: "Oscar"})
	gt.Equal(t, result.Actions[1].Kind, model.ActionDone)
	gt.Equal(t, lisa.Episodic().Count(), 3)
	gt.Equal(t, gw.CompleteCalls(), 2)
}

func TestActTruncatesAtMaxActions(t *testing.T) {
	n := 0
	gw := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			n++
			return llmtest.Decision("THINK", fmt.Sprintf("thought %d", n), ""), nil
		},
	}
	cfg := agent.DefaultConfig()
	cfg.MaxActions = 4
	lisa := newAgent(t, "Lisa")

	result, err := agent.NewLoop(gw, agent.WithConfig(cfg)).ThinkAndAct(context.Background(), lisa, "What should I do today?")
	gt.NoError(t, err)
	gt.True(t, result.Truncated)
	gt.Equal(t, result.Reason, agent.TruncationMaxActions)
	gt.A(t, result.Actions).Length(4)
}

func TestActTruncatesOnRepetition(t *testing.T) {
	gw := &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence(
			llmtest.Decision("TALK", "Hi", "Oscar"),
			llmtest.Decision("THINK", "hmm", ""),
		),
	}
	lisa := newAgent(t, "Lisa")

	result, err := agent.NewLoop(gw).SeeAndAct(context.Background(), lisa, "A blank wall")
	gt.NoError(t, err)
	gt.True(t, result.Truncated)
	gt.Equal(t, result.Reason, agent.TruncationRepetition)
	gt.A(t, result.Actions).Length(4)
	gt.Equal(t, result.Actions[3].Content, "hmm")
}

func TestActRetriesUndecodableResponses(t *testing.T) {
	rec := &recorder{}
	gw := &llmtest.Gateway{
		CompleteFunc: rec.wrap(llmtest.Sequence(
			"I think I will say hello",
			`{"action": {"type": "DANCE"}}`,
			`{"action": {"type": "TALK"}}`,
			"```json\n"+llmtest.Decision("DONE", "", "")+"\n```",
		)),
	}
	lisa := newAgent(t, "Lisa")

	result, err := agent.NewLoop(gw).ListenAndAct(context.Background(), lisa, "Hello", "Oscar")
	gt.NoError(t, err)
	gt.A(t, result.Actions).Length(1)
	gt.Equal(t, result.Actions[0].Kind, model.ActionDone)
	gt.Equal(t, gw.CompleteCalls(), 4)

	// each retry carries one more corrective message
	gt.A(t, rec.requests).Length(4)
	for i := 1; i < len(rec.requests); i++ {
		gt.Equal(t, len(rec.requests[i]), len(rec.requests[i-1])+1)
	}
}

func TestActFailsAfterDecodeAttempts(t *testing.T) {
	gw := &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence("not json at all"),
	}
	cfg := agent.DefaultConfig()
	cfg.MaxDecodeAttempts = 2
	lisa := newAgent(t, "Lisa")

	_, err := agent.NewLoop(gw, agent.WithConfig(cfg)).ListenAndAct(context.Background(), lisa, "Hello", "Oscar")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDecode))
	gt.Equal(t, gw.CompleteCalls(), 2)
	// the stimulus stays in memory, no action was stored
	gt.Equal(t, lisa.Episodic().Count(), 1)
}

func TestActSurfacesGatewayError(t *testing.T) {
	gw := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	lisa := newAgent(t, "Lisa")

	_, err := agent.NewLoop(gw).ListenAndAct(context.Background(), lisa, "Hello", "Oscar")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrGateway))
	gt.False(t, errors.Is(err, model.ErrDecode))
	gt.Equal(t, gw.CompleteCalls(), 1)
}

func TestActUpdatesCognitiveState(t *testing.T) {
	gw := &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence(`{
			"action": {"type": "DONE"},
			"cognitive_state": {
				"goals": ["Buy a flat"],
				"attention": "The real estate ad",
				"emotions": "excited"
			}
		}`),
	}
	lisa := newAgent(t, "Lisa")

	_, err := agent.NewLoop(gw).SeeAndAct(context.Background(), lisa, "A real estate ad")
	gt.NoError(t, err)
	gt.Equal(t, lisa.Persona().CurrentGoals, []string{"Buy a flat"})
	gt.Equal(t, lisa.Persona().CurrentAttention, "The real estate ad")
	gt.Equal(t, lisa.Persona().CurrentEmotions, "excited")

	records := lisa.Episodic().RetrieveAll()
	gt.Equal(t, records[1].CognitiveState.Emotions, "excited")
}

func TestContextWindowIsBounded(t *testing.T) {
	rec := &recorder{}
	gw := &llmtest.Gateway{CompleteFunc: rec.wrap(llmtest.Sequence(llmtest.Decision("DONE", "", "")))}
	lisa := newAgent(t, "Lisa", agent.WithEpisodic(memory.NewEpisodic(
		memory.WithFixedPrefixLength(2),
		memory.WithLookbackLength(2),
	)))
	for i := 0; i < 10; i++ {
		gt.NoError(t, lisa.Listen(fmt.Sprintf("message %d", i), "Oscar"))
	}

	_, err := agent.NewLoop(gw).Act(context.Background(), lisa, nil)
	gt.NoError(t, err)

	gt.A(t, rec.requests).Length(1)
	msgs := rec.requests[0]
	// system + 2 prefix + omission + 2 recent + instruction
	gt.A(t, msgs).Length(7)
	gt.Equal(t, msgs[0].Role, llm.RoleSystem)
	gt.S(t, msgs[1].Content).Contains("message 0")
	gt.S(t, msgs[3].Content).Contains("6 older interactions omitted")
	gt.S(t, msgs[5].Content).Contains("message 9")
	gt.Equal(t, msgs[6].Role, llm.RoleUser)
}

func TestPromptsAreDeterministic(t *testing.T) {
	run := func() [][]llm.Message {
		rec := &recorder{}
		gw := &llmtest.Gateway{CompleteFunc: rec.wrap(llmtest.Sequence(
			llmtest.Decision("TALK", "Hi", "Oscar"),
			llmtest.Decision("DONE", "", ""),
		))}
		p := model.NewPersona("Lisa")
		gt.NoError(t, p.Define("occupation", "Data Scientist"))
		gt.NoError(t, p.Define("favorite_food", "ramen"))
		gt.NoError(t, p.Define("pets", []string{"cat", "dog"}))
		lisa, err := agent.New(p)
		gt.NoError(t, err)
		lisa.MakeAccessible("Oscar")

		_, err = agent.NewLoop(gw).ListenAndAct(context.Background(), lisa, "Hello", "Oscar")
		gt.NoError(t, err)
		return rec.requests
	}

	first := run()
	second := run()
	gt.A(t, first).Length(2)
	gt.Equal(t, first, second)
}

func TestSystemPromptDescribesWorld(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	gw := &llmtest.Gateway{CompleteFunc: rec.wrap(llmtest.Sequence(llmtest.Decision("DONE", "", "")))}

	st, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	loop := agent.NewLoop(gw, agent.WithTools(tool.New(document.NewWithStorage(st))))

	oscar := newAgent(t, "Oscar")
	lisa := newAgent(t, "Lisa")
	gt.NoError(t, lisa.RelatedTo(oscar, "Lisa's colleague", ""))
	lisa.MakeAccessible("Oscar")
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "docs/handbook.md", Text: "Company handbook"}))

	_, err = loop.Act(ctx, lisa, nil)
	gt.NoError(t, err)

	system := rec.requests[0][0].Content
	gt.S(t, system).Contains("name: Lisa")
	gt.S(t, system).Contains("- Oscar: Lisa's colleague")
	gt.S(t, system).Contains("- handbook.md")
	gt.S(t, system).Contains("`write_document`")
	gt.S(t, system).Contains("USE_TOOL")
	gt.S(t, system).Contains("at most 15")
}

// keywordGateway embeds text onto a small keyword basis.
func keywordGateway(decisions ...string) *llmtest.Gateway {
	basis := []string{"coffee", "travel", "finance"}
	return &llmtest.Gateway{
		CompleteFunc: llmtest.Sequence(decisions...),
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			vec := make([]float32, len(basis))
			for i, kw := range basis {
				vec[i] = float32(strings.Count(strings.ToLower(text), kw))
			}
			return vec, nil
		},
	}
}

func TestFacultiesStoreThoughts(t *testing.T) {
	ctx := context.Background()
	gw := keywordGateway(
		llmtest.Decision("RECALL", "coffee", ""),
		llmtest.Decision("CONSULT", "travel.md", ""),
		llmtest.Decision("CONSULT", "missing.md", ""),
		llmtest.Decision("LIST_DOCUMENTS", "", ""),
		llmtest.Decision("DONE", "", ""),
	)
	lisa := newAgent(t, "Lisa", agent.WithSemantic(memory.NewSemantic(gw)))
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "notes/coffee.md", Text: "Coffee shops I like"}))
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "notes/travel.md", Text: "Travel plans for the summer"}))

	result, err := agent.NewLoop(gw).ThinkAndAct(ctx, lisa, "Let me check my notes")
	gt.NoError(t, err)
	gt.A(t, result.Actions).Length(5)

	var thoughts []string
	for _, r := range lisa.Episodic().RetrieveAll()[1:] {
		if r.Role == model.MemoryRoleThought {
			thoughts = append(thoughts, r.Stimulus.Content)
		}
	}
	gt.A(t, thoughts).Length(4)
	gt.S(t, thoughts[0]).Contains("Coffee shops I like")
	gt.S(t, thoughts[1]).Contains("Travel plans for the summer")
	gt.S(t, thoughts[2]).Contains(`could not find a document named "missing.md"`)
	gt.S(t, thoughts[3]).Contains("- coffee.md\n- travel.md")
}

func TestConsultTruncatesLongDocuments(t *testing.T) {
	ctx := context.Background()
	gw := keywordGateway(
		llmtest.Decision("CONSULT", "long.txt", ""),
		llmtest.Decision("DONE", "", ""),
	)
	cfg := agent.DefaultConfig()
	cfg.ConsultMaxChars = 10
	lisa := newAgent(t, "Lisa")
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "long.txt", Text: strings.Repeat("a", 50)}))

	_, err := agent.NewLoop(gw, agent.WithConfig(cfg)).Act(ctx, lisa, nil)
	gt.NoError(t, err)

	records := lisa.Episodic().RetrieveAll()
	gt.S(t, records[1].Stimulus.Content).Contains(strings.Repeat("a", 10) + "...")
	gt.S(t, records[1].Stimulus.Content).NotContains(strings.Repeat("a", 11))
}

func TestContextRetrievalAddsRelevantDocuments(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	gw := keywordGateway(llmtest.Decision("DONE", "", ""))
	gw.CompleteFunc = rec.wrap(gw.CompleteFunc)

	cfg := agent.DefaultConfig()
	cfg.ContextTopK = 1
	lisa := newAgent(t, "Lisa", agent.WithSemantic(memory.NewSemantic(gw)))
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "coffee.md", Text: "coffee coffee"}))
	gt.NoError(t, lisa.Semantic().Ingest(ctx, model.Document{ID: "finance.md", Text: "finance report"}))

	_, err := agent.NewLoop(gw, agent.WithConfig(cfg)).ListenAndAct(ctx, lisa, "How is the finance team?", "Oscar")
	gt.NoError(t, err)

	msgs := rec.requests[0]
	gt.Equal(t, msgs[1].Role, llm.RoleSystem)
	gt.S(t, msgs[1].Content).Contains("finance report")
	gt.S(t, msgs[1].Content).NotContains("coffee coffee")
}
