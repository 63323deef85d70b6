package agent

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/troupe/pkg/model"
)

type transcriptConfig struct {
	maxContent int
	lastN      int
	timestamps bool
}

type TranscriptOption func(*transcriptConfig)

// WithMaxContentLength shortens each entry to n characters.
func WithMaxContentLength(n int) TranscriptOption {
	return func(c *transcriptConfig) {
		c.maxContent = n
	}
}

// WithLastN limits the transcript to the n most recent records.
func WithLastN(n int) TranscriptOption {
	return func(c *transcriptConfig) {
		c.lastN = n
	}
}

func WithTimestamps() TranscriptOption {
	return func(c *transcriptConfig) {
		c.timestamps = true
	}
}

// Transcript writes a human readable view of the agent's whole episodic
// memory.
func Transcript(w io.Writer, a *Agent, opts ...TranscriptOption) error {
	var cfg transcriptConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	records := a.episodic.RetrieveAll()
	if cfg.lastN > 0 && len(records) > cfg.lastN {
		records = records[len(records)-cfg.lastN:]
	}

	for _, rec := range records {
		line := formatRecord(a.Name(), rec, cfg.maxContent)
		if cfg.timestamps && rec.SimulationTime != nil {
			line = "[" + rec.SimulationTime.Format(time.DateTime) + "] " + line
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatRecord(name string, rec model.MemoryRecord, maxContent int) string {
	switch rec.Role {
	case model.MemoryRoleAction:
		act := rec.Action
		head := fmt.Sprintf("%s acts: [%s]", name, act.Kind)
		if act.Target != "" {
			head = fmt.Sprintf("%s acts: [%s -> %s]", name, act.Kind, act.Target)
		}
		content := act.Content
		if act.Tool != nil {
			content = strings.TrimSpace(act.Tool.Name + " " + content)
		}
		if content == "" {
			return head
		}
		return head + " " + truncate(oneLine(content), maxContent)

	case model.MemoryRoleStimulus, model.MemoryRoleThought:
		s := rec.Stimulus
		return fmt.Sprintf("%s --> %s: [%s] %s", orUser(s.Source), name, s.Kind, truncate(oneLine(s.Content), maxContent))

	default:
		return "(" + rec.Note + ")"
	}
}

func orUser(source string) string {
	if source == "" {
		return "USER"
	}
	return source
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
