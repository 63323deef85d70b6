package logging_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
)

func TestLevels(t *testing.T) {
	testCases := []struct {
		level   string
		visible []string
		hidden  []string
	}{
		{"debug", []string{"debug message", "info message", "warn message", "error message"}, nil},
		{"info", []string{"info message", "warn message", "error message"}, []string{"debug message"}},
		{"warning", []string{"warn message", "error message"}, []string{"debug message", "info message"}},
		{"error", []string{"error message"}, []string{"debug message", "info message", "warn message"}},
		{"DEBUG", []string{"debug message"}, nil},
		{"invalid", []string{"info message"}, []string{"debug message"}},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.New(tc.level, buf)

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			for _, s := range tc.visible {
				gt.S(t, buf.String()).Contains(s)
			}
			for _, s := range tc.hidden {
				gt.S(t, buf.String()).NotContains(s)
			}
		})
	}
}

func TestNewWithJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewWithFormat("info", logging.FormatJSON, buf)
	logger.Info("step finished", "world", "office", "step", 3)

	output := buf.String()
	gt.S(t, output).Contains(`"msg":"step finished"`)
	gt.S(t, output).Contains(`"world":"office"`)
	gt.S(t, output).Contains(`"step":3`)
}

func TestNewWithUnknownFormatFallsBackToConsole(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewWithFormat("info", logging.Format("xml"), buf)
	logger.Info("console message")

	gt.S(t, buf.String()).Contains("console message")
	gt.S(t, buf.String()).NotContains(`"msg"`)
}

func TestConsoleRendersGoerrValues(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.New("info", buf)
	err := goerr.New("act failed", goerr.V("agent", "Lisa"))
	logger.Error("agent skipped", "error", err)

	gt.S(t, buf.String()).Contains("act failed")
}

func TestContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewWithFormat("debug", logging.FormatJSON, buf)
	ctx := logging.With(context.Background(), logger)
	gt.Equal(t, logging.From(ctx), logger)

	stepCtx, stepLogger := logging.WithAttrs(ctx, "world", "office", "step", 2)
	agentCtx, _ := logging.WithAttrs(stepCtx, "agent", "Oscar")
	logging.From(agentCtx).Info("action stored")

	output := buf.String()
	gt.S(t, output).Contains(`"world":"office"`)
	gt.S(t, output).Contains(`"step":2`)
	gt.S(t, output).Contains(`"agent":"Oscar"`)

	// the parent context keeps its own logger
	gt.Equal(t, logging.From(ctx), logger)
	gt.Equal(t, logging.From(stepCtx), stepLogger)
}

func TestFromFallsBackToDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	buf := &bytes.Buffer{}
	custom := logging.New("warn", buf)
	logging.SetDefault(custom)

	retrieved := logging.From(context.Background())
	gt.Equal(t, retrieved, custom)
	retrieved.Warn("warning from default")
	gt.S(t, buf.String()).Contains("warning from default")
}
