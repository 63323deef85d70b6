package document_test

import (
	"context"
	"io"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/tool/document"
)

func TestWriterThroughRegistry(t *testing.T) {
	ctx := context.Background()
	st, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	reg, err := tool.Init(ctx, &tool.Client{Storage: st}, document.New())
	gt.NoError(t, err)
	gt.Equal(t, reg.Names(), []string{"write_document"})

	out, err := reg.Invoke(ctx, "Lisa Carter", model.ToolCall{
		Name: "write_document",
		Args: map[string]any{"title": "Quarterly Plan", "content": "Grow revenue."},
	})
	gt.NoError(t, err)
	gt.S(t, out).Contains("documents/lisa-carter/quarterly-plan.md")

	r, err := st.Get(ctx, "documents/lisa-carter/quarterly-plan.md")
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.S(t, string(data)).Contains("# Quarterly Plan")
	gt.S(t, string(data)).Contains("Grow revenue.")
}

func TestWriterDisabledWithoutStorage(t *testing.T) {
	reg, err := tool.Init(context.Background(), &tool.Client{}, document.New())
	gt.NoError(t, err)
	gt.A(t, reg.Names()).Length(0)
}

func TestWriterRequiresTitle(t *testing.T) {
	ctx := context.Background()
	st, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)

	reg := tool.New(document.NewWithStorage(st))
	_, err = reg.Invoke(ctx, "Lisa", model.ToolCall{Name: "write_document", Args: map[string]any{"content": "x"}})
	gt.Error(t, err)
}
