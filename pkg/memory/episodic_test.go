package memory_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/memory"
	"github.com/m-mizutani/troupe/pkg/model"
)

func stimulusRecord(i int) model.MemoryRecord {
	return model.MemoryRecord{
		Role: model.MemoryRoleStimulus,
		Stimulus: &model.Stimulus{
			Kind:    model.StimulusConversation,
			Content: fmt.Sprintf("message %d", i),
		},
	}
}

func TestEpisodicRetrieveRecentIsBounded(t *testing.T) {
	for _, total := range []int{0, 1, 5, 6, 7, 50, 500} {
		t.Run(fmt.Sprintf("total=%d", total), func(t *testing.T) {
			e := memory.NewEpisodic(memory.WithFixedPrefixLength(2), memory.WithLookbackLength(4))
			for i := 0; i < total; i++ {
				e.Store(stimulusRecord(i))
			}
			gt.Equal(t, e.Count(), total)

			view := e.RetrieveRecent()
			stored := 0
			for _, rec := range view {
				if rec.Role != model.MemoryRoleOmission {
					stored++
				}
			}
			gt.Number(t, stored).LessOrEqual(e.Bound())
			gt.Number(t, len(view)).LessOrEqual(e.Bound() + 1)
		})
	}
}

func TestEpisodicRetrieveKeepsPrefixAndSuffix(t *testing.T) {
	e := memory.NewEpisodic(memory.WithFixedPrefixLength(2), memory.WithLookbackLength(3))
	for i := 0; i < 10; i++ {
		e.Store(stimulusRecord(i))
	}

	view := e.RetrieveRecent()
	gt.A(t, view).Length(6)
	gt.Equal(t, view[0].Stimulus.Content, "message 0")
	gt.Equal(t, view[1].Stimulus.Content, "message 1")
	gt.Equal(t, view[2].Role, model.MemoryRoleOmission)
	gt.S(t, view[2].Note).Contains("5 older interactions")
	gt.Equal(t, view[3].Stimulus.Content, "message 7")
	gt.Equal(t, view[5].Stimulus.Content, "message 9")
}

func TestEpisodicRetrieveWithoutOmission(t *testing.T) {
	e := memory.NewEpisodic(memory.WithFixedPrefixLength(2), memory.WithLookbackLength(3))
	for i := 0; i < 5; i++ {
		e.Store(stimulusRecord(i))
	}

	view := e.RetrieveRecent()
	gt.A(t, view).Length(5)
	for _, rec := range view {
		gt.NotEqual(t, rec.Role, model.MemoryRoleOmission)
	}
}

func TestEpisodicSnapshotRoundTrip(t *testing.T) {
	e := memory.NewEpisodic(memory.WithFixedPrefixLength(3), memory.WithLookbackLength(7))
	e.Store(stimulusRecord(0))
	e.Store(model.MemoryRecord{Role: model.MemoryRoleAction, Action: &model.Action{Kind: model.ActionDone}})

	first, err := json.Marshal(e.Snapshot())
	gt.NoError(t, err)

	restored := memory.NewEpisodic()
	var snap memory.EpisodicSnapshot
	gt.NoError(t, json.Unmarshal(first, &snap))
	gt.NoError(t, restored.Restore(snap))

	second, err := json.Marshal(restored.Snapshot())
	gt.NoError(t, err)
	gt.Equal(t, string(second), string(first))
	gt.Equal(t, restored.Bound(), 10)
}

func TestEpisodicRestoreRejectsCorruption(t *testing.T) {
	e := memory.NewEpisodic()
	e.Store(stimulusRecord(0))

	err := e.Restore(memory.EpisodicSnapshot{
		Records: []model.MemoryRecord{{Role: model.MemoryRoleAction}},
	})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSnapshotCorrupted))
	gt.Equal(t, e.Count(), 1)
}
