package simulation

import (
	"time"

	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/world"
)

// State holds the snapshots of every registered object, keyed by name.
type State struct {
	Agents map[string]agent.State `json:"agents"`
	Worlds map[string]world.State `json:"worlds"`
}

// Checkpoint is never modified once appended to a transaction.
type Checkpoint struct {
	Seq int `json:"seq"`
	// Parent is the checkpoint the captured state descends from, set by the
	// previous checkpoint or a restore. -1 when there is none.
	Parent    int                       `json:"parent"`
	CreatedAt time.Time                 `json:"created_at"`
	State     State                     `json:"state"`
	Cache     map[string]llm.CacheEntry `json:"cache"`
}

// Transaction is the persisted history of checkpoints of one simulation run.
type Transaction struct {
	Name        string       `json:"name"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Latest returns the last checkpoint or nil.
func (t *Transaction) Latest() *Checkpoint {
	if len(t.Checkpoints) == 0 {
		return nil
	}
	return &t.Checkpoints[len(t.Checkpoints)-1]
}

// Checkpoint returns the checkpoint with the given sequence number.
func (t *Transaction) Checkpoint(seq int) (*Checkpoint, bool) {
	if seq < 0 || seq >= len(t.Checkpoints) {
		return nil, false
	}
	return &t.Checkpoints[seq], true
}
