package memory

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

const (
	DefaultFixedPrefixLength = 100
	DefaultLookbackLength    = 100
)

// Episodic is the ordered, append-only history of an agent. Reads for
// context construction go through RetrieveRecent, which never returns more
// than FixedPrefixLength+LookbackLength records plus one omission marker.
type Episodic struct {
	fixedPrefixLength int
	lookbackLength    int
	records           []model.MemoryRecord
}

type EpisodicOption func(*Episodic)

func WithFixedPrefixLength(n int) EpisodicOption {
	return func(e *Episodic) {
		e.fixedPrefixLength = n
	}
}

func WithLookbackLength(n int) EpisodicOption {
	return func(e *Episodic) {
		e.lookbackLength = n
	}
}

func NewEpisodic(opts ...EpisodicOption) *Episodic {
	e := &Episodic{
		fixedPrefixLength: DefaultFixedPrefixLength,
		lookbackLength:    DefaultLookbackLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fixedPrefixLength < 0 {
		e.fixedPrefixLength = 0
	}
	if e.lookbackLength < 0 {
		e.lookbackLength = 0
	}
	return e
}

// Store appends a record.
func (e *Episodic) Store(rec model.MemoryRecord) {
	e.records = append(e.records, rec)
}

func (e *Episodic) Count() int {
	return len(e.records)
}

// Bound returns the maximum number of real records RetrieveRecent returns.
func (e *Episodic) Bound() int {
	return e.fixedPrefixLength + e.lookbackLength
}

// RetrieveRecent returns the bounded view used to build LLM context.
func (e *Episodic) RetrieveRecent() []model.MemoryRecord {
	return e.Retrieve(e.fixedPrefixLength, e.lookbackLength)
}

// Retrieve returns the first firstN records followed by the last lastN
// records. When records are skipped in between, an omission marker is placed
// at the gap. Prefix and suffix never overlap.
func (e *Episodic) Retrieve(firstN, lastN int) []model.MemoryRecord {
	total := len(e.records)
	if firstN < 0 {
		firstN = 0
	}
	if lastN < 0 {
		lastN = 0
	}
	if firstN+lastN >= total {
		return e.RetrieveAll()
	}

	out := make([]model.MemoryRecord, 0, firstN+lastN+1)
	out = append(out, e.records[:firstN]...)
	omitted := total - firstN - lastN
	out = append(out, model.MemoryRecord{
		Role: model.MemoryRoleOmission,
		Note: fmt.Sprintf("%d older interactions omitted for brevity", omitted),
	})
	out = append(out, e.records[total-lastN:]...)
	return out
}

// RetrieveAll returns a copy of the full history.
func (e *Episodic) RetrieveAll() []model.MemoryRecord {
	return append([]model.MemoryRecord(nil), e.records...)
}

// EpisodicSnapshot is the serialized form of Episodic.
type EpisodicSnapshot struct {
	FixedPrefixLength int                  `json:"fixed_prefix_length"`
	LookbackLength    int                  `json:"lookback_length"`
	Records           []model.MemoryRecord `json:"records"`
}

func (e *Episodic) Snapshot() EpisodicSnapshot {
	return EpisodicSnapshot{
		FixedPrefixLength: e.fixedPrefixLength,
		LookbackLength:    e.lookbackLength,
		Records:           e.RetrieveAll(),
	}
}

// Restore replaces the whole history with the snapshot.
func (e *Episodic) Restore(s EpisodicSnapshot) error {
	if s.FixedPrefixLength < 0 || s.LookbackLength < 0 {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "negative episodic bounds",
			goerr.V("prefix", s.FixedPrefixLength), goerr.V("lookback", s.LookbackLength))
	}
	for i, rec := range s.Records {
		switch rec.Role {
		case model.MemoryRoleStimulus, model.MemoryRoleThought:
			if rec.Stimulus == nil {
				return goerr.Wrap(model.ErrSnapshotCorrupted, "stimulus record without stimulus", goerr.V("index", i))
			}
		case model.MemoryRoleAction:
			if rec.Action == nil {
				return goerr.Wrap(model.ErrSnapshotCorrupted, "action record without action", goerr.V("index", i))
			}
		default:
			return goerr.Wrap(model.ErrSnapshotCorrupted, "unknown memory role", goerr.V("index", i), goerr.V("role", rec.Role))
		}
	}

	e.fixedPrefixLength = s.FixedPrefixLength
	e.lookbackLength = s.LookbackLength
	e.records = append([]model.MemoryRecord(nil), s.Records...)
	return nil
}
