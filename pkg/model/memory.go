package model

import "time"

type MemoryRole string

const (
	MemoryRoleStimulus MemoryRole = "stimulus"
	MemoryRoleAction   MemoryRole = "action"
	MemoryRoleThought  MemoryRole = "thought"
	// MemoryRoleOmission marks the gap in a bounded episodic view. It is
	// never stored.
	MemoryRoleOmission MemoryRole = "omission"
)

// MemoryRecord is one entry of episodic memory.
type MemoryRecord struct {
	Role           MemoryRole      `json:"role"`
	Stimulus       *Stimulus       `json:"stimulus,omitempty"`
	Action         *Action         `json:"action,omitempty"`
	CognitiveState *CognitiveState `json:"cognitive_state,omitempty"`
	Note           string          `json:"note,omitempty"`
	SimulationTime *time.Time      `json:"simulation_time,omitempty"`
}

// Document is an item of semantic memory. ID is the path or URL the text came
// from and is unique within a store.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}
