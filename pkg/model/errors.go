package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrGateway is returned when the LLM backend could not produce a response
	// after retries were exhausted or the failure was not retryable.
	ErrGateway = goerr.New("llm gateway error")

	// ErrDecode is returned when the LLM output could not be decoded into a
	// valid decision within the allowed number of attempts.
	ErrDecode = goerr.New("failed to decode llm output")

	// ErrTransactionState is the parent of ErrAlreadyOpen and
	// ErrNoActiveTransaction. It indicates misuse of the controller lifecycle.
	ErrTransactionState = goerr.New("invalid transaction state")

	ErrAlreadyOpen         = goerr.Wrap(ErrTransactionState, "transaction already open")
	ErrNoActiveTransaction = goerr.Wrap(ErrTransactionState, "no active transaction")

	// ErrSnapshotCorrupted is returned when a checkpoint cannot be restored.
	ErrSnapshotCorrupted = goerr.New("snapshot corrupted")

	ErrAgentNotFound     = goerr.New("agent not found")
	ErrDuplicateName     = goerr.New("duplicate name")
	ErrCheckpointMissing = goerr.New("checkpoint not found")
	ErrInvalidPersona    = goerr.New("invalid persona")
	ErrInvalidStimulus   = goerr.New("invalid stimulus")
	ErrInvalidAction     = goerr.New("invalid action")
)
