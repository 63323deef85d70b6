package simulation

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/repository"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/m-mizutani/troupe/pkg/world"
)

const DefaultPrefix = "transactions/"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Controller owns the transaction lifecycle of a simulation: it snapshots
// registered agents, worlds and the call cache into persisted checkpoints.
type Controller struct {
	mu sync.Mutex

	storage adapter.Storage
	repo    repository.Repository
	cache   *llm.Cache
	metrics *metrics.Recorder
	clock   func() time.Time
	prefix  string

	agents []*agent.Agent
	worlds []*world.World

	active *Transaction
	parent int
}

// NewInput contains parameters for creating a controller
type NewInput struct {
	Storage adapter.Storage
	// Repo indexes transactions. An in-memory index is used when nil.
	Repo repository.Repository
	// Cache is the transaction cache of the gateway agents call through.
	Cache   *llm.Cache
	Metrics *metrics.Recorder
	// Clock stamps checkpoints. Defaults to time.Now.
	Clock func() time.Time
	// Prefix is prepended to storage keys. Defaults to DefaultPrefix.
	Prefix string
}

func New(input NewInput) (*Controller, error) {
	if input.Storage == nil {
		return nil, goerr.New("storage is required")
	}
	if input.Cache == nil {
		return nil, goerr.New("call cache is required")
	}

	c := &Controller{
		storage: input.Storage,
		repo:    input.Repo,
		cache:   input.Cache,
		metrics: input.Metrics,
		clock:   input.Clock,
		prefix:  input.Prefix,
		parent:  -1,
	}
	if c.repo == nil {
		c.repo = repository.NewMemory()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	return c, nil
}

// Register adds agents and worlds to be captured by checkpoints. Names must
// be unique per kind.
func (c *Controller) Register(objs ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, obj := range objs {
		switch v := obj.(type) {
		case *agent.Agent:
			if _, ok := c.agent(v.Name()); ok {
				return goerr.Wrap(model.ErrDuplicateName, "agent already registered", goerr.V("agent", v.Name()))
			}
			c.agents = append(c.agents, v)
		case *world.World:
			if slices.ContainsFunc(c.worlds, func(w *world.World) bool { return w.Name() == v.Name() }) {
				return goerr.Wrap(model.ErrDuplicateName, "world already registered", goerr.V("world", v.Name()))
			}
			c.worlds = append(c.worlds, v)
		default:
			return goerr.New("cannot register object", goerr.V("type", fmt.Sprintf("%T", obj)))
		}
	}
	return nil
}

func (c *Controller) agent(name string) (*agent.Agent, bool) {
	i := slices.IndexFunc(c.agents, func(a *agent.Agent) bool { return a.Name() == name })
	if i < 0 {
		return nil, false
	}
	return c.agents[i], true
}

// Agent returns a registered agent by name.
func (c *Controller) Agent(name string) (*agent.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agent(name)
	if !ok {
		return nil, goerr.Wrap(model.ErrAgentNotFound, "agent not registered", goerr.V("agent", name))
	}
	return a, nil
}

func (c *Controller) key(name string) string {
	return c.prefix + name + ".json"
}

// Begin opens a transaction. When one with the same name was persisted, its
// latest call cache is loaded so re-running the same steps needs no gateway
// calls; state is only replaced by Restore or Resume.
func (c *Controller) Begin(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return goerr.Wrap(model.ErrAlreadyOpen, "cannot begin", goerr.V("active", c.active.Name), goerr.V("name", name))
	}
	if !validName.MatchString(name) {
		return goerr.New("invalid transaction name", goerr.V("name", name))
	}

	tx, err := loadTransaction(ctx, c.storage, c.key(name))
	if err != nil {
		return err
	}

	if tx == nil {
		now := c.clock()
		tx = &Transaction{Name: name, CreatedAt: now, UpdatedAt: now}
	}
	if latest := tx.Latest(); latest != nil {
		if err := c.cache.Restore(latest.Cache); err != nil {
			return err
		}
	} else {
		c.cache.Reset()
	}

	c.active = tx
	c.parent = -1
	logging.From(ctx).Info("transaction opened", "transaction", name, "checkpoints", len(tx.Checkpoints), "cached", c.cache.Len())
	return nil
}

// Checkpoint snapshots every registered object and the call cache, then
// persists the whole transaction. On failure the transaction is unchanged.
func (c *Controller) Checkpoint(ctx context.Context) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, goerr.Wrap(model.ErrNoActiveTransaction, "cannot checkpoint")
	}

	now := c.clock()
	cp := Checkpoint{
		Seq:       len(c.active.Checkpoints),
		Parent:    c.parent,
		CreatedAt: now,
		State:     c.snapshot(),
		Cache:     c.cache.Entries(),
	}

	next := *c.active
	next.Checkpoints = append(slices.Clip(c.active.Checkpoints), cp)
	next.UpdatedAt = now

	if err := saveTransaction(ctx, c.repo, c.storage, c.key(next.Name), &next); err != nil {
		c.metrics.Checkpoint("error")
		return nil, goerr.Wrap(err, "failed to persist checkpoint", goerr.V("transaction", next.Name), goerr.V("seq", cp.Seq))
	}

	c.active = &next
	c.parent = cp.Seq
	c.metrics.Checkpoint("ok")
	logging.From(ctx).Info("checkpoint saved", "transaction", next.Name, "seq", cp.Seq, "cache", len(cp.Cache))
	return &cp, nil
}

func (c *Controller) snapshot() State {
	s := State{
		Agents: make(map[string]agent.State, len(c.agents)),
		Worlds: make(map[string]world.State, len(c.worlds)),
	}
	for _, a := range c.agents {
		s.Agents[a.Name()] = a.Snapshot()
	}
	for _, w := range c.worlds {
		s.Worlds[w.Name()] = w.Snapshot()
	}
	return s
}

// End closes the active transaction.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return goerr.Wrap(model.ErrNoActiveTransaction, "cannot end")
	}
	logging.From(ctx).Info("transaction closed", "transaction", c.active.Name, "checkpoints", len(c.active.Checkpoints))
	c.active = nil
	c.parent = -1
	return nil
}

// Restore replaces the state of every registered object and the call cache
// with checkpoint seq of the active transaction. Nothing changes on error.
func (c *Controller) Restore(ctx context.Context, seq int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return goerr.Wrap(model.ErrNoActiveTransaction, "cannot restore")
	}
	cp, ok := c.active.Checkpoint(seq)
	if !ok {
		return goerr.Wrap(model.ErrCheckpointMissing, "no such checkpoint",
			goerr.V("transaction", c.active.Name), goerr.V("seq", seq))
	}
	return c.restore(ctx, cp)
}

// Resume restores the latest checkpoint of the active transaction.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return goerr.Wrap(model.ErrNoActiveTransaction, "cannot resume")
	}
	cp := c.active.Latest()
	if cp == nil {
		return goerr.Wrap(model.ErrCheckpointMissing, "transaction has no checkpoint", goerr.V("transaction", c.active.Name))
	}
	return c.restore(ctx, cp)
}

func (c *Controller) restore(ctx context.Context, cp *Checkpoint) error {
	if err := c.validate(cp); err != nil {
		return err
	}
	if err := llm.NewCache().Restore(cp.Cache); err != nil {
		return err
	}

	backup := c.snapshot()
	if err := c.apply(cp.State); err != nil {
		// Our own snapshots always restore.
		_ = c.apply(backup)
		return err
	}
	if err := c.cache.Restore(cp.Cache); err != nil {
		_ = c.apply(backup)
		return err
	}

	c.parent = cp.Seq
	logging.From(ctx).Info("checkpoint restored", "transaction", c.active.Name, "seq", cp.Seq)
	return nil
}

// validate checks that the checkpoint covers exactly the registered objects.
func (c *Controller) validate(cp *Checkpoint) error {
	if len(cp.State.Agents) != len(c.agents) || len(cp.State.Worlds) != len(c.worlds) {
		return goerr.Wrap(model.ErrSnapshotCorrupted, "checkpoint does not match registered objects",
			goerr.V("seq", cp.Seq),
			goerr.V("agents", len(cp.State.Agents)), goerr.V("registered_agents", len(c.agents)),
			goerr.V("worlds", len(cp.State.Worlds)), goerr.V("registered_worlds", len(c.worlds)))
	}
	for _, a := range c.agents {
		if _, ok := cp.State.Agents[a.Name()]; !ok {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "agent missing from checkpoint", goerr.V("seq", cp.Seq), goerr.V("agent", a.Name()))
		}
	}
	for _, w := range c.worlds {
		if _, ok := cp.State.Worlds[w.Name()]; !ok {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "world missing from checkpoint", goerr.V("seq", cp.Seq), goerr.V("world", w.Name()))
		}
	}
	return nil
}

func (c *Controller) apply(s State) error {
	for _, a := range c.agents {
		if err := a.Restore(s.Agents[a.Name()]); err != nil {
			return err
		}
	}
	for _, w := range c.worlds {
		if err := w.Restore(s.Worlds[w.Name()], c.agent); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the name and checkpoint count of the open transaction.
func (c *Controller) Active() (string, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", 0, false
	}
	return c.active.Name, len(c.active.Checkpoints), true
}

// Load reads a persisted transaction without opening it.
func (c *Controller) Load(ctx context.Context, name string) (*Transaction, error) {
	tx, err := loadTransaction(ctx, c.storage, c.key(name))
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, goerr.Wrap(repository.ErrTransactionNotFound, "no such transaction", goerr.V("name", name))
	}
	return tx, nil
}

// List returns index entries of persisted transactions.
func (c *Controller) List(ctx context.Context, offset, limit int) ([]*model.TransactionRecord, error) {
	return c.repo.ListTransactions(ctx, offset, limit)
}
