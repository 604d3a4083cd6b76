// Package migration converts the remote store between the legacy schema, where
// image documents embed their tags, and the normalized schema of categories,
// tags and image-tag links.
//
// A run is split into phases (records, images and, for rollback, delete).
// Each phase is committed in chunks no larger than the store's batch limit.
// Every chunk carries the cursor document recording how far the run got, so
// a run that fails part way resumes where it stopped. A run whose whole plan
// fits one batch is committed all-or-nothing.
package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/listenupapp/gallery/internal/domain"
	domainerrors "github.com/listenupapp/gallery/internal/errors"
	"github.com/listenupapp/gallery/internal/logger"
	"github.com/listenupapp/gallery/internal/remote"
)

// Directions.
const (
	DirectionForward  = "forward"
	DirectionRollback = "rollback"
)

// Phases.
const (
	PhaseRecords = "records"
	PhaseImages  = "images"
	PhaseDelete  = "delete"
	PhaseDone    = "done"
)

// Cursor states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
)

// cursorID is the id of the cursor document in the migrations collection.
const cursorID = "schema"

// Cursor is the persisted progress of the latest run. Offset counts the ops
// of Phase committed so far; PlanDigest identifies the ops the phase held
// when they were counted.
type Cursor struct {
	ID          string     `json:"id"`
	RunID       string     `json:"runId"`
	Direction   string     `json:"direction"`
	Phase       string     `json:"phase"`
	Chunk       int        `json:"chunk"`
	Offset      int        `json:"offset"`
	PlanDigest  string     `json:"planDigest,omitempty"`
	State       string     `json:"state"`
	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Options configures a run.
type Options struct {
	// DryRun computes the plan and reports it without writing.
	DryRun bool
	// ChunkSize caps the ops per batch, including the cursor write. Zero or a
	// value above the store limit uses the store limit.
	ChunkSize int
}

// Result reports a run.
type Result struct {
	RunID      string
	Direction  string
	DryRun     bool
	Resumed    bool
	Images     int
	Categories int
	Tags       int
	Links      int
	Ops        int
	// Chunks is the number of batches the plan needs; Committed is how many
	// this call wrote.
	Chunks    int
	Committed int
}

// Engine runs migrations against a remote store.
type Engine struct {
	store  remote.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine.
func New(store remote.Store, log *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.OrDiscard(log),
		now:    time.Now,
	}
}

// phase is one ordered group of writes. When skipDone is set the ops of the
// phase are recomputed identically after a failure and the ops counted by the
// cursor are skipped, whatever chunk size either run used; otherwise
// completed work drops out of the recomputed plan by itself.
type phase struct {
	name     string
	ops      []remote.Op
	skipDone bool
}

type plan struct {
	phases []phase
	result Result
}

func (p *plan) ops() int {
	n := 0
	for _, ph := range p.phases {
		n += len(ph.ops)
	}
	return n
}

// Forward moves embedded tags into categories, tags and links.
func (e *Engine) Forward(ctx context.Context, opts Options) (*Result, error) {
	return e.run(ctx, DirectionForward, opts, e.planForward)
}

// Rollback rebuilds embedded tags from the normalized records and deletes them.
func (e *Engine) Rollback(ctx context.Context, opts Options) (*Result, error) {
	return e.run(ctx, DirectionRollback, opts, e.planRollback)
}

// Status returns the cursor of the latest run, or nil when none ran.
func (e *Engine) Status(ctx context.Context) (*Cursor, error) {
	doc, err := e.store.Get(ctx, domain.CollectionMigrations, cursorID)
	if err != nil || doc == nil {
		return nil, err
	}
	var c Cursor
	if err := doc.Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *Engine) run(ctx context.Context, direction string, opts Options, build func(context.Context) (*plan, error)) (*Result, error) {
	prev, err := e.Status(ctx)
	if err != nil {
		return nil, err
	}
	resume := prev != nil && prev.State == StateRunning
	if resume && prev.Direction != direction {
		return nil, domainerrors.Conflictf("a %s run (%s) is unfinished; run %s again to complete it first",
			prev.Direction, prev.RunID, prev.Direction)
	}

	chunkSize := e.chunkSize(opts)
	if chunkSize < 2 {
		return nil, domainerrors.Validationf("chunk size %d leaves no room for writes", chunkSize)
	}

	p, err := build(ctx)
	if err != nil {
		return nil, err
	}

	res := p.result
	res.Direction = direction
	res.DryRun = opts.DryRun
	res.Resumed = resume
	res.Ops = p.ops()
	res.RunID = uuid.NewString()
	if resume {
		res.RunID = prev.RunID
	}

	single := !resume && res.Ops+1 <= chunkSize
	if single {
		if res.Ops > 0 {
			res.Chunks = 1
		}
	} else {
		for _, ph := range p.phases {
			res.Chunks += chunks(len(ph.ops), chunkSize-1)
		}
	}

	log := e.logger.With("run_id", res.RunID, "direction", direction)
	if opts.DryRun {
		log.Info("Migration dry run", "ops", res.Ops, "chunks", res.Chunks,
			"categories", res.Categories, "tags", res.Tags, "links", res.Links, "images", res.Images)
		return &res, nil
	}
	if res.Ops == 0 && !resume {
		log.Info("Nothing to migrate")
		return &res, nil
	}

	now := e.now()
	cursor := &Cursor{
		ID:        cursorID,
		RunID:     res.RunID,
		Direction: direction,
		State:     StateRunning,
		StartedAt: now,
	}
	if resume {
		cursor.StartedAt = prev.StartedAt
		log.Info("Resuming migration", "phase", prev.Phase, "chunk", prev.Chunk, "offset", prev.Offset)
	}

	if single {
		var ops []remote.Op
		for _, ph := range p.phases {
			ops = append(ops, ph.ops...)
		}
		e.complete(cursor)
		op, err := cursorOp(cursor)
		if err != nil {
			return nil, err
		}
		if err := e.store.BatchWrite(ctx, append(ops, op)); err != nil {
			return nil, err
		}
		res.Committed = 1
		log.Info("Migration completed", "ops", res.Ops, "chunks", 1)
		return &res, nil
	}

	start := 0
	if resume {
		for i, ph := range p.phases {
			if ph.name == prev.Phase {
				start = i
				break
			}
		}
	}

	for i := start; i < len(p.phases); i++ {
		ph := p.phases[i]
		digest := planDigest(ph.ops)
		offset, chunk := 0, 0
		if resume && i == start && ph.name == prev.Phase {
			chunk = prev.Chunk
			if ph.skipDone {
				if prev.PlanDigest == digest && prev.Offset <= len(ph.ops) {
					offset = prev.Offset
				} else {
					log.Warn("Remote data changed since the failed run; redoing the phase", "phase", ph.name)
				}
			}
		}
		for _, batch := range split(ph.ops[offset:], chunkSize-1) {
			offset += len(batch)
			chunk++
			cursor.Phase = ph.name
			cursor.Chunk = chunk
			cursor.Offset = offset
			cursor.PlanDigest = digest
			cursor.UpdatedAt = e.now()
			op, err := cursorOp(cursor)
			if err != nil {
				return nil, err
			}
			if err := e.store.BatchWrite(ctx, append(batch, op)); err != nil {
				log.Error("Migration chunk failed; run again to resume",
					"phase", ph.name, "chunk", chunk, "error", err)
				return nil, err
			}
			res.Committed++
			log.Debug("Migration chunk committed", "phase", ph.name, "chunk", chunk, "ops", len(batch))
		}
	}

	e.complete(cursor)
	op, err := cursorOp(cursor)
	if err != nil {
		return nil, err
	}
	if err := e.store.BatchWrite(ctx, []remote.Op{op}); err != nil {
		return nil, err
	}
	log.Info("Migration completed", "ops", res.Ops, "chunks", res.Committed)
	return &res, nil
}

func (e *Engine) complete(c *Cursor) {
	now := e.now()
	c.Phase = PhaseDone
	c.Chunk = 0
	c.Offset = 0
	c.PlanDigest = ""
	c.State = StateCompleted
	c.UpdatedAt = now
	c.CompletedAt = &now
}

func (e *Engine) chunkSize(opts Options) int {
	limit := e.store.MaxBatchSize()
	if opts.ChunkSize <= 0 || opts.ChunkSize > limit {
		return limit
	}
	return opts.ChunkSize
}

func cursorOp(c *Cursor) (remote.Op, error) {
	doc, err := remote.Encode(c)
	if err != nil {
		return remote.Op{}, err
	}
	return remote.Set(domain.CollectionMigrations, cursorID, doc), nil
}

// planDigest fingerprints the targets of ops in order. Two plans with the same
// digest write the same documents in the same order.
func planDigest(ops []remote.Op) string {
	h := sha256.New()
	for _, op := range ops {
		fmt.Fprintf(h, "%d\x00%s\x00%s\n", op.Kind, op.Collection, op.ID)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func chunks(n, size int) int {
	return (n + size - 1) / size
}

// split returns ops in consecutive slices of at most size. Each slice has
// spare capacity for the cursor op.
func split(ops []remote.Op, size int) [][]remote.Op {
	var out [][]remote.Op
	for len(ops) > 0 {
		n := min(size, len(ops))
		batch := make([]remote.Op, n, n+1)
		copy(batch, ops[:n])
		out = append(out, batch)
		ops = ops[n:]
	}
	return out
}
