// Package parallel implements the PARALLEL_GATEWAY/MERGE_GATEWAY step
// executor (C6): branch fan-out under PARALLEL/SEQUENTIAL/BATCH execution
// modes and AND/OR/MAJORITY/FIRST/CUSTOM join strategies, grounded on the
// teacher Executor's semaphore-bounded concurrency and per-attempt
// context.WithTimeout, generalized from one step's single call into many
// concurrent branch calls joined by a configurable strategy.
package parallel

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// ExecutionMode controls how branches are dispatched.
type ExecutionMode string

const (
	ModeParallel   ExecutionMode = "PARALLEL"
	ModeSequential ExecutionMode = "SEQUENTIAL"
	ModeBatch      ExecutionMode = "BATCH"
)

// JoinStrategy controls how branch results are combined into one outcome.
type JoinStrategy string

const (
	JoinAND      JoinStrategy = "AND"      // every branch must succeed
	JoinOR       JoinStrategy = "OR"       // at least one branch must succeed
	JoinMajority JoinStrategy = "MAJORITY" // more than half must succeed
	JoinFirst    JoinStrategy = "FIRST"    // first completion decides; the others still run
	JoinCustom   JoinStrategy = "CUSTOM"   // caller-supplied predicate decides
)

// Branch is one unit of parallel work: a sub-step invocation the engine
// dispatches through its own Executor/Lifecycle.
type Branch struct {
	ID      string
	Execute func(ctx context.Context) (*domain.StepExecutionResult, error)
	// FailFast, when true, stops a ModeSequential run as soon as this
	// branch fails, leaving any branches after it unrun rather than
	// continuing down the list.
	FailFast bool
}

// CustomJoin evaluates whether the aggregate of results counts as a
// success, for JoinCustom.
type CustomJoin func(results []domain.BranchExecutionResult) bool

// Config configures one PARALLEL_GATEWAY step's fan-out/join.
type Config struct {
	Mode        ExecutionMode
	BatchSize   int // only consulted when Mode == ModeBatch
	Join        JoinStrategy
	CustomJoin  CustomJoin
	MaxInFlight int64 // concurrency bound; 0 means unbounded within a batch

	// Timeout bounds the whole step: once it elapses, branches still
	// running are left to finish their own BranchTimeout (or the ctx
	// cancellation propagates to them) and any not yet started are
	// recorded CANCELLED.
	Timeout time.Duration
	// BranchTimeout bounds a single branch's Execute call; on expiry the
	// branch is recorded TIMEOUT and its context is cancelled.
	BranchTimeout time.Duration
}

// seqCounter hands out monotonically increasing completion sequence
// numbers so JoinFirst can tell which branch actually finished first,
// independent of its position in the branches slice.
type seqCounter struct{ n int64 }

func (s *seqCounter) next() int64 { return atomic.AddInt64(&s.n, 1) }

// Executor runs a set of Branches per Config and merges their outputs.
type Executor struct{}

// NewExecutor builds a parallel-gateway Executor. It holds no state: all
// per-step configuration arrives via Config/Branch at Run time.
func NewExecutor() *Executor { return &Executor{} }

func (e *Executor) Key() string { return "parallel" }

func (e *Executor) Supports(t domain.StepType) bool {
	return t == domain.StepParallelGateway || t == domain.StepMergeGateway
}

// Run dispatches branches according to cfg.Mode and joins their results
// according to cfg.Join, returning a domain.JoinResult with merged data
// (last-writer-wins across branches, in branch-slice order).
func (e *Executor) Run(ctx context.Context, branches []Branch, cfg Config) (*domain.JoinResult, []domain.BranchExecutionResult, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeParallel
	}
	if cfg.Join == "" {
		cfg.Join = JoinAND
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var results []domain.BranchExecutionResult
	var err error
	seq := &seqCounter{}

	switch cfg.Mode {
	case ModeSequential:
		results, err = e.runSequential(ctx, branches, cfg, seq)
	case ModeBatch:
		results, err = e.runBatched(ctx, branches, cfg, seq)
	default:
		results, err = e.runParallel(ctx, branches, cfg, seq)
	}
	if err != nil {
		return nil, results, err
	}

	return e.join(results, cfg), results, nil
}

func (e *Executor) runSequential(ctx context.Context, branches []Branch, cfg Config, seq *seqCounter) ([]domain.BranchExecutionResult, error) {
	results := make([]domain.BranchExecutionResult, len(branches))
	for i, b := range branches {
		if ctx.Err() != nil {
			results[i] = domain.BranchExecutionResult{BranchID: b.ID, Status: domain.ResultCancelled, Error: "step timeout exceeded before this branch ran"}
			continue
		}
		results[i] = runOne(ctx, b, cfg.BranchTimeout)
		results[i].CompletedSeq = seq.next()
		if results[i].Status != domain.ResultSuccess && b.FailFast {
			for j := i + 1; j < len(branches); j++ {
				results[j] = domain.BranchExecutionResult{BranchID: branches[j].ID, Status: domain.ResultCancelled, Error: "skipped: an earlier branch failed with failFast set"}
			}
			break
		}
	}
	return results, nil
}

func (e *Executor) runParallel(ctx context.Context, branches []Branch, cfg Config, seq *seqCounter) ([]domain.BranchExecutionResult, error) {
	results := make([]domain.BranchExecutionResult, len(branches))
	sem := semaphoreFor(cfg.MaxInFlight, int64(len(branches)))
	g, gctx := errgroup.WithContext(ctx)

	for i, b := range branches {
		i, b := i, b
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					results[i] = domain.BranchExecutionResult{BranchID: b.ID, Status: domain.ResultCancelled, Error: err.Error()}
					return nil
				}
				defer sem.Release(1)
			}
			results[i] = runOne(ctx, b, cfg.BranchTimeout)
			results[i].CompletedSeq = seq.next()
			return nil
		})
	}
	_ = g.Wait() // branch errors are captured per-result, never propagated as a group error
	return results, nil
}

func (e *Executor) runBatched(ctx context.Context, branches []Branch, cfg Config, seq *seqCounter) ([]domain.BranchExecutionResult, error) {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(branches)
	}
	results := make([]domain.BranchExecutionResult, 0, len(branches))
	for start := 0; start < len(branches); start += batchSize {
		end := start + batchSize
		if end > len(branches) {
			end = len(branches)
		}
		batchResults, err := e.runParallel(ctx, branches[start:end], cfg, seq)
		if err != nil {
			return results, err
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

// runOne executes a single branch, bounding it by branchTimeout when set
// and reporting TIMEOUT (rather than FAILED) when that bound is what ended
// the call.
func runOne(ctx context.Context, b Branch, branchTimeout time.Duration) domain.BranchExecutionResult {
	if branchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, branchTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := b.Execute(ctx)
	elapsed := time.Since(start)

	br := domain.BranchExecutionResult{BranchID: b.ID, ExecutionTimeMs: elapsed.Milliseconds()}
	if ctx.Err() == context.DeadlineExceeded {
		br.Status = domain.ResultTimeout
		br.Error = "branch execution exceeded its timeout"
		return br
	}
	if err != nil {
		br.Status = domain.ResultFailed
		br.Error = err.Error()
		return br
	}
	br.Status = result.Status
	br.OutputData = result.OutputData
	return br
}

func semaphoreFor(maxInFlight, total int64) *semaphore.Weighted {
	if maxInFlight <= 0 || maxInFlight >= total {
		return nil
	}
	return semaphore.NewWeighted(maxInFlight)
}

func (e *Executor) join(results []domain.BranchExecutionResult, cfg Config) *domain.JoinResult {
	succeeded := 0
	var successful []domain.BranchExecutionResult
	for _, r := range results {
		if r.Status == domain.ResultSuccess {
			succeeded++
			successful = append(successful, r)
		}
	}

	success := false
	var merged map[string]domain.Value

	switch cfg.Join {
	case JoinAND:
		success = succeeded == len(results)
		merged = mergeAll(results)
	case JoinOR:
		success = succeeded > 0
		merged = mergeAll(successful)
	case JoinMajority:
		success = succeeded*2 > len(results)
		merged = mergeAll(successful)
	case JoinFirst:
		// The first branch to complete (by arrival, not slice index) wins:
		// its own status decides success and only its output is merged.
		if first := firstCompleted(results); first != nil {
			success = first.Status == domain.ResultSuccess
			merged = map[string]domain.Value{}
			for k, v := range first.OutputData {
				merged[k] = v
			}
		} else {
			merged = map[string]domain.Value{}
		}
	case JoinCustom:
		if cfg.CustomJoin != nil {
			success = cfg.CustomJoin(results)
		}
		merged = mergeAll(results)
	}

	msg := "join succeeded"
	if !success {
		msg = "join strategy not satisfied"
	}
	return &domain.JoinResult{Success: success, Message: msg, MergedData: merged}
}

// mergeAll unions the given branches' output, last-writer-wins in slice
// order. AND and CUSTOM pass every branch; OR and MAJORITY pass only the
// successful ones.
func mergeAll(results []domain.BranchExecutionResult) map[string]domain.Value {
	merged := map[string]domain.Value{}
	for _, r := range results {
		for k, v := range r.OutputData {
			merged[k] = v
		}
	}
	return merged
}

// firstCompleted returns the branch result with the lowest CompletedSeq —
// the branch that actually finished first — ignoring any branch that
// never ran (CompletedSeq zero, e.g. skipped by a failFast stop).
func firstCompleted(results []domain.BranchExecutionResult) *domain.BranchExecutionResult {
	var first *domain.BranchExecutionResult
	for i := range results {
		r := &results[i]
		if r.CompletedSeq == 0 {
			continue
		}
		if first == nil || r.CompletedSeq < first.CompletedSeq {
			first = r
		}
	}
	return first
}
