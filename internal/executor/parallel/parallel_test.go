package parallel

import (
	"context"
	"testing"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

func branchResult(id string, status domain.ResultStatus, out map[string]domain.Value) Branch {
	return Branch{
		ID: id,
		Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: status, OutputData: out}, nil
		},
	}
}

func TestRun_JoinAND_AllSucceed(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		branchResult("a", domain.ResultSuccess, map[string]domain.Value{"a": domain.NewBool(true)}),
		branchResult("b", domain.ResultSuccess, map[string]domain.Value{"b": domain.NewBool(true)}),
	}
	join, results, err := e.Run(context.Background(), branches, Config{Join: JoinAND})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !join.Success {
		t.Fatalf("expected AND join to succeed when every branch succeeds")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 branch results, got %d", len(results))
	}
	if !join.MergedData["a"].AsBool() || !join.MergedData["b"].AsBool() {
		t.Fatalf("expected merged data from both branches, got %+v", join.MergedData)
	}
}

func TestRun_JoinAND_OneFails(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		branchResult("a", domain.ResultSuccess, nil),
		branchResult("b", domain.ResultFailed, nil),
	}
	join, _, err := e.Run(context.Background(), branches, Config{Join: JoinAND})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if join.Success {
		t.Fatalf("expected AND join to fail when any branch fails")
	}
}

func TestRun_JoinOR_OneSucceeds(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		branchResult("a", domain.ResultFailed, nil),
		branchResult("b", domain.ResultSuccess, map[string]domain.Value{"b": domain.NewBool(true)}),
	}
	join, _, err := e.Run(context.Background(), branches, Config{Join: JoinOR})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !join.Success {
		t.Fatalf("expected OR join to succeed when at least one branch succeeds")
	}
}

func TestRun_JoinMajority(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		branchResult("a", domain.ResultSuccess, nil),
		branchResult("b", domain.ResultSuccess, nil),
		branchResult("c", domain.ResultFailed, nil),
	}
	join, _, err := e.Run(context.Background(), branches, Config{Join: JoinMajority})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !join.Success {
		t.Fatalf("expected MAJORITY join to succeed with 2/3 branches succeeding")
	}
}

// TestRun_JoinFirst_MergesOnlyTheFirstCompletedBranch exercises the
// CompletedSeq-driven JoinFirst behavior: the branch that actually finishes
// first decides success and supplies the merged output, even though it is
// not the first element of the branches slice and even though a later
// (unmerged) branch also succeeds.
func TestRun_JoinFirst_MergesOnlyTheFirstCompletedBranch(t *testing.T) {
	e := NewExecutor()
	var fastRan, slowRan bool
	branches := []Branch{
		{
			ID: "slow",
			Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
				time.Sleep(30 * time.Millisecond)
				slowRan = true
				return &domain.StepExecutionResult{Status: domain.ResultSuccess, OutputData: map[string]domain.Value{"winner": domain.NewString("slow")}}, nil
			},
		},
		{
			ID: "fast",
			Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
				fastRan = true
				return &domain.StepExecutionResult{Status: domain.ResultSuccess, OutputData: map[string]domain.Value{"winner": domain.NewString("fast")}}, nil
			},
		},
	}
	join, results, err := e.Run(context.Background(), branches, Config{Join: JoinFirst})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fastRan || !slowRan {
		t.Fatalf("expected both branches to run under JoinFirst (only the join ignores the loser)")
	}
	if !join.Success {
		t.Fatalf("expected JoinFirst to succeed since the first-completed branch succeeded")
	}
	if join.MergedData["winner"].AsString() != "fast" {
		t.Fatalf("expected JoinFirst to merge only the actually-first-completed branch's output, got %+v", join.MergedData)
	}
	if len(results) != 2 {
		t.Fatalf("expected both branch results reported, got %d", len(results))
	}
}

func TestRun_SequentialFailFast_StopsEarly(t *testing.T) {
	e := NewExecutor()
	var ranC bool
	branches := []Branch{
		{ID: "a", FailFast: true, Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
		}},
		{ID: "b", FailFast: true, Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: domain.ResultFailed}, nil
		}},
		{ID: "c", FailFast: true, Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			ranC = true
			return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
		}},
	}
	_, results, err := e.Run(context.Background(), branches, Config{Mode: ModeSequential, Join: JoinAND})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ranC {
		t.Fatalf("expected failFast to stop the sequential run before branch c")
	}
	if results[2].Status != domain.ResultCancelled {
		t.Fatalf("expected branch c to be reported CANCELLED when skipped by failFast, got %s", results[2].Status)
	}
}

func TestRun_SequentialWithoutFailFast_RunsAllBranches(t *testing.T) {
	e := NewExecutor()
	var ranC bool
	branches := []Branch{
		{ID: "a", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
		}},
		{ID: "b", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: domain.ResultFailed}, nil
		}},
		{ID: "c", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			ranC = true
			return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
		}},
	}
	_, _, err := e.Run(context.Background(), branches, Config{Mode: ModeSequential, Join: JoinAND})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ranC {
		t.Fatalf("expected branch c to still run when no branch set FailFast")
	}
}

func TestRun_BranchTimeout_ReportsTimeoutNotFailed(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		{ID: "slow", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
	}
	_, results, err := e.Run(context.Background(), branches, Config{BranchTimeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != domain.ResultTimeout {
		t.Fatalf("expected branch to report TIMEOUT when it exceeds BranchTimeout, got %s", results[0].Status)
	}
}

func TestRun_StepTimeout_CancelsUnstartedBranches(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		{ID: "a", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}},
		{ID: "b", Execute: func(ctx context.Context) (*domain.StepExecutionResult, error) {
			return &domain.StepExecutionResult{Status: domain.ResultSuccess}, nil
		}},
	}
	_, results, err := e.Run(context.Background(), branches, Config{Mode: ModeSequential, Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[1].Status != domain.ResultCancelled {
		t.Fatalf("expected the second sequential branch to be CANCELLED once the step timeout elapsed, got %s", results[1].Status)
	}
}

func TestRun_CustomJoin(t *testing.T) {
	e := NewExecutor()
	branches := []Branch{
		branchResult("a", domain.ResultSuccess, nil),
		branchResult("b", domain.ResultFailed, nil),
	}
	custom := func(results []domain.BranchExecutionResult) bool {
		for _, r := range results {
			if r.BranchID == "b" {
				return true // custom predicate tolerates b failing
			}
		}
		return false
	}
	join, _, err := e.Run(context.Background(), branches, Config{Join: JoinCustom, CustomJoin: custom})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !join.Success {
		t.Fatalf("expected CustomJoin to defer entirely to the supplied predicate")
	}
}
