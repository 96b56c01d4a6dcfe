package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/manifest"
	"github.com/zkforge/zkforge/internal/orchestrator"
	"github.com/zkforge/zkforge/internal/partition"
	"github.com/zkforge/zkforge/internal/prover"
	"github.com/zkforge/zkforge/internal/testutil"
)

// Result is the outcome of running one scenario.
type Result struct {
	AppID       string
	TaskID      string
	Task        ledger.Task
	Transitions []ledger.Transition
}

// runTimeout bounds a single scenario's lifecycle.
const runTimeout = 60 * time.Second

// harnessParams keeps chunking small so scenarios exercise multi-chunk
// paths without long programs.
var harnessParams = partition.Params{ChunkSize: 8, Threshold: 4, Batch: 4}

// Run executes one scenario end to end in an isolated database under
// dir. The run token generator is fixed, so transition details are
// deterministic across runs.
func Run(s *Scenario, dir string) (*Result, error) {
	program, err := s.Assemble()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	inputs, err := s.DecodeInputs()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	led, err := ledger.Open(filepath.Join(dir, s.Name+".db"))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	defer led.Close()

	router := prover.NewRouter(prover.NewCommitBackend())
	orc := orchestrator.New(led, router, testutil.NewFixedTokenGenerator("scenario-run"), orchestrator.Options{
		MaxCycles:   s.MaxCycles,
		Partition:   harnessParams,
		PoolWorkers: 2,
		PoolDepth:   8,
	}, nil)
	defer orc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	appID, _, err := orc.RegisterApp(ctx, program, manifest.AppInfo{Name: s.Name, Description: s.Description})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: register: %w", s.Name, err)
	}

	taskID, _, err := orc.SubmitTask(ctx, appID, "", inputs, s.BackendHint)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: submit: %w", s.Name, err)
	}
	if err := orc.Wait(ctx, appID, taskID); err != nil {
		return nil, fmt.Errorf("scenario %s: wait: %w", s.Name, err)
	}

	task, err := orc.Result(ctx, appID, taskID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: result: %w", s.Name, err)
	}
	transitions, err := led.Transitions(ctx, appID, taskID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: transitions: %w", s.Name, err)
	}

	return &Result{
		AppID:       appID,
		TaskID:      taskID,
		Task:        task,
		Transitions: transitions,
	}, nil
}

// Check compares a result against the scenario's expectation. Returns
// every mismatch, not just the first.
func (s *Scenario) Check(res *Result) []error {
	var errs []error
	expect := s.Expect

	if string(res.Task.State) != expect.State {
		errs = append(errs, fmt.Errorf("state: got %s, want %s", res.Task.State, expect.State))
	}
	if res.Task.Cycles != expect.Cycles {
		errs = append(errs, fmt.Errorf("cycles: got %d, want %d", res.Task.Cycles, expect.Cycles))
	}
	if res.Task.ChunksTotal != expect.Chunks {
		errs = append(errs, fmt.Errorf("chunks: got %d, want %d", res.Task.ChunksTotal, expect.Chunks))
	}
	if res.Task.ErrCode != expect.ErrCode {
		errs = append(errs, fmt.Errorf("err_code: got %q, want %q", res.Task.ErrCode, expect.ErrCode))
	}
	return errs
}
