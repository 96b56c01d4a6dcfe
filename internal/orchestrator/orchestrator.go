// Package orchestrator drives proving tasks through their lifecycle.
//
// Each submitted task gets one driver goroutine that walks the stages in
// order: emulate, partition, prove, aggregate, wrap. Stages within a task
// are strictly sequential; concurrency comes from many tasks sharing the
// bounded chunk prover pool. The ledger is the source of truth at every
// step, so a crash leaves behind rows a restart can classify.
package orchestrator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zkforge/zkforge/internal/aggregate"
	"github.com/zkforge/zkforge/internal/digest"
	"github.com/zkforge/zkforge/internal/emulator"
	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/manifest"
	"github.com/zkforge/zkforge/internal/partition"
	"github.com/zkforge/zkforge/internal/pool"
	"github.com/zkforge/zkforge/internal/prover"
)

// DomainTask is the domain prefix for task identity hashing.
const DomainTask = "zkforge/task/v1"

// Options configures the orchestrator's execution parameters.
type Options struct {
	// MaxCycles is the emulation cycle budget per task.
	MaxCycles uint64

	// EmulatorThreads bounds trace digest parallelism.
	EmulatorThreads int

	// Partition is the chunking policy.
	Partition partition.Params

	// PoolWorkers and PoolDepth size the shared prover pool.
	PoolWorkers int
	PoolDepth   int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxCycles:       emulator.DefaultMaxCycles,
		EmulatorThreads: 0,
		Partition:       partition.Params{ChunkSize: 4096, Threshold: 512, Batch: 16},
		PoolWorkers:     4,
		PoolDepth:       64,
	}
}

// Orchestrator owns the task drivers and the shared prover pool.
type Orchestrator struct {
	ledger *ledger.Ledger
	router *prover.Router
	agg    *aggregate.Aggregator
	pool   *pool.Pool
	tokens TokenGenerator
	vm     *emulator.VM
	opts   Options
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[taskKey]chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// taskKey is the (app, task) pair that identifies one driver. Task ids
// are scoped per app, so the pair is the unit of in-flight tracking.
type taskKey struct {
	appID  string
	taskID string
}

// New creates an Orchestrator. The aggregator's recursion set is exactly
// the router's backends; a proof from any other shape fails aggregation.
func New(led *ledger.Ledger, router *prover.Router, tokens TokenGenerator, opts Options, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxCycles == 0 {
		opts.MaxCycles = emulator.DefaultMaxCycles
	}
	if opts.Partition.ChunkSize == 0 {
		opts.Partition = DefaultOptions().Partition
	}
	if opts.PoolWorkers <= 0 {
		opts.PoolWorkers = DefaultOptions().PoolWorkers
	}

	return &Orchestrator{
		ledger: led,
		router: router,
		agg:    aggregate.New(router.Backends()...),
		pool:   pool.New(pool.Config{Workers: opts.PoolWorkers, Depth: opts.PoolDepth}),
		tokens: tokens,
		vm: emulator.New(
			emulator.WithMaxCycles(opts.MaxCycles),
			emulator.WithThreads(opts.EmulatorThreads),
		),
		opts:     opts,
		log:      log,
		inflight: make(map[taskKey]chan struct{}),
	}
}

// Close waits for in-flight drivers and drains the prover pool.
// Submissions after Close are rejected.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.wg.Wait()
	o.pool.Close()
}

// RegisterApp validates and stores a program, returning its
// content-derived ID. Registration is idempotent: identical bytes and
// metadata always map to the same ID, and re-registration is a no-op.
func (o *Orchestrator) RegisterApp(ctx context.Context, program []byte, info manifest.AppInfo) (appID string, created bool, err error) {
	if err := emulator.ValidateProgram(program); err != nil {
		return "", false, failure(CodeInvalidArgument, err)
	}

	appID, err = manifest.AppID(program, info)
	if err != nil {
		return "", false, failure(CodeInvalidArgument, err)
	}

	pd := digest.Keccak256(program)
	created, err = o.ledger.PutApp(ctx, ledger.App{
		AppID:         appID,
		Name:          info.Name,
		Description:   info.Description,
		Program:       program,
		ProgramKeccak: hex.EncodeToString(pd[:]),
	})
	if err != nil {
		return "", false, failure(CodeLedger, err)
	}

	o.log.Info("app registered", "app_id", appID, "name", info.Name, "created", created)
	return appID, created, nil
}

// ListApps returns all registered apps without their program bytes.
func (o *Orchestrator) ListApps(ctx context.Context) ([]ledger.App, error) {
	apps, err := o.ledger.ListApps(ctx)
	if err != nil {
		return nil, failure(CodeLedger, err)
	}
	return apps, nil
}

// Estimate is the predicted cost of proving a submission.
type Estimate struct {
	// Cycles is the exact trace length from a trace-free emulation run.
	Cycles uint64

	// Chunks is how many chunk proofs the partition policy would produce.
	Chunks int

	// Cost is the billing quantity, currently equal to Cycles.
	Cost uint64

	// PVDigest commits to the public values the real run will produce.
	PVDigest string
}

// EstimateCost runs the program without retaining a trace and reports
// the cycle count, chunk count, and public values digest. The estimate
// is exact: emulation is deterministic, so a later ProveTask with the
// same inputs executes the identical trace.
func (o *Orchestrator) EstimateCost(ctx context.Context, appID string, inputs [][]byte) (Estimate, error) {
	app, err := o.ledger.GetApp(ctx, appID)
	if err != nil {
		return Estimate{}, failure(Classify(err), err)
	}

	res, err := o.vm.Run(ctx, app.Program, inputs, emulator.WithoutTrace())
	if err != nil {
		return Estimate{}, failure(Classify(err), err)
	}

	return Estimate{
		Cycles:   res.Cycles,
		Chunks:   o.chunkCount(res.Cycles),
		Cost:     res.Cycles,
		PVDigest: hex.EncodeToString(res.PVDigest[:]),
	}, nil
}

// chunkCount mirrors the partition policy without materializing chunks.
func (o *Orchestrator) chunkCount(cycles uint64) int {
	p := o.opts.Partition
	if cycles == 0 || cycles < uint64(p.Threshold) {
		return 1
	}
	return int((cycles + uint64(p.ChunkSize) - 1) / uint64(p.ChunkSize))
}

// TaskID derives the deterministic task identifier for a submission.
// Identity covers the app and inputs only; the accelerator hint selects
// a backend but does not change what is being proven.
func TaskID(appID string, inputs [][]byte) string {
	parts := make([][]byte, 0, 2+2*len(inputs))
	parts = append(parts, []byte(DomainTask), []byte(appID))
	for _, in := range inputs {
		parts = append(parts, digest.Uint64Bytes(uint64(len(in))), in)
	}
	id := digest.Keccak256(parts...)
	return hex.EncodeToString(id[:])
}

// SubmitTask creates a proving task and starts its driver. An empty
// taskID derives one from the app and inputs. Task ids are scoped per
// app: two apps may use the same id for unrelated work. Submission is
// idempotent: resubmitting the same task with the same inputs returns
// the existing task ID without a second driver, whether the original
// is still running or already terminal. Reusing a taskID under the
// same app with different inputs is rejected.
func (o *Orchestrator) SubmitTask(ctx context.Context, appID, taskID string, inputs [][]byte, backendHint string) (string, bool, error) {
	if _, err := o.ledger.GetApp(ctx, appID); err != nil {
		return "", false, failure(Classify(err), err)
	}

	if taskID == "" {
		taskID = TaskID(appID, inputs)
	}
	encoded, inputsDigest, err := encodeInputs(inputs)
	if err != nil {
		return "", false, failure(CodeInvalidArgument, err)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", false, failure(CodeInternal, fmt.Errorf("orchestrator closed"))
	}

	created, err := o.ledger.CreateTask(ctx, ledger.Task{
		AppID:        appID,
		TaskID:       taskID,
		Inputs:       encoded,
		InputsDigest: inputsDigest,
		BackendHint:  backendHint,
	})
	if err != nil {
		o.mu.Unlock()
		return "", false, failure(CodeLedger, err)
	}
	if !created {
		o.mu.Unlock()
		existing, err := o.ledger.GetTask(ctx, appID, taskID)
		if err != nil {
			return "", false, failure(Classify(err), err)
		}
		if existing.InputsDigest != inputsDigest {
			return "", false, failure(CodeInvalidArgument,
				fmt.Errorf("task %s already exists for app %s with different inputs", taskID, appID))
		}
		o.log.Debug("task resubmitted", "app_id", appID, "task_id", taskID)
		return taskID, false, nil
	}

	done := make(chan struct{})
	o.inflight[taskKey{appID, taskID}] = done
	o.wg.Add(1)
	o.mu.Unlock()

	token := o.tokens.Generate()
	go o.drive(appID, taskID, token, done)

	o.log.Info("task submitted", "task_id", taskID, "app_id", appID, "run_token", token)
	return taskID, true, nil
}

// Result returns the task row for client polling. Progress counters,
// the final envelope, and the error classification all live on the row.
func (o *Orchestrator) Result(ctx context.Context, appID, taskID string) (ledger.Task, error) {
	task, err := o.ledger.GetTask(ctx, appID, taskID)
	if err != nil {
		return ledger.Task{}, failure(Classify(err), err)
	}
	return task, nil
}

// Wait blocks until the task's driver finishes or ctx is cancelled.
// Returns immediately for tasks with no running driver.
func (o *Orchestrator) Wait(ctx context.Context, appID, taskID string) error {
	o.mu.Lock()
	done, ok := o.inflight[taskKey{appID, taskID}]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive walks one task through every stage. Runs in its own goroutine;
// all failures land in the ledger, never in a panic.
func (o *Orchestrator) drive(appID, taskID, token string, done chan struct{}) {
	defer o.wg.Done()
	defer close(done)
	defer func() {
		o.mu.Lock()
		delete(o.inflight, taskKey{appID, taskID})
		o.mu.Unlock()
	}()

	ctx := context.Background()
	log := o.log.With("app_id", appID, "task_id", taskID, "run_token", token)

	task, err := o.ledger.GetTask(ctx, appID, taskID)
	if err != nil {
		log.Error("driver could not load task", "error", err)
		return
	}
	app, err := o.ledger.GetApp(ctx, appID)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateQueued, err)
		return
	}
	inputs, err := decodeInputs(task.Inputs)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateQueued, failure(CodeInternal, err))
		return
	}

	// Emulate.
	if !o.advance(ctx, log, appID, taskID, ledger.StateQueued, ledger.StateEmulating, token) {
		return
	}
	res, err := o.vm.Run(ctx, app.Program, inputs)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateEmulating, err)
		return
	}
	if err := o.ledger.SetEmulation(ctx, appID, taskID, res.Cycles, hex.EncodeToString(res.PVDigest[:])); err != nil {
		o.failTask(log, appID, taskID, ledger.StateEmulating, failure(CodeLedger, err))
		return
	}
	log.Info("emulation complete", "cycles", res.Cycles)

	// Partition.
	if !o.advance(ctx, log, appID, taskID, ledger.StateEmulating, ledger.StatePartitioning, token) {
		return
	}
	chunks, err := partition.Plan(res.Trace, o.opts.Partition)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StatePartitioning, err)
		return
	}
	if err := o.ledger.SetProgress(ctx, appID, taskID, 0, len(chunks)); err != nil {
		o.failTask(log, appID, taskID, ledger.StatePartitioning, failure(CodeLedger, err))
		return
	}

	// Prove.
	if !o.advance(ctx, log, appID, taskID, ledger.StatePartitioning, ledger.StateProving, token) {
		return
	}
	backend := o.router.Pick(task.BackendHint)
	proofs, err := o.proveChunks(ctx, log, appID, taskID, backend, chunks)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateProving, err)
		return
	}

	// Aggregate.
	if !o.advance(ctx, log, appID, taskID, ledger.StateProving, ledger.StateAggregating, token) {
		return
	}
	agg, err := o.agg.Aggregate(ctx, chunks, proofs, res.PVDigest)
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateAggregating, err)
		return
	}

	// Wrap.
	if !o.advance(ctx, log, appID, taskID, ledger.StateAggregating, ledger.StateWrapping, token) {
		return
	}
	envelope, err := aggregate.Wrap(agg).MarshalBinary()
	if err != nil {
		o.failTask(log, appID, taskID, ledger.StateWrapping, failure(CodeInternal, err))
		return
	}
	if err := retryLedger(func() error {
		return o.ledger.Complete(ctx, appID, taskID, envelope)
	}); err != nil {
		log.Error("complete task", "error", err)
		if !terminalLedgerErr(err) {
			o.failTask(log, appID, taskID, ledger.StateWrapping, failure(CodeLedger, err))
		}
		return
	}
	log.Info("task completed", "cycles", agg.Cycles, "chunks", agg.Count, "shape", agg.Shape.ID())
}

// advanceRetries bounds how often a stage transition is retried when
// the ledger write fails transiently (locked database, busy disk).
const advanceRetries = 3

// advance moves the task between stages. Transient ledger errors are
// retried; a persistent failure fails the task rather than stranding
// it in a non-terminal state until the next restart. Conflict and
// not-found errors are never retried: the row moved under the driver
// and the newer state wins.
func (o *Orchestrator) advance(ctx context.Context, log *slog.Logger, appID, taskID string, from, to ledger.TaskState, detail string) bool {
	err := retryLedger(func() error {
		return o.ledger.Advance(ctx, appID, taskID, from, to, detail)
	})
	if err == nil {
		return true
	}
	log.Error("advance task", "from", from, "to", to, "error", err)
	if !terminalLedgerErr(err) {
		o.failTask(log, appID, taskID, from, failure(CodeLedger, err))
	}
	return false
}

// retryLedger runs fn up to advanceRetries times with a short backoff.
// Conflict and not-found errors return immediately.
func retryLedger(fn func() error) error {
	var err error
	for attempt := 0; attempt < advanceRetries; attempt++ {
		err = fn()
		if err == nil || terminalLedgerErr(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}
	return err
}

// terminalLedgerErr reports whether a ledger error cannot be helped by
// retrying or by failing the task again.
func terminalLedgerErr(err error) bool {
	return errors.Is(err, ledger.ErrTransitionConflict) || errors.Is(err, ledger.ErrNotFound)
}

// proveChunks dispatches chunks to the shared pool in batches,
// updating the progress counter as results land. The first failed
// chunk fails the task; remaining in-flight results are still drained
// so pool accounting stays correct.
func (o *Orchestrator) proveChunks(ctx context.Context, log *slog.Logger, appID, taskID string, backend prover.Backend, chunks []partition.Chunk) ([]prover.ChunkProof, error) {
	batches, err := partition.Batches(chunks, o.opts.Partition)
	if err != nil {
		return nil, err
	}

	proofs := make([]prover.ChunkProof, len(chunks))
	done := 0
	for _, batch := range batches {
		results := make([]<-chan pool.Result, 0, len(batch))
		for _, chunk := range batch {
			ch, err := o.pool.Submit(ctx, backend, chunk)
			if err != nil {
				return nil, failure(CodeInternal, err)
			}
			results = append(results, ch)
		}

		var firstErr error
		for _, ch := range results {
			r := <-ch
			if r.Err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("chunk %d: %w", r.Index, r.Err)
				}
				continue
			}
			proofs[r.Index] = r.Proof
			done++
		}
		if firstErr != nil {
			return nil, firstErr
		}

		if err := o.ledger.SetProgress(ctx, appID, taskID, done, len(chunks)); err != nil {
			return nil, failure(CodeLedger, err)
		}
		log.Debug("batch proven", "done", done, "total", len(chunks))
	}
	return proofs, nil
}

// failTask records a classified failure on the task row.
func (o *Orchestrator) failTask(log *slog.Logger, appID, taskID string, from ledger.TaskState, err error) {
	code := Classify(err)
	ferr := retryLedger(func() error {
		return o.ledger.Fail(context.Background(), appID, taskID, from, string(code), err.Error())
	})
	if ferr != nil {
		log.Error("record task failure", "cause", err, "error", ferr)
		return
	}
	log.Warn("task failed", "code", code, "error", err)
}

// encodeInputs serializes inputs for the task row as a canonical JSON
// array of hex strings, and returns the hex digest used in listings.
func encodeInputs(inputs [][]byte) (encoded []byte, digestHex string, err error) {
	arr := make([]any, len(inputs))
	parts := make([][]byte, 0, 1+2*len(inputs))
	parts = append(parts, digest.Uint64Bytes(uint64(len(inputs))))
	for i, in := range inputs {
		arr[i] = hex.EncodeToString(in)
		parts = append(parts, digest.Uint64Bytes(uint64(len(in))), in)
	}
	encoded, err = manifest.MarshalCanonical(arr)
	if err != nil {
		return nil, "", err
	}
	d := digest.Keccak256(parts...)
	return encoded, hex.EncodeToString(d[:]), nil
}

// decodeInputs is the inverse of encodeInputs.
func decodeInputs(encoded []byte) ([][]byte, error) {
	var arr []string
	if err := json.Unmarshal(encoded, &arr); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	out := make([][]byte, len(arr))
	for i, s := range arr {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode inputs[%d]: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
