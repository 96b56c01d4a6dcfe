package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkforge/zkforge/internal/emulator"
	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/orchestrator"
	"github.com/zkforge/zkforge/internal/prover"
)

func testServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	opts := orchestrator.DefaultOptions()
	opts.Partition.ChunkSize = 8
	opts.Partition.Threshold = 4
	opts.PoolWorkers = 2

	router := prover.NewRouter(prover.NewCommitBackend())
	orc := orchestrator.New(led, router, orchestrator.UUIDv7Generator{}, opts, nil)
	t.Cleanup(orc.Close)

	srv := httptest.NewServer(NewServer(orc, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, orc
}

func post(t *testing.T, srv *httptest.Server, path string, req, resp any) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	r, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer r.Body.Close()

	if resp != nil {
		require.NoError(t, json.NewDecoder(r.Body).Decode(resp))
	}
	return r
}

func testProgramHex() string {
	program := emulator.NewAssembler().
		Push(0).Push(1).Mul().Out().Halt().
		Program()
	return hex.EncodeToString(program)
}

func TestRegisterAppEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	var resp RegisterAppResponse
	r := post(t, srv, "/v1/register_app", RegisterAppRequest{
		Program: testProgramHex(),
		Name:    "mul",
	}, &resp)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	require.Nil(t, resp.Err)
	assert.NotEmpty(t, resp.AppID)
	assert.True(t, resp.Created)

	// Same registration again: same ID, created=false.
	var again RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{
		Program: testProgramHex(),
		Name:    "mul",
	}, &again)
	require.Nil(t, again.Err)
	assert.Equal(t, resp.AppID, again.AppID)
	assert.False(t, again.Created)
}

func TestRegisterAppRejectsBadProgram(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("not hex", func(t *testing.T) {
		var resp RegisterAppResponse
		post(t, srv, "/v1/register_app", RegisterAppRequest{Program: "zzzz"}, &resp)
		require.NotNil(t, resp.Err)
		assert.Equal(t, string(orchestrator.CodeInvalidArgument), resp.Err.Code)
	})

	t.Run("bad magic", func(t *testing.T) {
		var resp RegisterAppResponse
		post(t, srv, "/v1/register_app", RegisterAppRequest{Program: "deadbeef"}, &resp)
		require.NotNil(t, resp.Err)
		assert.Equal(t, string(orchestrator.CodeInvalidArgument), resp.Err.Code)
	})
}

func TestProveTaskLifecycleOverHTTP(t *testing.T) {
	srv, orc := testServer(t)

	var reg RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{Program: testProgramHex(), Name: "mul"}, &reg)
	require.Nil(t, reg.Err)

	inputs := []string{hex.EncodeToString([]byte("alpha")), hex.EncodeToString([]byte("beta"))}

	var est EstimateCostResponse
	post(t, srv, "/v1/estimate_cost", EstimateCostRequest{AppID: reg.AppID, Inputs: inputs}, &est)
	require.Nil(t, est.Err)
	assert.NotZero(t, est.Cycles)
	assert.Equal(t, est.Cycles, est.Cost)
	assert.NotEmpty(t, est.PVDigest)

	var prove ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: reg.AppID, Inputs: inputs}, &prove)
	require.Nil(t, prove.Err)
	require.NotEmpty(t, prove.TaskID)
	assert.True(t, prove.Created)

	// Resubmission is a no-op returning the same task.
	var again ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: reg.AppID, Inputs: inputs}, &again)
	require.Nil(t, again.Err)
	assert.Equal(t, prove.TaskID, again.TaskID)
	assert.False(t, again.Created)

	// Poll until terminal; the driver signal bounds the wait.
	waitCtx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()
	require.NoError(t, orc.Wait(waitCtx, reg.AppID, prove.TaskID))

	var result ProvingResultResponse
	post(t, srv, "/v1/proving_result", ProvingResultRequest{AppID: reg.AppID, TaskID: prove.TaskID}, &result)
	require.Nil(t, result.Err)

	require.Equal(t, string(ledger.StateCompleted), result.State)
	assert.Equal(t, est.Cycles, result.Cycles)
	assert.Equal(t, est.PVDigest, result.PVDigest)
	assert.Equal(t, result.ChunksTotal, result.ChunksDone)
	assert.NotEmpty(t, result.Proof)
}

func TestProveTaskWithCallerTaskID(t *testing.T) {
	srv, orc := testServer(t)

	var reg RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{Program: testProgramHex(), Name: "mul"}, &reg)
	require.Nil(t, reg.Err)

	inputs := []string{hex.EncodeToString([]byte("alpha")), hex.EncodeToString([]byte("beta"))}

	var prove ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: reg.AppID, TaskID: "nightly-7", Inputs: inputs}, &prove)
	require.Nil(t, prove.Err)
	assert.Equal(t, "nightly-7", prove.TaskID)
	assert.True(t, prove.Created)

	// The same id with different inputs is a conflict, not a new task.
	var conflict ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: reg.AppID, TaskID: "nightly-7"}, &conflict)
	require.NotNil(t, conflict.Err)
	assert.Equal(t, string(orchestrator.CodeInvalidArgument), conflict.Err.Code)

	// Under a different app the same id is free.
	var other RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{Program: testProgramHex(), Name: "mul-v2"}, &other)
	require.Nil(t, other.Err)
	require.NotEqual(t, reg.AppID, other.AppID)

	var reuse ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: other.AppID, TaskID: "nightly-7", Inputs: inputs}, &reuse)
	require.Nil(t, reuse.Err)
	assert.True(t, reuse.Created)

	require.NoError(t, orc.Wait(t.Context(), reg.AppID, prove.TaskID))
	require.NoError(t, orc.Wait(t.Context(), other.AppID, reuse.TaskID))

	// Each pair resolves to its own task row.
	var mine ProvingResultResponse
	post(t, srv, "/v1/proving_result", ProvingResultRequest{AppID: other.AppID, TaskID: "nightly-7"}, &mine)
	require.Nil(t, mine.Err)
	assert.Equal(t, other.AppID, mine.AppID)
	assert.Equal(t, string(ledger.StateCompleted), mine.State)
}

func TestProvingResultReportsTaskFailure(t *testing.T) {
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer led.Close()

	opts := orchestrator.DefaultOptions()
	opts.MaxCycles = 5

	router := prover.NewRouter(prover.NewCommitBackend())
	orc := orchestrator.New(led, router, orchestrator.UUIDv7Generator{}, opts, nil)
	defer orc.Close()

	srv := httptest.NewServer(NewServer(orc, nil).Handler())
	defer srv.Close()

	// A program that needs more than five cycles.
	asm := emulator.NewAssembler()
	for i := 0; i < 10; i++ {
		asm.Const(uint64(i)).Out()
	}
	program := hex.EncodeToString(asm.Halt().Program())

	var reg RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{Program: program, Name: "spin"}, &reg)
	require.Nil(t, reg.Err)

	var prove ProveTaskResponse
	post(t, srv, "/v1/prove_task", ProveTaskRequest{AppID: reg.AppID}, &prove)
	require.Nil(t, prove.Err)

	require.NoError(t, orc.Wait(t.Context(), reg.AppID, prove.TaskID))

	var result ProvingResultResponse
	post(t, srv, "/v1/proving_result", ProvingResultRequest{AppID: reg.AppID, TaskID: prove.TaskID}, &result)
	require.NotNil(t, result.Err)
	assert.Equal(t, string(ledger.StateFailed), result.State)
	assert.Equal(t, string(orchestrator.CodeCycleLimit), result.Err.Code)
}

func TestListApps(t *testing.T) {
	srv, _ := testServer(t)

	var empty ListAppsResponse
	post(t, srv, "/v1/list_apps", ListAppsRequest{}, &empty)
	require.Nil(t, empty.Err)
	assert.Empty(t, empty.Apps)

	var reg RegisterAppResponse
	post(t, srv, "/v1/register_app", RegisterAppRequest{Program: testProgramHex(), Name: "mul"}, &reg)
	require.Nil(t, reg.Err)

	var list ListAppsResponse
	post(t, srv, "/v1/list_apps", ListAppsRequest{}, &list)
	require.Nil(t, list.Err)
	require.Len(t, list.Apps, 1)
	assert.Equal(t, reg.AppID, list.Apps[0].AppID)
	assert.Equal(t, "mul", list.Apps[0].Name)
	assert.NotEmpty(t, list.Apps[0].ProgramKeccak)
}

func TestUnknownIDsReturnNotFound(t *testing.T) {
	srv, _ := testServer(t)

	var est EstimateCostResponse
	post(t, srv, "/v1/estimate_cost", EstimateCostRequest{AppID: "missing"}, &est)
	require.NotNil(t, est.Err)
	assert.Equal(t, string(orchestrator.CodeNotFound), est.Err.Code)

	var result ProvingResultResponse
	post(t, srv, "/v1/proving_result", ProvingResultRequest{AppID: "missing", TaskID: "missing"}, &result)
	require.NotNil(t, result.Err)
	assert.Equal(t, string(orchestrator.CodeNotFound), result.Err.Code)
}

func TestTransportErrors(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("method not allowed", func(t *testing.T) {
		r, err := http.Get(srv.URL + "/v1/register_app")
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		r, err := http.Post(srv.URL+"/v1/register_app", "application/json", bytes.NewReader([]byte("{not json")))
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	})

	t.Run("unknown field", func(t *testing.T) {
		r, err := http.Post(srv.URL+"/v1/prove_task", "application/json", bytes.NewReader([]byte(`{"bogus":1}`)))
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, http.StatusBadRequest, r.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	r, err := http.Get(srv.URL + "/v1/healthz")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}
