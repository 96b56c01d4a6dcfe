package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkforge/zkforge/internal/emulator"
	"github.com/zkforge/zkforge/internal/ledger"
	"github.com/zkforge/zkforge/internal/orchestrator"
	"github.com/zkforge/zkforge/internal/prover"
	"github.com/zkforge/zkforge/internal/service"
)

func testBackend(t *testing.T) *httptest.Server {
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

	srv := httptest.NewServer(service.NewServer(orc, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func writeProgram(t *testing.T) string {
	t.Helper()
	program := emulator.NewAssembler().
		Push(0).Push(1).Mul().Out().Halt().
		Program()
	path := filepath.Join(t.TempDir(), "mul.zkf")
	require.NoError(t, os.WriteFile(path, program, 0o644))
	return path
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func registerViaCLI(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	out, err := execute(t, "--addr", srv.URL, "--format", "json",
		"register", "--name", "mul", writeProgram(t))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	appID, _ := data["app_id"].(string)
	require.NotEmpty(t, appID)
	return appID
}

func TestRegisterCommand(t *testing.T) {
	srv := testBackend(t)

	out, err := execute(t, "--addr", srv.URL, "register", "--name", "mul", writeProgram(t))
	require.NoError(t, err)
	assert.Contains(t, out, "app_id:")
	assert.Contains(t, out, "created: true")
}

func TestRegisterCommandRejectsBadProgram(t *testing.T) {
	srv := testBackend(t)

	bad := filepath.Join(t.TempDir(), "bad.zkf")
	require.NoError(t, os.WriteFile(bad, []byte{0xde, 0xad}, 0o644))

	_, err := execute(t, "--addr", srv.URL, "register", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestAppsCommand(t *testing.T) {
	srv := testBackend(t)

	out, err := execute(t, "--addr", srv.URL, "apps")
	require.NoError(t, err)
	assert.Contains(t, out, "no registered apps")

	appID := registerViaCLI(t, srv)

	out, err = execute(t, "--addr", srv.URL, "apps")
	require.NoError(t, err)
	assert.Contains(t, out, appID)
	assert.Contains(t, out, "mul")
}

func TestEstimateCommand(t *testing.T) {
	srv := testBackend(t)
	appID := registerViaCLI(t, srv)

	out, err := execute(t, "--addr", srv.URL, "estimate",
		"--input", hex.EncodeToString([]byte("alpha")),
		"--input", hex.EncodeToString([]byte("beta")),
		appID)
	require.NoError(t, err)
	assert.Contains(t, out, "cycles: 5")
	assert.Contains(t, out, "chunks: 1")
	assert.Contains(t, out, "pv_digest:")
}

func TestProveCommandWaitsForCompletion(t *testing.T) {
	srv := testBackend(t)
	appID := registerViaCLI(t, srv)

	out, err := execute(t, "--addr", srv.URL, "prove",
		"--input", hex.EncodeToString([]byte("alpha")),
		"--input", hex.EncodeToString([]byte("beta")),
		"--wait", "--poll", "10ms",
		appID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "proof")
}

func TestStatusCommand(t *testing.T) {
	srv := testBackend(t)
	appID := registerViaCLI(t, srv)

	out, err := execute(t, "--addr", srv.URL, "--format", "json", "prove", appID)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	taskID := resp.Data.(map[string]any)["task_id"].(string)
	require.NotEmpty(t, taskID)

	out, err = execute(t, "--addr", srv.URL, "status", "--wait", "--poll", "10ms", appID, taskID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestStatusCommandUnknownTask(t *testing.T) {
	srv := testBackend(t)

	_, err := execute(t, "--addr", srv.URL, "status", "no-such-app", "no-such-task")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "status", "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestOutputFormatterJSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("not_found", "unknown task", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestVerboseLogGoesToErrWriter(t *testing.T) {
	var out, errOut strings.Builder
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}
	f.VerboseLog("probe %d", 7)
	assert.Empty(t, out.String())
	assert.Equal(t, "probe 7\n", errOut.String())
}
