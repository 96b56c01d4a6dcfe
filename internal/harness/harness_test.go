package harness

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runScenario loads, runs, and checks one testdata scenario, then
// compares its snapshot against the golden file of the same name.
func runScenario(t *testing.T, name string) {
	t.Helper()

	s, err := LoadScenario(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)

	res, err := Run(s, t.TempDir())
	require.NoError(t, err)

	for _, mismatch := range s.Check(res) {
		t.Error(mismatch)
	}

	snap, err := s.Snap(res).MarshalCanonical()
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, name, snap)
}

func TestScenario_MulTwoInputs(t *testing.T) {
	runScenario(t, "mul_two_inputs")
}

func TestScenario_SpinCycleLimit(t *testing.T) {
	runScenario(t, "spin_cycle_limit")
}

func TestScenario_SpinMultiChunk(t *testing.T) {
	runScenario(t, "spin_multi_chunk")
}

func TestRun_CompletedTaskCarriesProof(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "mul_two_inputs.yaml"))
	require.NoError(t, err)

	res, err := Run(s, t.TempDir())
	require.NoError(t, err)

	assert.NotEmpty(t, res.AppID)
	assert.NotEmpty(t, res.TaskID)
	assert.NotEmpty(t, res.Task.Envelope)
	assert.NotEmpty(t, res.Task.PVDigest)
}

func TestRun_TransitionsCarryRunToken(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "mul_two_inputs.yaml"))
	require.NoError(t, err)

	res, err := Run(s, t.TempDir())
	require.NoError(t, err)

	require.NotEmpty(t, res.Transitions)
	assert.Equal(t, "scenario-run", res.Transitions[0].Detail)
}

func TestCheck_ReportsEveryMismatch(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "mul_two_inputs.yaml"))
	require.NoError(t, err)

	res, err := Run(s, t.TempDir())
	require.NoError(t, err)

	wrong := *s
	wrong.Expect = Expectation{State: "failed", Cycles: 99, Chunks: 7, ErrCode: "internal"}
	assert.Len(t, wrong.Check(res), 4)
}
