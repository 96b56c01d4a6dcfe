package harness

import (
	"fmt"

	"github.com/zkforge/zkforge/internal/manifest"
)

// Snapshot is the stable, hand-verifiable projection of a scenario run.
// It deliberately excludes digests and identifiers derived from hashing
// so golden files can be authored and reviewed by inspection.
type Snapshot struct {
	Name        string           `json:"name"`
	State       string           `json:"state"`
	Cycles      uint64           `json:"cycles"`
	ChunksTotal int              `json:"chunks_total"`
	ErrCode     string           `json:"err_code"`
	Transitions []snapTransition `json:"transitions"`
}

type snapTransition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Snap projects a result into its golden snapshot form.
func (s *Scenario) Snap(res *Result) Snapshot {
	trs := make([]snapTransition, len(res.Transitions))
	for i, tr := range res.Transitions {
		trs[i] = snapTransition{From: string(tr.From), To: string(tr.To)}
	}
	return Snapshot{
		Name:        s.Name,
		State:       string(res.Task.State),
		Cycles:      res.Task.Cycles,
		ChunksTotal: res.Task.ChunksTotal,
		ErrCode:     res.Task.ErrCode,
		Transitions: trs,
	}
}

// MarshalCanonical renders the snapshot as canonical JSON so golden
// comparison is byte-stable.
func (sn Snapshot) MarshalCanonical() ([]byte, error) {
	trs := make([]any, len(sn.Transitions))
	for i, tr := range sn.Transitions {
		trs[i] = map[string]any{"from": tr.From, "to": tr.To}
	}
	out, err := manifest.MarshalCanonical(map[string]any{
		"name":         sn.Name,
		"state":        sn.State,
		"cycles":       sn.Cycles,
		"chunks_total": sn.ChunksTotal,
		"err_code":     sn.ErrCode,
		"transitions":  trs,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", sn.Name, err)
	}
	return out, nil
}
