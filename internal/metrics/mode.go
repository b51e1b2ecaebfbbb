package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/dynamics"
	"github.com/san-kum/modeplan/internal/rollout"
)

// ModeProbability tracks the desired-mode probability along the plan
// through the gating network. The reported value is the worst step, since
// a single low-probability step is enough to risk leaving the mode.
type ModeProbability struct {
	name string
	dyn  *dynamics.ModeDynamics
	min  float64
	sum  float64
	n    int
}

func NewModeProbability(dyn *dynamics.ModeDynamics) *ModeProbability {
	return &ModeProbability{
		name: "mode_prob_min",
		dyn:  dyn,
		min:  math.Inf(1),
	}
}

func (m *ModeProbability) Name() string { return m.name }

func (m *ModeProbability) Observe(x rollout.Belief, u, uVar []float64, t int) {
	if u == nil {
		return
	}
	sm := mat.NewDense(1, x.Dim(), append([]float64(nil), x.Mean...))
	cm := mat.NewDense(1, len(u), append([]float64(nil), u...))
	var sv, cv *mat.Dense
	if x.Var != nil && uVar != nil {
		sv = mat.NewDense(1, x.Dim(), append([]float64(nil), x.Var...))
		cv = mat.NewDense(1, len(uVar), append([]float64(nil), uVar...))
	}
	probs, err := m.dyn.PredictModeProbability(sm, cm, sv, cv)
	if err != nil {
		return
	}
	p := probs[0]
	m.min = math.Min(m.min, p)
	m.sum += p
	m.n++
}

func (m *ModeProbability) Value() float64 {
	if m.n == 0 {
		return 0
	}
	return m.min
}

// Mean is the average per-step desired-mode probability.
func (m *ModeProbability) Mean() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

func (m *ModeProbability) Reset() {
	m.min = math.Inf(1)
	m.sum = 0
	m.n = 0
}
