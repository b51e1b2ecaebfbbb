package dynamics

// Nominal supplies a known dynamics offset added to the GP's predicted
// state difference, so the experts only need to model the residual.
type Nominal interface {
	Delta(stateMean, controlMean []float64) []float64
}

// VelocityPointMass integrates velocity controls over one timestep: the
// first len(control) state dimensions move by dt*u, the rest are held.
type VelocityPointMass struct {
	Dt float64
}

func (n VelocityPointMass) Delta(state, control []float64) []float64 {
	d := make([]float64, len(state))
	for i := range control {
		if i >= len(state) {
			break
		}
		d[i] = n.Dt * control[i]
	}
	return d
}
