package metrics

import (
	"math"

	"github.com/san-kum/modeplan/internal/rollout"
)

// ControlEffort is the mean absolute control magnitude over the horizon.
// Control variance adds its standard deviation, so uncertain controls
// count as more effort than their mean alone.
type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(x rollout.Belief, u, uVar []float64, t int) {
	if u == nil {
		return
	}
	for i, val := range u {
		c.sum += math.Abs(val)
		if uVar != nil {
			c.sum += math.Sqrt(uVar[i])
		}
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}
