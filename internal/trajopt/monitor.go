package trajopt

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrNoCheckpoint reports that a checkpoint directory holds no saved steps.
var ErrNoCheckpoint = errors.New("trajopt: no checkpoints")

// checkpoint is the on-disk format for one saved optimisation step.
type checkpoint struct {
	Step   int       `json:"step"`
	Loss   float64   `json:"loss"`
	Params []float64 `json:"params"`
	Saved  time.Time `json:"saved"`
}

// Checkpointer persists policy parameters between optimisation steps so a
// run can be resumed or its best iterate recovered after a crash. Writes
// happen on a background goroutine and never block the solver.
type Checkpointer struct {
	dir  string
	keep int

	mu      sync.Mutex
	wmu     sync.Mutex
	wg      sync.WaitGroup
	lastErr error
}

// NewCheckpointer writes step files under dir, retaining the most recent
// keep files (0 keeps everything).
func NewCheckpointer(dir string, keep int) (*Checkpointer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("trajopt: checkpoint dir: %w", err)
	}
	return &Checkpointer{dir: dir, keep: keep}, nil
}

// Save schedules a checkpoint write for the given step.
func (c *Checkpointer) Save(step int, loss float64, params []float64) {
	cp := checkpoint{Step: step, Loss: loss, Saved: time.Now(), Params: append([]float64(nil), params...)}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.write(cp); err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
		}
	}()
}

// write serialises writers so pruning always sees a settled directory.
func (c *Checkpointer) write(cp checkpoint) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	path := filepath.Join(c.dir, fmt.Sprintf("step-%06d.json", cp.Step))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return c.prune()
}

func (c *Checkpointer) prune() error {
	if c.keep <= 0 {
		return nil
	}
	names, err := c.stepFiles()
	if err != nil {
		return err
	}
	for len(names) > c.keep {
		if err := os.Remove(filepath.Join(c.dir, names[0])); err != nil {
			return err
		}
		names = names[1:]
	}
	return nil
}

func (c *Checkpointer) stepFiles() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Flush waits for pending writes and reports the last write error.
func (c *Checkpointer) Flush() error {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Latest loads the most recent checkpoint, or an error when none exist.
func (c *Checkpointer) Latest() (step int, loss float64, params []float64, err error) {
	c.wg.Wait()
	names, err := c.stepFiles()
	if err != nil {
		return 0, 0, nil, err
	}
	if len(names) == 0 {
		return 0, 0, nil, fmt.Errorf("%w in %s", ErrNoCheckpoint, c.dir)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, names[len(names)-1]))
	if err != nil {
		return 0, 0, nil, err
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, 0, nil, fmt.Errorf("trajopt: parse checkpoint: %w", err)
	}
	return cp.Step, cp.Loss, cp.Params, nil
}
