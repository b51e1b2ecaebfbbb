// Package storage persists planning runs: metadata and metrics as json,
// the planned trajectory distribution as csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/modeplan/internal/config"
	"github.com/san-kum/modeplan/internal/rollout"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Scenario    string             `json:"scenario"`
	Objective   string             `json:"objective"`
	DesiredMode int                `json:"desired_mode"`
	Horizon     int                `json:"horizon"`
	Dt          float64            `json:"dt"`
	Seed        int64              `json:"seed"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      string             `json:"status"`
	Loss        float64            `json:"loss"`
	Iterations  int                `json:"iterations"`
	Metrics     map[string]float64 `json:"metrics"`
}

// Save writes one run directory holding metadata.json and trajectory.csv.
// controlVars may be nil for deterministic policies.
func (s *Store) Save(sc *config.Scenario, tr *rollout.Trajectory, controlMeans, controlVars *mat.Dense, status string, loss float64, iterations int, metrics map[string]float64) (string, error) {
	runID := fmt.Sprintf("%s_%d", sc.Name, time.Now().Unix())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Scenario:    sc.Name,
		Objective:   sc.Objective,
		DesiredMode: sc.DesiredMode,
		Horizon:     sc.Horizon,
		Dt:          sc.Dt,
		Seed:        sc.Seed,
		Timestamp:   time.Now(),
		Status:      status,
		Loss:        loss,
		Iterations:  iterations,
		Metrics:     metrics,
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "trajectory.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if tr == nil || tr.Len() == 0 {
		return runID, nil
	}

	dx := tr.At(0).Dim()
	du := 0
	if controlMeans != nil {
		_, du = controlMeans.Dims()
	}

	header := []string{"step"}
	for i := 0; i < dx; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := 0; i < dx; i++ {
		header = append(header, fmt.Sprintf("x%d_var", i))
	}
	for i := 0; i < du; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	for i := 0; i < du; i++ {
		header = append(header, fmt.Sprintf("u%d_var", i))
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	h := tr.Horizon()
	for t := 0; t < tr.Len(); t++ {
		b := tr.At(t)
		row := []string{strconv.Itoa(t)}
		for _, v := range b.Mean {
			row = append(row, formatFloat(v))
		}
		for i := 0; i < dx; i++ {
			v := 0.0
			if b.Var != nil {
				v = b.Var[i]
			}
			row = append(row, formatFloat(v))
		}
		for i := 0; i < du; i++ {
			v := 0.0
			if t < h {
				v = controlMeans.At(t, i)
			}
			row = append(row, formatFloat(v))
		}
		for i := 0; i < du; i++ {
			v := 0.0
			if t < h && controlVars != nil {
				v = controlVars.At(t, i)
			}
			row = append(row, formatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metaPath := filepath.Join(s.baseDir, entry.Name(), "metadata.json")
		data, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}

		var meta RunMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}

		runs = append(runs, meta)
	}

	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// LoadTrajectory reads a saved trajectory.csv back as raw rows (every
// column after the step index, in file order).
func (s *Store) LoadTrajectory(runID string) ([][]float64, error) {
	csvPath := filepath.Join(s.baseDir, runID, "trajectory.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(records) < 2 {
		return [][]float64{}, nil
	}

	rows := make([][]float64, 0, len(records)-1)
	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) < 2 {
			continue
		}
		row := make([]float64, 0, len(record)-1)
		ok := true
		for j := 1; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				ok = false
				break
			}
			row = append(row, val)
		}
		if ok {
			rows = append(rows, row)
		}
	}

	return rows, nil
}
