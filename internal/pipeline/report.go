package pipeline

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bcgp/connectivity-impact/internal/fault"
	"github.com/bcgp/connectivity-impact/internal/ranking"
)

// Stage outcomes.
const (
	StageComplete = "complete"
	StageFailed   = "failed"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one run. It is stored as JSON on the run record.
type Report struct {
	RunID      string                                `json:"run_id"`
	Command    string                                `json:"command"`
	StartedAt  time.Time                             `json:"started_at"`
	FinishedAt time.Time                             `json:"finished_at"`
	Stages     []StageResult                         `json:"stages"`
	Warnings   []fault.Warning                       `json:"warnings,omitempty"`
	Passes     map[ranking.Family]int                `json:"zonal_passes,omitempty"`
	Mismatches map[ranking.Family][]ranking.Mismatch `json:"region_mismatches,omitempty"`
	Outputs    []string                              `json:"outputs,omitempty"`
}

func newReport(command string) *Report {
	return &Report{
		Command:    command,
		StartedAt:  time.Now().UTC(),
		Passes:     map[ranking.Family]int{},
		Mismatches: map[ranking.Family][]ranking.Mismatch{},
	}
}

func (r *Report) addStage(name string, start time.Time, err error) {
	sr := StageResult{Name: name, Status: StageComplete, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		sr.Status = StageFailed
		sr.Error = err.Error()
	}
	r.Stages = append(r.Stages, sr)
}

// Stage returns the result of the named stage.
func (r *Report) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// JSON encodes the report.
func (r *Report) JSON() ([]byte, error) {
	b, err := json.Marshal(r)
	return b, eris.Wrap(err, "pipeline: marshal report")
}

// ParseReport decodes a stored report.
func ParseReport(b []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "pipeline: unmarshal report")
	}
	return &r, nil
}
