package statusapi

import (
	"sync"
	"time"
)

// Phase is the coarse stage of a run.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseRunning   Phase = "running"
	PhaseFinishing Phase = "finishing"
	PhaseDone      Phase = "done"
)

// Status is what GET /status returns.
type Status struct {
	RunID          string    `json:"runId"`
	Phase          Phase     `json:"phase"`
	Iteration      int       `json:"iteration"`
	URL            string    `json:"url,omitempty"`
	Iterations     int       `json:"iterations"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	LastError      string    `json:"lastError,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
}

// Progress tracks a run as iterations start and finish.
type Progress struct {
	now func() time.Time

	mu     sync.Mutex
	status Status
}

func NewProgress(runID string, iterations int) *Progress {
	p := &Progress{now: time.Now}
	p.status = Status{
		RunID:      runID,
		Phase:      PhaseStarting,
		Iterations: iterations,
		StartedAt:  p.now(),
	}
	return p
}

func (p *Progress) IterationStarted(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Phase = PhaseRunning
	p.status.Iteration = i
}

func (p *Progress) IterationFinished(i int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Completed++
	if err != nil {
		p.status.Failed++
		p.status.LastError = err.Error()
	}
}

// NavigatingTo records the page currently being loaded.
func (p *Progress) NavigatingTo(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.URL = url
}

func (p *Progress) SetPhase(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Phase = phase
}

func (p *Progress) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.ElapsedSeconds = p.now().Sub(s.StartedAt).Seconds()
	return s
}
