package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StepStatus represents the state of a progress step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepError
)

// ProgressStep represents a single stage of a multi-stage command
type ProgressStep struct {
	Name   string
	Status StepStatus
	Detail string // shown next to a running or finished step
	Error  string
}

// ProgressDisplay manages multi-step progress output
type ProgressDisplay struct {
	out        io.Writer
	steps      []ProgressStep
	spinnerIdx int
	quiet      bool
	mu         sync.Mutex
	lastRender time.Time
	rendered   bool
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewProgressDisplay creates a new progress display
func NewProgressDisplay(out io.Writer, steps []string, quiet bool) *ProgressDisplay {
	pd := &ProgressDisplay{
		out:   out,
		steps: make([]ProgressStep, len(steps)),
		quiet: quiet,
	}
	for i, name := range steps {
		pd.steps[i] = ProgressStep{Name: name, Status: StepPending}
	}
	return pd
}

// StartStep marks a step as running
func (p *ProgressDisplay) StartStep(index int) {
	p.update(index, func(s *ProgressStep) { s.Status = StepRunning })
}

// CompleteStep marks a step as complete
func (p *ProgressDisplay) CompleteStep(index int, detail string) {
	p.update(index, func(s *ProgressStep) {
		s.Status = StepComplete
		s.Detail = detail
	})
}

// FailStep marks a step as failed
func (p *ProgressDisplay) FailStep(index int, err string) {
	p.update(index, func(s *ProgressStep) {
		s.Status = StepError
		s.Error = err
	})
}

// SetDetail updates the status text of a running step, e.g. job counts while polling
func (p *ProgressDisplay) SetDetail(index int, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.steps) {
		return
	}
	p.steps[index].Detail = detail
	// Throttle renders to avoid flickering
	if time.Since(p.lastRender) > 100*time.Millisecond {
		p.render()
	}
}

func (p *ProgressDisplay) update(index int, fn func(*ProgressStep)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= 0 && index < len(p.steps) {
		fn(&p.steps[index])
		p.render()
	}
}

// Tick advances the spinner animation
func (p *ProgressDisplay) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
	p.render()
}

func (p *ProgressDisplay) render() {
	if p.quiet {
		return
	}

	p.lastRender = time.Now()

	// Move the cursor up over the previous frame and clear it
	if p.rendered {
		fmt.Fprintf(p.out, "\033[%dA\033[J", len(p.steps))
	}

	total := len(p.steps)
	for i, step := range p.steps {
		var status string
		switch step.Status {
		case StepPending:
			status = " "
		case StepRunning:
			status = spinnerFrames[p.spinnerIdx]
			if step.Detail != "" {
				status += " " + step.Detail
			}
		case StepComplete:
			status = SuccessStyle.Render("✓")
			if step.Detail != "" {
				status += " " + MutedStyle.Render(step.Detail)
			}
		case StepError:
			status = ErrorStyle.Render("✗ " + step.Error)
		}

		fmt.Fprintf(p.out, "[%d/%d] %s... %s\n", i+1, total, step.Name, status)
	}

	p.rendered = true
}

// StartSpinner starts a goroutine that ticks the spinner until the
// returned channel is closed
func (p *ProgressDisplay) StartSpinner() chan struct{} {
	done := make(chan struct{})
	if p.quiet {
		return done
	}
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.Tick()
			}
		}
	}()
	return done
}
