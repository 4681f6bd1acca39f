// Package progress renders extraction and load progress for
// interactive runs and emits JSON updates for scheduled ones.
package progress

import (
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks rows staged and loaded across pipeline phases
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time
	silent    bool
}

// New creates a new progress tracker. When silent is true (scheduled
// runs, --output-json) no bar is rendered and counters still work.
func New(silent bool) *Tracker {
	return &Tracker{startTime: time.Now(), silent: silent}
}

// StartPhase begins a phase with an indeterminate amount of work. The
// pipelines do not know row counts up front, so the bar runs in
// spinner mode.
func (t *Tracker) StartPhase(description string) {
	if t.silent {
		return
	}
	t.bar = progressbar.NewOptions64(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
	)
}

// Add increments the row counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns rows processed so far
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Elapsed returns time since the tracker started
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.startTime)
}

// FinishPhase completes the active bar
func (t *Tracker) FinishPhase() {
	if t.bar != nil {
		t.bar.Finish()
		t.bar = nil
	}
}
