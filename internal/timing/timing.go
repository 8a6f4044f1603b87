package timing

import (
	"fmt"
	"sync"
	"time"
)

// StageDuration is the measured wall time of one pipeline stage.
type StageDuration struct {
	Stage    string
	Duration time.Duration
}

// Stopwatch records how long each stage of a run took, in the order the
// stages finished.
type Stopwatch struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	stages []StageDuration
}

func NewStopwatch() *Stopwatch {
	return newStopwatch(time.Now)
}

func newStopwatch(now func() time.Time) *Stopwatch {
	return &Stopwatch{now: now, start: now()}
}

// Track starts timing stage and returns the function that stops it.
//
//	done := sw.Track("fetch")
//	defer done()
func (s *Stopwatch) Track(stage string) func() time.Duration {
	began := s.now()
	return func() time.Duration {
		d := s.now().Sub(began)
		s.mu.Lock()
		s.stages = append(s.stages, StageDuration{Stage: stage, Duration: d})
		s.mu.Unlock()
		return d
	}
}

// Stages returns a copy of the recorded stage durations.
func (s *Stopwatch) Stages() []StageDuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageDuration, len(s.stages))
	copy(out, s.stages)
	return out
}

// Elapsed is the time since the stopwatch was created.
func (s *Stopwatch) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
