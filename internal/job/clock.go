package job

import (
	"time"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (s SystemClock) Now() time.Time {
	return time.Now()
}

type MockClock struct {
	FixedNow time.Time
}

func (m *MockClock) Now() time.Time {
	return m.FixedNow
}

func (m *MockClock) SetNow(now time.Time) {
	m.FixedNow = now
}

// Run identifies one execution of a job. FetchTime is captured once and
// used for every window and timestamp the run produces.
type Run struct {
	ID        string
	FetchTime time.Time
}

func newRun(c Clock) Run {
	if c == nil {
		c = SystemClock{}
	}
	return Run{ID: uuid.NewString(), FetchTime: c.Now().UTC()}
}
