package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/spec-kit/ticket-assigner/internal/domain"
)

// Metrics provides basic in-memory counters for HTTP traffic and
// assignment passes.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	passes       PassCounters
}

// PassCounters aggregates assignment pass results since process start.
type PassCounters struct {
	Passes           int64         `json:"passes"`
	FailedPasses     int64         `json:"failed_passes"`
	Assigned         int64         `json:"assigned"`
	NoAgentAvailable int64         `json:"no_agent_available"`
	Failed           int64         `json:"failed"`
	LastDuration     time.Duration `json:"last_duration_ns"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordPass folds one pass into the counters. A non-nil err marks a pass
// that could not read its ticket list.
func (m *Metrics) RecordPass(outcomes []domain.AssignmentOutcome, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes.Passes++
	m.passes.LastDuration = duration
	if err != nil {
		m.passes.FailedPasses++
		return
	}
	for _, o := range outcomes {
		switch o.Status {
		case domain.OutcomeAssigned:
			m.passes.Assigned++
		case domain.OutcomeNoAgentAvailable:
			m.passes.NoAgentAvailable++
		case domain.OutcomeFailed:
			m.passes.Failed++
		}
	}
}

// PassSnapshot returns a copy of the pass counters.
func (m *Metrics) PassSnapshot() PassCounters {
	if m == nil {
		return PassCounters{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passes
}

// RequestCount returns the number of requests recorded for the key.
func (m *Metrics) RequestCount(path, method string, status int) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount[pathKey(path, method, status)]
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
