package random

import "sync"

// Mock returns queued results in order. When a queue runs dry it returns
// the zero value, or for Float64 the configured Fallback.
type Mock struct {
	mu sync.Mutex

	ints     []int
	floats   []float64
	strings  []string
	Fallback float64
}

var _ Random = (*Mock)(nil)

// NewMock creates an empty Mock. With no queued floats it never
// triggers probability checks.
func NewMock() *Mock {
	return &Mock{Fallback: 0.999999}
}

func (m *Mock) Intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ints) == 0 {
		return 0
	}
	v := m.ints[0]
	m.ints = m.ints[1:]
	return v
}

func (m *Mock) Float64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.floats) == 0 {
		return m.Fallback
	}
	v := m.floats[0]
	m.floats = m.floats[1:]
	return v
}

func (m *Mock) String(int, string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.strings) == 0 {
		return ""
	}
	v := m.strings[0]
	m.strings = m.strings[1:]
	return v
}

// QueueIntn adds values to the Intn result queue
func (m *Mock) QueueIntn(values ...int) {
	m.mu.Lock()
	m.ints = append(m.ints, values...)
	m.mu.Unlock()
}

// QueueFloat64 adds values to the Float64 result queue
func (m *Mock) QueueFloat64(values ...float64) {
	m.mu.Lock()
	m.floats = append(m.floats, values...)
	m.mu.Unlock()
}

// QueueString adds values to the String result queue
func (m *Mock) QueueString(values ...string) {
	m.mu.Lock()
	m.strings = append(m.strings, values...)
	m.mu.Unlock()
}
