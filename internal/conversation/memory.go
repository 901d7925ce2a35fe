// Package conversation holds the process-wide sliding window of dialogue turns.
package conversation

import (
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// DefaultCapacity is the number of turns kept when none is configured.
const DefaultCapacity = 10

// Memory is a fixed-capacity FIFO log of turns.
// Appending to a full memory evicts the oldest turn in the same call.
type Memory struct {
	mu    sync.Mutex
	turns []domain.Turn // ring buffer
	head  int           // index of the oldest turn
	size  int
}

// NewMemory creates a memory that keeps the last capacity turns.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{turns: make([]domain.Turn, capacity)}
}

// Append adds a turn, evicting the oldest one if the memory is full.
func (m *Memory) Append(turn domain.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := len(m.turns)
	if m.size < capacity {
		m.turns[(m.head+m.size)%capacity] = turn
		m.size++
		return
	}
	m.turns[m.head] = turn
	m.head = (m.head + 1) % capacity
}

// AppendUser records a user question.
func (m *Memory) AppendUser(text string) {
	m.Append(domain.Turn{Role: domain.RoleUser, Text: text})
}

// AppendAssistant records a generated answer.
func (m *Memory) AppendAssistant(text string) {
	m.Append(domain.Turn{Role: domain.RoleAssistant, Text: text})
}

// Turns returns the retained turns, oldest first.
func (m *Memory) Turns() []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Context renders the retained turns as "<Role>: <text>" lines, oldest first.
func (m *Memory) Context() string {
	m.mu.Lock()
	turns := m.snapshot()
	m.mu.Unlock()

	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.String()
	}
	return strings.Join(lines, "\n")
}

// Len returns the number of retained turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Capacity returns the maximum number of retained turns.
func (m *Memory) Capacity() int {
	return len(m.turns)
}

func (m *Memory) snapshot() []domain.Turn {
	out := make([]domain.Turn, m.size)
	for i := range out {
		out[i] = m.turns[(m.head+i)%len(m.turns)]
	}
	return out
}
