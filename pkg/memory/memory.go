// Package memory keeps the conversation log within a token budget.
package memory

import (
	"fmt"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

type entry struct {
	turn models.Turn
	cost int
}

// Memory is an append-only log of turns. After every Append the oldest turns
// are evicted until the total cost fits the budget, but the newest turn is
// always kept. Memory is not safe for concurrent use.
type Memory struct {
	budget  int
	cost    types.TokenCounter
	entries []entry
	total   int
}

// New returns an empty Memory that retains at most budget tokens, as
// measured by cost.
func New(budget int, cost types.TokenCounter) (*Memory, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", budget)
	}
	if cost == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	return &Memory{budget: budget, cost: cost}, nil
}

// Append adds a turn at the tail, then evicts from the head until the log
// fits the budget or a single turn remains.
func (m *Memory) Append(role models.Role, text string) {
	c := m.cost(text)
	m.entries = append(m.entries, entry{turn: models.Turn{Role: role, Text: text}, cost: c})
	m.total += c

	for m.total > m.budget && len(m.entries) > 1 {
		m.total -= m.entries[0].cost
		m.entries[0] = entry{}
		m.entries = m.entries[1:]
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (m *Memory) Turns() []models.Turn {
	turns := make([]models.Turn, len(m.entries))
	for i, e := range m.entries {
		turns[i] = e.turn
	}
	return turns
}

// Len is the number of retained turns.
func (m *Memory) Len() int {
	return len(m.entries)
}

// Cost is the summed token cost of the retained turns.
func (m *Memory) Cost() int {
	return m.total
}

// Budget is the token limit given to New.
func (m *Memory) Budget() int {
	return m.budget
}

// Clear removes every turn. The budget is kept.
func (m *Memory) Clear() {
	m.entries = nil
	m.total = 0
}
