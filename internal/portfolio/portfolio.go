// Package portfolio aggregates per-contract Greeks into portfolio totals,
// runs full-revaluation stress sweeps and checks exposure limits.
//
// Aggregate, Breakdown and StressSweep are pure: they take the book and
// market as values and share no state across calls. Book is the editable
// in-memory position table that the service prices on each refresh.
package portfolio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/PurpleRainAndMJ/Options-Risks/internal/model"
)

// ErrPositionIndex is returned by Remove for a row that does not exist.
var ErrPositionIndex = errors.New("position index out of range")

// Book is a concurrency-safe, ordered position table.
// It lives in memory only and is never persisted.
type Book struct {
	mu        sync.RWMutex
	positions []model.Position
	version   int64
}

// NewBook creates a book holding a copy of positions.
func NewBook(positions []model.Position) *Book {
	b := &Book{}
	b.positions = append(b.positions, positions...)
	return b
}

// Positions returns a snapshot of the table in row order.
func (b *Book) Positions() []model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := make([]model.Position, len(b.positions))
	copy(cp, b.positions)
	return cp
}

// Snapshot returns the rows together with the version they belong to.
func (b *Book) Snapshot() ([]model.Position, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp := make([]model.Position, len(b.positions))
	copy(cp, b.positions)
	return cp, b.version
}

// Version increments on every successful edit.
func (b *Book) Version() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Replace swaps the whole table after validating every row.
func (b *Book) Replace(positions []model.Position) error {
	for i, p := range positions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	cp := make([]model.Position, len(positions))
	copy(cp, positions)

	b.mu.Lock()
	b.positions = cp
	b.version++
	b.mu.Unlock()
	return nil
}

// Add appends a validated row.
func (b *Book) Add(p model.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.positions = append(b.positions, p)
	b.version++
	b.mu.Unlock()
	return nil
}

// Remove deletes row i.
func (b *Book) Remove(i int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.positions) {
		return fmt.Errorf("%w: row %d not in [0,%d)", ErrPositionIndex, i, len(b.positions))
	}
	b.positions = append(b.positions[:i:i], b.positions[i+1:]...)
	b.version++
	return nil
}

// Len returns the number of rows.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
