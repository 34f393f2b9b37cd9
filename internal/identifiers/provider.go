// Package identifiers issues record identifiers for the storage services.
package identifiers

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrExhausted indicates a Sequence has no identifiers left.
var ErrExhausted = errors.New("identifiers: sequence exhausted")

// Provider issues unique identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Sequence issues identifiers from a fixed list, then fails. Intended for tests.
type Sequence struct {
	mu     sync.Mutex
	values []string
	next   int
}

// NewSequence returns a Provider yielding values in order.
func NewSequence(values ...string) *Sequence {
	return &Sequence{values: values}
}

// NewID returns the next value or ErrExhausted.
func (s *Sequence) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.values) {
		return "", ErrExhausted
	}
	value := s.values[s.next]
	s.next++
	return value, nil
}
