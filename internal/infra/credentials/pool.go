package credentials

import (
	"strings"
	"sync"

	"dailystory/internal/domain"
)

// Pool is an ordered, non-empty list of interchangeable API keys with one
// current entry. Rotation is circular. A Pool belongs to a single generator.
type Pool struct {
	mu      sync.Mutex
	keys    []string
	current int
}

// NewPool copies keys, dropping blanks. It fails when nothing usable remains.
func NewPool(keys []string) (*Pool, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, domain.ErrEmptyCredentialPool
	}
	return &Pool{keys: cleaned}, nil
}

// Len returns the number of keys.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Current returns the active key.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.current]
}

// Index returns the position of the active key.
func (p *Pool) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Rotate advances to the next key, wrapping to the first, and returns it.
func (p *Pool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = (p.current + 1) % len(p.keys)
	return p.keys[p.current]
}

// Mask shortens a key for log output.
func Mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
