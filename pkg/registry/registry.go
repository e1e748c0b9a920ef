// Package registry names quiz scripts so that binaries can select one by flag or config.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/limpopo/pkg/session"
)

// Registry manages the available quizzes.
type Registry struct {
	mu      sync.RWMutex
	quizzes map[string]session.QuizFunc
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		quizzes: make(map[string]session.QuizFunc),
	}
}

// Register adds a quiz to the registry.
// If a quiz with the same name exists, it is overwritten.
func (r *Registry) Register(name string, quiz session.QuizFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes[name] = quiz
}

// Lookup returns the quiz registered under name.
func (r *Registry) Lookup(name string) (session.QuizFunc, error) {
	r.mu.RLock()
	quiz, ok := r.quizzes[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("quiz not found: %s (available: %v)", name, r.Names())
	}
	return quiz, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.quizzes))
	for name := range r.quizzes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
