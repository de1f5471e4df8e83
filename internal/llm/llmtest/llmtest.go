// Package llmtest provides an in-process Completer for tests and dry runs.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/apresai/newsdesk/internal/llm"
)

// Scripted returns canned responses in call order and records every request.
type Scripted struct {
	mu        sync.Mutex
	responses []string
	errs      map[int]error
	requests  []llm.Request
}

// NewScripted creates a completer that answers call i with responses[i].
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses, errs: map[int]error{}}
}

// FailOn makes call i (zero-based) return err instead of a response.
func (s *Scripted) FailOn(i int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[i] = err
	return s
}

func (s *Scripted) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if err, ok := s.errs[i]; ok {
		return "", err
	}
	if i >= len(s.responses) {
		return "", fmt.Errorf("llmtest: unexpected call %d (have %d responses)", i+1, len(s.responses))
	}
	return s.responses[i], nil
}

// Requests returns a copy of the recorded requests.
func (s *Scripted) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns how many times Complete was invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
