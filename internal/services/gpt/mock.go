package gpt

import (
	"context"
	"sync"
)

// MockService returns canned completion objects in order, recording every
// request. When the queue runs dry it returns an empty object.
type MockService struct {
	mu sync.Mutex

	Responses []map[string]any
	Requests  [][]Message

	// Err, when set, is returned by every call.
	Err error
}

// NewMockService creates an empty mock.
func NewMockService(responses ...map[string]any) *MockService {
	return &MockService{Responses: responses}
}

func (m *MockService) JSONChat(_ context.Context, messages []Message, _ Options) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, messages)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]any{}, nil
	}
	next := m.Responses[0]
	m.Responses = m.Responses[1:]
	return next, nil
}
