package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	relay "github.com/mark3labs/permit-relay"
)

// Memory is an in-process Store. Records are lost on restart.
type Memory struct {
	mu       sync.RWMutex
	requests map[common.Hash]*relay.PaymentRequest
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		requests: make(map[common.Hash]*relay.PaymentRequest),
		now:      time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Create(_ context.Context, req *relay.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.RequestID]; ok {
		return relay.ErrDuplicateRequest
	}

	c := req.Clone()
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.requests[c.RequestID] = c
	return nil
}

func (m *Memory) Get(_ context.Context, requestID common.Hash) (*relay.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, relay.ErrNotFound
	}
	return req.Clone(), nil
}

func (m *Memory) Update(_ context.Context, req *relay.PaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.requests[req.RequestID]
	if !ok {
		return relay.ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrTerminal
	}

	c := req.Clone()
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	m.requests[c.RequestID] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, requestID common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[requestID]; !ok {
		return relay.ErrNotFound
	}
	delete(m.requests, requestID)
	return nil
}

func (m *Memory) ListByStatus(_ context.Context, status relay.Status) ([]*relay.PaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*relay.PaymentRequest
	for _, req := range m.requests {
		if req.Status == status {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
