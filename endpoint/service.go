package endpoint

import (
	"context"
	"sync"

	"github.com/drblury/phaseflow/phase"
)

// Invoker runs the business logic of an operation. It receives the bound
// input objects and returns the output objects.
type Invoker interface {
	Invoke(ctx context.Context, op *Operation, params []any) ([]any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, op *Operation, params []any) ([]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, op *Operation, params []any) ([]any, error) {
	return f(ctx, op, params)
}

// Operation is one callable operation of a service.
type Operation struct {
	Name string
	// NewInput returns the value the request body is decoded into. Nil means
	// the operation takes no input.
	NewInput func() any
	// NewOutput returns the value a client decodes the response body into.
	NewOutput func() any
	// OneWay operations never produce a response.
	OneWay bool
}

// Service groups operations behind an invoker and carries service-level
// interceptors shared by every endpoint exposing it.
type Service struct {
	phase.Interceptors

	Name    string
	Invoker Invoker

	mu         sync.RWMutex
	operations map[string]*Operation
	order      []string
}

// NewService creates a service with the given operations.
func NewService(name string, invoker Invoker, ops ...*Operation) *Service {
	s := &Service{Name: name, Invoker: invoker, operations: make(map[string]*Operation)}
	for _, op := range ops {
		s.AddOperation(op)
	}
	return s
}

// AddOperation adds or replaces op.
func (s *Service) AddOperation(op *Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.operations == nil {
		s.operations = make(map[string]*Operation)
	}
	if _, ok := s.operations[op.Name]; !ok {
		s.order = append(s.order, op.Name)
	}
	s.operations[op.Name] = op
}

// Operation returns the named operation.
func (s *Service) Operation(name string) (*Operation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[name]
	return op, ok
}

// Operations returns the operations in declaration order.
func (s *Service) Operations() []*Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]*Operation, 0, len(s.order))
	for _, name := range s.order {
		ops = append(ops, s.operations[name])
	}
	return ops
}

// OperationNames returns the operation names in declaration order.
func (s *Service) OperationNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}
