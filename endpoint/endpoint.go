// Package endpoint binds a service to an address and assembles the
// interceptor chains that run for it.
package endpoint

import (
	"fmt"
	"net/http"
	"sync"

	errspkg "github.com/drblury/phaseflow/internal/runtime/errors"
	"github.com/drblury/phaseflow/message"
	"github.com/drblury/phaseflow/phase"
	"github.com/drblury/phaseflow/transport"
)

// Feature contributes interceptors or properties to an endpoint.
type Feature interface {
	Initialize(ep *Endpoint) error
}

// FeatureFunc adapts a function to Feature.
type FeatureFunc func(ep *Endpoint) error

func (f FeatureFunc) Initialize(ep *Endpoint) error {
	return f(ep)
}

// Endpoint is a service exposed or consumed at one address.
type Endpoint struct {
	phase.Interceptors

	info    transport.EndpointInfo
	service *Service

	mu    sync.RWMutex
	props map[string]any
}

// New creates an endpoint and applies features in order.
func New(info transport.EndpointInfo, svc *Service, features ...Feature) (*Endpoint, error) {
	if svc == nil {
		return nil, errspkg.ErrEndpointRequired
	}
	if info.Address == "" {
		return nil, errspkg.ErrAddressRequired
	}
	if info.Name == "" {
		info.Name = svc.Name
	}
	ep := &Endpoint{info: info, service: svc, props: make(map[string]any)}
	for _, f := range features {
		if err := f.Initialize(ep); err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", info.Name, err)
		}
	}
	return ep, nil
}

func (e *Endpoint) Info() transport.EndpointInfo {
	return e.info
}

func (e *Endpoint) Name() string {
	return e.info.Name
}

func (e *Endpoint) Address() string {
	return e.info.Address
}

func (e *Endpoint) Service() *Service {
	return e.service
}

// Get returns an endpoint property.
func (e *Endpoint) Get(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[key]
	return v, ok
}

// Put stores an endpoint property.
func (e *Endpoint) Put(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[key] = value
}

const (
	keyEndpoint  = "phaseflow.endpoint"
	keyOperation = "phaseflow.operation"
)

// Set records the endpoint an exchange is bound to.
func Set(ex *message.Exchange, ep *Endpoint) {
	ex.Put(keyEndpoint, ep)
}

// Of returns the endpoint of ex, or nil.
func Of(ex *message.Exchange) *Endpoint {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(keyEndpoint)
	ep, _ := v.(*Endpoint)
	return ep
}

// SetOperation records the operation an exchange invokes.
func SetOperation(ex *message.Exchange, op *Operation) {
	ex.Put(keyOperation, op)
	ex.Put(message.KeyOperationName, op.Name)
}

// OperationOf returns the operation of ex, or nil.
func OperationOf(ex *message.Exchange) *Operation {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(keyOperation)
	op, _ := v.(*Operation)
	return op
}

// SelectOperation resolves the operation m invokes from the operation name it
// carries and records it on the exchange. A service with a single operation
// accepts messages without a name.
func SelectOperation(m *message.Message) (*Operation, error) {
	ex := m.Exchange()
	if op := OperationOf(ex); op != nil {
		return op, nil
	}
	ep := Of(ex)
	if ep == nil {
		return nil, errspkg.ErrEndpointRequired
	}

	name, _ := m.ContextualProperty(message.KeyOperationName)
	opName, _ := name.(string)
	var op *Operation
	if opName == "" {
		if ops := ep.service.Operations(); len(ops) == 1 {
			op = ops[0]
		}
	} else {
		op, _ = ep.service.Operation(opName)
	}
	if op == nil {
		f := message.ClientFault(errspkg.ErrNoOperation, "no operation %q on service %s", opName, ep.service.Name)
		f.StatusCode = http.StatusNotFound
		return nil, f
	}
	if ex != nil {
		SetOperation(ex, op)
	}
	return op, nil
}
