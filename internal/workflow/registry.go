package workflow

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry hands out one controller per order, mirroring one open creation
// modal per order detail view. Sessions are created lazily and dropped when
// the workflow completes or the operator closes it.
type Registry struct {
	shipping ShippingBackend
	sink     ResultSink
	logger   *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewRegistry(shipping ShippingBackend, sink ResultSink, logger *logrus.Logger) *Registry {
	return &Registry{
		shipping: shipping,
		sink:     sink,
		logger:   logger,
		sessions: make(map[string]*Controller),
	}
}

// Session returns the order's active controller, creating one if needed.
func (r *Registry) Session(orderID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctrl, ok := r.sessions[orderID]; ok {
		return ctrl
	}
	ctrl := NewController(orderID, r.shipping, r.sink, r.logger)
	r.sessions[orderID] = ctrl
	return ctrl
}

// Drop removes a completed or abandoned session. The next Session call for
// the order yields a fresh controller on the package step.
func (r *Registry) Drop(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, orderID)
}
