package server

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/alimasry/go-delta/internal/logger"
	"github.com/alimasry/go-delta/store"
)

type joinRequest struct {
	client *Client
	docID  string
}

// Hub manages document sessions and routes clients to the right session.
type Hub struct {
	store    store.DocumentStore
	sessions map[string]*Session
	mu       sync.RWMutex

	registry *prometheus.Registry
	metrics  *metrics
	log      *zap.Logger

	joinDoc chan joinRequest
}

// NewHub creates a hub over st. Metrics are registered on reg.
func NewHub(st store.DocumentStore, reg *prometheus.Registry) *Hub {
	return &Hub{
		store:    st,
		sessions: make(map[string]*Session),
		registry: reg,
		metrics:  newMetrics(reg),
		log:      logger.NewNamed("hub"),
		joinDoc:  make(chan joinRequest, 64),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for req := range h.joinDoc {
		h.handleJoinDoc(req)
	}
}

func (h *Hub) handleJoinDoc(req joinRequest) {
	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if !ok {
		ctx := context.Background()
		info, err := h.store.Get(ctx, req.docID)
		if errors.Is(err, store.ErrNotFound) {
			// Create document in store if it doesn't exist.
			if err = h.store.Create(ctx, req.docID, nil); err == nil {
				info, err = h.store.Get(ctx, req.docID)
			}
		}
		if err != nil {
			h.log.Error("load document failed", zap.String("doc", req.docID), zap.Error(err))
			h.mu.Unlock()
			req.client.sendError("failed to load document")
			return
		}

		s = newSession(info, h.store, h.metrics)
		h.sessions[req.docID] = s
		h.metrics.sessions.Inc()
		go s.Run()
	}
	h.mu.Unlock()

	s.join <- req.client
}

// GetSession returns the session for a document, if active.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}
