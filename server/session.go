package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/alimasry/go-delta/delta"
	"github.com/alimasry/go-delta/internal/logger"
	"github.com/alimasry/go-delta/store"
)

type changeMessage struct {
	client *Client
	msg    ClientMessage
}

// Session manages collaboration for a single document.
// All changes are serialized through a single goroutine. Changes carry only
// inserts without positions, so each one is appended to the end of the
// document in arrival order.
type Session struct {
	docID   string
	doc     *delta.Document
	version int
	store   store.DocumentStore
	metrics *metrics
	log     *zap.Logger
	clients map[*Client]bool

	incoming chan changeMessage
	join     chan *Client
	leave    chan *Client
	stop     chan struct{}
}

func newSession(info *store.DocumentInfo, st store.DocumentStore, m *metrics) *Session {
	return &Session{
		docID:    info.ID,
		doc:      info.Delta,
		version:  info.Version,
		store:    st,
		metrics:  m,
		log:      logger.NewNamed("session", zap.String("doc", info.ID)),
		clients:  make(map[*Client]bool),
		incoming: make(chan changeMessage, 64),
		join:     make(chan *Client, 16),
		leave:    make(chan *Client, 16),
		stop:     make(chan struct{}),
	}
}

// Run is the session's main loop. It serializes all changes.
func (s *Session) Run() {
	for {
		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case cm := <-s.incoming:
			s.handleChange(cm)
		case <-s.stop:
			return
		}
	}
}

func (s *Session) handleJoin(c *Client) {
	if c.closed() {
		return
	}
	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()
	// A connection is in one document at a time.
	if prev != nil && prev != s {
		go prev.release(c)
	}
	s.clients[c] = true

	// Send current document state to the joining client.
	c.sendMsg(ServerMessage{
		Type:     MsgDoc,
		DocID:    s.docID,
		Delta:    s.doc,
		Text:     s.doc.PlainText(),
		Revision: s.version,
		Clients:  s.clientInfos(),
	})

	// Notify other clients about the new user.
	for other := range s.clients {
		if other != c {
			other.sendMsg(ServerMessage{
				Type:     MsgJoin,
				ClientID: c.ID,
				Name:     c.Name,
				Color:    c.Color,
			})
		}
	}
}

func (s *Session) handleLeave(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	for other := range s.clients {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
}

func (s *Session) handleChange(cm changeMessage) {
	change := cm.msg.Delta
	if change.Len() == 0 {
		cm.client.sendError("change has no operations")
		return
	}
	if cm.msg.Revision < 0 || cm.msg.Revision > s.version {
		s.log.Warn("change from unknown revision", zap.Int("revision", cm.msg.Revision), zap.Int("version", s.version))
		cm.client.sendError("unknown revision")
		return
	}

	s.doc = s.doc.Concat(change)
	s.version++
	s.metrics.changes.Inc()

	// Persist.
	ctx := context.Background()
	if err := s.store.AppendChange(ctx, s.docID, change, s.version); err != nil {
		s.log.Error("append change failed", zap.Int("version", s.version), zap.Error(err))
	}
	if err := s.store.UpdateContent(ctx, s.docID, s.doc, s.version); err != nil {
		s.log.Error("update content failed", zap.Int("version", s.version), zap.Error(err))
	}

	// Ack the sender.
	cm.client.sendMsg(ServerMessage{
		Type:     MsgAck,
		Revision: s.version,
	})

	// Broadcast to other clients.
	for c := range s.clients {
		if c != cm.client {
			c.sendMsg(ServerMessage{
				Type:     MsgChange,
				DocID:    s.docID,
				Delta:    change,
				Revision: s.version,
				ClientID: cm.client.ID,
			})
		}
	}
}

// release removes c from the session without blocking the caller's loop.
func (s *Session) release(c *Client) {
	select {
	case s.leave <- c:
	case <-s.stop:
	}
}

func (s *Session) clientInfos() []ClientInfo {
	infos := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		infos = append(infos, c.Info())
	}
	return infos
}
