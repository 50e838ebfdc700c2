package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/alimasry/go-delta/delta"
	"github.com/alimasry/go-delta/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DocumentSummary is one entry of the document listing.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Ops       int       `json:"ops"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type handler struct {
	hub *Hub
	log *zap.Logger
}

// NewHandler creates the HTTP handler with all routes.
func NewHandler(hub *Hub) http.Handler {
	h := &handler{hub: hub, log: hub.log.Named("http")}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.serveWS)
	r.HandleFunc("/docs", h.listDocs).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}", h.getDoc).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}", h.createDoc).Methods(http.MethodPut)
	r.HandleFunc("/docs/{id}/text", h.getText).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(hub.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump()
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *handler) listDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.hub.store.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSummary{ID: d.ID, Version: d.Version, Ops: d.Delta.Len(), UpdatedAt: d.UpdatedAt})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) getDoc(w http.ResponseWriter, r *http.Request) {
	info, err := h.hub.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	raw, err := delta.Encode(info.Delta)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}

func (h *handler) getText(w http.ResponseWriter, r *http.Request) {
	info, err := h.hub.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, info.Delta.PlainText())
}

func (h *handler) createDoc(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMsgSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	doc, err := delta.Decode(body)
	if err != nil {
		h.hub.metrics.decodeFailed(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.hub.store.Create(r.Context(), id, doc); err != nil {
		h.fail(w, err)
		return
	}
	h.log.Info("document created", zap.String("doc", id), zap.Int("ops", doc.Len()))
	w.WriteHeader(http.StatusCreated)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
