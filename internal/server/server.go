// Package server is the HTTP surface of the voice agent service: the REST
// management API (agents, knowledge base, tools, webhooks, phone numbers,
// conversations), the telephony carrier webhooks that answer calls with
// stream-connect instructions, the media WebSocket mount, signed widget call
// URLs, health probes, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxrelay/voxrelay/internal/health"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/telephony"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// maxBodyBytes caps REST request bodies. Document uploads are the largest
// legitimate payload.
const maxBodyBytes = 4 << 20

// Store is the slice of [store.Store] the HTTP surface needs.
type Store interface {
	CreateAgent(ctx context.Context, agent types.AgentConfig) error
	GetAgent(ctx context.Context, id string) (types.AgentConfig, error)
	ListAgents(ctx context.Context, limit, offset int) ([]types.AgentConfig, error)
	UpdateAgent(ctx context.Context, agent types.AgentConfig) error
	DeleteAgent(ctx context.Context, id string) error

	CreateConversation(ctx context.Context, c store.Conversation) error
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, filter store.ConversationFilter) ([]store.Conversation, error)
	SetRecordingURL(ctx context.Context, id, url string) error

	CreateWebhook(ctx context.Context, w store.WebhookConfig) error
	ListWebhooks(ctx context.Context, agentID string) ([]store.WebhookConfig, error)
	DeleteWebhook(ctx context.Context, id string) error

	RegisterPhoneNumber(ctx context.Context, p store.PhoneNumber) error
	ListPhoneNumbers(ctx context.Context) ([]store.PhoneNumber, error)
	DeletePhoneNumber(ctx context.Context, id string) error
	AgentForNumber(ctx context.Context, number string) (string, error)

	CreateDocument(ctx context.Context, doc store.KBDocument) error
	ListDocuments(ctx context.Context, agentID string) ([]store.KBDocument, error)
	DeleteDocument(ctx context.Context, agentID, docID string) error

	CreateAgentTool(ctx context.Context, t store.AgentTool) error
	ListAgentTools(ctx context.Context, agentID string) ([]store.AgentTool, error)
	DeleteAgentTool(ctx context.Context, agentID, toolID string) error
}

// Ingestor chunks, embeds, and indexes uploaded documents. Implemented by
// [kb.Retriever].
type Ingestor interface {
	Ingest(ctx context.Context, collection, docID, content string) (int, error)
}

// Server owns the route table and the handler state. Construct with
// [NewServer] and mount [Server.Routes] on an http.Server.
type Server struct {
	store     Store
	ingestor  Ingestor
	telephony telephony.Controller
	media     http.Handler
	health    *health.Handler
	logger    *slog.Logger
	metrics   *observe.Metrics

	publicURL  string
	jwtSecret  string
	fromNumber string
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger overrides the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics overrides the server's metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMediaHandler mounts the media-stream WebSocket gateway at /media.
func WithMediaHandler(h http.Handler) Option {
	return func(s *Server) { s.media = h }
}

// WithHealth mounts liveness and readiness probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithTelephony enables outbound calls and carrier webhooks.
func WithTelephony(ctrl telephony.Controller, fromNumber string) Option {
	return func(s *Server) {
		s.telephony = ctrl
		s.fromNumber = fromNumber
	}
}

// WithIngestor enables knowledge-base document uploads.
func WithIngestor(ing Ingestor) Option {
	return func(s *Server) { s.ingestor = ing }
}

// WithSignedURLs enables the widget-URL endpoint, signing tokens with
// secret. An empty secret leaves the endpoint disabled.
func WithSignedURLs(secret string) Option {
	return func(s *Server) { s.jwtSecret = secret }
}

// NewServer builds the HTTP surface. publicURL is the externally reachable
// base URL the carrier and widgets connect back through.
func NewServer(st Store, publicURL string, opts ...Option) *Server {
	s := &Server{
		store:     st,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    slog.Default(),
		metrics:   observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the full route table wrapped in the observability
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/agents", s.createAgent)
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("PUT /api/agents/{id}", s.updateAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.deleteAgent)

	mux.HandleFunc("POST /api/agents/{id}/documents", s.uploadDocument)
	mux.HandleFunc("GET /api/agents/{id}/documents", s.listDocuments)
	mux.HandleFunc("DELETE /api/agents/{id}/documents/{docID}", s.deleteDocument)

	mux.HandleFunc("POST /api/agents/{id}/tools", s.createTool)
	mux.HandleFunc("GET /api/agents/{id}/tools", s.listTools)
	mux.HandleFunc("DELETE /api/agents/{id}/tools/{toolID}", s.deleteTool)

	mux.HandleFunc("POST /api/webhooks", s.createWebhook)
	mux.HandleFunc("GET /api/webhooks", s.listWebhooks)
	mux.HandleFunc("DELETE /api/webhooks/{id}", s.deleteWebhook)

	mux.HandleFunc("POST /api/phone-numbers", s.registerPhoneNumber)
	mux.HandleFunc("GET /api/phone-numbers", s.listPhoneNumbers)
	mux.HandleFunc("DELETE /api/phone-numbers/{id}", s.deletePhoneNumber)

	mux.HandleFunc("GET /api/conversations", s.listConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.getConversation)

	mux.HandleFunc("POST /api/calls", s.createCall)
	mux.HandleFunc("POST /api/widget-urls", s.createWidgetURL)

	mux.HandleFunc("POST /telephony/voice", s.answerInbound)
	mux.HandleFunc("POST /telephony/outbound", s.answerOutbound)
	mux.HandleFunc("POST /telephony/recording", s.recordingCallback)

	if s.media != nil {
		mux.Handle("GET /media", s.authenticateMedia(s.media))
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// --- response helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("server: encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}

// writeStoreError maps persistence errors onto HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("server: store operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
