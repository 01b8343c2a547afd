package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/webhook"
)

// --- knowledge-base documents ---

type documentRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type documentResponse struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	Chunks    int               `json:"chunks,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitzero"`
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		s.writeError(w, http.StatusNotImplemented, "knowledge base is not configured")
		return
	}
	agentID := r.PathValue("id")
	if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	var req documentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	doc := store.KBDocument{
		ID:       store.NewDocumentID(),
		AgentID:  agentID,
		Content:  req.Content,
		Metadata: req.Metadata,
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		s.writeStoreError(w, err)
		return
	}

	chunks, err := s.ingestor.Ingest(r.Context(), store.AgentCollection(agentID), doc.ID, doc.Content)
	if err != nil {
		s.logger.Error("server: index document", "doc_id", doc.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "document stored but indexing failed")
		return
	}

	s.logger.Info("server: document indexed", "agent_id", agentID, "doc_id", doc.ID, "chunks", chunks)
	s.writeJSON(w, http.StatusCreated, documentResponse{
		ID:       doc.ID,
		AgentID:  agentID,
		Chunks:   chunks,
		Metadata: doc.Metadata,
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentResponse{
			ID:        d.ID,
			AgentID:   d.AgentID,
			Metadata:  d.Metadata,
			CreatedAt: d.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDocument(r.Context(), r.PathValue("id"), r.PathValue("docID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- agent tools ---

type toolPayload struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"tool_name"`
	Description string         `json:"description,omitempty"`
	WebhookURL  string         `json:"webhook_url"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitzero"`
}

func (s *Server) createTool(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	var p toolPayload
	if !s.decodeBody(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}
	if !validWebhookURL(p.WebhookURL) {
		s.writeError(w, http.StatusBadRequest, "webhook_url must be an http(s) URL")
		return
	}

	t := store.AgentTool{
		ID:          store.NewToolID(),
		AgentID:     agentID,
		Name:        p.Name,
		Description: p.Description,
		WebhookURL:  p.WebhookURL,
		Parameters:  p.Parameters,
	}
	if err := s.store.CreateAgentTool(r.Context(), t); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p.ID = t.ID
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.store.ListAgentTools(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]toolPayload, len(tools))
	for i, t := range tools {
		out[i] = toolPayload{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			WebhookURL:  t.WebhookURL,
			Parameters:  t.Parameters,
			CreatedAt:   t.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgentTool(r.Context(), r.PathValue("id"), r.PathValue("toolID")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- webhook subscriptions ---

type webhookPayload struct {
	ID        string    `json:"id,omitempty"`
	URL       string    `json:"url"`
	Events    []string  `json:"events,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if !s.decodeBody(w, r, &p) {
		return
	}
	if !validWebhookURL(p.URL) {
		s.writeError(w, http.StatusBadRequest, "url must be an http(s) URL")
		return
	}
	for _, e := range p.Events {
		if !webhook.ValidEvent(e) {
			s.writeError(w, http.StatusBadRequest, "unknown event "+e)
			return
		}
	}

	cfg := store.WebhookConfig{
		ID:      store.NewWebhookID(),
		URL:     p.URL,
		Events:  p.Events,
		AgentID: p.AgentID,
	}
	if err := s.store.CreateWebhook(r.Context(), cfg); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p.ID = cfg.ID
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.ListWebhooks(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]webhookPayload, len(hooks))
	for i, h := range hooks {
		out[i] = webhookPayload{
			ID:        h.ID,
			URL:       h.URL,
			Events:    h.Events,
			AgentID:   h.AgentID,
			CreatedAt: h.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWebhook(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- phone numbers ---

type phonePayload struct {
	ID        string    `json:"id,omitempty"`
	Number    string    `json:"number"`
	AgentID   string    `json:"agent_id"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (s *Server) registerPhoneNumber(w http.ResponseWriter, r *http.Request) {
	var p phonePayload
	if !s.decodeBody(w, r, &p) {
		return
	}
	if !strings.HasPrefix(p.Number, "+") {
		s.writeError(w, http.StatusBadRequest, "number must be in E.164 format")
		return
	}
	if p.AgentID != "" {
		if _, err := s.store.GetAgent(r.Context(), p.AgentID); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	phone := store.PhoneNumber{
		ID:      store.NewPhoneID(),
		Number:  p.Number,
		AgentID: p.AgentID,
		Label:   p.Label,
	}
	if err := s.store.RegisterPhoneNumber(r.Context(), phone); err != nil {
		s.writeStoreError(w, err)
		return
	}
	p.ID = phone.ID
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPhoneNumbers(w http.ResponseWriter, r *http.Request) {
	phones, err := s.store.ListPhoneNumbers(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]phonePayload, len(phones))
	for i, p := range phones {
		out[i] = phonePayload{
			ID:        p.ID,
			Number:    p.Number,
			AgentID:   p.AgentID,
			Label:     p.Label,
			CreatedAt: p.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) deletePhoneNumber(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePhoneNumber(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- conversations ---

type conversationPayload struct {
	ID               string            `json:"id"`
	AgentID          string            `json:"agent_id"`
	PhoneNumber      string            `json:"phone_number,omitempty"`
	Direction        string            `json:"direction"`
	Status           string            `json:"status"`
	Transcript       string            `json:"transcript,omitempty"`
	DurationSecs     float64           `json:"duration_secs,omitempty"`
	EndedReason      string            `json:"ended_reason,omitempty"`
	RecordingURL     string            `json:"recording_url,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at,omitzero"`
}

func conversationToPayload(c store.Conversation) conversationPayload {
	return conversationPayload{
		ID:               c.ID,
		AgentID:          c.AgentID,
		PhoneNumber:      c.PhoneNumber,
		Direction:        c.Direction,
		Status:           c.Status,
		Transcript:       c.Transcript,
		DurationSecs:     c.DurationSecs,
		EndedReason:      c.EndedReason,
		RecordingURL:     c.RecordingURL,
		DynamicVariables: c.DynamicVariables,
		StartedAt:        c.StartedAt,
		EndedAt:          c.EndedAt,
		CreatedAt:        c.CreatedAt,
	}
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationToPayload(conv))
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	convs, err := s.store.ListConversations(r.Context(), store.ConversationFilter{
		AgentID: r.URL.Query().Get("agent_id"),
		Status:  r.URL.Query().Get("status"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]conversationPayload, len(convs))
	for i, c := range convs {
		out[i] = conversationToPayload(c)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func validWebhookURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
