package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// agentPayload is the JSON shape of an agent on the management API.
type agentPayload struct {
	ID                  string            `json:"id,omitempty"`
	Name                string            `json:"name"`
	SystemPrompt        string            `json:"system_prompt"`
	Greeting            string            `json:"greeting,omitempty"`
	Voice               string            `json:"voice,omitempty"`
	LLMModel            string            `json:"llm_model,omitempty"`
	Language            string            `json:"language,omitempty"`
	SilenceThresholdSec float64           `json:"silence_threshold_sec,omitempty"`
	InterruptEnabled    bool              `json:"interrupt_enabled"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

func agentFromPayload(p agentPayload) types.AgentConfig {
	return types.AgentConfig{
		ID:                  p.ID,
		Name:                p.Name,
		SystemPrompt:        p.SystemPrompt,
		Greeting:            p.Greeting,
		Voice:               p.Voice,
		LLMModel:            p.LLMModel,
		Language:            p.Language,
		SilenceThresholdSec: p.SilenceThresholdSec,
		InterruptEnabled:    p.InterruptEnabled,
		Metadata:            p.Metadata,
	}
}

func agentToPayload(a types.AgentConfig) agentPayload {
	return agentPayload{
		ID:                  a.ID,
		Name:                a.Name,
		SystemPrompt:        a.SystemPrompt,
		Greeting:            a.Greeting,
		Voice:               a.Voice,
		LLMModel:            a.LLMModel,
		Language:            a.Language,
		SilenceThresholdSec: a.SilenceThresholdSec,
		InterruptEnabled:    a.InterruptEnabled,
		Metadata:            a.Metadata,
	}
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPayload
	if !s.decodeBody(w, r, &p) {
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		s.writeError(w, http.StatusBadRequest, "system_prompt is required")
		return
	}

	agent := agentFromPayload(p)
	if agent.ID == "" {
		agent.ID = store.NewAgentID()
	}
	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("server: agent created", "agent_id", agent.ID, "name", agent.Name)
	s.writeJSON(w, http.StatusCreated, agentToPayload(agent))
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agentToPayload(agent))
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	agents, err := s.store.ListAgents(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	out := make([]agentPayload, len(agents))
	for i, a := range agents {
		out[i] = agentToPayload(a)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	var p agentPayload
	if !s.decodeBody(w, r, &p) {
		return
	}
	agent := agentFromPayload(p)
	agent.ID = r.PathValue("id")
	if err := s.store.UpdateAgent(r.Context(), agent); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agentToPayload(agent))
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteAgent(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("server: agent deleted", "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// pagination reads limit/offset query parameters; absent or malformed values
// fall back to zero (no limit).
func pagination(r *http.Request) (limit, offset int) {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
