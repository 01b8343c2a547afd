package server

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/telephony"
)

// widgetTokenTTL is the lifetime of a signed widget call URL.
const widgetTokenTTL = 24 * time.Hour

// --- stream-connect instruction documents ---

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Reject  *twimlReject  `xml:"Reject,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlReject struct {
	Reason string `xml:"reason,attr,omitempty"`
}

func (s *Server) writeTwiML(w http.ResponseWriter, doc twimlResponse) {
	raw, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		s.logger.Error("server: marshal twiml", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	w.Write(raw)
}

// connectStream builds the instruction document that bridges the call's
// audio onto the media WebSocket, carrying per-call parameters.
func (s *Server) connectStream(params map[string]string) twimlResponse {
	stream := twimlStream{URL: s.mediaWSURL()}
	for _, name := range []string{"agent_id", "from"} {
		if v := params[name]; v != "" {
			stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: v})
		}
	}
	return twimlResponse{Connect: &twimlConnect{Stream: stream}}
}

// mediaWSURL derives the media WebSocket URL from the public base URL.
func (s *Server) mediaWSURL() string {
	u := s.publicURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/media"
}

// answerInbound is the carrier's incoming-call webhook. It routes the called
// number to its agent, records the conversation, and answers with
// stream-connect instructions. Unrouteable numbers are rejected.
func (s *Server) answerInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	if callSID == "" {
		s.writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	agentID, err := s.store.AgentForNumber(r.Context(), to)
	if err != nil {
		s.logger.Warn("server: no agent for inbound number", "to", to, "call_sid", callSID)
		s.writeTwiML(w, twimlResponse{Reject: &twimlReject{Reason: "rejected"}})
		return
	}

	conv := store.Conversation{
		ID:          callSID,
		AgentID:     agentID,
		PhoneNumber: from,
		Direction:   store.DirectionInbound,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("server: record inbound call", "call_sid", callSID, "error", err)
	}

	s.logger.Info("server: inbound call answered", "call_sid", callSID, "agent_id", agentID, "from", from)
	s.writeTwiML(w, s.connectStream(map[string]string{"agent_id": agentID, "from": from}))
}

// answerOutbound serves the instructions fetched when an outbound callee
// picks up. The conversation already exists; the agent id rides along as a
// stream parameter.
func (s *Server) answerOutbound(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	s.writeTwiML(w, s.connectStream(map[string]string{"agent_id": agentID}))
}

// recordingCallback stores the recording location the carrier reports after
// a call finishes.
func (s *Server) recordingCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	recordingURL := r.PostFormValue("RecordingUrl")
	if callSID == "" || recordingURL == "" {
		s.writeError(w, http.StatusBadRequest, "CallSid and RecordingUrl are required")
		return
	}
	if err := s.store.SetRecordingURL(r.Context(), callSID, recordingURL); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- outbound calls ---

type createCallRequest struct {
	AgentID          string            `json:"agent_id"`
	To               string            `json:"to"`
	From             string            `json:"from,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type createCallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

func (s *Server) createCall(w http.ResponseWriter, r *http.Request) {
	if s.telephony == nil {
		s.writeError(w, http.StatusNotImplemented, "telephony is not configured")
		return
	}
	var req createCallRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !strings.HasPrefix(req.To, "+") {
		s.writeError(w, http.StatusBadRequest, "to must be in E.164 format")
		return
	}
	if _, err := s.store.GetAgent(r.Context(), req.AgentID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	from := req.From
	if from == "" {
		from = s.fromNumber
	}
	answerURL := fmt.Sprintf("%s/telephony/outbound?%s",
		s.publicURL, url.Values{"agent_id": {req.AgentID}}.Encode())

	callSID, err := s.telephony.CreateCall(r.Context(), telephony.CreateCallParams{
		To:        req.To,
		From:      from,
		AnswerURL: answerURL,
	})
	if err != nil {
		s.logger.Error("server: create outbound call", "agent_id", req.AgentID, "error", err)
		s.metrics.RecordProviderError(r.Context(), "telephony", "create_call")
		s.writeError(w, http.StatusBadGateway, "carrier rejected the call")
		return
	}

	conv := store.Conversation{
		ID:               callSID,
		AgentID:          req.AgentID,
		PhoneNumber:      req.To,
		Direction:        store.DirectionOutbound,
		DynamicVariables: req.DynamicVariables,
	}
	if err := s.store.CreateConversation(r.Context(), conv); err != nil {
		s.logger.Error("server: record outbound call", "call_sid", callSID, "error", err)
	}

	s.logger.Info("server: outbound call placed", "call_sid", callSID, "agent_id", req.AgentID, "to", req.To)
	s.writeJSON(w, http.StatusCreated, createCallResponse{CallID: callSID, Status: store.StatusInitiated})
}

// --- signed widget URLs ---

type widgetURLRequest struct {
	AgentID string `json:"agent_id"`
}

type widgetURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createWidgetURL issues a signed wss:// URL an embeddable widget can
// connect to without carrier involvement.
func (s *Server) createWidgetURL(w http.ResponseWriter, r *http.Request) {
	if s.jwtSecret == "" {
		s.writeError(w, http.StatusNotImplemented, "signed URLs are not configured")
		return
	}
	var req widgetURLRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if _, err := s.store.GetAgent(r.Context(), req.AgentID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	expires := time.Now().Add(widgetTokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"agent_id": req.AgentID,
		"iat":      time.Now().Unix(),
		"exp":      expires.Unix(),
	})
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.logger.Error("server: sign widget token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusCreated, widgetURLResponse{
		URL:       s.mediaWSURL() + "?token=" + signed,
		ExpiresAt: expires,
	})
}

// authenticateMedia verifies the signed token on widget-originated media
// connections. Carrier streams carry no token and pass through.
func (s *Server) authenticateMedia(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		if s.jwtSecret == "" {
			s.writeError(w, http.StatusUnauthorized, "signed URLs are not configured")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return []byte(s.jwtSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
