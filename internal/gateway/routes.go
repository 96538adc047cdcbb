package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/relay"
)

// safeConfigPrefixes lists config path prefixes that can be read and
// written via RPC. All other paths are denied by default (allowlist).
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"gateway.allowedOrigins",
	"logging",
	"session.store",
	"session.path",
	"relay",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.relay != nil {
		mux.HandleFunc("POST /api/chat", s.handleChat)
	}
	if s.orch != nil {
		mux.HandleFunc("POST /api/sessions/{id}/turn", s.handleTurn)
		mux.HandleFunc("POST /api/sessions/{id}/interject", s.handleInterject)
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)

	if s.orch == nil {
		return
	}
	s.Handle("session.create", s.rpcSessionCreate)
	s.Handle("session.get", s.rpcSessionGet)
	s.Handle("session.list", s.rpcSessionList)
	s.Handle("session.delete", s.rpcSessionDelete)
	s.Handle("session.update", s.rpcSessionUpdate)
	s.Handle("node.create", s.rpcNodeCreate)
	s.Handle("node.switch", s.rpcNodeSwitch)
	s.Handle("node.rename", s.rpcNodeRename)
	s.Handle("node.delete", s.rpcNodeDelete)
	s.HandleAsync("chat.send", s.rpcChatSend)
	s.Handle("chat.interject", s.rpcChatInterject)
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	}
	if s.relay != nil {
		resp.Providers = s.relay.Selector().Providers()
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	rc.Respond(resp)
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "access denied for config path: "+p.Key)
		return
	}

	s.mu.RLock()
	raw := s.configRaw
	s.mu.RUnlock()

	path, err := parseConfigPathForRPC(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	val, ok := getValueAtPathRPC(raw, path)
	if !ok {
		rc.RespondError("not_found", "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" {
		rc.RespondError("invalid_params", "key is required")
		return
	}
	if !isAllowedConfigPath(p.Key) {
		rc.RespondError("forbidden", "cannot modify config path: "+p.Key)
		return
	}

	path, err := parseConfigPathForRPC(p.Key)
	if err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	s.mu.Lock()
	setValueAtPathRPC(s.configRaw, path, p.Value)
	s.mu.Unlock()

	rc.Respond(map[string]any{"key": p.Key, "value": p.Value})
}

// --- Session methods ---

type sessionCreateParams struct {
	Mode           domain.Mode `json:"mode"`
	Title          string      `json:"title"`
	ParticipantIDs []string    `json:"participantIds"`
	ModelID        string      `json:"modelId"`
	Scenario       string      `json:"scenario"`
}

func (s *Server) rpcSessionCreate(rc *RequestContext) {
	var p sessionCreateParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	sess, err := s.orch.CreateSession(rc.Context(), domain.NewSessionParams{
		Mode:           p.Mode,
		Title:          p.Title,
		ParticipantIDs: p.ParticipantIDs,
		ModelID:        p.ModelID,
		Scenario:       p.Scenario,
	})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

// sessionID decodes params carrying a sessionId and validates it.
func sessionID(rc *RequestContext, target any, id func() string) bool {
	if err := rc.Params(target); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return false
	}
	if id() == "" {
		rc.RespondError("invalid_params", "sessionId is required")
		return false
	}
	return true
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	var p sessionParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return
	}
	sess, err := s.orch.Session(rc.Context(), p.SessionID)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{
		"session":   sess,
		"turnState": s.orch.State(sess.ID, sess.ActiveNodeID),
		"lastTurn":  s.orch.LastOutcome(sess.ID, sess.ActiveNodeID),
	})
}

func (s *Server) rpcSessionList(rc *RequestContext) {
	list, err := s.orch.Sessions(rc.Context())
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessions": list})
}

func (s *Server) rpcSessionDelete(rc *RequestContext) {
	var p sessionParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return
	}
	if err := s.orch.DeleteSession(rc.Context(), p.SessionID); err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": p.SessionID, "deleted": true})
}

type relationshipParams struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Label string `json:"label"`
}

// sessionUpdateParams applies each non-nil field in turn.
type sessionUpdateParams struct {
	SessionID       string              `json:"sessionId"`
	ModelID         *string             `json:"modelId,omitempty"`
	Scenario        *string             `json:"scenario,omitempty"`
	NarratorEnabled *bool               `json:"narratorEnabled,omitempty"`
	Relationship    *relationshipParams `json:"relationship,omitempty"`
}

func (s *Server) rpcSessionUpdate(rc *RequestContext) {
	var p sessionUpdateParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return
	}
	ctx := rc.Context()

	sess, err := s.orch.Session(ctx, p.SessionID)
	if err == nil && p.ModelID != nil {
		sess, err = s.orch.SetModel(ctx, p.SessionID, *p.ModelID)
	}
	if err == nil && p.Scenario != nil {
		sess, err = s.orch.SetScenario(ctx, p.SessionID, *p.Scenario)
	}
	if err == nil && p.NarratorEnabled != nil {
		sess, err = s.orch.SetNarrator(ctx, p.SessionID, *p.NarratorEnabled)
	}
	if err == nil && p.Relationship != nil {
		r := p.Relationship
		sess, err = s.orch.SetRelationship(ctx, p.SessionID, r.A, r.B, r.Label)
	}
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

// --- Node methods ---

type nodeParams struct {
	SessionID string `json:"sessionId"`
	NodeID    string `json:"nodeId"`
	Title     string `json:"title"`
}

func (s *Server) nodeParams(rc *RequestContext, needNode bool) (nodeParams, bool) {
	var p nodeParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return p, false
	}
	if needNode && p.NodeID == "" {
		rc.RespondError("invalid_params", "nodeId is required")
		return p, false
	}
	return p, true
}

func (s *Server) rpcNodeCreate(rc *RequestContext) {
	p, ok := s.nodeParams(rc, false)
	if !ok {
		return
	}
	node, err := s.orch.CreateNode(rc.Context(), p.SessionID, p.Title)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"sessionId": p.SessionID, "node": node})
}

func (s *Server) rpcNodeSwitch(rc *RequestContext) {
	p, ok := s.nodeParams(rc, true)
	if !ok {
		return
	}
	s.respondSession(rc, func() (*domain.Session, error) {
		return s.orch.SwitchNode(rc.Context(), p.SessionID, p.NodeID)
	})
}

func (s *Server) rpcNodeRename(rc *RequestContext) {
	p, ok := s.nodeParams(rc, true)
	if !ok {
		return
	}
	s.respondSession(rc, func() (*domain.Session, error) {
		return s.orch.RenameNode(rc.Context(), p.SessionID, p.NodeID, p.Title)
	})
}

func (s *Server) rpcNodeDelete(rc *RequestContext) {
	p, ok := s.nodeParams(rc, true)
	if !ok {
		return
	}
	s.respondSession(rc, func() (*domain.Session, error) {
		return s.orch.DeleteNode(rc.Context(), p.SessionID, p.NodeID)
	})
}

func (s *Server) respondSession(rc *RequestContext, fn func() (*domain.Session, error)) {
	sess, err := fn()
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"session": sess})
}

// --- Chat methods ---

type chatSendParams struct {
	SessionID    string             `json:"sessionId"`
	NodeID       string             `json:"nodeId,omitempty"`
	Content      string             `json:"content"`
	SpeakerID    string             `json:"speakerId,omitempty"`
	Characters   []domain.Character `json:"characters,omitempty"`
	Model        string             `json:"model,omitempty"`
	SystemPrompt string             `json:"systemPrompt,omitempty"`
	GlobalPrompt string             `json:"globalPrompt,omitempty"`
	APIKey       string             `json:"apiKey,omitempty"`
	APIKeys      *apiKeys           `json:"apiKeys,omitempty"`
}

// rpcChatSend runs a turn, pushing each delta to the caller as a chat.delta
// event before responding with the committed turn. It runs asynchronously so
// the client can interject.
func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return
	}

	result, err := s.orch.Send(rc.Context(), agent.TurnRequest{
		SessionID:    p.SessionID,
		NodeID:       p.NodeID,
		Content:      p.Content,
		SpeakerID:    p.SpeakerID,
		Characters:   p.Characters,
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		GlobalPrompt: p.GlobalPrompt,
		Credentials:  requestCredentials(p.APIKey, p.APIKeys),
	}, func(d relay.Delta) {
		rc.Client.SendEvent(EventChatDelta, ChatDelta{
			RequestID: rc.Frame.ID,
			SessionID: p.SessionID,
			NodeID:    p.NodeID,
			Seq:       d.Seq,
			Text:      d.Text,
		}, s.eventSeq.Add(1))
	})
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(result)
}

type chatInterjectParams struct {
	SessionID string `json:"sessionId"`
	NodeID    string `json:"nodeId,omitempty"`
}

func (s *Server) rpcChatInterject(rc *RequestContext) {
	var p chatInterjectParams
	if !sessionID(rc, &p, func() string { return p.SessionID }) {
		return
	}
	rc.Respond(map[string]any{
		"sessionId":   p.SessionID,
		"interjected": s.orch.Interject(p.SessionID, p.NodeID),
	})
}

// Helpers that mirror config.ParseConfigPath / GetValueAtPath without importing config
// to avoid circular dependencies; they operate on raw maps only.

func parseConfigPathForRPC(raw string) ([]string, error) {
	if raw == "" {
		return nil, ErrEmptyConfigPath
	}
	var parts []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '.' {
			if i == start {
				return nil, ErrEmptyConfigPath
			}
			parts = append(parts, raw[start:i])
			start = i + 1
		}
	}
	return parts, nil
}

func getValueAtPathRPC(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setValueAtPathRPC(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}
