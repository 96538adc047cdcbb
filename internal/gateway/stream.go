package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/domain"
	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/relay"
)

// maxRequestBody caps JSON request bodies on the relay endpoints.
const maxRequestBody = 4 * 1024 * 1024

// apiKeys are the per-provider keys a client may send with a request.
type apiKeys struct {
	XAI        string `json:"xai,omitempty"`
	OpenRouter string `json:"openRouter,omitempty"`
}

// requestCredentials builds the credentials carried by a request. The
// single legacy key applies to every provider; per-provider keys win.
func requestCredentials(legacy string, keys *apiKeys) llm.Credentials {
	c := llm.Uniform(legacy, config.ProviderXAI, config.ProviderOpenRouter)
	if keys == nil {
		return c
	}
	return c.Merge(llm.Credentials{
		config.ProviderXAI:        keys.XAI,
		config.ProviderOpenRouter: keys.OpenRouter,
	})
}

// errorMessage is the text reported to HTTP clients for err.
func errorMessage(err error) string {
	var perr *llm.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	var cerr *llm.ConfigurationError
	if errors.As(err, &cerr) {
		return cerr.Message
	}
	return err.Error()
}

// frameStream writes relay frames to an HTTP response. The 200 status is
// committed lazily, so a failure before anything was streamed can still be
// reported as a JSON error with a meaningful status.
type frameStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
	frames  int
	err     error
}

func newFrameStream(w http.ResponseWriter) *frameStream {
	return &frameStream{w: w, rc: http.NewResponseController(w)}
}

func (f *frameStream) start() {
	if f.started {
		return
	}
	f.started = true
	h := f.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	f.w.WriteHeader(http.StatusOK)
	f.rc.Flush()
}

// Text writes one delta frame. Write errors stick; later frames are dropped.
func (f *frameStream) Text(text string) {
	if f.err != nil {
		return
	}
	f.start()
	if err := relay.WriteFrame(f.w, text); err != nil {
		f.err = err
		return
	}
	f.frames++
	f.rc.Flush()
}

// Fail reports err: as a JSON error if nothing was streamed yet, otherwise as
// a terminal error frame telling the client to discard the partial reply.
func (f *frameStream) Fail(err error) {
	if !f.started {
		writeJSONError(f.w, httpStatus(err), errorMessage(err))
		return
	}
	if f.err != nil {
		return
	}
	relay.WriteErrorFrame(f.w, errorMessage(err))
	f.rc.Flush()
}

// Finish commits an empty 200 response if no frame was written.
func (f *frameStream) Finish() {
	f.start()
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// chatRequest is the body of POST /api/chat. The client owns the
// conversation and sends it whole.
type chatRequest struct {
	Messages        []llm.Message      `json:"messages"`
	Model           string             `json:"model,omitempty"`
	ModelID         string             `json:"modelId,omitempty"`
	SystemPrompt    string             `json:"systemPrompt,omitempty"`
	GlobalPrompt    string             `json:"globalPrompt,omitempty"`
	APIKey          string             `json:"apiKey,omitempty"`
	APIKeys         *apiKeys           `json:"apiKeys,omitempty"`
	Character       *domain.Character  `json:"character,omitempty"`
	Characters      []domain.Character `json:"characters,omitempty"`
	NextSpeakerID   string             `json:"nextSpeakerId,omitempty"`
	Scenario        string             `json:"scenario,omitempty"`
	RelationshipMap map[string]string  `json:"relationshipMap,omitempty"`
	Mode            domain.Mode        `json:"mode,omitempty"`
	NarratorEnabled bool               `json:"narratorEnabled,omitempty"`
}

// speaker returns the character the reply should come from, if one was
// named, and the full cast with the speaker included.
func (c chatRequest) speaker() (string, []domain.Character) {
	chars := c.Characters
	if c.Character != nil {
		if _, ok := domain.FindCharacter(chars, c.Character.ID); !ok {
			chars = append([]domain.Character{*c.Character}, chars...)
		}
		return c.Character.ID, chars
	}
	if _, ok := domain.FindCharacter(chars, c.NextSpeakerID); ok {
		return c.NextSpeakerID, chars
	}
	return "", chars
}

// handleChat relays one stateless turn: the upstream reply is streamed back
// as 0: frames and nothing is stored.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	speakerID, chars := req.speaker()
	if len(chars) == 0 {
		writeJSONError(w, http.StatusBadRequest, "Character data required")
		return
	}

	system := req.SystemPrompt
	if system == "" {
		system = agent.BuildSystemPrompt(agent.PromptConfig{
			Characters:      chars,
			SpeakerID:       speakerID,
			Scenario:        req.Scenario,
			RelationshipMap: req.RelationshipMap,
			Mode:            req.Mode,
			Narrator:        req.NarratorEnabled,
			ExtraPrompt:     req.GlobalPrompt,
		})
	}
	model := req.Model
	if model == "" {
		model = req.ModelID
	}

	// Turns have no total deadline. The upstream transport bounds connect
	// and first byte; a client disconnect cancels the rest.
	ctx := r.Context()

	start := time.Now()
	stream, err := s.relay.Open(ctx, relay.Request{
		Model:       model,
		System:      system,
		Messages:    req.Messages,
		Credentials: s.creds.Merge(requestCredentials(req.APIKey, req.APIKeys)),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("model", model).Msg("relay failed")
		writeJSONError(w, httpStatus(err), errorMessage(err))
		return
	}
	defer stream.Close()

	fs := newFrameStream(w)
	for stream.Next() {
		fs.Text(stream.Delta().Text)
		if fs.err != nil {
			break
		}
	}
	if err := stream.Err(); err != nil {
		if r.Context().Err() == nil {
			fs.Fail(err)
		}
	} else {
		fs.Finish()
	}

	s.log.Info().
		Str("provider", stream.Provider()).
		Str("model", stream.Model()).
		Int("frames", fs.frames).
		Int("dropped", stream.Dropped()).
		Dur("duration", time.Since(start)).
		Msg("relayed chat")
}

// turnRequest is the body of POST /api/sessions/{id}/turn.
type turnRequest struct {
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

// handleTurn runs an orchestrated turn on a stored session. The reply is
// committed to the node only if the stream completes.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	fs := newFrameStream(w)
	result, err := s.orch.Send(ctx, agent.TurnRequest{
		SessionID:    r.PathValue("id"),
		NodeID:       req.NodeID,
		Content:      req.Content,
		SpeakerID:    req.SpeakerID,
		Characters:   req.Characters,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		GlobalPrompt: req.GlobalPrompt,
		Credentials:  requestCredentials(req.APIKey, req.APIKeys),
	}, func(d relay.Delta) {
		fs.Text(d.Text)
	})
	if err != nil {
		if r.Context().Err() == nil {
			fs.Fail(err)
		}
		return
	}
	fs.Finish()
	s.log.Debug().
		Str("sessionId", result.SessionID).
		Str("messageId", result.Reply.ID).
		Int("frames", fs.frames).
		Msg("turn streamed")
}

type interjectRequest struct {
	NodeID string `json:"nodeId,omitempty"`
}

// handleInterject cancels the in-flight turn of a node, or of every node of
// the session when no nodeId is given.
func (s *Server) handleInterject(w http.ResponseWriter, r *http.Request) {
	var req interjectRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":   id,
		"interjected": s.orch.Interject(id, req.NodeID),
	})
}
