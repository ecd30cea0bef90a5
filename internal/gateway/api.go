// ABOUTME: OpenAI- and Ollama-compatible HTTP handlers backed by the agent engine.
// ABOUTME: Serves chat completions as JSON or SSE, the model catalog and transcript summaries.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/wormhole-gateway/internal/agent"
	"github.com/2389/wormhole-gateway/internal/openai"
	"github.com/2389/wormhole-gateway/internal/prompt"
	"github.com/2389/wormhole-gateway/internal/session"
	"github.com/2389/wormhole-gateway/internal/store"
)

// SessionHeader lets a client name its dialogue explicitly instead of
// relying on the history hash.
const SessionHeader = "X-Session-ID"

// APIVersion is reported by GET /api/version.
const APIVersion = "1.0.0"

// maxRequestBytes bounds a chat completion body; agent clients send whole
// files as attachments.
const maxRequestBytes = 32 << 20

const defaultTranscriptLimit = 50

// ShowRequest is the JSON request body for POST /api/show.
type ShowRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// TranscriptSummary is one entry of GET /api/transcripts.
type TranscriptSummary struct {
	ConversationID string    `json:"conversation_id"`
	Turns          int       `json:"turns"`
	FirstTurn      time.Time `json:"first_turn"`
	LastTurn       time.Time `json:"last_turn"`
}

// TranscriptTurn is one turn in GET /api/transcripts/{id}.
type TranscriptTurn struct {
	Index         int       `json:"index"`
	PromptBytes   int       `json:"prompt_bytes"`
	ResponseBytes int       `json:"response_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// TranscriptDetail is the JSON response for GET /api/transcripts/{id}.
type TranscriptDetail struct {
	TranscriptSummary
	Items []TranscriptTurn `json:"items"`
}

func (g *Gateway) apiMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", g.handleModels)
	mux.HandleFunc("/v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("/api/show", g.handleShow)
	mux.HandleFunc("/api/version", g.handleVersion)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	if g.turns != nil {
		mux.HandleFunc("/api/transcripts", g.handleListTranscripts)
		mux.HandleFunc("/api/transcripts/", g.handleGetTranscript)
	}
	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}
	return mux
}

// handleModels handles GET /v1/models with the static catalog.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, openai.Models())
}

// handleShow handles POST /api/show for Ollama clients probing a model.
func (g *Gateway) handleShow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ShowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.sendOpenAIError(w, http.StatusBadRequest, openai.ErrorTypeInvalidRequest, "invalid JSON body", "invalid_json")
		return
	}
	// Any model gets the stub, even an unnamed one.
	name := req.Name
	if name == "" {
		name = req.Model
	}
	g.writeJSON(w, http.StatusOK, openai.Show(name))
}

// handleVersion handles GET /api/version.
func (g *Gateway) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"version": APIVersion})
}

// handleChatCompletions handles POST /v1/chat/completions.
//
// The request history is reduced to a turn, the turn is routed to one of
// the engine's three paths, and the engine's reply is rendered either as
// one chat.completion object or as an SSE stream of chunks. The dialogue's
// session is held for the whole request so concurrent requests of the same
// dialogue run one after the other.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendOpenAIError(w, http.StatusBadRequest, openai.ErrorTypeInvalidRequest, "invalid JSON body: "+err.Error(), "invalid_json")
		return
	}
	if req.Model == "" {
		g.sendOpenAIError(w, http.StatusBadRequest, openai.ErrorTypeInvalidRequest, "Model is required", "model_required")
		return
	}

	turn := openai.ParseTurn(&req)
	route := turn.Route()
	if g.transcript != nil && (turn.RawSystem != "" || turn.RawUser != "") {
		g.transcript.DumpRaw(turn.RawSystem, turn.RawUser)
	}

	explicit := r.Header.Get(SessionHeader)
	if explicit == "" {
		explicit = req.User
	}
	firstSystem, firstUser := openai.FirstSystemAndUser(req.Messages)
	sess := g.sessions.Get(session.KeyFor(explicit, req.Model, firstSystem, firstUser))
	if err := sess.Acquire(r.Context()); err != nil {
		g.logger.Warn("client gave up waiting for session", "session", sess.Key, "error", err)
		return
	}
	defer sess.Release()

	g.logger.Info("chat completion",
		"model", req.Model,
		"route", string(route),
		"stream", req.Stream,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"new_conversation", turn.IsNewConversation,
		"session", sess.Key,
	)

	id := openai.NewCompletionID()
	created := time.Now().Unix()

	if req.Stream {
		g.streamCompletion(w, r, sess, turn, id, created)
		return
	}

	reply, err := g.runTurn(r.Context(), sess, turn)
	if err != nil {
		status, msg := g.engineError(err)
		g.sendOpenAIError(w, status, openai.ErrorTypeServer, msg, "")
		g.metrics.Completion(string(route), false, status)
		return
	}

	g.writeJSON(w, http.StatusOK, openai.NewCompletion(id, created, req.Model, reply, openai.PromptTokens(req.Messages)))
	g.metrics.Completion(string(route), false, http.StatusOK)
}

// streamCompletion starts the SSE stream before running the engine, so
// failures after that point are reported in-band as an error event.
func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, sess *session.Session, turn *openai.Turn, id string, created int64) {
	route := string(turn.Route())

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendOpenAIError(w, http.StatusInternalServerError, openai.ErrorTypeServer, "streaming not supported", "")
		g.metrics.Completion(route, true, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	chunker := openai.NewChunker(id, created, turn.Model)
	g.writeSSEData(w, chunker.Role())
	flusher.Flush()

	reply, err := g.runTurn(r.Context(), sess, turn)
	if err != nil {
		status, msg := g.engineError(err)
		g.writeSSEData(w, openai.NewError(openai.ErrorTypeServer, msg, ""))
		writeSSEDone(w)
		flusher.Flush()
		g.metrics.Completion(route, true, status)
		return
	}

	for _, chunk := range chunker.Body(reply) {
		g.writeSSEData(w, chunk)
		flusher.Flush()
	}
	g.writeSSEData(w, chunker.Finish(reply))
	writeSSEDone(w)
	flusher.Flush()
	g.metrics.Completion(route, true, http.StatusOK)
}

// runTurn dispatches turn to the engine path its route selects.
func (g *Gateway) runTurn(ctx context.Context, sess *session.Session, turn *openai.Turn) (openai.Reply, error) {
	var (
		out *agent.Outcome
		err error
	)
	switch turn.Route() {
	case openai.RouteInitialTool:
		out, err = g.engine.HandleInitialToolRequest(ctx, sess, agent.InitialRequest{
			Model:           turn.Model,
			UserRequest:     turn.UserRequest,
			Attachments:     turn.Attachments,
			Tools:           promptTools(turn.Tools),
			RawSystem:       turn.RawSystem,
			NewConversation: turn.IsNewConversation,
		})
	case openai.RouteToolResponse:
		out, err = g.engine.HandleToolResponse(ctx, sess, agent.ToolResponseRequest{
			Model:           turn.Model,
			Calls:           calledTools(turn.Calls),
			Results:         toolResults(turn.Results),
			RawSystem:       turn.RawSystem,
			NewConversation: turn.IsNewConversation,
		})
	default:
		out, err = g.engine.HandleSimpleMessage(ctx, sess, agent.SimpleRequest{
			Model:           turn.Model,
			UserRequest:     turn.UserRequest,
			Attachments:     turn.Attachments,
			RawSystem:       turn.RawSystem,
			NewConversation: turn.IsNewConversation,
		})
	}
	if err != nil {
		return openai.Reply{}, err
	}
	return openai.Reply{Text: out.Text, ToolCall: openai.FromMarkup(out.ToolCall)}, nil
}

// engineError maps an engine failure to a status and client-facing message.
func (g *Gateway) engineError(err error) (int, string) {
	g.logger.Error("chat completion failed", "error", err)
	switch {
	case errors.Is(err, agent.ErrConversationUnavailable):
		return http.StatusInternalServerError, "Failed to create conversation"
	case errors.Is(err, agent.ErrNoReply):
		return http.StatusInternalServerError, "Failed to get response from model"
	case errors.Is(err, prompt.ErrTemplate):
		return http.StatusInternalServerError, "Prompt template error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func promptTools(tools []openai.Tool) []prompt.Tool {
	out := make([]prompt.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, prompt.Tool{Name: t.Function.Name, Description: t.Function.Description})
	}
	return out
}

func calledTools(calls []openai.ToolCall) []agent.CalledTool {
	out := make([]agent.CalledTool, 0, len(calls))
	for _, c := range calls {
		out = append(out, agent.CalledTool{Name: c.Function.Name, Arguments: c.Function.Arguments})
	}
	return out
}

func toolResults(results []openai.ToolResult) []agent.ToolResult {
	out := make([]agent.ToolResult, 0, len(results))
	for _, r := range results {
		out = append(out, agent.ToolResult{Name: r.Name, Content: r.Content})
	}
	return out
}

// handleListTranscripts handles GET /api/transcripts?limit=N.
func (g *Gateway) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	convs, err := g.turns.ListConversations(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list transcripts", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]TranscriptSummary, 0, len(convs))
	for _, c := range convs {
		response = append(response, summaryOf(c))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleGetTranscript handles GET /api/transcripts/{conversation_id}.
func (g *Gateway) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/transcripts/")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	conv, err := g.turns.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get transcript", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	turns, err := g.turns.ListTurns(r.Context(), id)
	if err != nil {
		g.logger.Error("failed to list transcript turns", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	detail := TranscriptDetail{
		TranscriptSummary: summaryOf(conv),
		Items:             make([]TranscriptTurn, 0, len(turns)),
	}
	for _, t := range turns {
		detail.Items = append(detail.Items, TranscriptTurn{
			Index:         t.Index,
			PromptBytes:   t.PromptBytes,
			ResponseBytes: t.ResponseBytes,
			CreatedAt:     t.CreatedAt,
		})
	}
	g.writeJSON(w, http.StatusOK, detail)
}

func summaryOf(c *store.Conversation) TranscriptSummary {
	return TranscriptSummary{
		ConversationID: c.ID,
		Turns:          c.Turns,
		FirstTurn:      c.FirstTurn,
		LastTurn:       c.LastTurn,
	}
}

// writeSSEData writes one unnamed SSE event carrying data as JSON.
func (g *Gateway) writeSSEData(w http.ResponseWriter, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

func writeSSEDone(w http.ResponseWriter) {
	fmt.Fprintf(w, "data: %s\n\n", openai.DoneSentinel)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a plain JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// sendOpenAIError writes an error in the OpenAI envelope.
func (g *Gateway) sendOpenAIError(w http.ResponseWriter, status int, errType, message, code string) {
	g.writeJSON(w, status, openai.NewError(errType, message, code))
}
