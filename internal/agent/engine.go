// ABOUTME: Agent protocol engine: drives one dialogue with the remote chat session.
// ABOUTME: Composes prompts, issues relay commands, classifies replies and guards the step budget.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/markup"
	"github.com/2389/wormhole-gateway/internal/metrics"
	"github.com/2389/wormhole-gateway/internal/prompt"
	"github.com/2389/wormhole-gateway/internal/session"
	"github.com/2389/wormhole-gateway/internal/transport"
)

// Relay commands understood by the page script.
const (
	CommandCreateConversation = "createConversation"
	CommandSendMessage        = "sendMessage"
)

// MaxStepsText is returned once a dialogue has used up its step budget.
const MaxStepsText = "Maximum steps reached. Task could not be completed."

// DefaultMaxSteps applies when Config.MaxSteps is not positive.
const DefaultMaxSteps = 20

// ErrConversationUnavailable indicates the remote conversation could not be created.
var ErrConversationUnavailable = errors.New("failed to create conversation")

// ErrNoReply indicates the remote session did not answer a prompt.
var ErrNoReply = errors.New("failed to get response from model")

// Commander sends one command to an execution client.
type Commander interface {
	Send(ctx context.Context, command string, params any) transport.Result
}

// TurnLogger records completed round trips. Implementations must not block
// or fail the engine.
type TurnLogger interface {
	LogTurn(conversationID, prompt, system, response string)
}

// Config controls the engine.
type Config struct {
	MaxSteps int
}

// ConfigFrom extracts the engine settings from the gateway configuration.
func ConfigFrom(cfg config.AgentConfig) Config {
	return Config{MaxSteps: cfg.MaxSteps}
}

// InitialRequest starts a tool-enabled user turn.
type InitialRequest struct {
	Model       string
	UserRequest string
	Attachments string
	Tools       []prompt.Tool
	// RawSystem is the client's own system message; its <instructions>
	// and <context> blocks are folded into the prompt.
	RawSystem string
	// NewConversation discards any conversation cached on the session.
	NewConversation bool
}

// ToolResponseRequest continues a dialogue with tool results.
type ToolResponseRequest struct {
	Model           string
	Calls           []CalledTool
	Results         []ToolResult
	RawSystem       string
	NewConversation bool
}

// SimpleRequest is a plain message with no tool scaffolding.
type SimpleRequest struct {
	Model           string
	UserRequest     string
	Attachments     string
	RawSystem       string
	NewConversation bool
}

// Outcome is what the engine produced for one request.
type Outcome struct {
	Text           string
	ToolCall       *markup.ToolCall
	ConversationID string
	// Final is set when the dialogue reached TERMINAL.
	Final bool
}

// Engine runs the agent protocol. It keeps no per-dialogue state of its
// own; everything lives on the session passed to each call, and the caller
// must hold that session (session.Acquire) for the duration of the call.
type Engine struct {
	cfg      Config
	cmd      Commander
	composer *prompt.Composer
	turns    TurnLogger
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates an Engine. turns and m may be nil.
func New(cfg Config, cmd Commander, composer *prompt.Composer, turns TurnLogger, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		cmd:      cmd,
		composer: composer,
		turns:    turns,
		logger:   logger.With("component", "agent"),
		metrics:  m,
	}
}

// MaxSteps returns the effective step budget.
func (e *Engine) MaxSteps() int {
	return e.cfg.MaxSteps
}

// HandleInitialToolRequest starts a new user turn with the tool list offered.
func (e *Engine) HandleInitialToolRequest(ctx context.Context, sess *session.Session, req InitialRequest) (*Outcome, error) {
	e.beginTurn(sess, req.NewConversation)

	instructions := prompt.ClientInstructions(req.RawSystem)
	clientContext := prompt.ClientContext(req.RawSystem)
	e.logger.Debug("initial tool request",
		"session", sess.Key,
		"model", req.Model,
		"tools", len(req.Tools),
		"instructions_chars", len(instructions),
		"context_chars", len(clientContext),
	)

	text, err := e.composer.InitialPrompt(prompt.InitialInput{
		Tools:              req.Tools,
		UserRequest:        req.UserRequest,
		Attachments:        req.Attachments,
		Context:            clientContext,
		CustomInstructions: instructions,
		IsFirst:            sess.ConversationID() == "",
	})
	if err != nil {
		return nil, err
	}

	return e.exchange(ctx, sess, req.Model, text, true)
}

// HandleToolResponse continues the current user turn with tool results.
func (e *Engine) HandleToolResponse(ctx context.Context, sess *session.Session, req ToolResponseRequest) (*Outcome, error) {
	if req.NewConversation {
		e.beginTurn(sess, true)
	}
	e.logger.Debug("tool response",
		"session", sess.Key,
		"model", req.Model,
		"calls", len(req.Calls),
		"results", len(req.Results),
	)

	text, err := e.composer.ToolResponse(ToolOutput(req.Calls, req.Results), prompt.ClientContext(req.RawSystem))
	if err != nil {
		return nil, err
	}

	return e.exchange(ctx, sess, req.Model, text, true)
}

// HandleSimpleMessage answers a plain message. Tool markup in the reply is
// left as text; a final answer marker is still unwrapped.
func (e *Engine) HandleSimpleMessage(ctx context.Context, sess *session.Session, req SimpleRequest) (*Outcome, error) {
	e.beginTurn(sess, req.NewConversation)

	e.logger.Debug("simple message", "session", sess.Key, "model", req.Model)

	text, err := e.composer.SimpleUser(prompt.SimpleInput{
		UserRequest: req.UserRequest,
		Attachments: req.Attachments,
		Context:     prompt.ClientContext(req.RawSystem),
		IsFirst:     sess.ConversationID() == "",
	})
	if err != nil {
		return nil, err
	}

	return e.exchange(ctx, sess, req.Model, text, false)
}

func (e *Engine) beginTurn(sess *session.Session, newConversation bool) {
	if newConversation {
		if id := sess.ConversationID(); id != "" {
			e.logger.Info("new conversation, discarding cached conversation",
				"session", sess.Key,
				"conversation_id", id,
			)
		}
		sess.Reset()
		return
	}
	sess.BeginTurn()
}

// exchange performs one round trip: it creates the conversation when the
// session is NEW, fetches the reply and classifies it.
func (e *Engine) exchange(ctx context.Context, sess *session.Session, model, text string, withTools bool) (*Outcome, error) {
	if steps := sess.Steps(); steps >= e.cfg.MaxSteps {
		e.logger.Warn("max steps reached",
			"session", sess.Key,
			"steps", steps,
			"max_steps", e.cfg.MaxSteps,
		)
		sess.MarkTerminal()
		e.metrics.AgentReply("max_steps")
		return &Outcome{Text: MaxStepsText, ConversationID: sess.ConversationID(), Final: true}, nil
	}

	system := e.composer.System()

	convID := sess.ConversationID()
	var reply string
	var haveReply bool
	if convID == "" {
		id, first, err := e.createConversation(ctx, model, text, system)
		if err != nil {
			return nil, err
		}
		sess.SetConversationID(id)
		convID = id
		reply, haveReply = first, first != ""
	}

	if !haveReply {
		var err error
		reply, err = e.sendMessage(ctx, convID, model, text, system)
		if err != nil {
			return nil, err
		}
	}

	sess.IncrementSteps()
	if e.turns != nil {
		e.turns.LogTurn(convID, text, system, reply)
	}

	out := &Outcome{ConversationID: convID}
	if !withTools {
		out.Text = reply
		if markup.HasFinalAnswer(reply) {
			out.Text = markup.ExtractFinalAnswer(reply)
		}
		e.metrics.AgentReply(KindText.String())
		return out, nil
	}

	c := Classify(reply)
	e.metrics.AgentReply(c.Kind.String())
	out.Text = c.Text
	out.ToolCall = c.ToolCall
	switch c.Kind {
	case KindFinal:
		sess.MarkTerminal()
		out.Final = true
		e.logger.Info("final answer", "session", sess.Key, "conversation_id", convID)
	case KindToolCall:
		e.logger.Info("tool call", "session", sess.Key, "conversation_id", convID, "tool", c.ToolCall.Name)
	}
	return out, nil
}

type conversationReply struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

// createConversation opens a remote conversation with text as its first
// prompt. The reply to that prompt may come back in the same result.
func (e *Engine) createConversation(ctx context.Context, model, text, system string) (string, string, error) {
	res := e.send(ctx, CommandCreateConversation, map[string]string{
		"prompt":        text,
		"model":         model,
		"systemMessage": system,
	})
	if !res.Success {
		e.logger.Error("creating conversation", "model", model, "error", res.Error)
		return "", "", fmt.Errorf("%w: %s", ErrConversationUnavailable, res.Error)
	}

	var out conversationReply
	if err := res.Decode(&out); err != nil || out.ConversationID == "" {
		e.logger.Error("creating conversation: no conversation id in result",
			"model", model,
			"result", res.Text(),
		)
		return "", "", fmt.Errorf("%w: no conversation id in result", ErrConversationUnavailable)
	}

	e.logger.Info("=== CONVERSATION CREATED ===",
		"conversation_id", out.ConversationID,
		"model", model,
		"has_response", out.Response != "",
	)
	return out.ConversationID, out.Response, nil
}

func (e *Engine) sendMessage(ctx context.Context, convID, model, text, system string) (string, error) {
	e.logger.Debug("sending prompt", "conversation_id", convID, "chars", len(text))

	res := e.send(ctx, CommandSendMessage, map[string]string{
		"conversationId": convID,
		"prompt":         text,
		"model":          model,
		"systemMessage":  system,
	})
	if !res.Success {
		e.logger.Error("sending prompt", "conversation_id", convID, "error", res.Error)
		return "", fmt.Errorf("%w: %s", ErrNoReply, res.Error)
	}

	var out conversationReply
	if err := res.Decode(&out); err != nil {
		e.logger.Error("sending prompt: unreadable result",
			"conversation_id", convID,
			"error", err,
		)
		return "", fmt.Errorf("%w: %v", ErrNoReply, err)
	}

	e.logger.Debug("got reply", "conversation_id", convID, "chars", len(out.Response))
	return out.Response, nil
}

func (e *Engine) send(ctx context.Context, command string, params any) transport.Result {
	start := time.Now()
	res := e.cmd.Send(ctx, command, params)
	e.metrics.ObserveRoundTrip(command, time.Since(start))
	return res
}
