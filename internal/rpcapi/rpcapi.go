// Package rpcapi is the RPC Surface: a loopback-only HTTP server exposing
// the bridge daemon's operations to the host-side adapter (spec.md §4.8).
//
// Grounded on the teacher's internal/daemon.FindAvailablePort (portfile.go)
// for the port-scan idiom and internal/websocket.Server for the HTTP-plus-
// upgrade-route layout, adapted from a single WebSocket endpoint to a full
// JSON route table plus a "/ws" push leg.
package rpcapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/leonletto/discordbridge/internal/bus"
	"github.com/leonletto/discordbridge/internal/config"
	"github.com/leonletto/discordbridge/internal/gateway"
	"github.com/leonletto/discordbridge/internal/interaction"
	"github.com/leonletto/discordbridge/internal/registry"
)

// PortRangeMin and PortRangeMax bound the loopback port scan (spec.md §6):
// [PortRangeMin, PortRangeMax).
const (
	PortRangeMin = 19876
	PortRangeMax = 19886
)

// ingressRateLimit and ingressBurst bound how fast the host-side adapter may
// call the RPC Surface; generous enough for normal polling, low enough to
// catch a runaway adapter loop.
const (
	ingressRateLimit = 20
	ingressBurst     = 40
)

// Gateway is the subset of gateway.Client the RPC Surface drives directly.
type Gateway interface {
	PostToThread(chatID int64, threadID, text string) error
	SendFileToThread(chatID int64, threadID string, data []byte, name, description string) error
	StartTyping(chatID int64, threadID string) error
	StopTyping(threadID string)
	CreateThread(conversationID, workspaceLabel, name string, inviteUserIDs []string, notifyPing bool) (gateway.CreateThreadResult, error)
	RenameThread(chatID int64, threadID, name, currentName string) error
}

// Actuator is the subset of the IDE-side actuator driving /message (spec.md §4.9).
type Actuator interface {
	Perform(ctx context.Context, conversationID, text, threadID string) error
}

// QuestionAsker is the subset of *interaction.Manager needed by /api/ask-question.
type QuestionAsker interface {
	AskQuestion(threadID, text string, options []interaction.Option, allowMultiple bool, timeout time.Duration) interaction.Result
}

// Server is the RPC Surface's HTTP listener.
type Server struct {
	gw          Gateway
	reg         *registry.Registry
	cfg         *config.Config
	interaction QuestionAsker
	actuator    Actuator
	chatID      int64

	pending registry.PendingComposer
	creator registry.PendingComposerCreator

	connected func() bool

	bus      *bus.Bus
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	port       int

	limiter *rate.Limiter
}

// New constructs a Server. connected reports whether the Chat Gateway
// currently has a live session, for /health's discordConnected field.
func New(gw Gateway, reg *registry.Registry, cfg *config.Config, im QuestionAsker, act Actuator, chatID int64, b *bus.Bus, connected func() bool) *Server {
	return &Server{
		gw:          gw,
		reg:         reg,
		cfg:         cfg,
		interaction: im,
		actuator:    act,
		chatID:      chatID,
		connected:   connected,
		bus:         b,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		limiter: rate.NewLimiter(rate.Limit(ingressRateLimit), ingressBurst),
	}
}

// Start binds the first free loopback port in [PortRangeMin, PortRangeMax)
// and begins serving. It never falls back to a non-loopback address.
func (s *Server) Start() error {
	for port := PortRangeMin; port < PortRangeMax; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		s.listener = ln
		s.port = port
		break
	}
	if s.listener == nil {
		return fmt.Errorf("no available loopback port in range [%d, %d)", PortRangeMin, PortRangeMax)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	s.httpServer = &http.Server{
		Handler:           withCORS(s.withRateLimit(withRequestID(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("rpc surface: listener error")
		}
	}()

	log.Info().Int("port", s.port).Msg("rpc surface listening")
	return nil
}

// Port returns the bound loopback port.
func (s *Server) Port() int { return s.port }

// Stop gracefully shuts down the HTTP listener.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// withRequestID tags every request with a correlation id, carried in the
// response headers and the request-start log line so a host-side adapter's
// support report can be matched back to this daemon's log.
func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		log.Debug().Str("requestId", reqID).Str("method", r.Method).Str("path", r.URL.Path).Msg("rpc surface: request")
		h.ServeHTTP(w, r)
	})
}

// withRateLimit throttles ingress to the RPC Surface (spec.md §4.8): a
// runaway adapter loop gets 429s instead of saturating the daemon.
func (s *Server) withRateLimit(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h.ServeHTTP(w, r)
	})
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/get-active-thread-id", s.handleGetActiveThreadID)
	mux.HandleFunc("/api/post-to-thread", s.handlePostToThread)
	mux.HandleFunc("/api/send-file-to-thread", s.handleSendFileToThread)
	mux.HandleFunc("/api/start-typing", s.handleStartTyping)
	mux.HandleFunc("/api/stop-typing", s.handleStopTyping)
	mux.HandleFunc("/api/create-thread", s.handleCreateThread)
	mux.HandleFunc("/api/rename-thread", s.handleRenameThread)
	mux.HandleFunc("/api/forward-user-prompt", s.handleForwardUserPrompt)
	mux.HandleFunc("/api/ask-question", s.handleAskQuestion)
	mux.HandleFunc("/message", s.handleMessage)
	mux.HandleFunc("/ws", s.handleWebSocket)
}

// --- response helpers -------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError follows spec.md §7's propagation policy: 200 for domain-level
// errors, 400 for preflight (missing parameter) failures.
func writeError(w http.ResponseWriter, status int, err string) {
	writeJSON(w, status, map[string]any{"success": false, "error": err})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- handlers -----------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"workspaceFolders": []string{s.cfg.WorkspacePath},
		"workspaceName":    s.cfg.WorkspaceName,
		"discordConnected": s.connected(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workspaceName":        s.cfg.WorkspaceName,
		"channelId":            s.cfg.Workspace.ChannelID,
		"channelName":          s.cfg.Workspace.ChannelName,
		"threadCreationNotify": s.cfg.Host.ThreadCreationNotify,
		"messagePingMode":      s.cfg.Host.MessagePingMode,
	})
}

// SetPendingResolver wires the Chat Watcher (which implements both
// interfaces) in once it exists; /api/get-active-thread-id answers 200 with
// a success=false domain error until this has been called.
func (s *Server) SetPendingResolver(pending registry.PendingComposer, creator registry.PendingComposerCreator) {
	s.pending = pending
	s.creator = creator
}

func (s *Server) handleGetActiveThreadID(w http.ResponseWriter, r *http.Request) {
	if s.pending == nil || s.creator == nil {
		writeError(w, http.StatusOK, "resolver not configured")
		return
	}
	result, err := s.reg.Resolve(r.Context(), s.pending, s.creator)
	if err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"threadId":       result.Mapping.ThreadID,
		"conversationId": result.Mapping.ConversationID,
		"chatId":         s.chatID,
		"method":         result.Method,
	})
}

type postToThreadRequest struct {
	ThreadID string `json:"threadId"`
	Text     string `json:"text"`
}

// handlePostToThread implements spec.md §4.7: the ping prefix is computed by
// the gateway itself from the configured messagePingMode, never accepted
// from the caller.
func (s *Server) handlePostToThread(w http.ResponseWriter, r *http.Request) {
	var req postToThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}
	if err := s.gw.PostToThread(s.chatID, req.ThreadID, req.Text); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sendFileRequest struct {
	ThreadID          string `json:"threadId"`
	FilePath          string `json:"filePath"`
	FileContentBase64 string `json:"fileContentBase64"`
	FileName          string `json:"fileName"`
	Description       string `json:"description"`
}

func (s *Server) handleSendFileToThread(w http.ResponseWriter, r *http.Request) {
	var req sendFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}

	var data []byte
	name := req.FileName
	switch {
	case req.FileContentBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(req.FileContentBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid fileContentBase64")
			return
		}
		data = decoded
	case req.FilePath != "":
		// The daemon only dereferences a local path; remote-host callers must
		// pre-read and submit base64 (spec.md §6).
		content, err := os.ReadFile(req.FilePath) //nolint:gosec // G304 - caller-specified local path by design
		if err != nil {
			writeError(w, http.StatusOK, fmt.Sprintf("read file: %v", err))
			return
		}
		data = content
		if name == "" {
			name = req.FilePath
		}
	default:
		writeError(w, http.StatusBadRequest, "filePath or fileContentBase64 is required")
		return
	}

	if err := s.gw.SendFileToThread(s.chatID, req.ThreadID, data, name, req.Description); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type threadIDRequest struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) handleStartTyping(w http.ResponseWriter, r *http.Request) {
	var req threadIDRequest
	_ = decodeJSON(r, &req)
	if req.ThreadID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if err := s.gw.StartTyping(s.chatID, req.ThreadID); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStopTyping(w http.ResponseWriter, r *http.Request) {
	var req threadIDRequest
	_ = decodeJSON(r, &req)
	if req.ThreadID != "" {
		s.gw.StopTyping(req.ThreadID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type createThreadRequest struct {
	ConversationID string   `json:"conversationId"`
	WorkspaceLabel string   `json:"workspaceLabel"`
	Name           string   `json:"name"`
	InviteUserIDs  []string `json:"inviteUserIds"`
	NotifyPing     bool     `json:"notifyPing"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	result, err := s.gw.CreateThread(req.ConversationID, req.WorkspaceLabel, req.Name, req.InviteUserIDs, req.NotifyPing)
	if err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	if err := s.reg.Put(result.Mapping); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "threadId": result.Thread.ID})
}

type renameThreadRequest struct {
	ThreadID    string `json:"threadId"`
	Name        string `json:"name"`
	CurrentName string `json:"currentName"`
}

func (s *Server) handleRenameThread(w http.ResponseWriter, r *http.Request) {
	var req renameThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}
	if err := s.gw.RenameThread(s.chatID, req.ThreadID, req.Name, req.CurrentName); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type forwardUserPromptRequest struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

func (s *Server) handleForwardUserPrompt(w http.ResponseWriter, r *http.Request) {
	var req forwardUserPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}
	formatted := "**User prompt:**\n> " + req.Message
	if err := s.gw.PostToThread(s.chatID, req.ThreadID, formatted); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type askQuestionRequest struct {
	ThreadID      string              `json:"threadId"`
	Question      string              `json:"question"`
	Options       []interaction.Option `json:"options"`
	AllowMultiple bool                `json:"allowMultiple"`
	TimeoutMS     int                 `json:"timeoutMs"`
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var req askQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ThreadID == "" {
		writeError(w, http.StatusBadRequest, "threadId is required")
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result := s.interaction.AskQuestion(req.ThreadID, req.Question, req.Options, req.AllowMultiple, timeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           result.Success,
		"responseType":      result.ResponseType,
		"selectedOptionIds": result.SelectedOptionIDs,
		"textResponse":      result.TextResponse,
		"error":             result.Error,
	})
}

type messageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	ThreadID       string `json:"threadId"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "conversationId and message are required")
		return
	}
	if s.actuator == nil {
		writeError(w, http.StatusOK, "actuator not available on this host")
		return
	}
	if err := s.actuator.Perform(r.Context(), req.ConversationID, req.Message, req.ThreadID); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleWebSocket pushes every bus event to connected clients as JSON, the
// push leg companion to the request/response routes above.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("rpc surface: websocket upgrade failed")
		return
	}

	id, events := s.bus.Subscribe(32)
	defer s.bus.Unsubscribe(id)

	var writeMu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close()
				return
			}
			writeMu.Lock()
			err := conn.WriteJSON(ev)
			writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.Close()
			return
		}
	}
}
