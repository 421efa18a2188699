// Package interaction implements the Interaction Manager: posting
// interactive prompts (option buttons or free-text reply) and awaiting a
// single resolution under a timeout.
//
// Grounded on the teacher's internal/daemon.ClientRegistry (notify.go): a
// mutex-guarded registry keyed by id with register/notify/unregister,
// generalized from "deliver a notification to a connected client" to
// "resolve exactly once, then clear."
package interaction

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/identity"
)

const (
	defaultTimeout   = 5 * time.Minute
	questionPrefix   = "oq:"
	submitCustomID   = "submit"
)

// ResponseType distinguishes how an Open Question was resolved.
type ResponseType string

const (
	ResponseOption ResponseType = "option"
	ResponseText   ResponseType = "text"
)

// Result is what a completion sink receives.
type Result struct {
	Success          bool
	Error            string
	ResponseType     ResponseType
	SelectedOptionIDs []string
	TextResponse     string
}

// Option is one selectable choice in a question.
type Option struct {
	ID    string
	Label string
}

// Poster is the subset of gateway.Client used to post and edit messages.
type Poster interface {
	PostPlaceholder(threadID string) (messageID string, err error)
	EditMessage(threadID, messageID, renderedText string, buttons [][2]string) error
	ReplyEphemeral(threadID, interactionID, text string) error
}

// question is an Open Question record.
type question struct {
	threadID      string
	messageID     string
	text          string
	options       []Option
	allowMultiple bool
	selected      map[string]bool
	sink          chan Result
	timer         *time.Timer
	resolved      bool
}

// Manager is the Interaction Manager.
type Manager struct {
	poster Poster

	mu        sync.Mutex
	byMessage map[string]*question
	byThread  map[string]*question
}

// New constructs a Manager.
func New(poster Poster) *Manager {
	return &Manager{
		poster:    poster,
		byMessage: make(map[string]*question),
		byThread:  make(map[string]*question),
	}
}

// AskQuestion posts an interactive prompt and blocks until it resolves or
// times out (spec.md §4.6). Callers typically run this in its own
// goroutine from the RPC handler that issued it.
func (m *Manager) AskQuestion(threadID, text string, options []Option, allowMultiple bool, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	messageID, err := m.poster.PostPlaceholder(threadID)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("post placeholder: %v", err)}
	}

	q := &question{
		threadID:      threadID,
		messageID:     messageID,
		text:          text,
		options:       options,
		allowMultiple: allowMultiple,
		selected:      make(map[string]bool),
		sink:          make(chan Result, 1),
	}

	if err := m.poster.EditMessage(threadID, messageID, renderQuestion(q), renderButtons(q)); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("render question: %v", err)}
	}

	m.mu.Lock()
	q.timer = time.AfterFunc(timeout, func() { m.timeout(messageID) })
	m.byMessage[messageID] = q
	m.byThread[threadID] = q
	m.mu.Unlock()

	result := <-q.sink
	return result
}

// HandleInteraction routes a button interaction whose custom id begins
// with the question prefix.
func (m *Manager) HandleInteraction(messageID, customID, interactionID string) {
	if !strings.HasPrefix(customID, questionPrefix) {
		return
	}
	optionID := strings.TrimPrefix(customID, questionPrefix)

	m.mu.Lock()
	q, ok := m.byMessage[messageID]
	if !ok || q.resolved {
		m.mu.Unlock()
		if interactionID != "" {
			_ = m.poster.ReplyEphemeral(q.threadIDOrEmpty(), interactionID, "expired")
		}
		return
	}

	if !q.allowMultiple {
		m.resolveLocked(q, Result{Success: true, ResponseType: ResponseOption, SelectedOptionIDs: []string{optionID}})
		m.mu.Unlock()
		_ = m.poster.EditMessage(q.threadID, q.messageID, renderAnswered(q, []string{optionID}), nil)
		return
	}

	if optionID == submitCustomID {
		selected := selectedIDs(q.selected)
		m.resolveLocked(q, Result{Success: true, ResponseType: ResponseOption, SelectedOptionIDs: selected})
		m.mu.Unlock()
		_ = m.poster.EditMessage(q.threadID, q.messageID, renderAnswered(q, selected), nil)
		return
	}

	q.selected[optionID] = !q.selected[optionID]
	m.mu.Unlock()
	_ = m.poster.EditMessage(q.threadID, q.messageID, renderQuestion(q), renderButtons(q))
}

func (q *question) threadIDOrEmpty() string {
	if q == nil {
		return ""
	}
	return q.threadID
}

// HasOpenQuestion reports whether threadID currently has an unresolved
// Open Question, for the Chat Gateway's incoming-message dispatch.
func (m *Manager) HasOpenQuestion(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.byThread[threadID]
	return ok && !q.resolved
}

// ResolveWithText resolves threadID's Open Question as a free-text reply
// (spec.md §4.6's text-resolution path). The text is never forwarded to
// the IDE when this path is taken.
func (m *Manager) ResolveWithText(threadID, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.byThread[threadID]
	if !ok || q.resolved {
		return false
	}
	m.resolveLocked(q, Result{Success: true, ResponseType: ResponseText, TextResponse: text})
	return true
}

func (m *Manager) timeout(messageID string) {
	m.mu.Lock()
	q, ok := m.byMessage[messageID]
	if !ok || q.resolved {
		m.mu.Unlock()
		return
	}
	m.resolveLocked(q, Result{Success: false, Error: "timed out"})
	m.mu.Unlock()
	_ = m.poster.EditMessage(q.threadID, q.messageID, renderDisabled(q), nil)
}

// resolveLocked clears the completion sink and timer atomically under m.mu,
// guaranteeing a question resolves exactly once (spec.md §4.6 ordering
// guarantee). Caller must hold m.mu.
func (m *Manager) resolveLocked(q *question, result Result) {
	if q.resolved {
		return
	}
	q.resolved = true
	if q.timer != nil {
		q.timer.Stop()
	}
	delete(m.byMessage, q.messageID)
	delete(m.byThread, q.threadID)
	q.sink <- result
	close(q.sink)
	log.Debug().Str("threadId", q.threadID).Bool("success", result.Success).Msg("open question resolved")
}

func selectedIDs(set map[string]bool) []string {
	var out []string
	for id, v := range set {
		if v {
			out = append(out, id)
		}
	}
	return out
}

func renderQuestion(q *question) string {
	var b strings.Builder
	b.WriteString(q.text)
	b.WriteString("\n\n")
	for _, opt := range q.options {
		marker := " "
		if q.selected[opt.ID] {
			marker = "x"
		}
		fmt.Fprintf(&b, "[%s] %s\n", marker, opt.Label)
	}
	b.WriteString("\n(a plain-text reply is also accepted)")
	return b.String()
}

func renderButtons(q *question) [][2]string {
	buttons := make([][2]string, 0, len(q.options)+1)
	for _, opt := range q.options {
		buttons = append(buttons, [2]string{opt.Label, questionPrefix + opt.ID})
	}
	if q.allowMultiple {
		buttons = append(buttons, [2]string{"Submit", questionPrefix + submitCustomID})
	}
	return buttons
}

func renderAnswered(q *question, selected []string) string {
	sel := make(map[string]bool, len(selected))
	for _, id := range selected {
		sel[id] = true
	}
	var b strings.Builder
	b.WriteString(q.text)
	b.WriteString("\n\n")
	for _, opt := range q.options {
		marker := "unselected"
		if sel[opt.ID] {
			marker = "selected"
		}
		fmt.Fprintf(&b, "[%s] %s\n", marker, opt.Label)
	}
	return b.String()
}

func renderDisabled(q *question) string {
	return q.text + "\n\n(question expired — timed out)"
}

// NewQuestionMessageID is a placeholder id generator for callers that need
// to correlate a posted prompt before the chat service's own message id is
// known.
func NewQuestionMessageID() string {
	return identity.GenerateQuestionID()
}
