// Package session owns the per-student tutoring state: the conversation, the model handle and the exchange state
// machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cchalm/math-tutor/internal/ai"
	"github.com/cchalm/math-tutor/internal/conversation"
	"github.com/cchalm/math-tutor/internal/sheet"
)

// State is the exchange state of a session
type State int

const (
	// StateIdle means nothing is waiting to be sent. The last turn may still be an unanswered user turn if the
	// previous exchange failed.
	StateIdle State = iota
	// StateAwaitingResponse means the last turn is a user turn that the next Process call will send
	StateAwaitingResponse
	// StateResponseReady means the last turn is a model turn
	StateResponseReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateResponseReady:
		return "response_ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrBusy                = errors.New("an exchange is in progress")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNothingToRetry      = errors.New("there is no unanswered question to retry")
	ErrNoProblemYet        = errors.New("there is no answered question to base a similar problem on")
	ErrServerCredentialSet = errors.New("the server already provides an API key")
)

// Exchanger answers the newest user turn of a conversation
type Exchanger interface {
	Exchange(ctx context.Context, handle *ai.ModelHandle, conv *conversation.Conversation, onPartial func(string)) (conversation.Turn, error)
}

// ConnectFunc builds the model handle and exchanger for an API key
type ConnectFunc func(ctx context.Context, apiKey string) (*ai.ModelHandle, Exchanger, error)

// Session is one student's private tutoring state. All methods are safe for concurrent use; exchanges are serialized.
type Session struct {
	ID string

	connect            ConnectFunc
	similarInstruction string
	serverAPIKey       string

	mu        sync.Mutex
	conv      *conversation.Conversation
	state     State
	inFlight  bool
	epoch     int // Incremented by Reset so that results of an exchange started before it are discarded
	apiKey    string
	handle    *ai.ModelHandle
	exchanger Exchanger
	lastErr   error
	lastUsed  time.Time
}

func newSession(id string, opts Options) *Session {
	return &Session{
		ID:                 id,
		connect:            opts.Connect,
		similarInstruction: opts.SimilarInstruction,
		serverAPIKey:       strings.TrimSpace(opts.ServerAPIKey),
		conv:               conversation.New(),
		state:              StateIdle,
		lastUsed:           time.Now(),
	}
}

// SetCredential stores an API key typed into the page. It is only accepted when the server has no key of its own.
func (s *Session) SetCredential(apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.serverAPIKey != "" {
		return ErrServerCredentialSet
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ai.ErrNoCredential
	}
	if apiKey != s.apiKey {
		s.apiKey = apiKey
		s.handle = nil
		s.exchanger = nil
	}
	s.lastErr = nil
	return nil
}

// Submit appends a student question. The reply is produced by the next call to Process.
func (s *Session) Submit(text string, image *conversation.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.checkAcceptingInput(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" && image == nil {
		return ErrEmptyMessage
	}

	s.conv.Append(conversation.NewUserTurn(text, image))
	s.state = StateAwaitingResponse
	s.lastErr = nil
	return nil
}

// RequestSimilarProblem appends the canned practice-problem instruction as a user turn. It requires the last turn to
// be a model reply, so the instruction never follows an unanswered question.
func (s *Session) RequestSimilarProblem() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if err := s.checkAcceptingInput(); err != nil {
		return err
	}
	if s.conv.LastRole() != conversation.RoleModel {
		return ErrNoProblemYet
	}

	s.conv.Append(conversation.NewUserTurn(s.similarInstruction, nil))
	s.state = StateAwaitingResponse
	s.lastErr = nil
	return nil
}

// Retry re-arms an unanswered user turn left behind by a failed exchange
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if s.inFlight {
		return ErrBusy
	}
	if s.state != StateIdle || s.conv.LastRole() != conversation.RoleUser {
		return ErrNothingToRetry
	}
	if s.credential() == "" {
		return ai.ErrNoCredential
	}
	s.state = StateAwaitingResponse
	s.lastErr = nil
	return nil
}

// Reset clears the conversation. An exchange in flight keeps running but its result is dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.conv.Clear()
	s.state = StateIdle
	s.lastErr = nil
	s.epoch++
}

// Process runs the pending exchange, if any. It returns the new model turn, or nil when there was nothing to do, so
// calling it repeatedly without new input never repeats a request. onPartial receives the growing reply.
func (s *Session) Process(ctx context.Context, onPartial func(prefix string)) (*conversation.Turn, error) {
	s.mu.Lock()
	if s.state != StateAwaitingResponse || s.inFlight {
		s.mu.Unlock()
		return nil, nil
	}
	s.inFlight = true
	key, epoch := s.credential(), s.epoch
	handle, exchanger := s.handle, s.exchanger
	s.mu.Unlock()

	// Connecting may list models remotely, so it runs without the lock like the exchange itself
	if handle == nil || exchanger == nil {
		var err error
		handle, exchanger, err = s.connectWith(ctx, key)

		s.mu.Lock()
		if epoch != s.epoch {
			s.inFlight = false
			s.mu.Unlock()
			log.Printf("Session %s was reset while connecting, dropping pending exchange", s.ID)
			return nil, nil
		}
		if err != nil {
			s.inFlight = false
			s.fail(err)
			s.mu.Unlock()
			return nil, err
		}
		// A key replaced meanwhile gets its own handle on the next exchange
		if key == s.credential() {
			s.handle, s.exchanger = handle, exchanger
		}
		s.mu.Unlock()
	}

	// The exchange runs on a copy so that the session stays readable while the reply streams in
	s.mu.Lock()
	if epoch != s.epoch {
		s.inFlight = false
		s.mu.Unlock()
		return nil, nil
	}
	work := conversation.New()
	for _, turn := range s.conv.Turns() {
		work.Append(turn)
	}
	s.mu.Unlock()

	turn, err := exchanger.Exchange(ctx, handle, work, onPartial)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.touch()

	if epoch != s.epoch {
		log.Printf("Session %s was reset during an exchange, discarding reply", s.ID)
		return nil, nil
	}
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.conv.Append(turn)
	s.state = StateResponseReady
	s.lastErr = nil
	return &turn, nil
}

// View is a read-only snapshot of a session for rendering
type View struct {
	State             State
	InFlight          bool
	Turns             []conversation.Turn
	Error             string
	HasCredential     bool
	ServerCredential  bool
	ModelName         string
	Sheet             *sheet.Sheet // Set when the latest reply is a practice sheet
	CanRetry          bool
	CanRequestSimilar bool
}

// View returns a snapshot of the session
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:             s.state,
		InFlight:          s.inFlight,
		Turns:             s.conv.Turns(),
		Error:             ai.Describe(s.lastErr),
		HasCredential:     s.credential() != "",
		ServerCredential:  s.serverAPIKey != "",
		CanRetry:          !s.inFlight && s.state == StateIdle && s.conv.LastRole() == conversation.RoleUser,
		CanRequestSimilar: !s.inFlight && s.conv.LastRole() == conversation.RoleModel,
	}
	if s.handle != nil {
		v.ModelName = s.handle.Name
	}
	if sh, ok := s.sheet(); ok {
		v.Sheet = &sh
	}
	return v
}

// Sheet returns the practice sheet in the latest reply, if the latest turn is a reply that splits into exactly a
// problem and an answer
func (s *Session) Sheet() (sheet.Sheet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheet()
}

// Transcript renders the conversation as markdown
func (s *Session) Transcript() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ToMarkdown()
}

func (s *Session) sheet() (sheet.Sheet, bool) {
	last, ok := s.conv.Last()
	if !ok || last.Role != conversation.RoleModel {
		return sheet.Sheet{}, false
	}
	sh, err := sheet.Parse(last.Content.Text)
	if err != nil {
		return sheet.Sheet{}, false
	}
	return sh, true
}

// connectWith builds a model handle and exchanger for key. It must be called without mu held.
func (s *Session) connectWith(ctx context.Context, key string) (*ai.ModelHandle, Exchanger, error) {
	if key == "" {
		return nil, nil, ai.ErrNoCredential
	}
	if s.connect == nil {
		return nil, nil, &ai.ModelUnavailableError{Err: errors.New("no connector configured")}
	}
	return s.connect(ctx, key)
}

func (s *Session) checkAcceptingInput() error {
	if s.inFlight || s.state == StateAwaitingResponse {
		return ErrBusy
	}
	if s.credential() == "" {
		return ai.ErrNoCredential
	}
	return nil
}

// fail records an exchange failure. The unanswered user turn stays in place. Must be called with mu held.
func (s *Session) fail(err error) {
	log.Printf("Session %s exchange failed: %v", s.ID, err)
	s.lastErr = err
	s.state = StateIdle
}

func (s *Session) credential() string {
	if s.serverAPIKey != "" {
		return s.serverAPIKey
	}
	return s.apiKey
}

func (s *Session) touch() {
	s.lastUsed = time.Now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return time.Now()
	}
	return s.lastUsed
}
