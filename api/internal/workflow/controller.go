// Package workflow drives one chat's grading run: pick a file, extract the
// answer sheet, let the operator fix individual answers, submit for grading.
// It is presentation-agnostic; the bot layer renders whatever State() says.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"grader-bot/api/internal/gateway"
)

type State int

const (
	StateLoggedOut State = iota
	StateIdle
	StateFileSelected
	StateExtracting
	StateReviewing
	StateGrading
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateIdle:
		return "idle"
	case StateFileSelected:
		return "file_selected"
	case StateExtracting:
		return "extracting"
	case StateReviewing:
		return "reviewing"
	case StateGrading:
		return "grading"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy means an extract or grade call is already outstanding. The
	// duplicate request is dropped, not queued.
	ErrBusy = errors.New("a call is already in progress")

	ErrBadState = errors.New("operation not allowed in this state")
)

// API is the slice of the gateway the controller needs.
type API interface {
	Extract(ctx context.Context, token string, doc *gateway.Document) (*gateway.ExtractedData, error)
	Grade(ctx context.Context, token string, extracted *gateway.ExtractedData, corrections map[string]string) (*gateway.GradingResult, error)
}

// Controller is the per-chat state machine. One network call runs at a time
// (busy flag); gen is bumped by every teardown so a call that settles after a
// reset or forced logout is discarded instead of stomping newer state.
type Controller struct {
	api   API
	token func() string

	mu          sync.Mutex
	state       State
	busy        bool
	gen         uint64
	doc         *gateway.Document
	extraction  *gateway.ExtractedData
	corrections map[string]string
	result      *gateway.GradingResult
	errMsg      string
}

func New(api API, token func() string) *Controller {
	return &Controller{api: api, token: token, state: StateLoggedOut}
}

// Login moves out of LoggedOut. The caller has already established a session;
// the controller holds the invariant that it never leaves LoggedOut without
// one.
func (c *Controller) Login() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoggedOut {
		return
	}
	c.state = StateIdle
	c.errMsg = ""
}

// SelectDocument replaces the working file wholesale and drops any extraction
// or result from a previous run.
func (c *Controller) SelectDocument(doc *gateway.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggedOut {
		return ErrBadState
	}
	if c.busy {
		return ErrBusy
	}
	c.doc = doc
	c.extraction = nil
	c.corrections = nil
	c.result = nil
	c.errMsg = ""
	c.state = StateFileSelected
	return nil
}

// Extract sends the selected file to the backend. On failure the file stays
// selected so the operator can retry without re-sending it.
func (c *Controller) Extract(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateFileSelected || c.doc == nil {
		c.mu.Unlock()
		return ErrBadState
	}
	c.busy = true
	c.state = StateExtracting
	c.errMsg = ""
	gen := c.gen
	doc := c.doc
	c.mu.Unlock()

	data, err := c.api.Extract(ctx, c.token(), doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// State moved on while the call was in flight. Drop the outcome.
		return nil
	}
	c.busy = false
	if err != nil {
		c.state = StateFileSelected
		c.errMsg = gateway.UserMessage(err)
		return err
	}
	c.extraction = data
	c.corrections = make(map[string]string, len(data.Answers))
	for k, v := range data.Answers {
		c.corrections[k] = v
	}
	c.state = StateReviewing
	return nil
}

// EditAnswer changes one entry of the correction map. The extraction itself
// is never touched. Value validity is the presentation layer's business.
func (c *Controller) EditAnswer(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReviewing {
		return ErrBadState
	}
	if _, ok := c.corrections[key]; !ok {
		return fmt.Errorf("unknown question key %q", key)
	}
	c.corrections[key] = value
	return nil
}

// Submit sends the original extraction plus the whole correction map. The
// backend keeps no state between extract and grade, so both travel complete.
// On failure the review survives and the operator can resubmit.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateReviewing || c.extraction == nil {
		c.mu.Unlock()
		return ErrBadState
	}
	c.busy = true
	c.state = StateGrading
	c.errMsg = ""
	gen := c.gen
	extraction := c.extraction
	corrections := make(map[string]string, len(c.corrections))
	for k, v := range c.corrections {
		corrections[k] = v
	}
	c.mu.Unlock()

	res, err := c.api.Grade(ctx, c.token(), extraction, corrections)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.busy = false
	if err != nil {
		c.state = StateReviewing
		c.errMsg = gateway.UserMessage(err)
		return err
	}
	c.result = res
	c.state = StateCompleted
	return nil
}

// Reset tears the run down and returns to Idle. Idempotent. An in-flight call
// is not cancelled; its outcome is discarded when it settles.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggedOut {
		return
	}
	c.teardownLocked()
	c.state = StateIdle
}

// Logout performs the Reset teardown and drops to LoggedOut, quietly.
func (c *Controller) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.state = StateLoggedOut
}

// ForceLogout is the session-expiry edge: any state to LoggedOut, with the
// given message shown as the error overlay.
func (c *Controller) ForceLogout(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.state = StateLoggedOut
	c.errMsg = msg
}

func (c *Controller) teardownLocked() {
	c.gen++
	c.busy = false
	c.doc = nil
	c.extraction = nil
	c.corrections = nil
	c.result = nil
	c.errMsg = ""
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the current error overlay, "" when clear.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) Document() *gateway.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

func (c *Controller) Extraction() *gateway.ExtractedData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extraction
}

// Corrections returns a copy of the current correction map.
func (c *Controller) Corrections() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.corrections))
	for k, v := range c.corrections {
		out[k] = v
	}
	return out
}

func (c *Controller) Result() *gateway.GradingResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// OrderedKeys returns the question keys in display order.
func (c *Controller) OrderedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extraction == nil {
		return nil
	}
	keys := make([]string, 0, len(c.extraction.Answers))
	for k := range c.extraction.Answers {
		keys = append(keys, k)
	}
	sortQuestionKeys(keys)
	return keys
}
