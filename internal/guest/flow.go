// Package guest drives the selfie verification flow a guest walks through
// before seeing their photos.
package guest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/models"
)

type State string

const (
	StateAwaitingCapture State = "awaiting_capture"
	StateCaptured        State = "captured"
	StateConfirmed       State = "confirmed"
	StateMatched         State = "matched"
	StateError           State = "error"
)

// ErrInvalidTransition is returned when an action is not allowed from the
// flow's current state. The flow is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// Matcher runs a selfie against a folder.
type Matcher interface {
	Match(ctx context.Context, folderID uuid.UUID, selfie io.Reader) ([]string, error)
}

// View is a read-only copy of a flow.
type View struct {
	ID          uuid.UUID `json:"id"`
	FolderID    uuid.UUID `json:"folder_id"`
	State       State     `json:"state"`
	MatchedKeys []string  `json:"matched_keys,omitempty"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Flow is one guest's verification session:
//
//	awaiting_capture -> captured -> confirmed -> matched
//	captured -> awaiting_capture (retake)
//	any -> error; matched, error -> awaiting_capture (restart)
type Flow struct {
	mu        sync.Mutex
	id        uuid.UUID
	folderID  uuid.UUID
	state     State
	selfie    []byte
	matches   []string
	message   string
	updatedAt time.Time

	matcher Matcher
	now     func() time.Time
}

func NewFlow(folderID uuid.UUID, matcher Matcher) *Flow {
	return newFlow(folderID, matcher, time.Now)
}

func newFlow(folderID uuid.UUID, matcher Matcher, now func() time.Time) *Flow {
	return &Flow{
		id:        uuid.New(),
		folderID:  folderID,
		state:     StateAwaitingCapture,
		matcher:   matcher,
		now:       now,
		updatedAt: now(),
	}
}

func (f *Flow) ID() uuid.UUID { return f.id }

// Capture stores the selfie and moves to captured.
func (f *Flow) Capture(image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty selfie: %w", models.ErrValidation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.expect("capture", StateAwaitingCapture); err != nil {
		return err
	}
	f.selfie = append([]byte(nil), image...)
	f.set(StateCaptured)
	return nil
}

// Retake discards the captured selfie.
func (f *Flow) Retake() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.expect("retake", StateCaptured); err != nil {
		return err
	}
	f.selfie = nil
	f.set(StateAwaitingCapture)
	return nil
}

// Confirm submits the captured selfie to the matcher. On success the flow is
// matched, with a possibly empty key set; on failure it moves to error and
// the matcher's error is returned.
func (f *Flow) Confirm(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	if err := f.expect("confirm", StateCaptured); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	selfie := f.selfie
	f.selfie = nil
	f.set(StateConfirmed)
	f.mu.Unlock()

	keys, err := f.matcher.Match(ctx, f.folderID, bytes.NewReader(selfie))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConfirmed {
		// Failed or restarted while the matcher ran.
		return nil, fmt.Errorf("flow moved to %s during match: %w", f.state, ErrInvalidTransition)
	}
	if err != nil {
		f.fail(err)
		return nil, err
	}
	f.matches = keys
	f.set(StateMatched)
	return keys, nil
}

// Fail moves the flow to error from any state.
func (f *Flow) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail(err)
}

// Restart returns a finished flow to awaiting_capture.
func (f *Flow) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.expect("restart", StateMatched, StateError); err != nil {
		return err
	}
	f.selfie = nil
	f.matches = nil
	f.message = ""
	f.set(StateAwaitingCapture)
	return nil
}

func (f *Flow) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return View{
		ID:          f.id,
		FolderID:    f.folderID,
		State:       f.state,
		MatchedKeys: append([]string(nil), f.matches...),
		Message:     f.message,
		UpdatedAt:   f.updatedAt,
	}
}

func (f *Flow) lastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt
}

func (f *Flow) expect(action string, allowed ...State) error {
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return fmt.Errorf("cannot %s from %s: %w", action, f.state, ErrInvalidTransition)
}

func (f *Flow) fail(err error) {
	f.selfie = nil
	f.matches = nil
	f.message = UserMessage(err)
	f.set(StateError)
}

func (f *Flow) set(s State) {
	f.state = s
	f.updatedAt = f.now()
}

// UserMessage turns a matching failure into text a guest can act on.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrNoFaceDetected):
		return "We couldn't find a face in your selfie. Please retake it facing the camera in good light."
	case errors.Is(err, models.ErrUnreadableImage):
		return "That image couldn't be read. Please take the selfie again."
	case errors.Is(err, models.ErrNotFound):
		return "This event gallery is no longer available."
	case errors.Is(err, models.ErrValidation):
		return "The selfie couldn't be accepted. Please try again."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Matching took too long. Please try again."
	default:
		return "Something went wrong while finding your photos. Please try again."
	}
}
