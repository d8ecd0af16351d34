package guest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/models"
)

type matchFunc func(ctx context.Context, folderID uuid.UUID, selfie io.Reader) ([]string, error)

func (f matchFunc) Match(ctx context.Context, folderID uuid.UUID, selfie io.Reader) ([]string, error) {
	return f(ctx, folderID, selfie)
}

func returning(keys []string, err error) Matcher {
	return matchFunc(func(context.Context, uuid.UUID, io.Reader) ([]string, error) { return keys, err })
}

func TestFlow_HappyPath(t *testing.T) {
	folderID := uuid.New()
	var got []byte
	m := matchFunc(func(_ context.Context, id uuid.UUID, r io.Reader) ([]string, error) {
		assert.Equal(t, folderID, id)
		got, _ = io.ReadAll(r)
		return []string{"A"}, nil
	})

	f := NewFlow(folderID, m)
	assert.Equal(t, StateAwaitingCapture, f.View().State)

	require.NoError(t, f.Capture([]byte("selfie")))
	assert.Equal(t, StateCaptured, f.View().State)

	keys, err := f.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, keys)
	assert.Equal(t, "selfie", string(got))

	v := f.View()
	assert.Equal(t, StateMatched, v.State)
	assert.Equal(t, []string{"A"}, v.MatchedKeys)
}

func TestFlow_EmptyMatchIsStillMatched(t *testing.T) {
	f := NewFlow(uuid.New(), returning([]string{}, nil))
	require.NoError(t, f.Capture([]byte("x")))

	keys, err := f.Confirm(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, StateMatched, f.View().State)
}

func TestFlow_Retake(t *testing.T) {
	var got string
	m := matchFunc(func(_ context.Context, _ uuid.UUID, r io.Reader) ([]string, error) {
		b, _ := io.ReadAll(r)
		got = string(b)
		return nil, nil
	})
	f := NewFlow(uuid.New(), m)

	require.NoError(t, f.Capture([]byte("blurry")))
	require.NoError(t, f.Retake())
	assert.Equal(t, StateAwaitingCapture, f.View().State)

	require.NoError(t, f.Capture([]byte("sharp")))
	_, err := f.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sharp", got)
}

func TestFlow_MatchFailureMovesToError(t *testing.T) {
	f := NewFlow(uuid.New(), returning(nil, models.ErrNoFaceDetected))
	require.NoError(t, f.Capture([]byte("x")))

	_, err := f.Confirm(context.Background())
	assert.True(t, errors.Is(err, models.ErrNoFaceDetected))

	v := f.View()
	assert.Equal(t, StateError, v.State)
	assert.Contains(t, v.Message, "couldn't find a face")

	require.NoError(t, f.Restart())
	assert.Equal(t, StateAwaitingCapture, f.View().State)
	assert.Empty(t, f.View().Message)
}

func TestFlow_InvalidTransitions(t *testing.T) {
	f := NewFlow(uuid.New(), returning(nil, nil))

	assert.True(t, errors.Is(f.Retake(), ErrInvalidTransition))
	_, err := f.Confirm(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(f.Restart(), ErrInvalidTransition))

	require.NoError(t, f.Capture([]byte("x")))
	assert.True(t, errors.Is(f.Capture([]byte("y")), ErrInvalidTransition))
	assert.True(t, errors.Is(f.Restart(), ErrInvalidTransition))
	assert.Equal(t, StateCaptured, f.View().State)

	_, err = f.Confirm(context.Background())
	require.NoError(t, err)
	assert.True(t, errors.Is(f.Capture([]byte("z")), ErrInvalidTransition))
	assert.True(t, errors.Is(f.Retake(), ErrInvalidTransition))
}

func TestFlow_CaptureRejectsEmptyImage(t *testing.T) {
	f := NewFlow(uuid.New(), returning(nil, nil))
	assert.True(t, errors.Is(f.Capture(nil), models.ErrValidation))
	assert.Equal(t, StateAwaitingCapture, f.View().State)
}

func TestFlow_FailFromAnyState(t *testing.T) {
	for _, setup := range []func(f *Flow){
		func(f *Flow) {},
		func(f *Flow) { _ = f.Capture([]byte("x")) },
		func(f *Flow) { _ = f.Capture([]byte("x")); _, _ = f.Confirm(context.Background()) },
	} {
		f := NewFlow(uuid.New(), returning([]string{"A"}, nil))
		setup(f)
		f.Fail(fmt.Errorf("network: %w", models.ErrExternalService))
		assert.Equal(t, StateError, f.View().State)
		assert.NotEmpty(t, f.View().Message)
	}
}

func TestFlow_FailDuringConfirm(t *testing.T) {
	var f *Flow
	m := matchFunc(func(context.Context, uuid.UUID, io.Reader) ([]string, error) {
		f.Fail(errors.New("client went away"))
		return []string{"A"}, nil
	})
	f = NewFlow(uuid.New(), m)
	require.NoError(t, f.Capture([]byte("x")))

	_, err := f.Confirm(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StateError, f.View().State)
}

func TestRegistry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(returning(nil, nil), 10*time.Minute)
	r.now = func() time.Time { return now }

	f := r.Start(uuid.New())
	got, err := r.Get(f.ID())
	require.NoError(t, err)
	assert.Same(t, f, got)

	_, err = r.Get(uuid.New())
	assert.True(t, errors.Is(err, models.ErrNotFound))

	now = now.Add(11 * time.Minute)
	_, err = r.Get(f.ID())
	assert.True(t, errors.Is(err, models.ErrNotFound), "idle session expires")

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ActivityExtendsSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(returning(nil, nil), 10*time.Minute)
	r.now = func() time.Time { return now }

	f := r.Start(uuid.New())
	now = now.Add(8 * time.Minute)
	require.NoError(t, f.Capture([]byte("x")))
	now = now.Add(8 * time.Minute)

	_, err := r.Get(f.ID())
	assert.NoError(t, err)
	assert.Equal(t, 0, r.Sweep())
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(models.ErrUnreadableImage), "couldn't be read")
	assert.Contains(t, UserMessage(fmt.Errorf("x: %w", models.ErrNotFound)), "no longer available")
	assert.Contains(t, UserMessage(errors.New("boom")), "Something went wrong")
}
