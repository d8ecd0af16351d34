package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/models"
)

// fakeMsg records how a message was acknowledged. Methods not overridden
// panic through the nil embedded interface.
type fakeMsg struct {
	jetstream.Msg
	data     []byte
	acked    bool
	naked    bool
	nakDelay time.Duration
	termed   bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "cleanup.test" }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked, m.nakDelay = true, d
	return nil
}

func cleanupMsg(t *testing.T, task models.CleanupTask) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

func TestDispatch_AcksOnSuccess(t *testing.T) {
	task := models.CleanupTask{FolderID: uuid.New(), StorageKeys: []string{"uploads/a"}, Reason: "photo_delete"}
	msg := cleanupMsg(t, task)

	var got models.CleanupTask
	dispatch(context.Background(), msg, func(_ context.Context, v models.CleanupTask) error {
		got = v
		return nil
	}, time.Second)

	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	assert.Equal(t, task.FolderID, got.FolderID)
	assert.Equal(t, task.StorageKeys, got.StorageKeys)
}

func TestDispatch_NaksWithDelayOnFailure(t *testing.T) {
	msg := cleanupMsg(t, models.CleanupTask{StorageKeys: []string{"uploads/a"}})

	dispatch(context.Background(), msg, func(context.Context, models.CleanupTask) error {
		return errors.New("minio down")
	}, 30*time.Second)

	assert.False(t, msg.acked)
	assert.True(t, msg.naked)
	assert.Equal(t, 30*time.Second, msg.nakDelay)
}

func TestDispatch_PlainNakWithoutDelay(t *testing.T) {
	msg := &fakeMsg{data: []byte(`{"type":"photo_deleted"}`)}

	dispatch(context.Background(), msg, func(context.Context, models.FolderEvent) error {
		return errors.New("hub closed")
	}, 0)

	assert.True(t, msg.naked)
	assert.Zero(t, msg.nakDelay)
}

func TestDispatch_TerminatesMalformedPayload(t *testing.T) {
	msg := &fakeMsg{data: []byte("{not json")}
	called := false

	dispatch(context.Background(), msg, func(context.Context, models.CleanupTask) error {
		called = true
		return nil
	}, time.Second)

	assert.True(t, msg.termed)
	assert.False(t, called)
	assert.False(t, msg.acked)
}
