package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil)
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_FiltersByFolder(t *testing.T) {
	hub, url := startHub(t)
	watched, other := uuid.New(), uuid.New()

	filtered := dial(t, url+"?folder_id="+watched.String())
	all := dial(t, url)
	waitClients(t, hub, 2)

	ctx := context.Background()
	require.NoError(t, hub.BroadcastEvent(ctx, models.FolderEvent{Type: models.EventPhotoDeleted, FolderID: other, Timestamp: time.Now()}))
	require.NoError(t, hub.BroadcastEvent(ctx, models.FolderEvent{Type: models.EventPhotosRegistered, FolderID: watched, PhotoCount: 3, Timestamp: time.Now()}))

	var got dto.FolderEventMessage
	require.NoError(t, filtered.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := filtered.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, watched, got.FolderID)
	assert.Equal(t, "photos_registered", got.Type)
	assert.Equal(t, 3, got.PhotoCount)

	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []uuid.UUID{other, watched} {
		_, data, err := all.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, want, got.FolderID)
	}
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker(nil)
	assert.True(t, open(req("https://anything.example")))

	wildcard := originChecker([]string{"*"})
	assert.True(t, wildcard(req("https://anything.example")))

	strict := originChecker([]string{"https://app.example"})
	assert.True(t, strict(req("https://app.example")))
	assert.True(t, strict(req("")))
	assert.False(t, strict(req("https://evil.example")))
}
