package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/snapmatch/internal/guest"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/pkg/dto"
)

const selfieField = "selfie"

// SelfieMatcher finds the folder photos containing the selfie's face.
type SelfieMatcher interface {
	Match(ctx context.Context, folderID uuid.UUID, selfie io.Reader) ([]string, error)
}

// URLSigner produces time-limited download URLs.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// FolderGetter checks that a folder exists.
type FolderGetter interface {
	GetFolder(ctx context.Context, id uuid.UUID) (*models.Folder, error)
}

type GuestHandler struct {
	matcher   SelfieMatcher
	sessions  *guest.Registry
	folders   FolderGetter
	signer    URLSigner
	urlExpiry time.Duration
	maxBytes  int64
}

func NewGuestHandler(matcher SelfieMatcher, sessions *guest.Registry, folders FolderGetter, signer URLSigner, urlExpiry time.Duration, maxSelfieBytes int64) *GuestHandler {
	return &GuestHandler{
		matcher:   matcher,
		sessions:  sessions,
		folders:   folders,
		signer:    signer,
		urlExpiry: urlExpiry,
		maxBytes:  maxSelfieBytes,
	}
}

// Match runs a one-shot selfie match without a session.
func (h *GuestHandler) Match(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}

	file, err := h.openSelfie(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	keys, err := h.matcher.Match(c.Request.Context(), id, file)
	if err != nil {
		respondError(c, err)
		return
	}

	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, dto.MatchResponse{
		MatchedKeys: keys,
		Photos:      h.signAll(c.Request.Context(), keys),
	})
}

func (h *GuestHandler) StartSession(c *gin.Context) {
	id, ok := folderID(c)
	if !ok {
		return
	}
	if _, err := h.folders.GetFolder(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	flow := h.sessions.Start(id)
	c.JSON(http.StatusCreated, h.sessionResponse(c.Request.Context(), flow.View()))
}

func (h *GuestHandler) GetSession(c *gin.Context) {
	flow, ok := h.flow(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(c.Request.Context(), flow.View()))
}

func (h *GuestHandler) Capture(c *gin.Context) {
	flow, ok := h.flow(c)
	if !ok {
		return
	}

	file, err := h.openSelfie(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		respondError(c, fmt.Errorf("read selfie: %w", models.ErrValidation))
		return
	}
	if int64(len(image)) > h.maxBytes {
		respondError(c, fmt.Errorf("selfie exceeds %d bytes: %w", h.maxBytes, models.ErrValidation))
		return
	}

	if err := flow.Capture(image); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(c.Request.Context(), flow.View()))
}

func (h *GuestHandler) Retake(c *gin.Context) {
	h.transition(c, (*guest.Flow).Retake)
}

func (h *GuestHandler) Restart(c *gin.Context) {
	h.transition(c, (*guest.Flow).Restart)
}

// Confirm submits the captured selfie. A matching failure still answers 200
// with the session in its error state and a message for the guest; only an
// invalid transition is reported as an HTTP error.
func (h *GuestHandler) Confirm(c *gin.Context) {
	flow, ok := h.flow(c)
	if !ok {
		return
	}

	if _, err := flow.Confirm(c.Request.Context()); err != nil {
		if errors.Is(err, guest.ErrInvalidTransition) {
			respondError(c, err)
			return
		}
		slog.Info("guest match failed", "session_id", flow.ID(), "error", err)
	}
	c.JSON(http.StatusOK, h.sessionResponse(c.Request.Context(), flow.View()))
}

func (h *GuestHandler) transition(c *gin.Context, step func(*guest.Flow) error) {
	flow, ok := h.flow(c)
	if !ok {
		return
	}
	if err := step(flow); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessionResponse(c.Request.Context(), flow.View()))
}

func (h *GuestHandler) flow(c *gin.Context) (*guest.Flow, bool) {
	id, err := uuid.Parse(c.Param("sid"))
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid session id %q", c.Param("sid")))
		return nil, false
	}
	flow, err := h.sessions.Get(id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return flow, true
}

// openSelfie accepts either a multipart "selfie" file or a raw image body.
func (h *GuestHandler) openSelfie(c *gin.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(selfieField)
		if err != nil {
			return nil, fmt.Errorf("multipart field %q is required: %w", selfieField, models.ErrValidation)
		}
		if fh.Size > h.maxBytes {
			return nil, fmt.Errorf("selfie exceeds %d bytes: %w", h.maxBytes, models.ErrValidation)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open selfie: %w", models.ErrValidation)
		}
		return f, nil
	}
	if !strings.HasPrefix(c.ContentType(), "image/") {
		return nil, fmt.Errorf("expected multipart form or image body: %w", models.ErrValidation)
	}
	return http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1), nil
}

func (h *GuestHandler) sessionResponse(ctx context.Context, v guest.View) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:          v.ID,
		FolderID:    v.FolderID,
		State:       string(v.State),
		Message:     v.Message,
		MatchedKeys: v.MatchedKeys,
		UpdatedAt:   v.UpdatedAt.Format(time.RFC3339),
	}
	if v.State == guest.StateMatched {
		if resp.MatchedKeys == nil {
			resp.MatchedKeys = []string{}
		}
		resp.Photos = h.signAll(ctx, v.MatchedKeys)
	}
	return resp
}

// signAll presigns a download URL per key. A key that cannot be signed is
// returned without a URL.
func (h *GuestHandler) signAll(ctx context.Context, keys []string) []dto.MatchedPhoto {
	photos := make([]dto.MatchedPhoto, 0, len(keys))
	for _, key := range keys {
		url, err := h.signer.PresignGet(ctx, key, h.urlExpiry)
		if err != nil {
			slog.Warn("presign download", "key", key, "error", err)
		}
		photos = append(photos, dto.MatchedPhoto{StorageKey: key, URL: url})
	}
	return photos
}
