package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

// FaceDetection is a single face returned by the face service.
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse is the body of POST /embed/face.
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// HTTPClient calls an external face service over multipart HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Extract(ctx context.Context, image []byte) ([]models.FaceVector, error) {
	start := time.Now()
	defer func() {
		observability.ExtractionDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	}()

	resp, err := c.postImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, err
	}

	faces := resp.Faces
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].FaceIndex < faces[j].FaceIndex })

	out := make([]models.FaceVector, 0, len(faces))
	for _, f := range faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d has empty embedding: %w", f.FaceIndex, models.ErrExternalService)
		}
		out = append(out, models.FaceVector(f.Embedding))
	}
	return out, nil
}

func (c *HTTPClient) postImage(ctx context.Context, path string, image []byte) (*FaceResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("face service request: %w: %v", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read face service response: %w: %v", models.ErrExternalService, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("face service rejected image (status %d): %w", resp.StatusCode, models.ErrUnreadableImage)
	default:
		return nil, fmt.Errorf("face service error (status %d): %s: %w", resp.StatusCode, truncate(body, 200), models.ErrExternalService)
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("parse face service response: %w: %v", models.ErrExternalService, err)
	}
	return &faceResp, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
