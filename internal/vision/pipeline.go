package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
	_ "golang.org/x/image/webp"

	"github.com/your-org/snapmatch/internal/config"
	"github.com/your-org/snapmatch/internal/models"
	"github.com/your-org/snapmatch/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// Pipeline is the in-process face extractor: detect, crop, embed.
// Calls are serialised because both ONNX sessions own their tensors.
type Pipeline struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewPipeline loads the detection and embedding models from cfg.ModelsDir.
// The ONNX Runtime environment must already be initialised.
func NewPipeline(cfg config.ExtractionConfig) (*Pipeline, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.Dimension)
	emb, err := NewEmbedder(embPath, cfg.Dimension, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("vision pipeline ready")
	return &Pipeline{detector: det, embedder: emb}, nil
}

// Extract returns one embedding per detected face, highest detection
// confidence first.
func (p *Pipeline) Extract(ctx context.Context, data []byte) ([]models.FaceVector, error) {
	start := time.Now()
	defer func() {
		observability.ExtractionDuration.WithLabelValues("onnx").Observe(time.Since(start).Seconds())
	}()

	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	detInput := preprocessForDetection(img, p.detector.inputW, p.detector.inputH)

	p.mu.Lock()
	defer p.mu.Unlock()

	dets, err := p.detector.Detect(detInput, b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w: %v", models.ErrExternalService, err)
	}

	out := make([]models.FaceVector, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}
		vec, err := p.embedder.Embed(preprocessForEmbedding(crop))
		if err != nil {
			return nil, fmt.Errorf("embed: %w: %v", models.ErrExternalService, err)
		}
		out = append(out, models.FaceVector(vec))
	}
	return out, nil
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detector != nil {
		p.detector.Close()
	}
	if p.embedder != nil {
		p.embedder.Close()
	}
	return nil
}

// InitRuntime points onnxruntime_go at the shared library and initialises the
// process-wide environment. The returned func tears it down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// decodeImage decodes JPEG, PNG, GIF or WebP bytes and applies EXIF
// orientation so phone selfies are upright.
func decodeImage(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w: %v", models.ErrUnreadableImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode image: %w: empty image", models.ErrUnreadableImage)
	}
	return img, nil
}

// --- preprocessing ---

func preprocessForDetection(img image.Image, w, h int) []float32 {
	return imageToCHW(imaging.Resize(img, w, h, imaging.Linear), [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
}

func preprocessForEmbedding(face image.Image) []float32 {
	resized := imaging.Resize(face, embedInputSize, embedInputSize, imaging.Linear)
	return imageToCHW(resized, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToCHW lays an NRGBA image out as planar float32, (pixel - mean) / std.
func imageToCHW(img *image.NRGBA, mean, std [3]float32) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			out[i] = (float32(row[x*4]) - mean[0]) / std[0]
			out[plane+i] = (float32(row[x*4+1]) - mean[1]) / std[1]
			out[2*plane+i] = (float32(row[x*4+2]) - mean[2]) / std[2]
		}
	}
	return out
}

// cropFace cuts the box plus 10% padding on each side. Nil when the box is
// empty after clamping.
func cropFace(img image.Image, bbox [4]float32) *image.NRGBA {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}
	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)
	return imaging.Crop(img, r)
}
