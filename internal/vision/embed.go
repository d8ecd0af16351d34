package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder computes ArcFace embeddings (w600k_r50) for aligned face crops.
// Not safe for concurrent use.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	dim     int
}

const embedInputSize = 112

func NewEmbedder(modelPath string, dim int, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{dim: dim}

	var err error
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embedInputSize, embedInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{e.input}, []ort.Value{e.output},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Embed returns the L2-normalised embedding of a CHW 112x112 face crop.
func (e *Embedder) Embed(chw []float32) ([]float32, error) {
	copy(e.input.GetData(), chw)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	out := make([]float32, e.dim)
	copy(out, e.output.GetData())
	l2Normalize(out)
	return out, nil
}

func (e *Embedder) Dim() int { return e.dim }

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}
