package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector, in source image pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Area returns the bounding box area in pixels.
func (d Detection) Area() float32 {
	return (d.BBox[2] - d.BBox[0]) * (d.BBox[3] - d.BBox[1])
}

// Detector runs RetinaFace (det_10g) through ONNX Runtime. It is not safe for
// concurrent use: Run writes into tensors owned by the session.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	boxes     []*ort.Tensor[float32]
	others    []*ort.Tensor[float32]
	threshold float32
	inputW    int
	inputH    int
}

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detOutputsPerSet = 3
)

var detStrides = [detOutputsPerSet]int{8, 16, 32}

// Output tensor names of det_10g, grouped per stride 8, 16, 32.
var (
	detScoreNames    = [detOutputsPerSet]string{"448", "471", "494"}
	detBoxNames      = [detOutputsPerSet]string{"451", "474", "497"}
	detLandmarkNames = [detOutputsPerSet]string{"454", "477", "500"}
)

// NewDetector loads the RetinaFace model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: detInputSize, inputH: detInputSize}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	var names []string
	var values []ort.Value
	add := func(dst *[]*ort.Tensor[float32], name string, rows, cols int64) error {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, cols))
		if err != nil {
			return fmt.Errorf("create output tensor %s: %w", name, err)
		}
		*dst = append(*dst, t)
		names = append(names, name)
		values = append(values, t)
		return nil
	}

	// Landmarks are produced by the model but unused; the session still needs
	// somewhere to write them.
	for i, stride := range detStrides {
		cells := int64(detInputSize/stride) * int64(detInputSize/stride) * anchorsPerCell
		if err := add(&d.scores, detScoreNames[i], cells, 1); err != nil {
			d.Close()
			return nil, err
		}
	}
	for i, stride := range detStrides {
		cells := int64(detInputSize/stride) * int64(detInputSize/stride) * anchorsPerCell
		if err := add(&d.boxes, detBoxNames[i], cells, 4); err != nil {
			d.Close()
			return nil, err
		}
	}
	for i, stride := range detStrides {
		cells := int64(detInputSize/stride) * int64(detInputSize/stride) * anchorsPerCell
		if err := add(&d.others, detLandmarkNames[i], cells, 10); err != nil {
			d.Close()
			return nil, err
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs detection on CHW input of the detector's input size and returns
// faces in origW x origH coordinates, highest confidence first.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	var found []Detection
	for i, stride := range detStrides {
		found = decodeStride(found, d.scores[i].GetData(), d.boxes[i].GetData(),
			stride, d.inputW, d.inputH, d.threshold, scaleW, scaleH, origW, origH)
	}
	return nms(found, nmsIoUThreshold), nil
}

// decodeStride turns one stride's anchor distances into boxes.
func decodeStride(dst []Detection, scores, boxes []float32, stride, inW, inH int,
	threshold, scaleW, scaleH float32, origW, origH int) []Detection {

	st := float32(stride)
	cols, rows := inW/stride, inH/stride
	idx := 0
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			for a := 0; a < anchorsPerCell; a++ {
				if score := scores[idx]; score >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					b := boxes[idx*4 : idx*4+4]
					dst = append(dst, Detection{
						BBox: [4]float32{
							clampF((ax-b[0]*st)*scaleW, 0, float32(origW)),
							clampF((ay-b[1]*st)*scaleH, 0, float32(origH)),
							clampF((ax+b[2]*st)*scaleW, 0, float32(origW)),
							clampF((ay+b[3]*st)*scaleH, 0, float32(origH)),
						},
						Confidence: score,
					})
				}
				idx++
			}
		}
	}
	return dst
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, set := range [][]*ort.Tensor[float32]{d.scores, d.boxes, d.others} {
		for _, t := range set {
			t.Destroy()
		}
	}
}

// nms keeps the most confident box of every overlapping group.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
