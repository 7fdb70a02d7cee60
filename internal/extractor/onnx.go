package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/invigil-ai/invigil/internal/signal"
)

// Model input geometry and output capacities. The exported graphs use
// fixed shapes so the tensors can be allocated once per session.
const (
	detInputSize  = 320
	maxDetections = 100
	detScoreFloor = 0.5

	eyeInputSize  = 96
	maxEyeRegions = 10
	eyeScoreFloor = 0.4

	embedInputSize = 112
)

// Onnx runs the face detector, face embedder, and eye locator graphs via
// onnxruntime. Object heuristics and quality metrics are computed from
// raw pixels; the graphs only cover the learned detectors.
type Onnx struct {
	det       *ort.AdvancedSession
	detInput  *ort.Tensor[float32] // [1, 3, 320, 320]
	detBoxes  *ort.Tensor[float32] // [1, 100, 4] normalized x1,y1,x2,y2
	detScores *ort.Tensor[float32] // [1, 100]

	emb       *ort.AdvancedSession
	embInput  *ort.Tensor[float32] // [1, 3, 112, 112]
	embOutput *ort.Tensor[float32] // [1, 128]

	eye       *ort.AdvancedSession
	eyeInput  *ort.Tensor[float32] // [1, 3, 96, 96]
	eyeBoxes  *ort.Tensor[float32] // [1, 10, 4]
	eyeScores *ort.Tensor[float32] // [1, 10]

	mu sync.Mutex
}

// LoadOnnx initializes the onnxruntime environment and the three graph
// sessions from modelsDir (face_detector.onnx, face_embedder.onnx,
// eye_detector.onnx).
func LoadOnnx(modelsDir, sharedLibPath string) (*Onnx, error) {
	if modelsDir == "" {
		return nil, errors.New("extractor: models dir is empty")
	}

	libPath := sharedLibPath
	if libPath == "" {
		libPath = resolveSharedLibraryPath(modelsDir)
	}
	if libPath == "" {
		return nil, errors.New("extractor: onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("extractor: initialize onnxruntime: %w", err)
		}
	}

	x := &Onnx{}

	var err error
	x.detInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate detector input: %w", err)
	}
	x.detBoxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, maxDetections, 4))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate detector boxes: %w", err)
	}
	x.detScores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, maxDetections))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate detector scores: %w", err)
	}
	x.det, err = ort.NewAdvancedSession(
		filepath.Join(modelsDir, "face_detector.onnx"),
		[]string{"image"},
		[]string{"boxes", "scores"},
		[]ort.Value{x.detInput},
		[]ort.Value{x.detBoxes, x.detScores},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("extractor: create face detector session: %w", err)
	}

	x.embInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embedInputSize, embedInputSize))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate embedder input: %w", err)
	}
	x.embOutput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, signal.DescriptorLen))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate embedder output: %w", err)
	}
	x.emb, err = ort.NewAdvancedSession(
		filepath.Join(modelsDir, "face_embedder.onnx"),
		[]string{"face"},
		[]string{"embedding"},
		[]ort.Value{x.embInput},
		[]ort.Value{x.embOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("extractor: create embedder session: %w", err)
	}

	x.eyeInput, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, eyeInputSize, eyeInputSize))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate eye input: %w", err)
	}
	x.eyeBoxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, maxEyeRegions, 4))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate eye boxes: %w", err)
	}
	x.eyeScores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, maxEyeRegions))
	if err != nil {
		return nil, fmt.Errorf("extractor: allocate eye scores: %w", err)
	}
	x.eye, err = ort.NewAdvancedSession(
		filepath.Join(modelsDir, "eye_detector.onnx"),
		[]string{"region"},
		[]string{"boxes", "scores"},
		[]ort.Value{x.eyeInput},
		[]ort.Value{x.eyeBoxes, x.eyeScores},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("extractor: create eye detector session: %w", err)
	}

	return x, nil
}

// ExtractFaces detects faces and embeds each one. Output order is stable:
// left to right by bounding box.
func (x *Onnx) ExtractFaces(ctx context.Context, img image.Image) ([]signal.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	x.mu.Lock()
	defer x.mu.Unlock()

	fillTensorNCHW(x.detInput.GetData(), img, b, detInputSize)
	if err := x.det.Run(); err != nil {
		return nil, fmt.Errorf("extractor: face detector run: %w", err)
	}

	boxes := decodeBoxes(x.detBoxes.GetData(), x.detScores.GetData(), maxDetections, detScoreFloor, w, h)
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].X < boxes[j].X })

	faces := make([]signal.Face, 0, len(boxes))
	for _, box := range boxes {
		fillTensorNCHW(x.embInput.GetData(), img, cropBounds(b, box), embedInputSize)
		if err := x.emb.Run(); err != nil {
			return nil, fmt.Errorf("extractor: embedder run: %w", err)
		}
		var d signal.Descriptor
		copy(d[:], x.embOutput.GetData())
		faces = append(faces, signal.Face{Box: box, Descriptor: d})
	}
	return faces, nil
}

// DetectEyes locates eye regions inside the face region, returned in
// image coordinates.
func (x *Onnx) DetectEyes(ctx context.Context, img image.Image, region signal.Box) ([]signal.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	fillTensorNCHW(x.eyeInput.GetData(), img, cropBounds(img.Bounds(), region), eyeInputSize)
	if err := x.eye.Run(); err != nil {
		return nil, fmt.Errorf("extractor: eye detector run: %w", err)
	}

	local := decodeBoxes(x.eyeBoxes.GetData(), x.eyeScores.GetData(), maxEyeRegions, eyeScoreFloor, region.Width, region.Height)
	out := make([]signal.Box, 0, len(local))
	for _, e := range local {
		out = append(out, signal.Box{
			X:      region.X + e.X,
			Y:      region.Y + e.Y,
			Width:  e.Width,
			Height: e.Height,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].X < out[j].X })
	return out, nil
}

// DetectObjects runs the edge/contour rectangle heuristics; no graph is
// involved.
func (x *Onnx) DetectObjects(ctx context.Context, img image.Image) ([]signal.ObjectFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gray, w, h := grayscale(img)
	return findRectangularRegions(gray, w, h), nil
}

// Metrics computes capture quality from raw pixels.
func (x *Onnx) Metrics(img image.Image) signal.Metrics {
	return computeMetrics(img)
}

// Close releases the onnx sessions and tensors.
func (x *Onnx) Close() {
	for _, d := range []interface{ Destroy() error }{
		x.det, x.emb, x.eye,
		x.detInput, x.detBoxes, x.detScores,
		x.embInput, x.embOutput,
		x.eyeInput, x.eyeBoxes, x.eyeScores,
	} {
		if d != nil {
			_ = d.Destroy()
		}
	}
}

// fillTensorNCHW resamples the source rectangle into a size x size NCHW
// float32 tensor scaled to 0..1. Nearest-neighbor keeps it deterministic
// and dependency-free.
func fillTensorNCHW(dst []float32, img image.Image, src image.Rectangle, size int) {
	w, h := src.Dx(), src.Dy()
	if w <= 0 || h <= 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	plane := size * size
	for y := 0; y < size; y++ {
		sy := src.Min.Y + y*h/size
		for xPix := 0; xPix < size; xPix++ {
			sx := src.Min.X + xPix*w/size
			r, g, b, _ := img.At(sx, sy).RGBA()
			i := y*size + xPix
			dst[i] = float32(r) / 65535.0
			dst[plane+i] = float32(g) / 65535.0
			dst[2*plane+i] = float32(b) / 65535.0
		}
	}
}

// decodeBoxes converts normalized x1,y1,x2,y2 rows above the score floor
// into pixel boxes.
func decodeBoxes(boxes, scores []float32, capacity int, floor float32, w, h int) []signal.Box {
	out := make([]signal.Box, 0)
	for i := 0; i < capacity && i < len(scores); i++ {
		if scores[i] < floor {
			continue
		}
		row := boxes[i*4 : i*4+4]
		x1 := int(row[0] * float32(w))
		y1 := int(row[1] * float32(h))
		x2 := int(row[2] * float32(w))
		y2 := int(row[3] * float32(h))
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		out = append(out, signal.Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1})
	}
	return out
}

func cropBounds(b image.Rectangle, box signal.Box) image.Rectangle {
	r := image.Rect(b.Min.X+box.X, b.Min.Y+box.Y, b.Min.X+box.X+box.Width, b.Min.Y+box.Y+box.Height)
	return r.Intersect(b)
}

// resolveSharedLibraryPath locates a platform onnxruntime shared library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common names/locations
// are probed.
func resolveSharedLibraryPath(modelsDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelsDir,
		filepath.Join(modelsDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
