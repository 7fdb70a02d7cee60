package signal

import (
	"context"
	"image"
)

// DescriptorLen is the fixed length of a face embedding.
const DescriptorLen = 128

// Descriptor is a fixed-length face embedding used for distance-based
// identity comparison. It is transient: only distances and derived
// verdicts are ever persisted.
type Descriptor [DescriptorLen]float32

// Box is an axis-aligned region in image coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() int {
	return b.X + b.Width/2
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return b.Width * b.Height
}

// Contains reports whether other lies entirely inside b.
func (b Box) Contains(other Box) bool {
	return other.X >= b.X && other.Y >= b.Y &&
		other.X+other.Width <= b.X+b.Width &&
		other.Y+other.Height <= b.Y+b.Height
}

// Face is one detected face with its bounding box and embedding.
type Face struct {
	Box        Box
	Descriptor Descriptor
}

// ObjectFinding is one suspicious-object heuristic hit.
type ObjectFinding struct {
	Label      string  `json:"label"` // "rectangle" | "phone"
	Box        Box     `json:"box"`
	Area       int     `json:"area"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Metrics holds per-frame capture quality measurements.
type Metrics struct {
	Brightness float64 `json:"brightness"` // mean pixel intensity, 0..255
	Sharpness  float64 `json:"sharpness"`  // variance of Laplacian response
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// Bundle is the full per-frame signal set handed to the classifier.
// It is never persisted as a unit.
type Bundle struct {
	Faces   []Face
	Eyes    []Box // eye regions located inside the primary face, when gaze was requested
	Objects []ObjectFinding
	Metrics Metrics
}

// FaceCount returns the number of extracted faces.
func (b *Bundle) FaceCount() int {
	if b == nil {
		return 0
	}
	return len(b.Faces)
}

// Extractor turns raw pixels into structured signals. Implementations must
// be deterministic given identical pixel input.
type Extractor interface {
	// ExtractFaces returns every detected face with its descriptor,
	// in a stable order.
	ExtractFaces(ctx context.Context, img image.Image) ([]Face, error)

	// DetectEyes locates eye regions inside the given face region.
	DetectEyes(ctx context.Context, img image.Image, region Box) ([]Box, error)

	// DetectObjects runs the suspicious-object heuristics over the frame.
	DetectObjects(ctx context.Context, img image.Image) ([]ObjectFinding, error)

	// Metrics computes brightness/sharpness/resolution for the frame.
	Metrics(img image.Image) Metrics
}
