package extractor

import (
	"context"
	"image"

	"github.com/invigil-ai/invigil/internal/signal"
)

// Fake is a scripted extractor for tests and development. Fields are
// returned as-is; the optional hooks take precedence when set.
type Fake struct {
	Faces       []signal.Face
	Eyes        []signal.Box
	Objects     []signal.ObjectFinding
	FrameMetric signal.Metrics
	Err         error

	// ExtractFn, when set, overrides Faces/Err per image.
	ExtractFn func(img image.Image) ([]signal.Face, error)
}

func (f *Fake) ExtractFaces(_ context.Context, img image.Image) ([]signal.Face, error) {
	if f.ExtractFn != nil {
		return f.ExtractFn(img)
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Faces, nil
}

func (f *Fake) DetectEyes(_ context.Context, _ image.Image, _ signal.Box) ([]signal.Box, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Eyes, nil
}

func (f *Fake) DetectObjects(_ context.Context, _ image.Image) ([]signal.ObjectFinding, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Objects, nil
}

func (f *Fake) Metrics(_ image.Image) signal.Metrics {
	return f.FrameMetric
}
