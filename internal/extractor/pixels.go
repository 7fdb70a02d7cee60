package extractor

import (
	"image"

	"github.com/invigil-ai/invigil/internal/signal"
)

// grayscale flattens the image to 0..255 luma values, row-major.
func grayscale(img image.Image) ([]float64, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma on 16-bit channels, scaled to 0..255.
			out[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257.0
		}
	}
	return out, w, h
}

func meanIntensity(gray []float64) float64 {
	if len(gray) == 0 {
		return 0
	}
	var sum float64
	for _, v := range gray {
		sum += v
	}
	return sum / float64(len(gray))
}

// laplacianVariance is the standard blur measure: variance of the 4-neighbor
// Laplacian response over the interior pixels.
func laplacianVariance(gray []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	n := 0
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := gray[(y-1)*w+x] + gray[(y+1)*w+x] + gray[y*w+x-1] + gray[y*w+x+1] - 4*gray[y*w+x]
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// computeMetrics fills the frame quality metrics from raw pixels.
func computeMetrics(img image.Image) signal.Metrics {
	gray, w, h := grayscale(img)
	return signal.Metrics{
		Brightness: meanIntensity(gray),
		Sharpness:  laplacianVariance(gray, w, h),
		Width:      w,
		Height:     h,
	}
}

// edgeThreshold gates the Sobel gradient magnitude for the contour map.
const edgeThreshold = 60.0

// edgeMap marks pixels with strong gradient magnitude.
func edgeMap(gray []float64, w, h int) []bool {
	out := make([]bool, w*h)
	if w < 3 || h < 3 {
		return out
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := gray[(y-1)*w+x+1] + 2*gray[y*w+x+1] + gray[(y+1)*w+x+1] -
				gray[(y-1)*w+x-1] - 2*gray[y*w+x-1] - gray[(y+1)*w+x-1]
			gy := gray[(y+1)*w+x-1] + 2*gray[(y+1)*w+x] + gray[(y+1)*w+x+1] -
				gray[(y-1)*w+x-1] - 2*gray[(y-1)*w+x] - gray[(y-1)*w+x+1]
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			if gx+gy > edgeThreshold {
				out[y*w+x] = true
			}
		}
	}
	return out
}

// findRectangularRegions groups connected edge pixels and keeps regions
// whose bounding boxes look like deliberate rectangular shapes (books,
// notes, screens). Regions with a handheld-phone aspect are labeled
// "phone"; the rest "rectangle".
func findRectangularRegions(gray []float64, w, h int) []signal.ObjectFinding {
	edges := edgeMap(gray, w, h)

	labels := make([]int32, w*h)
	var boxes []signal.Box
	var counts []int

	// Iterative flood fill over the 4-neighborhood; recursion is unsafe
	// on large frames.
	var stack []int
	next := int32(0)
	for i := range edges {
		if !edges[i] || labels[i] != 0 {
			continue
		}
		next++
		minX, minY, maxX, maxY := i%w, i/w, i%w, i/w
		count := 0
		stack = append(stack[:0], i)
		labels[i] = next
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			count++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			for _, q := range [4]int{p - 1, p + 1, p - w, p + w} {
				if q < 0 || q >= w*h {
					continue
				}
				// Skip row wraparound on horizontal neighbors.
				if (q == p-1 || q == p+1) && q/w != y {
					continue
				}
				if edges[q] && labels[q] == 0 {
					labels[q] = next
					stack = append(stack, q)
				}
			}
		}
		boxes = append(boxes, signal.Box{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1})
		counts = append(counts, count)
	}

	var out []signal.ObjectFinding
	for i, b := range boxes {
		if b.Width < 20 || b.Height < 20 {
			continue
		}
		area := b.Area()
		// A deliberate rectangular outline traces most of its perimeter.
		perimeter := 2 * (b.Width + b.Height)
		if counts[i] < perimeter/2 {
			continue
		}
		label := "rectangle"
		if isPhoneAspect(b) {
			label = "phone"
		}
		out = append(out, signal.ObjectFinding{
			Label: label,
			Box:   b,
			Area:  area,
		})
	}
	return out
}

// isPhoneAspect matches the tall narrow proportions of a handheld phone.
func isPhoneAspect(b signal.Box) bool {
	longer, shorter := b.Height, b.Width
	if shorter > longer {
		longer, shorter = shorter, longer
	}
	if longer == 0 {
		return false
	}
	ratio := float64(shorter) / float64(longer)
	return ratio >= 0.40 && ratio <= 0.60 && b.Area() >= 2000 && b.Area() <= 40000
}
