// Package imagespots is a local spot finder for detector frames stored in
// common raster formats (PNG, TIFF, JPEG, BMP). It thresholds the frame and
// reports each connected bright region as one reflection.
package imagespots

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
)

// Finder implements engine.SpotFinder.
type Finder struct{}

// New creates a spot finder.
func New() *Finder {
	return &Finder{}
}

var _ engine.SpotFinder = (*Finder)(nil)

// frame is a grayscale image scaled by gain, with a validity mask.
type frame struct {
	w, h  int
	value []float64
	valid []bool
}

// FindSpots implements engine.SpotFinder.
func (f *Finder) FindSpots(ctx context.Context, path string, settings config.Processing) (crystal.ObservationSet, error) {
	console := capture.Console(ctx)
	disp := settings.Spotfinder.Threshold.Dispersion

	fr, err := loadFrame(path, disp.Gain, settings.Spotfinder.Lookup.Mask)
	if err != nil {
		return nil, err
	}

	mean, std, n := fr.stats()
	if n == 0 {
		return nil, &engine.Error{Class: "Sorry", Message: "mask leaves no valid pixels"}
	}
	threshold := disp.GlobalThreshold
	if threshold <= 0 {
		threshold = mean + disp.SigmaStrong*std
	}
	fmt.Fprintf(console, "Finding strong spots in %s (threshold %.2f, background %.2f)\n", path, threshold, mean)

	minSize := disp.MinSpotSize
	if minSize < 1 {
		minSize = 1
	}

	seen := make([]bool, fr.w*fr.h)
	var spots crystal.ObservationSet
	var stack []int
	for start := range fr.value {
		if seen[start] || !fr.strong(start, threshold) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// flood fill one 4-connected region
		stack = append(stack[:0], start)
		seen[start] = true
		var pixels []int
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pixels = append(pixels, i)
			x, y := i%fr.w, i/fr.w
			for _, nb := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if nb[0] < 0 || nb[1] < 0 || nb[0] >= fr.w || nb[1] >= fr.h {
					continue
				}
				j := nb[1]*fr.w + nb[0]
				if !seen[j] && fr.strong(j, threshold) {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		if len(pixels) < minSize {
			continue
		}
		spots = append(spots, fr.reflection(pixels, mean))
	}

	fmt.Fprintf(console, "Extracted %d spots\n", len(spots))
	return spots, nil
}

func loadFrame(path string, gain float64, maskPath string) (*frame, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	if gain <= 0 {
		gain = 1
	}
	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	fr := &frame{w: b.Dx(), h: b.Dy()}
	fr.value = make([]float64, fr.w*fr.h)
	fr.valid = make([]bool, fr.w*fr.h)
	for i := range fr.value {
		// grayscale NRGBA: R == G == B
		fr.value[i] = float64(gray.Pix[i*4]) * gain
		fr.valid[i] = true
	}

	if maskPath == "" {
		return fr, nil
	}
	mask, err := imaging.Open(maskPath)
	if err != nil {
		return nil, fmt.Errorf("open mask %s: %w", maskPath, err)
	}
	if mb := mask.Bounds(); mb.Dx() != fr.w || mb.Dy() != fr.h {
		return nil, fmt.Errorf("mask %s is %dx%d, image is %dx%d", maskPath, mb.Dx(), mb.Dy(), fr.w, fr.h)
	}
	applyMask(fr, imaging.Grayscale(mask))
	return fr, nil
}

func applyMask(fr *frame, mask *image.NRGBA) {
	for i := range fr.valid {
		fr.valid[i] = mask.Pix[i*4] != 0
	}
}

func (fr *frame) strong(i int, threshold float64) bool {
	return fr.valid[i] && fr.value[i] > threshold
}

// stats returns mean and standard deviation over valid pixels.
func (fr *frame) stats() (mean, std float64, n int) {
	var sum, sumSq float64
	for i, v := range fr.value {
		if !fr.valid[i] {
			continue
		}
		sum += v
		sumSq += v * v
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), n
}

// reflection summarises a region: background-subtracted intensity, a
// counting-statistics sigma and the intensity-weighted centroid.
func (fr *frame) reflection(pixels []int, background float64) crystal.Reflection {
	var total, signal, sx, sy float64
	for _, i := range pixels {
		v := fr.value[i]
		s := v - background
		total += v
		signal += s
		sx += s * float64(i%fr.w)
		sy += s * float64(i/fr.w)
	}
	r := crystal.Reflection{Intensity: signal, Sigma: math.Sqrt(total)}
	if r.Sigma == 0 {
		r.Sigma = 1
	}
	if signal > 0 {
		r.X = sx/signal + 0.5
		r.Y = sy/signal + 0.5
	}
	return r
}
