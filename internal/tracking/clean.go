// Package tracking turns raw LED positions into a cleaned, smoothed track
// and the running speed derived from it.
package tracking

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/monitoring"
	"gonum.org/v1/gonum/floats"
)

// ErrNoSamples is returned when cleaning leaves no usable position samples.
var ErrNoSamples = errors.New("tracking: no valid position samples")

// Options controls the cleaning pipeline.
type Options struct {
	// SmoothingSeconds is the boxcar width in seconds.
	SmoothingSeconds float64
	// JumpThresholdCm is the per-sample step treated as a tracking jump.
	JumpThresholdCm float64
}

// DefaultOptions matches the settings the lab's Tint scripts use.
func DefaultOptions() Options {
	return Options{SmoothingSeconds: 0.4, JumpThresholdCm: 2}
}

// Track is a cleaned position series in centimetres, centred on the arena.
type Track struct {
	X, Y, T     []float64
	Speed       []float64 // cm/s
	ArenaWidth  float64
	ArenaHeight float64
	SampleRate  float64
}

// Len returns the number of samples.
func (tr *Track) Len() int { return len(tr.T) }

// Clean runs the full position pipeline: align the time base to the
// coordinates, convert to centimetres, centre on the arena, remove tracker
// jumps, drop lost samples, boxcar smooth and derive speed.
func Clean(pos *axona.Position, ppm float64, opts Options) (*Track, error) {
	if ppm <= 0 {
		return nil, fmt.Errorf("tracking: pixels per metre must be positive, got %v", ppm)
	}
	if pos.Len() == 0 {
		return nil, ErrNoSamples
	}
	rate := pos.SampleRate
	if rate <= 0 {
		return nil, fmt.Errorf("tracking: sample rate must be positive, got %v", rate)
	}

	t := AlignTimes(pos.T, pos.Len(), 1/rate)
	x, y := ToCentimetres(pos.X, pos.Y, ppm)

	cx, cy := CenterBox(x, y)
	if math.IsNaN(cx) {
		return nil, ErrNoSamples
	}
	for i := range x {
		x[i] -= cx
		y[i] -= cy
	}

	before := len(x)
	x, y, t = RemoveBadTracking(x, y, t, opts.JumpThresholdCm)
	x, y, t = DropNaN(x, y, t)
	if len(x) == 0 {
		return nil, ErrNoSamples
	}
	if dropped := before - len(x); dropped > 0 {
		monitoring.Logf("tracking: removed %d of %d position samples", dropped, before)
	}

	width := int(math.Ceil(opts.SmoothingSeconds * rate))
	x = Boxcar(x, width)
	y = Boxcar(y, width)

	return &Track{
		X:           x,
		Y:           y,
		T:           t,
		Speed:       Speed2D(x, y, t),
		ArenaWidth:  floats.Max(x) - floats.Min(x),
		ArenaHeight: floats.Max(y) - floats.Min(y),
		SampleRate:  rate,
	}, nil
}

// AlignTimes returns a time base of exactly n samples: t is extended by
// repeatedly adding step to its last value, or truncated.
func AlignTimes(t []float64, n int, step float64) []float64 {
	out := make([]float64, n)
	copy(out, t)
	if len(t) >= n {
		return out
	}
	last := -step
	if len(t) > 0 {
		last = t[len(t)-1]
	}
	for i := len(t); i < n; i++ {
		last += step
		out[i] = last
	}
	return out
}

// ToCentimetres converts pixel coordinates to centimetres. The camera's y
// axis points down, so y is negated to put north up.
func ToCentimetres(xPix, yPix []float64, ppm float64) (x, y []float64) {
	x = make([]float64, len(xPix))
	y = make([]float64, len(yPix))
	for i, v := range xPix {
		x[i] = 100 * v / ppm
	}
	for i, v := range yPix {
		y[i] = -100 * v / ppm
	}
	return x, y
}

// CenterBox returns the centre of the bounding box of the non-NaN samples,
// the point where its diagonals cross. It returns NaN when every sample is
// NaN.
func CenterBox(x, y []float64) (cx, cy float64) {
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	n := 0
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		minX, maxX = math.Min(minX, x[i]), math.Max(maxX, x[i])
		minY, maxY = math.Min(minY, y[i]), math.Max(maxY, y[i])
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	return (minX + maxX) / 2, (minY + maxY) / 2
}

// RemoveBadTracking drops samples where the tracker jumped away from the
// animal. A jump is a step longer than threshold; NaN steps never count.
// Two consecutive jumps mean a single sample flew out and came back, and
// that sample is removed. Otherwise, if the tracker sat on the same x for the
// whole excursion between two jumps, the excursion is removed; a real path
// that merely moved fast is kept.
func RemoveBadTracking(x, y, t []float64, threshold float64) ([]float64, []float64, []float64) {
	n := len(x)
	if n < 2 {
		return x, y, t
	}

	var jumps []int
	for i := 0; i < n-1; i++ {
		d := math.Hypot(x[i+1]-x[i], y[i+1]-y[i])
		if math.IsNaN(d) {
			d = threshold
		}
		if d > threshold {
			jumps = append(jumps, i)
		}
	}
	if len(jumps) == 0 {
		return x, y, t
	}

	remove := make([]bool, n)
	for k := 0; k < len(jumps)-1; k++ {
		a, b := jumps[k], jumps[k+1]
		if b == a+1 {
			remove[a+1] = true
			continue
		}
		// the excursion is samples a+1 .. b
		stuck := true
		for j := a + 1; j <= b; j++ {
			if x[j] != x[a+1] {
				stuck = false
				break
			}
		}
		if stuck {
			for j := a + 1; j <= b; j++ {
				remove[j] = true
			}
		}
	}

	return keep(x, remove), keep(y, remove), keep(t, remove)
}

// DropNaN removes samples whose x coordinate is NaN.
func DropNaN(x, y, t []float64) ([]float64, []float64, []float64) {
	remove := make([]bool, len(x))
	for i, v := range x {
		remove[i] = math.IsNaN(v)
	}
	return keep(x, remove), keep(y, remove), keep(t, remove)
}

func keep(v []float64, remove []bool) []float64 {
	out := make([]float64, 0, len(v))
	for i, s := range v {
		if i < len(remove) && remove[i] {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Boxcar returns the moving average of v over width samples. The window for
// sample i is [i-(width-1)/2, i+width/2] and samples beyond either end take
// the value of the nearest edge sample.
func Boxcar(v []float64, width int) []float64 {
	out := make([]float64, len(v))
	if width <= 1 || len(v) == 0 {
		copy(out, v)
		return out
	}
	back := (width - 1) / 2
	last := len(v) - 1
	at := func(i int) float64 {
		switch {
		case i < 0:
			return v[0]
		case i > last:
			return v[last]
		}
		return v[i]
	}

	sum := 0.0
	for j := -back; j < width-back; j++ {
		sum += at(j)
	}
	out[0] = sum / float64(width)
	for i := 1; i < len(v); i++ {
		sum += at(i+width-back-1) - at(i-back-1)
		out[i] = sum / float64(width)
	}
	return out
}

// Speed2D returns the speed at each sample from the central difference of
// its neighbours. The first and last samples copy their neighbour.
func Speed2D(x, y, t []float64) []float64 {
	n := len(x)
	v := make([]float64, n)
	if n < 3 {
		return v
	}
	for i := 1; i < n-1; i++ {
		dt := t[i+1] - t[i-1]
		if dt == 0 {
			continue
		}
		v[i] = math.Hypot(x[i+1]-x[i-1], y[i+1]-y[i-1]) / dt
	}
	v[0] = v[1]
	v[n-1] = v[n-2]
	return v
}
