// Package synth generates synthetic recording sessions: an animal running a
// random walk in a square arena, and tetrodes whose cells fire faster the
// faster it runs.
package synth

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/fsutil"
)

// Generator produces synthetic sessions.
type Generator struct {
	Name            string
	Seconds         float64
	SampleRate      float64 // position samples per second
	PixelsPerMetre  float64
	ArenaCm         float64 // arena side length
	MaxSpeedCms     float64
	Tetrodes        int
	CellsPerTetrode int
	BaseRateHz      float64
	SpeedGain       float64 // Hz per cm/s, multiplied by the cell number
	NoiseRateHz     float64 // rate of unclustered spikes
	DropoutFraction float64 // fraction of position samples lost by the tracker

	rng *rand.Rand
}

// NewGenerator returns a generator with lab-like defaults. The same seed
// always produces the same session.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		Name:            "synthetic",
		Seconds:         120,
		SampleRate:      50,
		PixelsPerMetre:  400,
		ArenaCm:         100,
		MaxSpeedCms:     40,
		Tetrodes:        1,
		CellsPerTetrode: 3,
		BaseRateHz:      1,
		SpeedGain:       0.1,
		NoiseRateHz:     2,
		DropoutFraction: 0.01,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Recording is a generated session before it is written to disk.
type Recording struct {
	Name     string
	Position *axona.Position
	// Speed is the true running speed at each position sample in cm/s.
	Speed    []float64
	Tetrodes []*axona.Tetrode
	Cuts     []*axona.Cut
}

// Generate runs the random walk and draws spikes for every tetrode.
func (g *Generator) Generate() *Recording {
	x, y, speed := g.walk()
	n := len(x)
	dt := 1 / g.SampleRate

	pos := &axona.Position{
		Header:         g.header(),
		SampleRate:     g.SampleRate,
		PixelsPerMetre: g.PixelsPerMetre,
		X:              make([]float64, n),
		Y:              make([]float64, n),
		T:              make([]float64, n),
	}
	offset := 50.0
	for i := 0; i < n; i++ {
		pos.T[i] = float64(i) * dt
		if g.rng.Float64() < g.DropoutFraction {
			pos.X[i], pos.Y[i] = math.NaN(), math.NaN()
			continue
		}
		pos.X[i] = offset + x[i]/100*g.PixelsPerMetre
		pos.Y[i] = offset + y[i]/100*g.PixelsPerMetre
	}

	rec := &Recording{Name: g.Name, Position: pos, Speed: speed}
	for tet := 0; tet < g.Tetrodes; tet++ {
		t, c := g.tetrode(speed, dt)
		rec.Tetrodes = append(rec.Tetrodes, t)
		rec.Cuts = append(rec.Cuts, c)
	}
	return rec
}

// walk moves the animal with a smoothly varying heading and speed,
// reflecting off the arena walls.
func (g *Generator) walk() (x, y, speed []float64) {
	n := int(g.Seconds * g.SampleRate)
	dt := 1 / g.SampleRate
	x = make([]float64, n)
	y = make([]float64, n)
	speed = make([]float64, n)

	px, py := g.ArenaCm/2, g.ArenaCm/2
	heading := g.rng.Float64() * 2 * math.Pi
	s := g.MaxSpeedCms / 2
	for i := 0; i < n; i++ {
		heading += g.rng.NormFloat64() * 0.2
		s += g.rng.NormFloat64()*2 - 0.05*(s-g.MaxSpeedCms/2)
		s = math.Max(0, math.Min(g.MaxSpeedCms, s))

		px += s * math.Cos(heading) * dt
		py += s * math.Sin(heading) * dt
		if px < 0 || px > g.ArenaCm {
			heading = math.Pi - heading
			px = math.Max(0, math.Min(g.ArenaCm, px))
		}
		if py < 0 || py > g.ArenaCm {
			heading = -heading
			py = math.Max(0, math.Min(g.ArenaCm, py))
		}
		x[i], y[i], speed[i] = px, py, s
	}
	return x, y, speed
}

type spike struct {
	t    float64
	cell int
}

// tetrode draws an inhomogeneous Poisson spike train per cell plus
// unclustered noise, merged in time order.
func (g *Generator) tetrode(speed []float64, dt float64) (*axona.Tetrode, *axona.Cut) {
	var all []spike
	for c := 0; c <= g.CellsPerTetrode; c++ {
		for i, s := range speed {
			rate := g.NoiseRateHz
			if c > 0 {
				rate = g.BaseRateHz + g.SpeedGain*float64(c)*s
			}
			if rate <= 0 {
				continue
			}
			start := float64(i) * dt
			for t := start + g.rng.ExpFloat64()/rate; t < start+dt; t += g.rng.ExpFloat64() / rate {
				all = append(all, spike{t: t, cell: c})
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].t < all[j].t })

	tet := &axona.Tetrode{
		Header:          g.header(),
		Timebase:        96000,
		SamplesPerSpike: 50,
	}
	cut := &axona.Cut{}
	for _, sp := range all {
		tet.Times = append(tet.Times, math.Round(sp.t*96000)/96000)
		for ch := range tet.Waveforms {
			tet.Waveforms[ch] = append(tet.Waveforms[ch], waveform(sp.cell, ch))
		}
		cut.Clusters = append(cut.Clusters, sp.cell)
	}
	return tet, cut
}

// waveform is a spike shape whose amplitude identifies the cell on each
// channel, the way cluster cutting separates them.
func waveform(cell, ch int) []int8 {
	amp := 20.0 + 15*float64(cell) + 5*float64(ch)
	w := make([]int8, 50)
	for i := range w {
		d := float64(i-10) / 3
		v := amp*math.Exp(-d*d/2) - 0.3*amp*math.Exp(-math.Pow(float64(i-20)/6, 2)/2)
		w[i] = int8(math.Max(-128, math.Min(127, math.Round(v))))
	}
	return w
}

func (g *Generator) header() *axona.Header {
	h := &axona.Header{}
	h.Set("trial_date", "Thursday, 1 Jan 2026")
	h.Set("trial_time", "12:00:00")
	h.Set("experimenter", "synth")
	h.Set("duration", strconv.Itoa(int(math.Ceil(g.Seconds))))
	return h
}

// Write stores the recording under dir as name.pos, name.N and name_N.cut
// and returns the session file set.
func (r *Recording) Write(fsys fsutil.FileSystem, dir string) (*axona.SessionFiles, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := &axona.SessionFiles{Pos: filepath.Join(dir, r.Name+".pos")}

	var buf bytes.Buffer
	if err := axona.WritePos(&buf, r.Position); err != nil {
		return nil, err
	}
	if err := fsys.WriteFile(files.Pos, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	for i, tet := range r.Tetrodes {
		n := i + 1
		tf := axona.TetrodeFiles{
			Number:  n,
			Tetrode: filepath.Join(dir, fmt.Sprintf("%s.%d", r.Name, n)),
			Cut:     filepath.Join(dir, fmt.Sprintf("%s_%d.cut", r.Name, n)),
		}
		buf.Reset()
		if err := axona.WriteTetrode(&buf, tet); err != nil {
			return nil, err
		}
		if err := fsys.WriteFile(tf.Tetrode, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		buf.Reset()
		if err := axona.WriteCut(&buf, r.Name, r.Cuts[i]); err != nil {
			return nil, err
		}
		if err := fsys.WriteFile(tf.Cut, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		files.Tetrodes = append(files.Tetrodes, tf)
	}
	return files, nil
}
