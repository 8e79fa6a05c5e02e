// Package analysis ties the recording readers, position cleaning, spike
// grouping and model fitting into the compute routine behind every plot.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/config"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/monitoring"
	"github.com/banshee-data/cellglm/internal/spikes"
	"github.com/banshee-data/cellglm/internal/tracking"
	"github.com/banshee-data/cellglm/internal/units"
)

var (
	ErrNoSuchTetrode    = errors.New("analysis: tetrode not in session")
	ErrNoPixelsPerMetre = errors.New("analysis: pixels per metre must be a positive number")
)

// Settings are the session-wide parameters. Changing any of them requires
// reloading the session.
type Settings struct {
	// PixelsPerMetre overrides the position header when positive.
	PixelsPerMetre float64
	Channel        int
	RateWindowMs   float64
	SpeedUnits     string
	Tracking       tracking.Options
	GLM            glm.Options
}

// DefaultSettings returns the settings of an empty config.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.Empty())
}

// SettingsFromConfig maps a config onto session settings.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PixelsPerMetre: cfg.GetPixelsPerMetre(),
		Channel:        cfg.GetChannel(),
		RateWindowMs:   cfg.GetRateWindowMs(),
		SpeedUnits:     cfg.GetSpeedUnits(),
		Tracking: tracking.Options{
			SmoothingSeconds: cfg.GetSmoothingSeconds(),
			JumpThresholdCm:  cfg.GetBadTrackThresholdCm(),
		},
		GLM: cfg.GLMOptions(),
	}
}

// Session is one tetrode of a recording, loaded and cleaned.
type Session struct {
	Files    axona.SessionFiles
	Tetrode  int
	Settings Settings
	// PixelsPerMetre is the scale actually used.
	PixelsPerMetre float64
	Position       *axona.Position
	Track          *tracking.Track
	Units          *spikes.Units
	Spikes         int
	// Duration is the recording length in seconds.
	Duration float64
}

// Name returns the recording name.
func (s *Session) Name() string { return s.Files.Name() }

// Cells returns the selectable cells.
func (s *Session) Cells() []int { return s.Units.Available() }

// Speed returns the running speed in the configured units.
func (s *Session) Speed() []float64 {
	out := append([]float64(nil), s.Track.Speed...)
	return units.ConvertSpeeds(out, s.Settings.SpeedUnits)
}

// Matches reports whether the session was loaded from the same inputs.
func (s *Session) Matches(files axona.SessionFiles, tetrode int, settings Settings) bool {
	if s.Tetrode != tetrode || s.Settings != settings || s.Files.Pos != files.Pos {
		return false
	}
	a, _ := s.Files.Tetrode(tetrode)
	b, _ := files.Tetrode(tetrode)
	return a == b
}

// LoadSession reads the position, spike and cut files of one tetrode
// concurrently, groups the spikes by cell and cleans the position track.
func LoadSession(ctx context.Context, fsys fsutil.FileSystem, files axona.SessionFiles, tetrode int, settings Settings) (*Session, error) {
	tf, ok := files.Tetrode(tetrode)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchTetrode, tetrode)
	}

	var (
		pos *axona.Position
		tet *axona.Tetrode
		cut *axona.Cut
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		pos, err = axona.ReadPosFile(fsys, files.Pos)
		return err
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		tet, err = axona.ReadTetrodeFile(fsys, tf.Tetrode)
		return err
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		var err error
		cut, err = axona.ReadCutFile(fsys, tf.Cut)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ppm := settings.PixelsPerMetre
	if ppm <= 0 {
		ppm = pos.PixelsPerMetre
	}
	if ppm <= 0 {
		return nil, ErrNoPixelsPerMetre
	}

	u, err := spikes.GroupByCell(tet, cut, settings.Channel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tf.Cut, err)
	}
	track, err := tracking.Clean(pos, ppm, settings.Tracking)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", files.Pos, err)
	}

	s := &Session{
		Files:          files,
		Tetrode:        tetrode,
		Settings:       settings,
		PixelsPerMetre: ppm,
		Position:       pos,
		Track:          track,
		Units:          u,
		Spikes:         tet.NumSpikes(),
		Duration:       tet.Duration(),
	}
	if n := track.Len(); n > 0 && s.Duration < track.T[n-1] {
		s.Duration = track.T[n-1]
	}
	monitoring.Logf("loaded %s tetrode %d: %d spikes, cells %v, %d position samples",
		s.Name(), tetrode, s.Spikes, s.Cells(), track.Len())
	return s, nil
}

// SessionCache keeps the most recently loaded session so requests that
// only change the cell, family or graph skip reloading.
type SessionCache struct {
	FS fsutil.FileSystem

	mu   sync.Mutex
	last *Session
}

// Load returns the cached session when it matches, otherwise loads and
// caches a new one. reused reports which happened.
func (c *SessionCache) Load(ctx context.Context, files axona.SessionFiles, tetrode int, settings Settings) (s *Session, reused bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && c.last.Matches(files, tetrode, settings) {
		return c.last, true, nil
	}
	s, err = LoadSession(ctx, c.FS, files, tetrode, settings)
	if err != nil {
		return nil, false, err
	}
	c.last = s
	return s, false, nil
}

// Current returns the cached session, or nil.
func (c *SessionCache) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
