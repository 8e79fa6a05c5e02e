// Command gen-session writes a synthetic Axona session (position, tetrode
// and cut files) with speed-modulated cells, for demos and tests.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/synth"
)

func main() {
	output := flag.String("o", "data/synthetic", "output directory")
	name := flag.String("name", "synthetic", "recording name")
	seed := flag.Int64("seed", 1, "random seed")
	seconds := flag.Float64("seconds", 600, "recording length in seconds")
	tetrodes := flag.Int("tetrodes", 1, "number of tetrodes")
	cells := flag.Int("cells", 3, "cells per tetrode")
	ppm := flag.Float64("ppm", 400, "pixels per metre written to the position header (0 omits it)")
	gain := flag.Float64("gain", 0.1, "firing rate gain per cm/s of running speed, multiplied by the cell number")
	flag.Parse()

	gen := synth.NewGenerator(*seed)
	gen.Name = *name
	gen.Seconds = *seconds
	gen.Tetrodes = *tetrodes
	gen.CellsPerTetrode = *cells
	gen.SpeedGain = *gain
	if *ppm > 0 {
		gen.PixelsPerMetre = *ppm
	}
	rec := gen.Generate()
	if *ppm <= 0 {
		rec.Position.PixelsPerMetre = 0
	}

	files, err := rec.Write(fsutil.OSFileSystem{}, *output)
	if err != nil {
		log.Fatalf("write session: %v", err)
	}
	log.Printf("%s: %d position samples", filepath.Base(files.Pos), rec.Position.Len())
	for i, tf := range files.Tetrodes {
		log.Printf("%s: %d spikes, cut %s", filepath.Base(tf.Tetrode), rec.Tetrodes[i].NumSpikes(), filepath.Base(tf.Cut))
	}
	log.Printf("✓ Created: %s", *output)
}
