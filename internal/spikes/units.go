// Package spikes groups tetrode spikes into recorded cells and converts a
// cell's spike train into a firing rate on the position clock.
package spikes

import (
	"fmt"

	"github.com/banshee-data/cellglm/internal/axona"
)

// Neuron is the spike train of one cluster.
type Neuron struct {
	Cell      int
	Times     []float64
	Waveforms [][]int8
}

// Units are the neurons of one tetrode, indexed by cluster id.
type Units struct {
	Neurons []Neuron
	// EmptyCell is the first cell after the noise cluster with no spikes,
	// or the last cell when there is no gap. Tint leaves clusters past the
	// first gap unused.
	EmptyCell int
}

// GroupByCell assigns every spike to its cluster. channel selects which of
// the four tetrode channels' waveforms are kept (1-4).
func GroupByCell(tet *axona.Tetrode, cut *axona.Cut, channel int) (*Units, error) {
	if channel < 1 || channel > axona.ChannelsPerTetrode {
		return nil, fmt.Errorf("spikes: channel must be 1-%d, got %d", axona.ChannelsPerTetrode, channel)
	}
	if len(cut.Clusters) < tet.NumSpikes() {
		return nil, fmt.Errorf("spikes: cut file has %d entries for %d spikes", len(cut.Clusters), tet.NumSpikes())
	}

	u := &Units{Neurons: make([]Neuron, cut.MaxCluster()+1)}
	for i := range u.Neurons {
		u.Neurons[i].Cell = i
	}
	waves := tet.Waveforms[channel-1]
	for i, ts := range tet.Times {
		n := &u.Neurons[cut.Clusters[i]]
		n.Times = append(n.Times, ts)
		if i < len(waves) {
			n.Waveforms = append(n.Waveforms, waves[i])
		}
	}

	u.EmptyCell = len(u.Neurons) - 1
	for i := 1; i < len(u.Neurons); i++ {
		if len(u.Neurons[i].Times) == 0 {
			u.EmptyCell = i
			break
		}
	}
	return u, nil
}

// gap reports whether EmptyCell marks an actual empty cluster.
func (u *Units) gap() bool {
	return u.EmptyCell > 0 && u.EmptyCell < len(u.Neurons) && len(u.Neurons[u.EmptyCell].Times) == 0
}

// Available returns the selectable cells: every cluster after the noise
// cluster up to the first empty one.
func (u *Units) Available() []int {
	last := u.EmptyCell
	if u.gap() {
		last--
	}
	var cells []int
	for c := 1; c <= last; c++ {
		cells = append(cells, c)
	}
	return cells
}

// Cell returns the neuron for a selectable cell.
func (u *Units) Cell(c int) (*Neuron, bool) {
	for _, a := range u.Available() {
		if a == c {
			return &u.Neurons[c], true
		}
	}
	return nil, false
}
