package axona

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoCutSection is returned when a cut file has no Exact_cut_for section.
var ErrNoCutSection = errors.New("axona: cut file has no Exact_cut_for section")

// Cut is a decoded cluster cut file: one cluster id per spike, in spike
// order. Cluster 0 holds unassigned (noise) spikes.
type Cut struct {
	Clusters []int
}

// MaxCluster returns the highest cluster id, or -1 for an empty cut.
func (c *Cut) MaxCluster() int {
	m := -1
	for _, v := range c.Clusters {
		if v > m {
			m = v
		}
	}
	return m
}

// ReadCut decodes the cluster ids that follow the Exact_cut_for line.
func ReadCut(r io.Reader) (*Cut, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	found := false
	var clusters []int
	for sc.Scan() {
		line := sc.Text()
		if !found {
			if strings.Contains(line, "Exact_cut") {
				found = true
			}
			continue
		}
		for _, tok := range strings.Fields(line) {
			v, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("read cut: bad cluster id %q: %w", tok, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("read cut: negative cluster id %d", v)
			}
			clusters = append(clusters, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cut: %w", err)
	}
	if !found {
		return nil, ErrNoCutSection
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("read cut: no cluster ids after Exact_cut_for")
	}
	return &Cut{Clusters: clusters}, nil
}

// WriteCut encodes c with a minimal header. name is the recording name
// written on the Exact_cut_for line.
func WriteCut(w io.Writer, name string, c *Cut) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "n_clusters: %d\n", c.MaxCluster()+1)
	fmt.Fprintf(bw, "n_channels: %d\n", ChannelsPerTetrode)
	fmt.Fprintf(bw, "n_params: 2\n")
	fmt.Fprintf(bw, "Exact_cut_for: %s spikes: %d\n", name, len(c.Clusters))
	for i, v := range c.Clusters {
		if i > 0 {
			if i%25 == 0 {
				bw.WriteByte('\n')
			} else {
				bw.WriteByte(' ')
			}
		}
		bw.WriteString(strconv.Itoa(v))
	}
	bw.WriteByte('\n')
	return bw.Flush()
}
