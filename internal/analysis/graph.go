package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// GraphType selects the predictor plotted against firing rate.
type GraphType int

const (
	// Rate regresses firing rate on time.
	Rate GraphType = iota
	// RateVsSpeed regresses firing rate on running speed.
	RateVsSpeed
)

// ErrUnknownGraph is returned by ParseGraphType for unknown names.
var ErrUnknownGraph = errors.New("analysis: unknown graph type")

var graphNames = [...]string{
	Rate:        "Rate",
	RateVsSpeed: "Rate_vs_Speed",
}

// GraphTypes lists every graph type in display order.
func GraphTypes() []GraphType { return []GraphType{Rate, RateVsSpeed} }

func (g GraphType) String() string {
	if g < 0 || int(g) >= len(graphNames) {
		return fmt.Sprintf("GraphType(%d)", int(g))
	}
	return graphNames[g]
}

// Slug is the graph name used in file names.
func (g GraphType) Slug() string {
	return strings.ReplaceAll(strings.ToLower(g.String()), "_", "-")
}

// ParseGraphType accepts "Rate" and "Rate_vs_Speed" in any case, with
// hyphens or underscores.
func ParseGraphType(s string) (GraphType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, g := range GraphTypes() {
		if g.Slug() == norm {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGraph, s)
}

func (g GraphType) MarshalText() ([]byte, error) {
	if g < 0 || int(g) >= len(graphNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGraph, int(g))
	}
	return []byte(g.String()), nil
}

func (g *GraphType) UnmarshalText(b []byte) error {
	v, err := ParseGraphType(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}
