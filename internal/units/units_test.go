package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	for _, u := range []string{CMS, MPS} {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false, want true", u)
		}
	}
	for _, u := range []string{"", "mph", "CMS"} {
		if IsValid(u) {
			t.Errorf("IsValid(%q) = true, want false", u)
		}
	}
	if got := GetValidUnitsString(); got != "cms, mps" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		in   float64
		unit string
		want float64
	}{
		{250, CMS, 250},
		{250, MPS, 2.5},
		{250, "unknown", 250},
	}
	for _, tt := range tests {
		if got := ConvertSpeed(tt.in, tt.unit); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ConvertSpeed(%v, %q) = %v, want %v", tt.in, tt.unit, got, tt.want)
		}
	}
}

func TestConvertSpeeds(t *testing.T) {
	v := []float64{100, 50}
	ConvertSpeeds(v, MPS)
	if v[0] != 1 || v[1] != 0.5 {
		t.Errorf("ConvertSpeeds to mps = %v", v)
	}
	w := []float64{100}
	if ConvertSpeeds(w, CMS)[0] != 100 {
		t.Error("cms should be a no-op")
	}
	if Label(MPS) != "m/s" || Label(CMS) != "cm/s" {
		t.Error("unexpected labels")
	}
}
