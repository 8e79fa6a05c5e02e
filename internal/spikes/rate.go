package spikes

import (
	"math"
	"sort"
)

// FiringRateVsTime bins a spike train into firing rates and places them on
// the position clock posT.
//
// Spikes are walked in order, accumulating elapsed time and spike count.
// Once the elapsed time exceeds windowMs, the bin's rate (count/elapsed) is
// emitted at the bin's mid-time and the counters reset. The first bin also
// counts its opening spike. The returned binTimes start with a zero entry
// whose rate is zero.
//
// rate has one entry per position sample: each bin's rate is written to the
// sample nearest its mid-time, later bins overwriting earlier ones, and all
// other samples are zero.
func FiringRateVsTime(spikeTimes, posT []float64, windowMs float64) (rate, binTimes []float64) {
	binRates := []float64{0}
	binTimes = []float64{0}

	window := windowMs / 1000
	elapsed := 0.0
	count := 1
	var start float64
	for i := 1; i < len(spikeTimes); i++ {
		if elapsed == 0 {
			start = spikeTimes[i-1]
		}
		elapsed += spikeTimes[i] - spikeTimes[i-1]
		count++
		if elapsed > window {
			end := start + elapsed
			binRates = append(binRates, float64(count)/elapsed)
			binTimes = append(binTimes, (start+end)/2)
			elapsed = 0
			count = 0
		}
	}

	rate = make([]float64, len(posT))
	if len(posT) == 0 {
		return rate, binTimes
	}
	for i, bt := range binTimes {
		rate[nearest(posT, bt)] = binRates[i]
	}
	return rate, binTimes
}

// nearest returns the index of the sample in ts closest to v. ts must be
// sorted ascending; ties go to the earlier sample.
func nearest(ts []float64, v float64) int {
	i := sort.SearchFloat64s(ts, v)
	switch {
	case i == 0:
		return 0
	case i == len(ts):
		return len(ts) - 1
	}
	if math.Abs(ts[i]-v) < math.Abs(v-ts[i-1]) {
		return i
	}
	return i - 1
}
