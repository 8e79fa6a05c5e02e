package axona

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ChannelsPerTetrode is fixed by the hardware.
const ChannelsPerTetrode = 4

// Tetrode spike file defaults, used when the header omits a field.
const (
	defaultBytesPerTimestamp = 4
	defaultSamplesPerSpike   = 50
	defaultBytesPerSample    = 1
	defaultSpikeTimebase     = 96000
)

const maxSamplesPerSpike = 1 << 16

// Tetrode is a decoded tetrode spike file.
type Tetrode struct {
	Header          *Header
	Timebase        float64
	SamplesPerSpike int
	// Times holds one timestamp per spike in seconds, taken from channel 1.
	Times []float64
	// Waveforms[ch][i] is the waveform of spike i on channel ch+1.
	Waveforms [ChannelsPerTetrode][][]int8
}

// NumSpikes returns the number of spikes in the file.
func (t *Tetrode) NumSpikes() int { return len(t.Times) }

// Duration returns the header duration in seconds, or the last spike time
// when the header has none.
func (t *Tetrode) Duration() float64 {
	if d, ok := t.Header.Float("duration"); ok {
		return d
	}
	if len(t.Times) == 0 {
		return 0
	}
	return t.Times[len(t.Times)-1]
}

// ReadTetrode decodes a tetrode spike file. Each spike is stored as four
// channel records of a big-endian timestamp followed by the waveform
// samples.
func ReadTetrode(r io.Reader) (*Tetrode, error) {
	hdr, body, err := splitBinary(r)
	if err != nil {
		return nil, fmt.Errorf("read tetrode: %w", err)
	}

	numSpikes, ok := hdr.Int("num_spikes")
	if !ok || numSpikes < 0 {
		return nil, fmt.Errorf("read tetrode: header field %q missing", "num_spikes")
	}
	timebase, err := requirePositive(hdr, "timebase")
	if err != nil {
		return nil, fmt.Errorf("read tetrode: %w", err)
	}
	bpt := hdr.IntOr("bytes_per_timestamp", defaultBytesPerTimestamp)
	sps := hdr.IntOr("samples_per_spike", defaultSamplesPerSpike)
	bps := hdr.IntOr("bytes_per_sample", defaultBytesPerSample)
	if bpt != 4 {
		return nil, fmt.Errorf("read tetrode: unsupported bytes_per_timestamp %d", bpt)
	}
	if bps != 1 {
		return nil, fmt.Errorf("read tetrode: unsupported bytes_per_sample %d", bps)
	}
	if sps <= 0 || sps > maxSamplesPerSpike {
		return nil, fmt.Errorf("read tetrode: invalid samples_per_spike %d", sps)
	}

	chanRecord := bpt + sps*bps
	spikeRecord := ChannelsPerTetrode * chanRecord
	// compare by division so a huge num_spikes cannot wrap the product
	if numSpikes > len(body)/spikeRecord {
		return nil, fmt.Errorf("read tetrode: %w: %d spikes of %d bytes, have %d bytes",
			ErrTruncated, numSpikes, spikeRecord, len(body))
	}

	t := &Tetrode{
		Header:          hdr,
		Timebase:        timebase,
		SamplesPerSpike: sps,
		Times:           make([]float64, numSpikes),
	}
	for ch := range t.Waveforms {
		t.Waveforms[ch] = make([][]int8, numSpikes)
	}

	for i := 0; i < numSpikes; i++ {
		rec := body[i*spikeRecord : (i+1)*spikeRecord]
		t.Times[i] = float64(binary.BigEndian.Uint32(rec[:bpt])) / timebase
		for ch := 0; ch < ChannelsPerTetrode; ch++ {
			samples := rec[ch*chanRecord+bpt : (ch+1)*chanRecord]
			wave := make([]int8, sps)
			for j, b := range samples {
				wave[j] = int8(b)
			}
			t.Waveforms[ch][i] = wave
		}
	}
	return t, nil
}

// WriteTetrode encodes t in the layout ReadTetrode expects. Missing
// waveforms are written as zeros; Timebase and SamplesPerSpike fall back to
// the hardware defaults when unset.
func WriteTetrode(w io.Writer, t *Tetrode) error {
	timebase := t.Timebase
	if timebase <= 0 {
		timebase = defaultSpikeTimebase
	}
	sps := t.SamplesPerSpike
	if sps <= 0 {
		sps = defaultSamplesPerSpike
	}

	hdr := cloneHeader(t.Header)
	hdr.Set("num_chans", strconv.Itoa(ChannelsPerTetrode))
	hdr.Set("timebase", fmt.Sprintf("%d hz", int(timebase)))
	hdr.Set("bytes_per_timestamp", strconv.Itoa(defaultBytesPerTimestamp))
	hdr.Set("samples_per_spike", strconv.Itoa(sps))
	hdr.Set("bytes_per_sample", strconv.Itoa(defaultBytesPerSample))
	hdr.Set("spike_format", "t,ch1,t2,ch2,t3,ch3,t4,ch4")
	hdr.Set("num_spikes", strconv.Itoa(len(t.Times)))
	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, dataStart); err != nil {
		return err
	}

	rec := make([]byte, defaultBytesPerTimestamp+sps)
	for i, ts := range t.Times {
		stamp := uint32(math.Round(ts * timebase))
		for ch := 0; ch < ChannelsPerTetrode; ch++ {
			clear(rec)
			binary.BigEndian.PutUint32(rec, stamp)
			if i < len(t.Waveforms[ch]) {
				for j, s := range t.Waveforms[ch][i] {
					if j >= sps {
						break
					}
					rec[defaultBytesPerTimestamp+j] = byte(s)
				}
			}
			if _, err := w.Write(rec); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, dataEnd+"\r\n")
	return err
}

func cloneHeader(h *Header) *Header {
	out := &Header{}
	if h != nil {
		out.Fields = append(out.Fields, h.Fields...)
	}
	return out
}
