package axona

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
)

// MissingCoord marks a sample where the tracker lost the LED.
const MissingCoord = 1023

const (
	defaultPosBytesPerTimestamp = 4
	posBytesPerCoord            = 2
	// x1 y1 x2 y2 numpix1 numpix2 total_pix unused
	posCoordsPerRecord = 8
	defaultPosRate     = 50
)

// Position is a decoded position tracking file. Coordinates are raw camera
// pixels of LED 1; missing samples are NaN.
type Position struct {
	Header         *Header
	SampleRate     float64
	PixelsPerMetre float64
	X, Y, T        []float64
}

// Len returns the number of samples.
func (p *Position) Len() int { return len(p.X) }

// ReadPos decodes a position file. T is taken from each record's stamp
// divided by the header timebase; files that carry no stamps (all zero) get
// an evenly spaced time base from sample_rate instead.
func ReadPos(r io.Reader) (*Position, error) {
	hdr, body, err := splitBinary(r)
	if err != nil {
		return nil, fmt.Errorf("read pos: %w", err)
	}

	n, ok := hdr.Int("num_pos_samples")
	if !ok || n < 0 {
		return nil, fmt.Errorf("read pos: header field %q missing", "num_pos_samples")
	}
	rate, err := requirePositive(hdr, "sample_rate")
	if err != nil {
		return nil, fmt.Errorf("read pos: %w", err)
	}
	timebase := rate
	if tb, ok := hdr.Float("timebase"); ok && tb > 0 {
		timebase = tb
	}
	bpt := hdr.IntOr("bytes_per_timestamp", defaultPosBytesPerTimestamp)
	if bpt != 4 {
		return nil, fmt.Errorf("read pos: unsupported bytes_per_timestamp %d", bpt)
	}
	if bpc := hdr.IntOr("bytes_per_coord", posBytesPerCoord); bpc != posBytesPerCoord {
		return nil, fmt.Errorf("read pos: unsupported bytes_per_coord %d", bpc)
	}

	recSize := bpt + posCoordsPerRecord*posBytesPerCoord
	if n > len(body)/recSize {
		return nil, fmt.Errorf("read pos: %w: %d samples of %d bytes, have %d bytes",
			ErrTruncated, n, recSize, len(body))
	}

	p := &Position{
		Header:     hdr,
		SampleRate: rate,
		X:          make([]float64, n),
		Y:          make([]float64, n),
		T:          make([]float64, n),
	}
	if ppm, ok := hdr.Float("pixels_per_metre"); ok {
		p.PixelsPerMetre = ppm
	}

	stamped := false
	for i := 0; i < n; i++ {
		rec := body[i*recSize : (i+1)*recSize]
		stamp := binary.BigEndian.Uint32(rec[:bpt])
		if stamp != 0 {
			stamped = true
		}
		p.T[i] = float64(stamp) / timebase
		x := int16(binary.BigEndian.Uint16(rec[bpt:]))
		y := int16(binary.BigEndian.Uint16(rec[bpt+posBytesPerCoord:]))
		p.X[i] = coord(x)
		p.Y[i] = coord(y)
	}
	if !stamped {
		for i := range p.T {
			p.T[i] = float64(i) / rate
		}
	}
	return p, nil
}

func coord(v int16) float64 {
	if v == MissingCoord {
		return math.NaN()
	}
	return float64(v)
}

// WritePos encodes p in the layout ReadPos expects. NaN coordinates are
// written as MissingCoord.
func WritePos(w io.Writer, p *Position) error {
	rate := p.SampleRate
	if rate <= 0 {
		rate = defaultPosRate
	}
	hdr := cloneHeader(p.Header)
	hdr.Set("timebase", fmt.Sprintf("%d hz", int(rate)))
	hdr.Set("sample_rate", strconv.FormatFloat(rate, 'f', 1, 64)+" hz")
	hdr.Set("pos_format", "t,x1,y1,x2,y2,numpix1,numpix2")
	hdr.Set("bytes_per_timestamp", strconv.Itoa(defaultPosBytesPerTimestamp))
	hdr.Set("bytes_per_coord", strconv.Itoa(posBytesPerCoord))
	if p.PixelsPerMetre > 0 {
		hdr.Set("pixels_per_metre", strconv.FormatFloat(p.PixelsPerMetre, 'f', -1, 64))
	}
	hdr.Set("num_pos_samples", strconv.Itoa(len(p.X)))
	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	if _, err := io.WriteString(w, dataStart); err != nil {
		return err
	}

	rec := make([]byte, defaultPosBytesPerTimestamp+posCoordsPerRecord*posBytesPerCoord)
	for i := range p.X {
		clear(rec)
		var ts float64
		if i < len(p.T) {
			ts = p.T[i]
		} else {
			ts = float64(i) / rate
		}
		binary.BigEndian.PutUint32(rec, uint32(math.Round(ts*rate)))
		y := math.NaN()
		if i < len(p.Y) {
			y = p.Y[i]
		}
		binary.BigEndian.PutUint16(rec[4:], uint16(encodeCoord(p.X[i])))
		binary.BigEndian.PutUint16(rec[6:], uint16(encodeCoord(y)))
		// second LED absent
		binary.BigEndian.PutUint16(rec[8:], MissingCoord)
		binary.BigEndian.PutUint16(rec[10:], MissingCoord)
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, dataEnd+"\r\n")
	return err
}

func encodeCoord(v float64) int16 {
	if math.IsNaN(v) {
		return MissingCoord
	}
	return int16(math.Round(v))
}
