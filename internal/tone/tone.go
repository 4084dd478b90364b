// Package tone renders and plays the short two-note cue used for urgent
// notifications.
package tone

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

const (
	// DefaultSampleRate is used when callers pass a non-positive rate.
	DefaultSampleRate = 22050

	firstFreq   = 800.0
	secondFreq  = 600.0
	switchAt    = 0.1 // seconds
	duration    = 0.2 // seconds
	startGain   = 0.3
	endGain     = 0.01
	bitsPerSamp = 16
)

// Synthesize renders the cue as mono 16-bit PCM: 800 Hz, switching to
// 600 Hz after 0.1s, with gain falling exponentially from 0.3 to 0.01 over
// 0.2s.
func Synthesize(sampleRate int) []int16 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	n := int(duration * float64(sampleRate))
	samples := make([]int16, n)
	phase := 0.0
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		freq := firstFreq
		if t >= switchAt {
			freq = secondFreq
		}
		gain := startGain * math.Pow(endGain/startGain, t/duration)
		samples[i] = int16(math.Sin(phase) * gain * math.MaxInt16)
		// Phase accumulates so the frequency switch does not click
		phase += 2 * math.Pi * freq / float64(sampleRate)
	}
	return samples
}

// EncodeWAV writes samples as a mono 16-bit PCM WAV stream.
func EncodeWAV(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(samples) * 2)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		36 + dataSize,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),                // fmt chunk size
		uint16(1),                 // PCM
		uint16(1),                 // mono
		uint32(sampleRate),        // sample rate
		uint32(sampleRate * 2),    // byte rate
		uint16(2),                 // block align
		uint16(bitsPerSamp),       // bits per sample
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// WAV renders the cue and returns it encoded.
func WAV(sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, Synthesize(sampleRate), sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
