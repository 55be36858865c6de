// Package audio provides PCM helpers for the show audio pipeline: blob
// encoding for the wire, int16/float32 sample conversion, level metering,
// linear resampling and sequential per-speaker playback scheduling.
//
// All PCM in this package is little-endian signed 16-bit unless a function
// says otherwise. Microphone capture is 16 kHz mono; model output is 24 kHz
// mono.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// InputSampleRate is the sample rate expected by the remote models for
	// microphone input.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of model-produced audio.
	OutputSampleRate = 24000

	// InputMIMEType is the MIME type attached to outbound microphone chunks.
	InputMIMEType = "audio/pcm;rate=16000"
)

// Blob is a MIME-typed, base64-encoded audio chunk as it travels on the wire.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// EncodeBlob wraps raw PCM bytes into a wire Blob with the given MIME type.
func EncodeBlob(pcm []byte, mimeType string) Blob {
	return Blob{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// DecodeBlob decodes a wire Blob back into raw PCM bytes.
func DecodeBlob(b Blob) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode blob: %w", err)
	}
	return data, nil
}

// BlobSampleRate extracts the rate parameter from a PCM MIME type like
// "audio/pcm;rate=24000". It returns fallback when the parameter is absent
// or malformed.
func BlobSampleRate(mimeType string, fallback int) int {
	_, params, ok := strings.Cut(mimeType, ";")
	if !ok {
		return fallback
	}
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || k != "rate" {
			continue
		}
		rate := 0
		if _, err := fmt.Sscanf(v, "%d", &rate); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

// BytesToFloat32 converts little-endian int16 PCM to float32 samples
// normalized to [-1, 1).
func BytesToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToBytes converts normalized float32 samples to little-endian int16
// PCM, clamping to the int16 range.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := f * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Peak returns the maximum absolute sample value in the chunk, normalized to
// [0, 1]. An empty chunk returns 0.
func Peak(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(pcm[i]) | int16(pcm[i+1])<<8)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768
}

// RMS returns the root-mean-square level of the chunk, normalized to [0, 1].
// An empty chunk returns 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768
}

// Duration returns the playback duration in seconds of a mono int16 PCM
// chunk at the given sample rate.
func Duration(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(pcm)/2) / float64(sampleRate)
}
