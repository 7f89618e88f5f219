package audio

import (
	"math"
	"time"
)

// Silence returns d worth of zeroed interleaved samples.
func Silence(d time.Duration, channels, sampleRate int) []int16 {
	return make([]int16, framesIn(d, sampleRate)*channels)
}

// Tone returns a sine wave at freq Hz, identical on every channel. amplitude
// is relative to full scale and clamped to [0, 1].
func Tone(freq float64, amplitude float64, d time.Duration, channels, sampleRate int) []int16 {
	amplitude = max(0, min(amplitude, 1))
	frames := framesIn(d, sampleRate)
	samples := make([]int16, frames*channels)
	for i := range frames {
		v := int16(math.Round(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))))
		for ch := range channels {
			samples[i*channels+ch] = v
		}
	}
	return samples
}

func framesIn(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
