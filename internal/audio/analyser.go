package audio

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"withvoice/internal/ports"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8

	minDecibels = -100.0
	maxDecibels = -30.0
)

// SpectrumAnalysers opens frequency analysers on live PCM streams.
type SpectrumAnalysers struct {
	FFTSize   int
	Smoothing float64
}

func NewSpectrumAnalysers(fftSize int, smoothing float64) *SpectrumAnalysers {
	if fftSize < 32 {
		fftSize = DefaultFFTSize
	}
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	return &SpectrumAnalysers{FFTSize: fftSize, Smoothing: smoothing}
}

func (f *SpectrumAnalysers) Open(stream ports.AudioStream) (ports.Analyser, error) {
	pcm, unsubscribe := stream.Subscribe(0)
	a := newSpectrumAnalyser(f.FFTSize, f.Smoothing, stream.Format().Channels)
	a.unsubscribe = unsubscribe
	a.done = make(chan struct{})
	go a.consume(pcm)
	return a, nil
}

// SpectrumAnalyser keeps the latest window of samples and computes byte
// magnitudes on demand, in the style of a browser AnalyserNode.
type SpectrumAnalyser struct {
	fft       *fourier.FFT
	size      int
	smoothing float64
	channels  int

	mu       sync.Mutex
	samples  []float64
	next     int
	previous []float64

	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

func newSpectrumAnalyser(size int, smoothing float64, channels int) *SpectrumAnalyser {
	if channels <= 0 {
		channels = 1
	}
	return &SpectrumAnalyser{
		fft:       fourier.NewFFT(size),
		size:      size,
		smoothing: smoothing,
		channels:  channels,
		samples:   make([]float64, size),
		previous:  make([]float64, size/2),
	}
}

func (a *SpectrumAnalyser) consume(pcm <-chan []byte) {
	defer close(a.done)
	for chunk := range pcm {
		a.write(chunk)
	}
}

// write appends interleaved s16le frames, mixed down to mono.
func (a *SpectrumAnalyser) write(chunk []byte) {
	frameBytes := 2 * a.channels
	a.mu.Lock()
	defer a.mu.Unlock()
	for off := 0; off+frameBytes <= len(chunk); off += frameBytes {
		var sum float64
		for ch := 0; ch < a.channels; ch++ {
			sample := int16(binary.LittleEndian.Uint16(chunk[off+2*ch:]))
			sum += float64(sample) / 32768
		}
		a.samples[a.next] = sum / float64(a.channels)
		a.next = (a.next + 1) % a.size
	}
}

// FrequencySnapshot returns size/2 bins scaled from [-100dB, -30dB] to
// [0, 255]. Each call advances the temporal smoothing.
func (a *SpectrumAnalyser) FrequencySnapshot() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := make([]float64, 0, a.size)
	frame = append(frame, a.samples[a.next:]...)
	frame = append(frame, a.samples[:a.next]...)
	frame = window.Blackman(frame)
	coeffs := a.fft.Coefficients(nil, frame)

	out := make([]byte, a.size/2)
	for k := range out {
		magnitude := cmplx.Abs(coeffs[k]) / float64(a.size)
		smoothed := a.smoothing*a.previous[k] + (1-a.smoothing)*magnitude
		if math.IsNaN(smoothed) || math.IsInf(smoothed, 0) {
			smoothed = 0
		}
		a.previous[k] = smoothed
		out[k] = decibelsToByte(20 * math.Log10(smoothed))
	}
	return out
}

func decibelsToByte(db float64) byte {
	if math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	scaled := 255 / (maxDecibels - minDecibels) * (db - minDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}

func (a *SpectrumAnalyser) Close() error {
	a.closeOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		if a.done != nil {
			<-a.done
		}
	})
	return nil
}
