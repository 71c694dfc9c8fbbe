package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/netbuild/internal/tensor"
)

// SincConv is the SincNet first layer: a 1D convolution whose filters are
// parameterised band-pass filters over a raw waveform.
//
// Each output channel learns only a low cutoff and a bandwidth. Cutoffs
// start evenly spaced on the mel scale between 30 Hz and
// sample_rate/2 - (min_low_hz + min_band_hz). The ideal band-pass response
// (difference of two sinc functions) is shaped by a Hamming window.
//
// Input: [batch, 1, time]. Output: [batch, out_channels, (time - k) / stride + 1].
// The kernel size is always odd; even sizes are increased by one.
type SincConv[B tensor.Backend] struct {
	outChannels int
	kernelSize  int
	sampleRate  float64
	minLowHz    float64
	minBandHz   float64

	lowHz  *Parameter[B] // [out, 1]
	bandHz *Parameter[B] // [out, 1]

	window []float64 // left half of the Hamming window
	n      []float64 // 2*pi*t/sample_rate for t = -(k-1)/2 .. -1

	conv *Conv1D[B]
}

// SincNet filter bank constants.
const (
	SincMinLowHz  = 50.0
	SincMinBandHz = 50.0
	sincInitLowHz = 30.0
)

// SincKernelSize returns the kernel size SincConv actually uses.
func SincKernelSize(kernel int) int {
	return kernel | 1
}

// NewSincConv creates a SincNet convolution. inChannels must be 1.
func NewSincConv[B tensor.Backend](inChannels, outChannels, kernel, stride int, sampleRate float64, backend B) *SincConv[B] {
	if inChannels != 1 {
		panic(fmt.Sprintf("sincconv: only one input channel is supported, got %d", inChannels))
	}
	if outChannels <= 0 || kernel <= 0 || sampleRate <= 0 {
		panic(fmt.Sprintf("sincconv: invalid out_channels=%d kernel=%d sample_rate=%g", outChannels, kernel, sampleRate))
	}
	k := SincKernelSize(kernel)
	s := &SincConv[B]{
		outChannels: outChannels,
		kernelSize:  k,
		sampleRate:  sampleRate,
		minLowHz:    SincMinLowHz,
		minBandHz:   SincMinBandHz,
		conv:        NewConv1D(1, outChannels, k, stride, 0, 1, false, backend),
	}

	highHz := sampleRate/2 - (s.minLowHz + s.minBandHz)
	hz := linspace(toMel(sincInitLowHz), toMel(highHz), outChannels+1)
	for i := range hz {
		hz[i] = toHz(hz[i])
	}
	low := tensor.Zeros(tensor.Shape{outChannels, 1}, backend)
	band := tensor.Zeros(tensor.Shape{outChannels, 1}, backend)
	for i := 0; i < outChannels; i++ {
		low.Data()[i] = float32(hz[i])
		band.Data()[i] = float32(hz[i+1] - hz[i])
	}
	s.lowHz = NewParameter("low_hz_", low)
	s.bandHz = NewParameter("band_hz_", band)

	half := k / 2
	s.window = make([]float64, half)
	nLin := linspace(0, float64(k)/2-1, half)
	for i, v := range nLin {
		s.window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*v/float64(k))
	}
	s.n = make([]float64, half)
	for i := range s.n {
		t := -float64(k-1)/2 + float64(i)
		s.n[i] = 2 * math.Pi * t / sampleRate
	}
	return s
}

func toMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func toHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

func linspace(start, stop float64, steps int) []float64 {
	out := make([]float64, steps)
	if steps == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(steps-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Filters computes the current band-pass filters as [out, 1, 1, kernel].
func (s *SincConv[B]) Filters() *tensor.Tensor[B] {
	k, half := s.kernelSize, s.kernelSize/2
	filters := tensor.Zeros(tensor.Shape{s.outChannels, 1, 1, k}, s.conv.conv.backend)
	data := filters.Data()
	lowData, bandData := s.lowHz.Tensor().Data(), s.bandHz.Tensor().Data()

	for c := 0; c < s.outChannels; c++ {
		low := s.minLowHz + math.Abs(float64(lowData[c]))
		high := low + s.minBandHz + math.Abs(float64(bandData[c]))
		high = min(max(high, s.minLowHz), s.sampleRate/2)
		band := high - low

		row := data[c*k : (c+1)*k]
		for i := 0; i < half; i++ {
			left := (math.Sin(high*s.n[i]) - math.Sin(low*s.n[i])) / (s.n[i] / 2) * s.window[i]
			row[i] = float32(left / (2 * band))
			row[k-1-i] = row[i]
		}
		row[half] = 1
	}
	return filters
}

// Forward convolves a [N, 1, T] waveform with the band-pass filters.
func (s *SincConv[B]) Forward(input *tensor.Tensor[B]) *tensor.Tensor[B] {
	shape := input.Shape()
	if len(shape) != 3 || shape[1] != 1 {
		panic(fmt.Sprintf("sincconv: expected input [N,1,T], got %v", shape))
	}
	return s.conv.forwardWith(input, s.Filters())
}

// Parameters returns [low_hz_, band_hz_].
func (s *SincConv[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{s.lowHz, s.bandHz}
}

// KernelSize returns the effective (odd) kernel size.
func (s *SincConv[B]) KernelSize() int { return s.kernelSize }
