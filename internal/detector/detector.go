// Package detector describes the science detector geometry: eight channels
// of 1024 pixels each, laid out contiguously in one 8192-pixel array.
// Channel 2 is read out in the opposite direction, so calibration products
// store it reversed relative to the science data.
package detector

import "fmt"

const (
	Channels    = 8
	ChannelSize = 1024
	Pixels      = Channels * ChannelSize

	// FirstInfraChannel is the first channel with an infrared detector.
	// Channels below it get the memory-effect correction, the rest get
	// the non-linearity correction.
	FirstInfraChannel = 6

	// ReversedChannel is stored in reverse pixel order on disk.
	ReversedChannel = 2
)

// Range is an inclusive span of physical pixel indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Full covers every science pixel.
var Full = Range{Start: 0, End: Pixels - 1}

// Len returns the number of pixels in the range.
func (r Range) Len() int { return r.End - r.Start + 1 }

// Contains reports whether pixel lies inside the range.
func (r Range) Contains(pixel int) bool {
	return pixel >= r.Start && pixel <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// PixelRange returns the physical pixels of a channel. Channel 0 selects
// the whole detector. Any other value outside 1..Channels panics.
func PixelRange(channel int) Range {
	if channel == 0 {
		return Full
	}
	mustChannel(channel)
	return Range{
		Start: (channel - 1) * ChannelSize,
		End:   channel*ChannelSize - 1,
	}
}

// ChannelOf returns the 1-based channel that owns pixel.
func ChannelOf(pixel int) int {
	if pixel < 0 || pixel >= Pixels {
		panic(fmt.Sprintf("detector: pixel %d out of range", pixel))
	}
	return pixel/ChannelSize + 1
}

// IsInfrared reports whether the channel uses an infrared detector.
func IsInfrared(channel int) bool {
	mustChannel(channel)
	return channel >= FirstInfraChannel
}

// ReverseChannel reverses the pixels of one channel in place.
// buf must hold the full detector.
func ReverseChannel(buf []float64, channel int) {
	mustChannel(channel)
	if len(buf) != Pixels {
		panic(fmt.Sprintf("detector: buffer holds %d pixels, want %d", len(buf), Pixels))
	}
	r := PixelRange(channel)
	for i, j := r.Start, r.End; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}

// ReverseChannelTwo converts channel 2 between storage and physical order.
// Applying it twice is a no-op.
func ReverseChannelTwo(buf []float64) {
	ReverseChannel(buf, ReversedChannel)
}

// Mask zeroes every element of buf outside r.
func Mask(buf []float64, r Range) {
	for i := range buf {
		if !r.Contains(i) {
			buf[i] = 0
		}
	}
}

func mustChannel(channel int) {
	if channel < 1 || channel > Channels {
		panic(fmt.Sprintf("detector: channel %d out of range 1..%d", channel, Channels))
	}
}
