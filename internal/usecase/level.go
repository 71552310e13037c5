package usecase

import "math"

const (
	maxBinValue = 255
	levelGain   = 1.5
)

// audioLevel turns a byte frequency snapshot into a 0-100 loudness hint.
// It is the mean bin value scaled with a fixed gain, not a calibrated level.
func audioLevel(snapshot []byte) int {
	if len(snapshot) == 0 {
		return 0
	}
	sum := 0
	for _, bin := range snapshot {
		sum += int(bin)
	}
	average := float64(sum) / float64(len(snapshot))
	level := math.Round(average / maxBinValue * 100 * levelGain)
	if level > 100 {
		return 100
	}
	return int(level)
}
