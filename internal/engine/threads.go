package engine

// Performance modes trade transcription speed for CPU load.
const (
	ModeEfficiency  = "efficiency"
	ModeBalanced    = "balanced"
	ModePerformance = "performance"
)

var modeMultipliers = map[string]float64{
	ModeEfficiency:  0.25,
	ModeBalanced:    0.5,
	ModePerformance: 1.0,
}

// ThreadCount returns the decoder thread count for a performance mode on a
// machine with cpus cores. Unknown modes use half the cores, at least two.
func ThreadCount(mode string, cpus int) int {
	if cpus <= 0 {
		cpus = 4
	}
	mult, ok := modeMultipliers[mode]
	if !ok {
		return max(2, cpus/2)
	}
	return min(max(1, int(float64(cpus)*mult)), cpus)
}
