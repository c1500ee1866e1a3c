package playback

// Playback speed bounds and the cycling ladder. Speed is never carried
// over between episodes; every start resets to NormalSpeed.
const (
	MinSpeed    = 0.5
	MaxSpeed    = 2.5
	NormalSpeed = 1.0
)

// SpeedLadder holds the stops CycleSpeed advances through.
var SpeedLadder = []float64{0.75, 1, 1.25, 1.5, 1.75, 2}

// ClampSpeed clamps a requested rate into [MinSpeed, MaxSpeed].
func ClampSpeed(rate float64) float64 {
	if rate < MinSpeed {
		return MinSpeed
	}
	if rate > MaxSpeed {
		return MaxSpeed
	}
	return rate
}

// NextLadderSpeed returns the next ladder stop above the current rate,
// wrapping to the lowest stop past the top.
func NextLadderSpeed(current float64) float64 {
	for _, stop := range SpeedLadder {
		if stop > current {
			return stop
		}
	}
	return SpeedLadder[0]
}
