package encoding

import "math"

// Outcome is the result of a finished conversion. OutputSize is meaningful
// only when Success is true and ErrorMessage only when it is false.
type Outcome struct {
	Success      bool
	OutputSize   int64
	ErrorMessage string
}

// Succeeded builds a successful outcome.
func Succeeded(outputSize int64) Outcome {
	return Outcome{Success: true, OutputSize: outputSize}
}

// Failed builds a failed outcome.
func Failed(message string) Outcome {
	if message == "" {
		message = "conversion failed"
	}
	return Outcome{ErrorMessage: message}
}

// ProgressSink receives integer progress percentages in non-decreasing order.
type ProgressSink func(percent int)

// NormalizePercent clamps an executor percentage to [0,100] and rounds half
// up. NaN maps to 0.
func NormalizePercent(value float64) int {
	if math.IsNaN(value) || value <= 0 {
		return 0
	}
	if value >= 100 {
		return 100
	}
	return int(math.Floor(value + 0.5))
}
