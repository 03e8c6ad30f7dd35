// Package anomaly is the advisory statistical detector: pure ratio and
// counter checks against rolling baselines, with every finding appended
// to a line-oriented log. It observes and never blocks.
package anomaly

import "fmt"

// Detection types.
const (
	TypeTokenExplosion     = "token_explosion"
	TypeDurationSpike      = "duration_spike"
	TypeRepeatedFailure    = "repeated_failure"
	TypeLoopRisk           = "loop_risk"
	TypeResourceExhaustion = "resource_exhaustion"
)

// Severities. Warnings are logged but not counted as detections.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Detection is the outcome of one pure detector.
type Detection struct {
	Type     string  `json:"type"`
	Detected bool    `json:"detected"`
	Severity string  `json:"severity,omitempty"`
	Value    float64 `json:"value,omitempty"`
	Baseline float64 `json:"baseline,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// notable reports whether the detection belongs in the anomaly log.
func (d Detection) notable() bool {
	return d.Detected || d.Severity == SeverityWarning
}

// DetectTokenExplosion flags a token count exceeding multiplier times
// the rolling average. A zero average (empty history) never detects.
func DetectTokenExplosion(current, average, multiplier float64) Detection {
	d := Detection{Type: TypeTokenExplosion, Value: current, Baseline: average}
	if average <= 0 {
		return d
	}
	if current/average > multiplier {
		d.Detected = true
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("token usage %.0f is %.1fx the rolling average %.0f", current, current/average, average)
	}
	return d
}

// DetectDurationSpike is the same ratio test over execution time.
func DetectDurationSpike(current, average, multiplier float64) Detection {
	d := Detection{Type: TypeDurationSpike, Value: current, Baseline: average}
	if average <= 0 {
		return d
	}
	if current/average > multiplier {
		d.Detected = true
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("duration %.2fs is %.1fx the rolling average %.2fs", current, current/average, average)
	}
	return d
}

// DetectRepeatedFailure flags a tool whose consecutive-failure count
// has reached the threshold.
func DetectRepeatedFailure(tool string, count, threshold int) Detection {
	d := Detection{Type: TypeRepeatedFailure, Value: float64(count), Baseline: float64(threshold)}
	if count >= threshold {
		d.Detected = true
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("tool %s failed %d times in a row", tool, count)
	}
	return d
}

// DetectLoopRisk flags a prompt whose fingerprint was already seen at
// least threshold times before this observation.
func DetectLoopRisk(priorCount, threshold int) Detection {
	d := Detection{Type: TypeLoopRisk, Value: float64(priorCount), Baseline: float64(threshold)}
	if priorCount >= threshold {
		d.Detected = true
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("identical prompt seen %d times before, likely a loop", priorCount)
	}
	return d
}

// DetectResourcePressure flags high memory utilisation: 90% of total
// is critical, 80% a warning.
func DetectResourcePressure(usedRatio float64) Detection {
	d := Detection{Type: TypeResourceExhaustion, Value: usedRatio}
	switch {
	case usedRatio >= 0.90:
		d.Detected = true
		d.Severity = SeverityCritical
		d.Message = fmt.Sprintf("memory utilisation at %.0f%%", usedRatio*100)
	case usedRatio >= 0.80:
		d.Severity = SeverityWarning
		d.Message = fmt.Sprintf("memory utilisation at %.0f%%", usedRatio*100)
	}
	return d
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
