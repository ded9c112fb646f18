package monitor

import (
	"math"

	"github.com/rewired-gh/guardian/internal/models"
)

// Decision-table thresholds for rhythm classification.
const (
	tachycardiaBPM         = 100
	criticalTachycardiaBPM = 120
	bradycardiaBPM         = 60
	criticalBradycardiaBPM = 50
	arrhythmiaVariability  = 50.0
)

// RRVariability returns the mean absolute successive difference of R-R intervals
// (milliseconds). Fewer than two intervals yield 0.
func RRVariability(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}

	var sum float64
	for i := 1; i < len(intervals); i++ {
		sum += math.Abs(intervals[i] - intervals[i-1])
	}
	return sum / float64(len(intervals)-1)
}

// RhythmAnalysis is the output of ClassifyRhythm
type RhythmAnalysis struct {
	Rhythm     models.Rhythm
	Critical   bool
	Confidence float64
}

// ClassifyRhythm applies the heart-rate / variability decision table:
//
//	HR > 100            → Sinus Tachycardia (critical above 120)
//	HR < 60             → Sinus Bradycardia (critical below 50)
//	variability > 50 ms → Possible Arrhythmia (always critical)
//	otherwise           → Normal Sinus Rhythm
//
// Confidence is cosmetic: a clamped linear function of how far the input sits past
// the threshold that selected the class. It is not derived from signal quality.
func ClassifyRhythm(heartRate int, variability float64) RhythmAnalysis {
	hr := float64(heartRate)
	switch {
	case heartRate > tachycardiaBPM:
		return RhythmAnalysis{
			Rhythm:     models.RhythmSinusTachycardia,
			Critical:   heartRate > criticalTachycardiaBPM,
			Confidence: clamp(0.80+(hr-tachycardiaBPM)/100, 0.80, 0.98),
		}
	case heartRate < bradycardiaBPM:
		return RhythmAnalysis{
			Rhythm:     models.RhythmSinusBradycardia,
			Critical:   heartRate < criticalBradycardiaBPM,
			Confidence: clamp(0.80+(bradycardiaBPM-hr)/50, 0.80, 0.98),
		}
	case variability > arrhythmiaVariability:
		return RhythmAnalysis{
			Rhythm:     models.RhythmPossibleArrhythmia,
			Critical:   true,
			Confidence: clamp(0.60+(variability-arrhythmiaVariability)/100, 0.60, 0.95),
		}
	default:
		return RhythmAnalysis{
			Rhythm:     models.RhythmNormalSinus,
			Critical:   false,
			Confidence: clamp(1.0-variability/100, 0.75, 1.0),
		}
	}
}

// severity measures how far past its class threshold an alert sits, in bpm for
// rate-based rhythms and milliseconds for irregular rhythm.
func severity(rhythm models.Rhythm, heartRate int, variability float64) float64 {
	switch rhythm {
	case models.RhythmSinusTachycardia:
		return float64(heartRate - tachycardiaBPM)
	case models.RhythmSinusBradycardia:
		return float64(bradycardiaBPM - heartRate)
	case models.RhythmPossibleArrhythmia:
		return variability - arrhythmiaVariability
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
