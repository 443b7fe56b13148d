package engine

import (
	"math"
	"time"

	"github.com/pillpal/pillpald/internal/timeutil"
)

// ComputeRisk builds the adherence snapshot for one pass: the trailing 7-day
// adherence score, its risk bucket, and the week-over-week trend. Total over
// any well-formed dose list, including the empty one (score 0, bucket high,
// trend 0).
func ComputeRisk(doses []Dose, now time.Time) RiskSnapshot {
	weekStart, _ := timeutil.RollingWindow(now, 7)

	// An empty week has no defined rate; score it zero, which lands in the
	// high bucket so a silent week surfaces rather than hides.
	rate7, _ := adherenceRate(doses, weekStart, now)

	score := int(math.Round(rate7 * 100))

	prevEnd := weekStart.Add(-time.Nanosecond)
	prevStart := weekStart.AddDate(0, 0, -7)

	trend := 0
	if prevRate, ok := adherenceRate(doses, prevStart, prevEnd); ok {
		trend = score - int(math.Round(prevRate*100))
	}

	return RiskSnapshot{
		Score:  score,
		Bucket: bucketFor(score),
		Trend:  trend,
	}
}

// adherenceRate is taken/total over doses scheduled in [start, end]. The
// second return is false when the window holds no doses; the rate is
// undefined there and callers pick a fallback.
func adherenceRate(doses []Dose, start, end time.Time) (float64, bool) {
	total, taken := 0, 0
	for _, d := range doses {
		if !timeutil.Within(d.ScheduledAt, start, end) {
			continue
		}
		total++
		if d.Status == DoseTaken {
			taken++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(taken) / float64(total), true
}

func bucketFor(score int) RiskBucket {
	switch {
	case score >= 80:
		return RiskLow
	case score >= 50:
		return RiskMedium
	default:
		return RiskHigh
	}
}
