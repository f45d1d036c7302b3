package rag

import "fmt"

// Badge maps an average quality score to a human-readable badge.
func Badge(scores map[string]float64) string {
	avg := scores["average"]
	switch {
	case avg >= 0.90:
		return "🟢 Excellent"
	case avg >= 0.80:
		return "🟢 Good"
	case avg >= 0.70:
		return "🟡 Acceptable"
	case avg >= 0.60:
		return "🟡 Needs Improvement"
	default:
		return "🔴 Poor"
	}
}

// DetailedAnalysis grades each individual metric.
func DetailedAnalysis(scores map[string]float64) map[string]string {
	analysis := make(map[string]string, len(scores))
	for metric, score := range scores {
		if metric == "average" {
			continue
		}
		var level string
		switch {
		case score >= 0.90:
			level = "Excellent"
		case score >= 0.80:
			level = "Good"
		case score >= 0.70:
			level = "Acceptable"
		case score >= 0.60:
			level = "Needs Improvement"
		default:
			level = "Poor"
		}
		analysis[metric] = fmt.Sprintf("%s (%.2f)", level, score)
	}
	return analysis
}
