package anomaly

// Level is a risk band.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelColors = map[Level]string{
	LevelLow:      "#16a34a",
	LevelMedium:   "#ca8a04",
	LevelHigh:     "#ea580c",
	LevelCritical: "#dc2626",
}

// Color is the fixed display color of the band.
func (l Level) Color() string { return levelColors[l] }

// HighVolumeThreshold is the mean daily volume above which the volume surcharge applies.
const HighVolumeThreshold = 100.0

// Risk is the scored summary of an actor's behavior.
type Risk struct {
	Score           int     `json:"score"`
	Level           Level   `json:"level"`
	Color           string  `json:"color"`
	AnomalyCount    int     `json:"anomalyCount"`
	MeanDailyVolume float64 `json:"meanDailyVolume"`
}

// LevelFor maps a score onto its band.
func LevelFor(score int) Level {
	switch {
	case score > 80:
		return LevelCritical
	case score > 50:
		return LevelHigh
	case score > 30:
		return LevelMedium
	default:
		return LevelLow
	}
}

// RiskScore is 10 per anomaly plus 20 when the mean daily volume exceeds highVolume.
// A non-positive highVolume selects HighVolumeThreshold.
func RiskScore(anomalyCount int, meanDailyVolume, highVolume float64) Risk {
	if highVolume <= 0 {
		highVolume = HighVolumeThreshold
	}
	score := 10 * anomalyCount
	if meanDailyVolume > highVolume {
		score += 20
	}
	level := LevelFor(score)
	return Risk{
		Score:           score,
		Level:           level,
		Color:           level.Color(),
		AnomalyCount:    anomalyCount,
		MeanDailyVolume: meanDailyVolume,
	}
}
