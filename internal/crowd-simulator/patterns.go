package crowd_simulator

import (
	"time"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
)

// weekendFactor scales the whole campus down on Saturday and Sunday.
const weekendFactor = 0.3

// TimeFactor is the campus-wide activity multiplier for an hour of the day.
func TimeFactor(hour int, weekday time.Weekday) float64 {
	f := 1.0
	switch {
	case hour < 7:
		f = 0.1
	case hour >= 9 && hour <= 10:
		f = 1.2
	case hour >= 12 && hour <= 14:
		f = 1.8
	case hour >= 16 && hour <= 17:
		f = 1.15
	case hour >= 18:
		f = 0.6
	}
	if weekday == time.Saturday || weekday == time.Sunday {
		f *= weekendFactor
	}
	return f
}

// CategoryModifier adds each zone category's own rhythm on top of TimeFactor.
func CategoryModifier(c entities.Category, hour, minute int) float64 {
	switch c {
	case entities.CategorySocial:
		if hour >= 12 && hour <= 14 {
			return 1.4
		}
	case entities.CategoryStudy:
		if hour >= 14 && hour < 18 {
			return 1.3
		}
	case entities.CategoryAcademic:
		// class changeover
		if hour >= 8 && hour < 18 && minute < 10 {
			return 1.1
		}
	}
	return 1.0
}

// FormulaTarget is the noise-free density a zone drifts toward at t.
func FormulaTarget(z entities.Zone, t time.Time) float64 {
	return z.BaseDensity * TimeFactor(t.Hour(), t.Weekday()) * CategoryModifier(z.Category, t.Hour(), t.Minute())
}
