package entities

// Category describes how a zone's occupancy reacts to the time of day.
type Category string

const (
	CategorySocial   Category = "social"
	CategoryStudy    Category = "study"
	CategoryAcademic Category = "academic"
)

func (c Category) Valid() bool {
	switch c {
	case CategorySocial, CategoryStudy, CategoryAcademic:
		return true
	}
	return false
}

// Zone is a monitored physical area. Zones are loaded once and never mutated.
type Zone struct {
	ID          string   `json:"id"`       // stable key, e.g. "canteen"
	Name        string   `json:"name"`     // display name
	Capacity    int      `json:"capacity"` // approved head count
	BaseDensity float64  `json:"base"`     // typical head count at a neutral hour
	Category    Category `json:"category"`
}

// SafeCapacity is the capacity as a divisor, never below 1.
func (z Zone) SafeCapacity() float64 {
	if z.Capacity < 1 {
		return 1
	}
	return float64(z.Capacity)
}

// MaxDensity is the ceiling the estimator clamps to (150% of capacity).
func (z Zone) MaxDensity() float64 {
	return 1.5 * z.SafeCapacity()
}
