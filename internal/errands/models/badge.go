package models

// Criteria is a declarative predicate over UserStats. A zero threshold
// leaves that stat unconstrained.
type Criteria struct {
	Deliveries        int64   `json:"deliveries,omitempty"`
	FastDeliveries    int64   `json:"fast_deliveries,omitempty"`
	FoodDeliveries    int64   `json:"food_deliveries,omitempty"`
	NightDeliveries   int64   `json:"night_deliveries,omitempty"`
	WeekendDeliveries int64   `json:"weekend_deliveries,omitempty"`
	LeaderboardRank   int     `json:"leaderboard_rank,omitempty"`
	AvgRating         float64 `json:"avg_rating,omitempty"`
	MinDeliveries     int64   `json:"min_deliveries,omitempty"`
}

// SatisfiedBy reports whether s meets every constrained threshold
func (c Criteria) SatisfiedBy(s UserStats) bool {
	if c.IsZero() {
		return false
	}
	if s.Deliveries < c.Deliveries || s.Deliveries < c.MinDeliveries {
		return false
	}
	if s.FastDeliveries < c.FastDeliveries ||
		s.FoodDeliveries < c.FoodDeliveries ||
		s.NightDeliveries < c.NightDeliveries ||
		s.WeekendDeliveries < c.WeekendDeliveries {
		return false
	}
	if c.LeaderboardRank > 0 && (s.LeaderboardRank <= 0 || s.LeaderboardRank > c.LeaderboardRank) {
		return false
	}
	if c.AvgRating > 0 && (s.RatingCount == 0 || s.AvgRating < c.AvgRating) {
		return false
	}
	return true
}

// IsZero reports whether no threshold is set
func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// Badge is a static catalog entry
type Badge struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Criteria    Criteria `json:"criteria"`
}
