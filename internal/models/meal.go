// internal/models/meal.go
package models

import (
	"time"
)

// DayLayout is the calendar-date key used to bucket meals per day.
const DayLayout = "2006-01-02"

type MealRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Calories    int       `json:"calories"`
	RawReport   string    `json:"raw_report,omitempty"`
}

// Day returns the calendar date of the record in loc.
func (m MealRecord) Day(loc *time.Location) string {
	return m.Timestamp.In(loc).Format(DayLayout)
}

// EstimateItem is one line of a structured estimate.
type EstimateItem struct {
	Name    string  `json:"name"`
	WeightG float64 `json:"weight_g"`
	Kcal    int     `json:"kcal"`
}

// EstimateReport is the document the model returns in JSON mode.
type EstimateReport struct {
	Dish      string         `json:"dish,omitempty"`
	Items     []EstimateItem `json:"items"`
	TotalKcal *int           `json:"total_kcal"`
}

type Window string

const (
	WindowToday Window = "today"
	WindowWeek  Window = "trailing_7_days"
)

// WeekDays is the length of the trailing window and the divisor of its average.
const WeekDays = 7

type DayTotal struct {
	Day      string       `json:"day"`
	Calories int          `json:"calories"`
	Records  []MealRecord `json:"records"`
}

type Totals struct {
	Window  Window       `json:"window"`
	Sum     int          `json:"sum"`
	Average int          `json:"average"`
	Days    []DayTotal   `json:"days"`
	Records []MealRecord `json:"records"`
}
