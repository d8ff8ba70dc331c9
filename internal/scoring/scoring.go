// Package scoring derives composite index scores and classifies them into the
// bands used by the map legend.
package scoring

import (
	"math"

	"github.com/ngirimana/finindex/internal/domain"
)

// Precision is the number of decimals kept on derived scores.
const Precision = 2

// Derive returns the mean of the three sub-scores rounded to Precision decimals.
func Derive(literacy, digital, investment float64) float64 {
	return Round((literacy+digital+investment)/3, Precision)
}

// DeriveRecord computes the final score of a client-constructed record. It
// returns nil when any sub-score is missing.
func DeriveRecord(r domain.CountryRecord) *float64 {
	if r.LiteracyRate == nil || r.DigitalInfrastructure == nil || r.Investment == nil {
		return nil
	}
	return domain.Float(Derive(*r.LiteracyRate, *r.DigitalInfrastructure, *r.Investment))
}

// Round rounds half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Band is one step of the score legend.
type Band struct {
	Label string `json:"label"`
	Min   int    `json:"min"`
	Color string `json:"color"`
}

var bands = []Band{
	{Label: "Excellent", Min: 90, Color: "#065f46"},
	{Label: "Very High", Min: 80, Color: "#10b981"},
	{Label: "High", Min: 70, Color: "#34d399"},
	{Label: "Medium", Min: 60, Color: "#f59e0b"},
	{Label: "Below Medium", Min: 50, Color: "#fb923c"},
	{Label: "Low", Min: 40, Color: "#ef4444"},
	{Label: "Very Low", Min: 30, Color: "#991b1b"},
	{Label: "Extremely Low", Min: math.MinInt32, Color: "#6b7280"},
}

// NoData is reported for countries without a score.
var NoData = Band{Label: "No Data", Min: -1, Color: "#e5e7eb"}

// Classify returns the legend band for a score.
func Classify(score *float64) Band {
	if score == nil || math.IsNaN(*score) {
		return NoData
	}
	for _, b := range bands {
		if *score >= float64(b.Min) {
			return b
		}
	}
	return bands[len(bands)-1]
}

// Bands lists the legend from highest to lowest.
func Bands() []Band {
	return append([]Band(nil), bands...)
}
