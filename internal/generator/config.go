package generator

// Config drives the synthetic data generator.
type Config struct {
	FromYear int
	ToYear   int
	// Drift is the largest yearly change of a sub-score, in points.
	Drift float64
	Seed  int64
}

// DefaultConfig returns five years of data with a fixed seed.
func DefaultConfig() Config {
	return Config{
		FromYear: 2020,
		ToYear:   2024,
		Drift:    4,
		Seed:     42,
	}
}
