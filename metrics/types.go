package metrics

// Policy defines how a recorded value is aggregated. It selects the
// underlying collector kind in Record.
type Policy int

const (
	PolicyNone      Policy = iota // No specific policy specified, recorded as a gauge
	PolicySet                     // Instantaneous value - last value wins
	PolicySum                     // Sum of all values
	PolicyStopwatch               // Timer - measures duration in seconds
	PolicyHistogram               // Distribution of values
)

func (p Policy) String() string {
	switch p {
	case PolicySet:
		return "set"
	case PolicySum:
		return "sum"
	case PolicyStopwatch:
		return "stopwatch"
	case PolicyHistogram:
		return "histogram"
	default:
		return "none"
	}
}

// Value represents a metric value as a float64.
type Value float64

// Dimension represents metric dimensions as key-value pairs, exported as
// Prometheus labels, e.g. {"transport": "tcp"}.
type Dimension map[string]string
