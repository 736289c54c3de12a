package metrics

// Metrics holds a subscriber's access activity for a time period.
type Metrics struct {
	completed   int
	denied      int
	uncommitted int
	units       int64
}

// New creates a Metrics snapshot.
func New(completed, denied, uncommitted int, units int64) Metrics {
	return Metrics{completed: completed, denied: denied, uncommitted: uncommitted, units: units}
}

// Completed returns the number of committed requests.
func (m Metrics) Completed() int { return m.completed }

// Denied returns the number of requests rejected before execution.
func (m Metrics) Denied() int { return m.denied }

// Uncommitted returns requests that executed but could not be debited.
func (m Metrics) Uncommitted() int { return m.uncommitted }

// Units returns quota units consumed by committed requests.
func (m Metrics) Units() int64 { return m.units }
