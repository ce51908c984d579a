// Package marker defines the records the stream driver publishes and the
// HTTP layer serves.
package marker

// Key is the cache key holding the full marker list.
const Key = "markers"

// Marker is an immutable record of a marker event's rising edge, timed on the
// encoded stream's virtual clock.
type Marker struct {
	Time float64 `json:"time" msgpack:"time"`
	Text string  `json:"text" msgpack:"text"`
}

// After returns the markers strictly later than ts, in order. Never nil.
func After(markers []Marker, ts float64) []Marker {
	out := make([]Marker, 0, len(markers))
	for _, m := range markers {
		if m.Time > ts {
			out = append(out, m)
		}
	}
	return out
}
