package model

// Room holds the measurement aggregates for a single physical room (§3).
// Valve is an aggregate with no leaves, so its value is always nil: the
// structure document exposes no control type that feeds it, so it is
// carried only for schema parity with the persistence side (§9 Design Notes).
type Room struct {
	ID                string
	Name              string
	Temperature       *Aggregate
	TemperatureTarget *Aggregate
	Humidity          *Aggregate
	Light             *Aggregate
	Shading           *Aggregate
	Valve             *Aggregate
	Ventilation       *Aggregate
	Presence          *Aggregate
}

// HasMeasurement reports whether at least one of the room's aggregates
// currently reduces to a non-nil value. Rooms with no measurement are
// excluded from a snapshot write (§6).
func (r *Room) HasMeasurement() bool {
	for _, a := range r.aggregates() {
		if a == nil {
			continue
		}
		if a.kind == AggregateOr || a.kind == AggregateAnd {
			if a.Bool() != nil {
				return true
			}
			continue
		}
		if a.Float() != nil {
			return true
		}
	}
	return false
}

func (r *Room) aggregates() []*Aggregate {
	return []*Aggregate{
		r.Temperature,
		r.TemperatureTarget,
		r.Humidity,
		r.Light,
		r.Shading,
		r.Valve,
		r.Ventilation,
		r.Presence,
	}
}
