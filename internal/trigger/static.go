package trigger

import (
	"context"
	"time"
)

// StaticBindings serves a fixed binding list. Tests and dev mode use it.
type StaticBindings struct {
	Bindings []Binding
}

// ListForDay filters the static list by weekday.
func (s *StaticBindings) ListForDay(_ context.Context, day time.Weekday) ([]Binding, error) {
	var res []Binding
	for _, b := range s.Bindings {
		if b.DayOfWeek == day {
			res = append(res, b)
		}
	}
	return res, nil
}
