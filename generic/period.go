package generic

import "fmt"

// =============================================================================
// WINDOW - Inclusive date range for forecasts and report filters
// =============================================================================

// Window is the closed interval [Start, End]. Both ends are inclusive so a
// forecast for December is simply Dec 1 - Dec 31.
type Window struct {
	Start TimePoint
	End   TimePoint
}

// NewWindow builds a window, rejecting one whose end precedes its start.
func NewWindow(start, end TimePoint) (Window, error) {
	w := Window{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate reports ErrInvalidWindow when End is before Start.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}
	return nil
}

// Contains returns true if the time point is within [Start, End].
func (w Window) Contains(t TimePoint) bool {
	return t.AfterOrEqual(w.Start) && t.BeforeOrEqual(w.End)
}

// String returns a string representation of the window.
func (w Window) String() string {
	return "[" + w.Start.String() + ", " + w.End.String() + "]"
}

// DaysFrom returns the window [from, from+days].
func DaysFrom(from TimePoint, days int) Window {
	return Window{Start: from, End: from.AddDays(days)}
}
