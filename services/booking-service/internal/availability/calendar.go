package availability

import "time"

// Cell is one day of a rendered month: whether it can be selected for a new
// booking and, if covered by a record, why not.
type Cell struct {
	Date        time.Time
	Unavailable bool
	Kind        Kind
}

// MonthGrid projects the snapshot onto every day of the given month, in
// order. Pure read view; past days come back unavailable with KindAvailable
// since no future-relevant record covers them.
func MonthGrid(ix *Index, year int, month time.Month) []Cell {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	cells := make([]Cell, 0, 31)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		cells = append(cells, Cell{
			Date:        d,
			Unavailable: ix.IsDateUnavailable(d),
			Kind:        ix.Classify(d),
		})
	}
	return cells
}

// selectableHorizon caps how far SelectableRange extends when nothing is
// booked after the anchor date.
const selectableHorizon = 365

// SelectableRange returns the maximal interval starting at from that contains
// no unavailable day, clamping an in-progress range selection so the UI
// cannot drag across a conflict. ok is false when from itself is unavailable.
func SelectableRange(ix *Index, from time.Time) (DateInterval, bool) {
	start := Day(from)
	if ix.IsDateUnavailable(start) {
		return DateInterval{}, false
	}

	end := start.AddDate(0, 0, selectableHorizon)
	for _, r := range ix.Records() {
		if r.Interval.Start.After(start) && r.Interval.Start.AddDate(0, 0, -1).Before(end) {
			end = r.Interval.Start.AddDate(0, 0, -1)
		}
	}
	return DateInterval{Start: start, End: end}, true
}
