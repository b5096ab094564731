package generic

// =============================================================================
// PERIOD - Inclusive date window used by schedules and scans
// =============================================================================

// Period is the closed interval [Start, End].
//
// Examples:
//   - Contract term: 2025-01-15 .. 2025-12-31
//   - Due-soon lookahead: today .. today+3
type Period struct {
	Start Date
	End   Date
}

// NewPeriod validates that end is not before start.
func NewPeriod(start, end Date) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Lookahead returns [from, from+days].
func Lookahead(from Date, days int) Period {
	return Period{Start: from, End: from.AddDays(days)}
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Months returns the first day of every calendar month touched by the period,
// from Start's month through End's month inclusive.
func (p Period) Months() []Date {
	var months []Date
	current := p.Start.MonthStart()
	last := p.End.MonthStart()
	for current.BeforeOrEqual(last) {
		months = append(months, current)
		current = current.AddMonths(1)
	}
	return months
}

// Days returns the number of days in the period, counting both ends.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
