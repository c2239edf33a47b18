package tenant

import "time"

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampBillingDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 31 {
		return 31
	}
	return day
}

// CycleBoundary is local midnight, in loc, of the billing day of the given month.
// Billing days past the end of a short month fall on its last day.
func CycleBoundary(year int, month time.Month, billingDay int, loc *time.Location) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	year, month = first.Year(), first.Month() // normalized
	day := clampBillingDay(billingDay)
	if n := daysIn(year, month); day > n {
		day = n
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// NextCycleBoundary returns the first cycle boundary strictly after `at`.
func NextCycleBoundary(at time.Time, billingDay int, loc *time.Location) time.Time {
	local := at.In(loc)
	b := CycleBoundary(local.Year(), local.Month(), billingDay, loc)
	if b.After(at) {
		return b
	}
	return CycleBoundary(local.Year(), local.Month()+1, billingDay, loc)
}

// CurrentPeriodStart returns the latest cycle boundary at or before `at`.
func CurrentPeriodStart(at time.Time, billingDay int, loc *time.Location) time.Time {
	local := at.In(loc)
	b := CycleBoundary(local.Year(), local.Month(), billingDay, loc)
	if !b.After(at) {
		return b
	}
	return CycleBoundary(local.Year(), local.Month()-1, billingDay, loc)
}
