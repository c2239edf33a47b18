package tenant

import (
	"context"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("time zone %s not available: %v", name, err)
	}
	return loc
}

func TestCycleBoundary(t *testing.T) {
	athens := mustLoc(t, "Europe/Athens")

	tests := []struct {
		name  string
		year  int
		month time.Month
		day   int
		loc   *time.Location
		want  time.Time
	}{
		{name: "plain", year: 2024, month: time.March, day: 15, loc: time.UTC, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "31 in february (leap)", year: 2024, month: time.February, day: 31, loc: time.UTC, want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "31 in february", year: 2023, month: time.February, day: 31, loc: time.UTC, want: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{name: "31 in april", year: 2024, month: time.April, day: 31, loc: time.UTC, want: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
		{name: "month overflow", year: 2024, month: time.December + 1, day: 5, loc: time.UTC, want: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{name: "month underflow", year: 2024, month: time.January - 1, day: 31, loc: time.UTC, want: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
		{name: "local midnight", year: 2024, month: time.June, day: 1, loc: athens, want: time.Date(2024, 5, 31, 21, 0, 0, 0, time.UTC)},
		{name: "clamped low", year: 2024, month: time.June, day: 0, loc: time.UTC, want: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CycleBoundary(tt.year, tt.month, tt.day, tt.loc); !got.Equal(tt.want) {
				t.Errorf("CycleBoundary() = %v, want %v", got.UTC(), tt.want)
			}
		})
	}
}

func TestNextCycleBoundary(t *testing.T) {
	athens := mustLoc(t, "Europe/Athens")
	ny := mustLoc(t, "America/New_York")

	tests := []struct {
		name string
		at   time.Time
		day  int
		loc  *time.Location
		want time.Time
	}{
		{name: "later this month", at: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), day: 15, loc: time.UTC, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "exactly on boundary", at: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), day: 15, loc: time.UTC, want: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)},
		{name: "next month", at: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), day: 15, loc: time.UTC, want: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)},
		{name: "year wrap", at: time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), day: 1, loc: time.UTC, want: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "day 31 after january", at: time.Date(2023, 1, 31, 1, 0, 0, 0, time.UTC), day: 31, loc: time.UTC, want: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{
			// 22:30 UTC on the 31st is already the 1st in Athens
			name: "local day differs from UTC", at: time.Date(2024, 5, 31, 22, 30, 0, 0, time.UTC), day: 1, loc: athens,
			want: time.Date(2024, 7, 1, 0, 0, 0, 0, athens),
		},
		{
			name: "across DST start", at: time.Date(2024, 3, 1, 12, 0, 0, 0, ny), day: 15, loc: ny,
			want: time.Date(2024, 3, 15, 4, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextCycleBoundary(tt.at, tt.day, tt.loc); !got.Equal(tt.want) {
				t.Errorf("NextCycleBoundary() = %v, want %v", got.UTC(), tt.want.UTC())
			}
		})
	}
}

func TestCurrentPeriodStart(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		day  int
		want time.Time
	}{
		{name: "after boundary", at: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), day: 15, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "on boundary", at: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), day: 15, want: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{name: "before boundary", at: time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC), day: 15, want: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
		{name: "short previous month", at: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), day: 31, want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "year wrap", at: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), day: 10, want: time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentPeriodStart(tt.at, tt.day, time.UTC); !got.Equal(tt.want) {
				t.Errorf("CurrentPeriodStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	unlock, ok, err := l.TryLock(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v; want true, nil", ok, err)
	}
	if _, ok, _ = l.TryLock(ctx, "a"); ok {
		t.Errorf("TryLock() on held key succeeded")
	}
	if _, ok, _ = l.TryLock(ctx, "b"); !ok {
		t.Errorf("TryLock() on other key failed")
	}

	unlock()
	unlock() // no-op
	if _, ok, _ = l.TryLock(ctx, "a"); !ok {
		t.Errorf("TryLock() after unlock failed")
	}
}
