package cycle

import (
	"testing"
	"time"

	"github.com/gsd-data/gridfetch/internal/products"
)

func fixedResolver(t time.Time) *Resolver {
	return &Resolver{Now: func() time.Time { return t }}
}

func TestLatestRun(t *testing.T) {
	// 2026-03-10 05:30 UTC.
	now := time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		lastRun string
		want    time.Time
	}{
		// Hourly products trail the clock by one hour.
		{"hourly", "{day}{prev_hr}", time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)},
		// 05:30 - 3h36m = 01:54, whose 6-hour boundary is 00.
		{"six hourly gfs", "{day_sub3h}{last_gfs_run}", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		// Two whole hours back.
		{"two hours back", "{two_hrs_back}", time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)},
		// 05:30 - 2h6m = 03:24, whose 6-hour boundary is 00.
		{"six hourly ofs", "{last_ofs_run}", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
	}

	r := fixedResolver(now)
	for _, tt := range tests {
		got, err := r.LatestRun(products.Spec{LastRun: tt.lastRun})
		if err != nil {
			t.Errorf("%s: LatestRun failed: %v", tt.name, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s: LatestRun = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLatestRunDayBoundary(t *testing.T) {
	// Just after midnight the previous hour falls on yesterday.
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)

	got, err := fixedResolver(now).LatestRun(products.Spec{LastRun: "{day}{prev_hr}"})
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	want := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LatestRun = %v, want %v", got, want)
	}
}

func TestLatestRunBoundaryLag(t *testing.T) {
	// At 06:05 a 6-hourly product has not published its 06z run yet:
	// 06:05 - 3h36m = 02:29, boundary 00.
	now := time.Date(2026, 3, 10, 6, 5, 0, 0, time.UTC)

	got, err := fixedResolver(now).LatestRun(products.Spec{LastRun: "{day_sub3h}{last_gfs_run}"})
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LatestRun = %v, want %v", got, want)
	}
}

func TestLatestRunBadTemplate(t *testing.T) {
	if _, err := fixedResolver(time.Now()).LatestRun(products.Spec{LastRun: "{nonsense}"}); err == nil {
		t.Error("LatestRun should fail on an unresolvable template")
	}
}

func TestWindowDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC)
	r := fixedResolver(now)
	spec := products.Spec{LastRun: "{day}{prev_hr}"}
	latest := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC)

	start, end, err := r.Window(spec, nil, nil, 1, 0)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !start.Equal(latest) {
		t.Errorf("start = %v, want %v", start, latest)
	}
	if !end.Equal(latest.Add(time.Hour)) {
		t.Errorf("end = %v, want %v", end, latest.Add(time.Hour))
	}
}

func TestWindowCyclesBack(t *testing.T) {
	// cyclesBack widens the window backward. The end still follows the
	// latest run, so a backfill never drops the newest cycle.
	now := time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC)
	r := fixedResolver(now)
	spec := products.Spec{LastRun: "{day_sub3h}{last_gfs_run}", StepHours: 6}
	latest := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	start, end, err := r.Window(spec, nil, nil, 6, 2)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !start.Equal(latest.Add(-12 * time.Hour)) {
		t.Errorf("start = %v, want %v", start, latest.Add(-12*time.Hour))
	}
	if !end.Equal(latest.Add(6 * time.Hour)) {
		t.Errorf("end = %v, want %v", end, latest.Add(6*time.Hour))
	}
}

func TestWindowExplicitRange(t *testing.T) {
	r := fixedResolver(time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC))
	s := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	start, end, err := r.Window(products.Spec{}, &s, &e, 1, 0)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !start.Equal(s) || !end.Equal(e) {
		t.Errorf("window = [%v, %v), want [%v, %v)", start, end, s, e)
	}
}

func TestWindowExplicitStartDefaultEnd(t *testing.T) {
	r := fixedResolver(time.Date(2026, 3, 10, 5, 30, 0, 0, time.UTC))
	s := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	start, end, err := r.Window(products.Spec{}, &s, nil, 6, 0)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if !start.Equal(s) {
		t.Errorf("start = %v, want %v", start, s)
	}
	if !end.Equal(s.Add(6 * time.Hour)) {
		t.Errorf("end = %v, want %v", end, s.Add(6*time.Hour))
	}
}
