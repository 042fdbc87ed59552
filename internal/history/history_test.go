package history

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
)

func recordCity(t *testing.T, r *Recorder, city string, cached bool) models.QueryRecord {
	t.Helper()
	return r.Record(context.Background(), models.WeatherReading{
		CityName:    city,
		Temperature: 10,
		Unit:        models.Celsius,
	}, "10.0.0.1", cached)
}

// TestRecorder_AssignsSequentialIDs verifies that IDs start at 1 and grow
// monotonically even after eviction.
func TestRecorder_AssignsSequentialIDs(t *testing.T) {
	r := NewRecorder(2)

	for want := int64(1); want <= 5; want++ {
		rec := recordCity(t, r, "Minsk", false)
		if rec.ID != want {
			t.Errorf("record %d ID = %d, want %d", want, rec.ID, want)
		}
	}
	if r.Size() != 2 {
		t.Errorf("Size() = %d with maxEntries=2, want 2", r.Size())
	}
}

// TestRecorder_FIFOEviction verifies that the oldest records are dropped
// first when the cap is exceeded.
func TestRecorder_FIFOEviction(t *testing.T) {
	r := NewRecorder(3)
	for _, city := range []string{"Minsk", "Oslo", "Lima", "Perth"} {
		recordCity(t, r, city, false)
	}

	got := r.All(Filter{})
	if len(got) != 3 {
		t.Fatalf("All() returned %d records, want 3", len(got))
	}
	// Newest first; "Minsk" was evicted.
	wantOrder := []string{"Perth", "Lima", "Oslo"}
	for i, want := range wantOrder {
		if got[i].Reading.CityName != want {
			t.Errorf("All()[%d].CityName = %q, want %q", i, got[i].Reading.CityName, want)
		}
	}
}

// TestRecorder_CityFilter verifies case-insensitive substring matching on
// the city name.
func TestRecorder_CityFilter(t *testing.T) {
	r := NewRecorder(0)
	recordCity(t, r, "Minsk", false)
	recordCity(t, r, "Birmingham", false)
	recordCity(t, r, "minsk", true)

	tests := []struct {
		name string
		city string
		want int
	}{
		{"exact lowercase", "minsk", 2},
		{"mixed case", "MINSK", 2},
		{"substring", "ming", 1},
		{"padded", "  minsk  ", 2},
		{"no match", "tokyo", 0},
		{"empty matches all", "", 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(r.All(Filter{City: tc.city})); got != tc.want {
				t.Errorf("All(city=%q) returned %d records, want %d", tc.city, got, tc.want)
			}
		})
	}
}

// TestRecorder_DateFilter verifies that From/To bounds are inclusive on both
// ends.
func TestRecorder_DateFilter(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base

	r := NewRecorder(0)
	r.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		recordCity(t, r, "Minsk", false)
		now = now.Add(time.Hour)
	}
	// Timestamps: 12:00, 13:00, 14:00.

	tests := []struct {
		name string
		from time.Time
		to   time.Time
		want int
	}{
		{"all", time.Time{}, time.Time{}, 3},
		{"from boundary inclusive", base.Add(time.Hour), time.Time{}, 2},
		{"to boundary inclusive", time.Time{}, base.Add(time.Hour), 2},
		{"exact single", base.Add(time.Hour), base.Add(time.Hour), 1},
		{"outside", base.Add(5 * time.Hour), time.Time{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(r.All(Filter{From: tc.from, To: tc.to})); got != tc.want {
				t.Errorf("All(from=%v to=%v) returned %d records, want %d", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

// TestRecorder_Pagination verifies page math including capping and empty
// overflow pages.
func TestRecorder_Pagination(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 25; i++ {
		recordCity(t, r, "Minsk", false)
	}

	tests := []struct {
		name      string
		page      Page
		wantLen   int
		wantFirst int64 // ID of the first returned record
	}{
		{"defaults", Page{}, DefaultPageSize, 25},
		{"second page", Page{Number: 2, Size: 10}, 10, 15},
		{"last partial page", Page{Number: 3, Size: 10}, 5, 5},
		{"past the end", Page{Number: 9, Size: 10}, 0, 0},
		{"size capped", Page{Number: 1, Size: 500}, 25, 25},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, total := r.List(Filter{}, tc.page)
			if total != 25 {
				t.Errorf("List() total = %d, want 25", total)
			}
			if len(got) != tc.wantLen {
				t.Fatalf("List() returned %d records, want %d", len(got), tc.wantLen)
			}
			if tc.wantLen > 0 && got[0].ID != tc.wantFirst {
				t.Errorf("List()[0].ID = %d, want %d", got[0].ID, tc.wantFirst)
			}
		})
	}
}

// TestRecorder_NewestFirst verifies listing order.
func TestRecorder_NewestFirst(t *testing.T) {
	r := NewRecorder(0)
	recordCity(t, r, "Minsk", false)
	recordCity(t, r, "Oslo", false)

	got, _ := r.List(Filter{}, Page{})
	if len(got) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(got))
	}
	if got[0].Reading.CityName != "Oslo" || got[1].Reading.CityName != "Minsk" {
		t.Errorf("List() order = [%s %s], want [Oslo Minsk]", got[0].Reading.CityName, got[1].Reading.CityName)
	}
}

// TestWriteCSV verifies the export header row and a data row including the
// Yes/No cache column and the caller fallback.
func TestWriteCSV(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(0)
	r.SetClock(func() time.Time { return base })

	r.Record(context.Background(), models.WeatherReading{
		CityName:    "Minsk",
		Temperature: -4.5,
		FeelsLike:   -9,
		Conditions:  "light snow",
		Humidity:    88,
		WindSpeed:   3.2,
		Pressure:    1013,
		Unit:        models.Celsius,
		ObservedAt:  base.Add(-2 * time.Minute),
	}, "", true)

	var sb strings.Builder
	if err := r.WriteCSV(&sb, Filter{}); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(sb.String())).ReadAll()
	if err != nil {
		t.Fatalf("parsing export output: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("export has %d rows, want header + 1", len(rows))
	}

	wantHeader := []string{
		"Query ID", "City Name", "Temperature", "Temperature Unit", "Feels Like",
		"Weather Description", "Humidity (%)", "Wind Speed", "Pressure (hPa)",
		"Served From Cache", "Caller", "Query Time", "Data Fetched At",
	}
	for i, want := range wantHeader {
		if rows[0][i] != want {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], want)
		}
	}

	row := rows[1]
	wantRow := []string{
		"1", "Minsk", "-4.5", "C", "-9", "light snow", "88", "3.2", "1013",
		"Yes", "N/A", "2026-03-01 12:00:00", "2026-03-01 11:58:00",
	}
	for i, want := range wantRow {
		if row[i] != want {
			t.Errorf("row[%d] = %q, want %q", i, row[i], want)
		}
	}
}
