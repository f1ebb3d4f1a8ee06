package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datetime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"06:30", 390, false},
		{"23:59", 1439, false},
		{"24:00", 1440, false},
		{"24:30", 0, true},
		{"7:00", 420, false},
		{"07:0", 0, true},
		{"ab:cd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "24:00", FormatClock(1440))
	assert.Equal(t, "06:05", FormatClock(365))
}

func TestStationValidate(t *testing.T) {
	valid := Station{Name: "Colombo Fort", ChargerType: ChargerDC, TotalSlots: 2, OpenTime: "06:00", CloseTime: "22:00"}
	assert.NoError(t, valid.Validate())

	noSlots := valid
	noSlots.TotalSlots = 0
	assert.Error(t, noSlots.Validate())

	badType := valid
	badType.ChargerType = "XL"
	assert.Error(t, badType.Validate())

	short := valid
	short.CloseTime = "06:30"
	assert.Error(t, short.Validate())
}

func TestDayHoursMerge(t *testing.T) {
	st := Station{OpenTime: "06:00", CloseTime: "22:00"}
	base := st.Hours()
	assert.True(t, base.Bookable())

	special := base.Merge(&ScheduleOverride{OpenTime: "10:00", CloseTime: "14:00"})
	assert.Equal(t, 600, special.Open)
	assert.Equal(t, 840, special.Close)
	assert.True(t, special.Special)
	assert.True(t, special.Bookable())

	closed := base.Merge(&ScheduleOverride{IsClosed: true, Reason: "Poya day"})
	assert.False(t, closed.Bookable())
	assert.Equal(t, "Poya day", closed.Reason)

	maint := base.Merge(&ScheduleOverride{IsMaintenance: true})
	assert.False(t, maint.Bookable())

	open, closing := base.Bounds(datetime(2026, 3, 1, 15, 45))
	assert.Equal(t, datetime(2026, 3, 1, 6, 0), open)
	assert.Equal(t, datetime(2026, 3, 1, 22, 0), closing)
}

func TestOverrideValidate(t *testing.T) {
	day := datetime(2026, 3, 1, 0, 0)
	assert.NoError(t, (&ScheduleOverride{Date: day, IsClosed: true}).Validate())
	assert.Error(t, (&ScheduleOverride{}).Validate())
	assert.Error(t, (&ScheduleOverride{Date: day, OpenTime: "10:00"}).Validate())
	assert.Error(t, (&ScheduleOverride{Date: day, OpenTime: "12:00", CloseTime: "10:00"}).Validate())
}

func TestDayHoursCovers(t *testing.T) {
	hours := DayHours{Open: 8 * 60, Close: 20 * 60}
	day := 15

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", datetime(2026, 1, day, 10, 0), datetime(2026, 1, day, 12, 0), true},
		{"ends at close", datetime(2026, 1, day, 18, 0), datetime(2026, 1, day, 20, 0), true},
		{"starts before open", datetime(2026, 1, day, 7, 0), datetime(2026, 1, day, 9, 0), false},
		{"runs past close", datetime(2026, 1, day, 19, 0), datetime(2026, 1, day, 21, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hours.Covers(tt.start, tt.end))
		})
	}

	closed := hours.Merge(&ScheduleOverride{IsClosed: true})
	assert.False(t, closed.Covers(datetime(2026, 1, day, 10, 0), datetime(2026, 1, day, 11, 0)))
	b := Booking{Start: datetime(2026, 1, day, 11, 0), End: datetime(2026, 1, day, 12, 0)}
	assert.Equal(t, time.Hour, b.Duration())
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPending.Occupies())
	assert.True(t, StatusApproved.Occupies())
	assert.False(t, StatusCancelled.Occupies())
	assert.False(t, StatusCompleted.Occupies())
	assert.True(t, StatusCompleted.Terminal())
	assert.False(t, StatusApproved.Terminal())

	_, ok := ParseStatus("approved")
	assert.False(t, ok)
	st, ok := ParseStatus("Approved")
	assert.True(t, ok)
	assert.Equal(t, StatusApproved, st)
}
