package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreening_StartsAt(t *testing.T) {
	want := time.Date(2099, 6, 11, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		date      string
		startTime string
	}{
		{"clock", "2099-06-11", "09:30"},
		{"clock with seconds", "2099-06-11", "09:30:00"},
		{"single digit hour", "2099-06-11", "9:30"},
		{"single digit hour with seconds", "2099-06-11", "9:30:00"},
		{"full datetime", "2099-06-11", "2099-06-11T09:30:00.000000Z"},
		{"sql datetime", "2099-06-11", "2099-06-11 09:30:00"},
		{"datetime date", "2099-06-11T00:00:00.000000Z", "09:30:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Screening{Date: tt.date, StartTime: tt.startTime}

			got, err := s.StartsAt(time.UTC)

			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestScreening_StartsAtUnknown(t *testing.T) {
	for _, s := range []Screening{
		{Date: "2099-06-11"},
		{StartTime: "18:30"},
		{Date: "2099-06-11", StartTime: "evening"},
	} {
		_, err := s.StartsAt(time.UTC)
		assert.ErrorIs(t, err, ErrScreeningTimeUnknown)
	}
}

func TestScreening_InPast(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, Screening{Date: "2099-01-01", StartTime: "9:30:00"}.InPast(now, time.UTC))
	assert.True(t, Screening{Date: "2025-06-10", StartTime: "11:59"}.InPast(now, time.UTC))
	assert.False(t, Screening{Date: "2025-06-10", StartTime: "12:00"}.InPast(now, time.UTC), "starting right now is not past")
	assert.True(t, Screening{Date: "2025-06-10", StartTime: "late"}.InPast(now, time.UTC))
}
