package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "2020-08-01T00:20:00Z", want: time.Date(2020, 8, 1, 0, 20, 0, 0, time.UTC)},
		{input: "2020-08-01T02:20:00+02:00", want: time.Date(2020, 8, 1, 0, 20, 0, 0, time.UTC)},
		{input: "2020-08-01T00:20:05.25Z", want: time.Date(2020, 8, 1, 0, 20, 5, 250000000, time.UTC)},
		{input: "2020-08-01T00:20:05", want: time.Date(2020, 8, 1, 0, 20, 5, 0, time.UTC)},
		{input: "2020-08-01 00:20:05", want: time.Date(2020, 8, 1, 0, 20, 5, 0, time.UTC)},
		{input: "2020-08-01T00:20", want: time.Date(2020, 8, 1, 0, 20, 0, 0, time.UTC)},
		{input: "2020-08-01 00:20", want: time.Date(2020, 8, 1, 0, 20, 0, 0, time.UTC)},
		{input: " 2020-08-01 ", want: time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)},
		{input: "", wantErr: true},
		{input: "yesterday", wantErr: true},
		{input: "2020-13-01", wantErr: true},
		{input: "08/01/2020", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTimeRange)
				return
			}
			require.NoError(t, err)
			require.True(t, tt.want.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimeRange(t *testing.T) {
	start, end, err := ParseTimeRange("", "")
	require.NoError(t, err)
	require.Nil(t, start)
	require.Nil(t, end)

	start, end, err = ParseTimeRange("2020-08-01 00:20", "")
	require.NoError(t, err)
	require.NotNil(t, start)
	require.Nil(t, end)
	require.Equal(t, time.Date(2020, 8, 1, 0, 20, 0, 0, time.UTC), *start)

	_, _, err = ParseTimeRange("2020-08-01", "soon")
	require.ErrorIs(t, err, ErrInvalidTimeRange)
	require.Contains(t, err.Error(), "end")
}
