package spider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortugueseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "accented month", input: "10 de Março de 2025", want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{name: "unaccented month", input: "10 de marco de 2025", want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)},
		{name: "surrounding whitespace", input: "  1 de janeiro de 2024 ", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "unknown month", input: "10 de smarch de 2025", wantErr: true},
		{name: "day out of range", input: "42 de maio de 2025", wantErr: true},
		{name: "wrong shape", input: "10/03/2025", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParsePortugueseDate(testCase.input)
			if testCase.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestParseNumericDate(t *testing.T) {
	t.Parallel()

	got, err := ParseNumericDate("12/03/2025")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseNumericDate("2025-03-12")
	require.Error(t, err)
}

func TestMonthsIn(t *testing.T) {
	t.Parallel()

	r := DateRange{
		Start: time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	months := monthsIn(r)
	require.Len(t, months, 3)
	assert.Equal(t, time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), months[0])
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), months[2])
}

func TestDaysIn(t *testing.T) {
	t.Parallel()

	r := DateRange{
		Start: time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC),
	}

	days := daysIn(r)
	require.Len(t, days, 4, "2025 is not a leap year")
	assert.Equal(t, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), days[3])
}

func TestDigitsOnly(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1542", digitsOnly("Edição nº 1.542"))
	assert.Equal(t, "", digitsOnly("sem número"))
}

func TestDateRangeContains(t *testing.T) {
	t.Parallel()

	r := DateRange{
		Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, r.Contains(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)), "start day is inclusive")
	assert.True(t, r.Contains(time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)), "end day is inclusive")
	assert.False(t, r.Contains(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}
