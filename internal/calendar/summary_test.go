package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateSlots(t *testing.T) {
	cases := []struct {
		name   string
		tokens []string
		want   []WeekRun
	}{
		{
			name:   "clipped thirty",
			tokens: []string{"0.06.2025", "-", "06.06.2025", "16"},
			want:   []WeekRun{{Start: "30.06.2025", End: "06.06.2025", Open: 16, Anchor: "0.06.2025"}},
		},
		{
			name:   "letter for digit",
			tokens: []string{"0З.07.2025", "–", "09.07.2025", "2"},
			want:   []WeekRun{{Start: "03.07.2025", End: "09.07.2025", Open: 2, Anchor: "0З.07.2025"}},
		},
		{
			name:   "glued range",
			tokens: []string{"30.06.2025-06.07.2025", "5"},
			want:   []WeekRun{{Start: "30.06.2025", End: "06.07.2025", Open: 5, Anchor: "30.06.2025-06.07.2025"}},
		},
		{
			name:   "filler before count",
			tokens: []string{"30.06.2025", "-", "06.07.2025", "вільних", "місць:", "(5)"},
			want:   []WeekRun{{Start: "30.06.2025", End: "06.07.2025", Open: 5, Anchor: "30.06.2025"}},
		},
		{
			name: "several weeks",
			tokens: []string{
				"Липень", "2025",
				"23.06.2025", "-", "29.06.2025", "0",
				"30.06.2025", "-", "06.07.2025", "5",
			},
			want: []WeekRun{
				{Start: "23.06.2025", End: "29.06.2025", Open: 0, Anchor: "23.06.2025"},
				{Start: "30.06.2025", End: "06.07.2025", Open: 5, Anchor: "30.06.2025"},
			},
		},
		{
			name:   "no dates at all",
			tokens: []string{"Немає", "вільних", "місць"},
			want:   nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDateSlots(tc.tokens)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseDateSlotsAnomalies(t *testing.T) {
	cases := map[string][]string{
		"missing dash":   {"30.06.2025", "06.07.2025", "5"},
		"missing count":  {"30.06.2025", "-", "06.07.2025"},
		"too much noise": {"30.06.2025", "-", "06.07.2025", "a", "b", "c", "5"},
	}
	for name, tokens := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDateSlots(tokens)
			assert.ErrorIs(t, err, ErrParseAnomaly)
		})
	}
}
