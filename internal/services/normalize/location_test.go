package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLocationSplits(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		city       string
		state      string
		country    string
		remote     bool
		confidence float64
	}{
		{"city state country", "San Francisco, CA, USA", "San Francisco", "California", "United States", false, 0.95},
		{"city country", "London, UK", "London", "", "United Kingdom", false, 0.9},
		{"postal code implies country", "Austin, TX", "Austin", "Texas", "United States", false, 0.95},
		{"canadian province", "Toronto, ON", "Toronto", "Ontario", "Canada", false, 0.95},
		{"australian state", "Sydney, NSW, Australia", "Sydney", "New South Wales", "Australia", false, 0.95},
		{"full state name", "Portland, Oregon", "Portland", "Oregon", "United States", false, 0.95},
		{"remote only", "Remote", "", "", "", true, 1.0},
		{"remote with region", "Remote - New York, NY", "", "New York", "United States", true, 0.8},
		{"hybrid marker", "Hybrid, Seattle, WA", "Seattle", "Washington", "United States", true, 0.95},
		{"bare country", "Germany", "", "", "Germany", false, 0.8},
		{"city only", "Kathmandu", "Kathmandu", "", "", false, 0.4},
		{"parenthesised country", "Amsterdam (Netherlands)", "Amsterdam", "", "Netherlands", false, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := ParseLocation(tt.text)
			assert.Equal(t, tt.city, loc.City)
			assert.Equal(t, tt.state, loc.State)
			assert.Equal(t, tt.country, loc.Country)
			assert.Equal(t, tt.remote, loc.Remote)
			assert.InDelta(t, tt.confidence, loc.Confidence, 1e-9)
		})
	}
}

func TestParseLocationExtrasLowerConfidence(t *testing.T) {
	loc := ParseLocation("Berlin, Kreuzberg, Germany")
	assert.Equal(t, "Berlin", loc.City, "first unmatched part is the city")
	assert.Equal(t, "Germany", loc.Country)
	assert.InDelta(t, 0.7, loc.Confidence, 1e-9, "unplaced parts cost 0.2 each")
}

func TestParseLocationNothingRecognized(t *testing.T) {
	loc := ParseLocation("")
	assert.Zero(t, loc.Confidence)
	assert.False(t, loc.Remote)

	loc = ParseLocation(" , ")
	assert.Empty(t, loc.City)
	assert.Zero(t, loc.Confidence)
}
