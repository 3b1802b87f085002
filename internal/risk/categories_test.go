package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propdesk/propdesk/internal/domain"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		market domain.Market
		want   string
	}{
		{"upstream category wins", domain.Market{Category: "Sports", Question: "Will bitcoin hit 100k?"}, "sports"},
		{"unknown upstream falls to keywords", domain.Market{Category: "misc", Question: "Will Bitcoin close above $100k?"}, "crypto"},
		{"election keyword", domain.Market{Question: "Who wins the 2028 election?"}, "politics"},
		{"fed keyword", domain.Market{Question: "Will the Fed cut rates in March?"}, "economics"},
		{"hurricane keyword", domain.Market{Question: "Will a hurricane make landfall in Florida?"}, "climate"},
		{"no match is other", domain.Market{Question: "Will it happen?"}, CategoryOther},
		{"empty market is other", domain.Market{}, CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.market))
		})
	}
}
