package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingbot/internal/domain"
	"swingbot/internal/ports"
)

func TestSize(t *testing.T) {
	t.Run("basic sizing", func(t *testing.T) {
		// 1% of 10000 = 100 risked, 2 per unit at risk -> 50 units
		qty, err := Size(10000, 0.01, 100, 98)
		require.NoError(t, err)
		assert.Equal(t, 50.0, qty)
	})

	t.Run("floors instead of rounding", func(t *testing.T) {
		// 100 / 3 = 33.33; must floor to 33, never round up
		qty, err := Size(10000, 0.01, 100, 97)
		require.NoError(t, err)
		assert.Equal(t, 33.0, qty)
	})

	t.Run("never exceeds the risk budget", func(t *testing.T) {
		equity, riskFraction := 10000.0, 0.01
		entry, stop := 100.0, 98.5
		qty, err := Size(equity, riskFraction, entry, stop)
		require.NoError(t, err)
		assert.LessOrEqual(t, qty*(entry-stop), equity*riskFraction)
	})

	t.Run("zero stop distance is degenerate", func(t *testing.T) {
		_, err := Size(10000, 0.01, 100, 100)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrDegenerateRisk))
	})

	t.Run("quantity flooring to zero is degenerate", func(t *testing.T) {
		// 1% of 50 = 0.50 risked, 2 per unit -> floors to 0
		_, err := Size(50, 0.01, 100, 98)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ports.ErrDegenerateRisk))
	})
}

func TestBracketFor(t *testing.T) {
	p := Parameters{RiskFraction: 0.01, StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.03}

	t.Run("long places stop below and target above", func(t *testing.T) {
		b := BracketFor(domain.Buy, 100, p)
		assert.InDelta(t, 98.0, b.StopPrice, 1e-9)
		assert.InDelta(t, 103.0, b.TakeProfitPrice, 1e-9)
	})

	t.Run("short mirrors the levels", func(t *testing.T) {
		b := BracketFor(domain.Sell, 100, p)
		assert.InDelta(t, 102.0, b.StopPrice, 1e-9)
		assert.InDelta(t, 97.0, b.TakeProfitPrice, 1e-9)
	})
}

func TestCandidateStop(t *testing.T) {
	p := Parameters{RiskFraction: 0.01, StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.05}
	assert.InDelta(t, 114.0, CandidateStop(domain.Buy, 120, p), 1e-9)
	assert.InDelta(t, 84.0, CandidateStop(domain.Sell, 80, p), 1e-9)
}

func TestMoreProtective(t *testing.T) {
	t.Run("long stop only rises", func(t *testing.T) {
		assert.True(t, MoreProtective(domain.Buy, 99, 98))
		assert.False(t, MoreProtective(domain.Buy, 98, 98))
		assert.False(t, MoreProtective(domain.Buy, 97, 98))
	})

	t.Run("short stop only falls", func(t *testing.T) {
		assert.True(t, MoreProtective(domain.Sell, 101, 102))
		assert.False(t, MoreProtective(domain.Sell, 102, 102))
		assert.False(t, MoreProtective(domain.Sell, 103, 102))
	})
}

func TestParametersValidate(t *testing.T) {
	valid := Parameters{RiskFraction: 0.01, StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.03}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		p    Parameters
	}{
		{"zero risk", Parameters{StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.03}},
		{"risk at one", Parameters{RiskFraction: 1, StopFraction: 0.02, RewardFraction: 0.03, TrailFraction: 0.03}},
		{"zero stop", Parameters{RiskFraction: 0.01, RewardFraction: 0.03, TrailFraction: 0.03}},
		{"zero reward", Parameters{RiskFraction: 0.01, StopFraction: 0.02, TrailFraction: 0.03}},
		{"zero trail", Parameters{RiskFraction: 0.01, StopFraction: 0.02, RewardFraction: 0.03}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.p.Validate())
		})
	}
}
