package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"swingbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "swingbot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func sampleTrade(symbol string, pnl float64, entryTime time.Time) *domain.Trade {
	return &domain.Trade{
		Symbol:      symbol,
		Side:        domain.Buy,
		EntryPrice:  2000,
		ExitPrice:   2000 + pnl/0.5,
		Quantity:    0.5,
		PNL:         pnl,
		EntryTime:   entryTime,
		ExitTime:    entryTime.Add(2 * time.Hour),
		EntryRule:   domain.RuleGoldenCross,
		CloseReason: domain.CloseReasonTakeProfit,
	}
}

func TestRepository_CreateAndFindTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	entryTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	trade := sampleTrade("ETHUSDT", 50, entryTime)

	id, err := repo.CreateTrade(ctx, trade)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, id, trade.ID)

	found, err := repo.FindBySymbol(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[0]
	assert.Equal(t, trade.Symbol, got.Symbol)
	assert.Equal(t, domain.Buy, got.Side)
	assert.Equal(t, trade.EntryPrice, got.EntryPrice)
	assert.Equal(t, trade.PNL, got.PNL)
	assert.Equal(t, domain.RuleGoldenCross, got.EntryRule)
	assert.Equal(t, domain.CloseReasonTakeProfit, got.CloseReason)
}

func TestRepository_FindBySymbolOrderAndLimit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := repo.CreateTrade(ctx, sampleTrade("ETHUSDT", float64(i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	// A trade on another symbol must not leak into the result.
	_, err := repo.CreateTrade(ctx, sampleTrade("BTCUSDT", 999, base))
	require.NoError(t, err)

	found, err := repo.FindBySymbol(ctx, "ETHUSDT", 3)
	require.NoError(t, err)
	require.Len(t, found, 3)
	// Most recent entries first.
	assert.Equal(t, 4.0, found[0].PNL)
	assert.Equal(t, 3.0, found[1].PNL)
	assert.Equal(t, 2.0, found[2].PNL)
}

func TestRepository_FindBySymbolEmpty(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	found, err := repo.FindBySymbol(context.Background(), "ETHUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRepository_CountTodayBySymbol(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	count, err := repo.CountTodayBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Timestamps are stored in UTC and the count uses the UTC day, so the
	// boundary sits at UTC midnight regardless of the host timezone.
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 10, now))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 20, startOfDay.Add(30*time.Minute)))
	require.NoError(t, err)
	// Minutes before UTC midnight belong to yesterday's limit, not today's.
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 30, startOfDay.Add(-30*time.Minute)))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 40, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	count, err = repo.CountTodayBySymbol(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRepository_TotalPNL(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	total, err := repo.TotalPNL(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Zero(t, total)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", 125.5, base))
	require.NoError(t, err)
	_, err = repo.CreateTrade(ctx, sampleTrade("ETHUSDT", -25.5, base.Add(time.Hour)))
	require.NoError(t, err)

	total, err = repo.TotalPNL(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, total, 1e-9)
}
