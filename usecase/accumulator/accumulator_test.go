package accumulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/micro-batch-amm/domain"
	simulatedClock "github.com/btorressz/micro-batch-amm/repository/clock/simulated"
	ledgerMemoryRepo "github.com/btorressz/micro-batch-amm/repository/ledger/memory"
	marketMemoryRepo "github.com/btorressz/micro-batch-amm/repository/market/memory"
	"github.com/btorressz/micro-batch-amm/usecase/market"
	"github.com/btorressz/micro-batch-amm/usecase/risk"
)

type testEnv struct {
	marketRepo         domain.MarketRepo
	ledgerRepo         domain.LedgerRepo
	clock              *simulatedClock.Clock
	accumulatorUseCase domain.BatchAccumulatorUseCase
	market             *domain.MarketEntity
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	marketRepo := marketMemoryRepo.CreateMarketRepo()
	ledgerRepo := ledgerMemoryRepo.CreateLedgerRepo()
	clock := simulatedClock.CreateClock(100)

	marketUseCase := market.CreateMarketUseCase(marketRepo, risk.CreateRiskUseCase(), clock)
	marketEntity, err := marketUseCase.CreateMarket(ctx, 1, 10, 30, 2)
	require.NoError(t, err)

	ledgerRepo.Fund(2, marketEntity.QuoteAssetID, 100_000_000)
	ledgerRepo.Fund(2, marketEntity.BaseAssetID, 100_000_000)
	ledgerRepo.Fund(3, marketEntity.QuoteAssetID, 100_000_000)
	ledgerRepo.Fund(3, marketEntity.BaseAssetID, 100_000_000)

	return &testEnv{
		marketRepo:         marketRepo,
		ledgerRepo:         ledgerRepo,
		clock:              clock,
		accumulatorUseCase: CreateAccumulatorUseCase(marketRepo, ledgerRepo, risk.CreateRiskUseCase(), clock),
		market:             marketEntity,
	}
}

func TestSubmitOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("bid escrows notional quote", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 2_000_000, 3_000_000)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusOpen, order.Status)
		assert.Equal(t, uint64(0), order.BatchID)
		assert.Equal(t, uint64(6_000_000), order.QuoteDepositFP)

		balance, err := env.ledgerRepo.GetBalance(2, env.market.QuoteAssetID)
		require.NoError(t, err)
		assert.Equal(t, uint64(94_000_000), balance)
		vaultBalance, err := env.ledgerRepo.GetVaultBalance(env.market.QuoteVaultID)
		require.NoError(t, err)
		assert.Equal(t, uint64(6_000_000), vaultBalance)
	})

	t.Run("ask escrows base amount", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideAsk, 2_000_000, 3_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), order.QuoteDepositFP)

		balance, err := env.ledgerRepo.GetBalance(2, env.market.BaseAssetID)
		require.NoError(t, err)
		assert.Equal(t, uint64(97_000_000), balance)
	})

	t.Run("order ids are sequential from one", func(t *testing.T) {
		env := createTestEnv(t)

		first, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		second, err := env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), first.ID)
		assert.Equal(t, uint64(2), second.ID)

		// The very first order is visible from a fresh enumeration cursor.
		open, err := env.marketRepo.OpenOrders(0, 0, 0)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, first.ID, open[0].ID)
	})

	t.Run("zero price or amount rejected", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 0, 1_000_000)
		assert.ErrorIs(t, err, domain.ErrInvalidParams)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidParams)
	})

	t.Run("dust order rejected", func(t *testing.T) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Params.MinBaseOrderFP = 1_000_000
		marketEntity.Params.MinQuoteOrderFP = 1_000_000
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideAsk, 1_000_000, 999_999)
		assert.ErrorIs(t, err, domain.ErrDustOrder)

		// 0.5 base at price 1.0 is 0.5 quote notional, below the quote minimum.
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 500_000)
		assert.ErrorIs(t, err, domain.ErrDustOrder)
	})

	t.Run("paused market rejects orders", func(t *testing.T) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Paused = true
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		assert.ErrorIs(t, err, domain.ErrMarketPaused)
	})

	t.Run("window closed rejects orders", func(t *testing.T) {
		env := createTestEnv(t)

		env.clock.Advance(10)
		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		assert.ErrorIs(t, err, domain.ErrBatchWindowClosed)
	})

	t.Run("per-user order cap", func(t *testing.T) {
		env := createTestEnv(t)

		for i := 0; i < 2; i++ {
			_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
			require.NoError(t, err)
		}
		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		assert.ErrorIs(t, err, domain.ErrRiskLimitExceeded)

		// Other users are unaffected by one user's cap.
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideBid, 1_000_000, 1_000_000)
		assert.NoError(t, err)
	})

	t.Run("insufficient funds leaves no trace", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000_000, 1_000_000_000)
		assert.ErrorIs(t, err, domain.ErrLessAmount)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), marketEntity.GlobalOrdersInBatch)
		assert.Equal(t, uint64(1), marketEntity.NextOrderID)
	})
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("bid refund restores balance", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 2_000_000, 3_000_000)
		require.NoError(t, err)

		cancelled, err := env.accumulatorUseCase.CancelOrder(ctx, 2, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

		balance, err := env.ledgerRepo.GetBalance(2, env.market.QuoteAssetID)
		require.NoError(t, err)
		assert.Equal(t, uint64(100_000_000), balance)
	})

	t.Run("ask refund restores balance", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideAsk, 2_000_000, 3_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.CancelOrder(ctx, 2, order.ID)
		require.NoError(t, err)

		balance, err := env.ledgerRepo.GetBalance(2, env.market.BaseAssetID)
		require.NoError(t, err)
		assert.Equal(t, uint64(100_000_000), balance)
	})

	t.Run("only the owner can cancel", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.CancelOrder(ctx, 3, order.ID)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("double cancel rejected", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.CancelOrder(ctx, 2, order.ID)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.CancelOrder(ctx, 2, order.ID)
		assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	})

	t.Run("cancel after window close rejected", func(t *testing.T) {
		env := createTestEnv(t)

		order, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		env.clock.Advance(10)
		_, err = env.accumulatorUseCase.CancelOrder(ctx, 2, order.ID)
		assert.ErrorIs(t, err, domain.ErrBatchWindowClosed)
	})

	t.Run("unknown order", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.CancelOrder(ctx, 2, 42)
		assert.ErrorIs(t, err, domain.ErrNoOrder)
	})
}

func TestGetUserBatchStats(t *testing.T) {
	ctx := context.Background()
	env := createTestEnv(t)

	_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 2_000_000, 1_000_000)
	require.NoError(t, err)
	_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideAsk, 1_000_000, 1_000_000)
	require.NoError(t, err)

	stats, err := env.accumulatorUseCase.GetUserBatchStats(2, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), stats.OrderCount)
	assert.Equal(t, domain.U128From64(3_000_000), stats.NotionalQuoteFP)

	// Stats are scoped to the batch; a later batch starts clean.
	stats, err = env.accumulatorUseCase.GetUserBatchStats(2, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), stats.OrderCount)
}
