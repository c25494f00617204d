package clearing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/btorressz/micro-batch-amm/domain"
	memoryMQKit "github.com/btorressz/micro-batch-amm/kit/mq/memory"
	simulatedClock "github.com/btorressz/micro-batch-amm/repository/clock/simulated"
	ledgerMemoryRepo "github.com/btorressz/micro-batch-amm/repository/ledger/memory"
	marketMemoryRepo "github.com/btorressz/micro-batch-amm/repository/market/memory"
	"github.com/btorressz/micro-batch-amm/usecase/accumulator"
	"github.com/btorressz/micro-batch-amm/usecase/fee"
	"github.com/btorressz/micro-batch-amm/usecase/market"
	"github.com/btorressz/micro-batch-amm/usecase/risk"
)

type testEnv struct {
	marketRepo         domain.MarketRepo
	ledgerRepo         domain.LedgerRepo
	clock              *simulatedClock.Clock
	accumulatorUseCase domain.BatchAccumulatorUseCase
	clearingUseCase    domain.ClearingUseCase
	market             *domain.MarketEntity
}

func createTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	marketRepo := marketMemoryRepo.CreateMarketRepo()
	ledgerRepo := ledgerMemoryRepo.CreateLedgerRepo()
	clock := simulatedClock.CreateClock(100)

	marketUseCase := market.CreateMarketUseCase(marketRepo, risk.CreateRiskUseCase(), clock)
	marketEntity, err := marketUseCase.CreateMarket(ctx, 1, 10, 30, 16)
	require.NoError(t, err)

	for userID := 2; userID <= 5; userID++ {
		ledgerRepo.Fund(userID, marketEntity.QuoteAssetID, 1_000_000_000)
		ledgerRepo.Fund(userID, marketEntity.BaseAssetID, 1_000_000_000)
	}

	feeUseCase := fee.CreateFeeUseCase(marketRepo)
	batchClearedTopic := memoryMQKit.CreateMemoryMQ(ctx, 100)

	return &testEnv{
		marketRepo:         marketRepo,
		ledgerRepo:         ledgerRepo,
		clock:              clock,
		accumulatorUseCase: accumulator.CreateAccumulatorUseCase(marketRepo, ledgerRepo, risk.CreateRiskUseCase(), clock),
		clearingUseCase:    CreateClearingUseCase(marketRepo, feeUseCase, clock, batchClearedTopic),
		market:             marketEntity,
	}
}

func (env *testEnv) accumulateCurrentBatch(t *testing.T) {
	t.Helper()
	marketEntity, err := env.marketRepo.GetMarket()
	require.NoError(t, err)
	orders, err := env.marketRepo.OpenOrders(marketEntity.CurrentBatchID, 0, 0)
	require.NoError(t, err)
	require.NoError(t, env.clearingUseCase.Accumulate(orders))
}

func (env *testEnv) clear(t *testing.T) (*domain.BatchStateEntity, error) {
	t.Helper()
	env.accumulateCurrentBatch(t)
	return env.clearingUseCase.FinalizeClear(context.Background(), 1)
}

func TestFinalizeClear(t *testing.T) {
	ctx := context.Background()

	t.Run("crossing bid and ask clear at their price", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 1_000_000)
		require.NoError(t, err)

		env.clock.Advance(10)
		batchState, err := env.clear(t)
		require.NoError(t, err)

		assert.Equal(t, uint64(0), batchState.BatchID)
		assert.Equal(t, uint64(1_000_000), batchState.ClearingPriceFP)
		assert.Equal(t, uint64(1_000_000), batchState.TotalBaseTradedFP)
		assert.Equal(t, uint64(1_000_000), batchState.TotalQuoteTradedFP)
		assert.False(t, batchState.Settled)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), marketEntity.CurrentBatchID)
		assert.Equal(t, uint64(110), marketEntity.LastBatchSlot)
		assert.Equal(t, uint64(1_000_000), marketEntity.LastClearingPriceFP)
		assert.Equal(t, uint32(0), marketEntity.GlobalOrdersInBatch)
		assert.True(t, marketEntity.BatchNotionalQuoteFP.IsZero())
	})

	t.Run("tied volumes resolve to the smallest price", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 2_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 1_000_000)
		require.NoError(t, err)

		env.clock.Advance(10)
		batchState, err := env.clear(t)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), batchState.ClearingPriceFP)
	})

	t.Run("volume maximizing price wins over lower price", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 2_000_000, 5_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 2_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 4, domain.OrderSideAsk, 2_000_000, 3_000_000)
		require.NoError(t, err)

		env.clock.Advance(10)
		batchState, err := env.clear(t)
		require.NoError(t, err)

		// At 1.0 only 2.0 base of asks is available; at 2.0 all 5.0 is.
		assert.Equal(t, uint64(2_000_000), batchState.ClearingPriceFP)
		assert.Equal(t, uint64(5_000_000), batchState.TotalBaseTradedFP)
	})

	t.Run("uncrossed batch rolls with zero price", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 2_000_000, 1_000_000)
		require.NoError(t, err)

		env.clock.Advance(10)
		batchState, err := env.clear(t)
		require.NoError(t, err)

		assert.Equal(t, uint64(0), batchState.ClearingPriceFP)
		assert.Equal(t, uint64(0), batchState.TotalBaseTradedFP)
		assert.True(t, batchState.Settled)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), marketEntity.CurrentBatchID)
	})

	t.Run("empty batch rolls and keeps reference price", func(t *testing.T) {
		env := createTestEnv(t)

		_, err := env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 1_000_000)
		require.NoError(t, err)
		env.clock.Advance(10)
		_, err = env.clear(t)
		require.NoError(t, err)

		env.clock.Advance(10)
		batchState, err := env.clear(t)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), batchState.BatchID)
		assert.True(t, batchState.Settled)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), marketEntity.LastClearingPriceFP)
	})

	t.Run("window not elapsed", func(t *testing.T) {
		env := createTestEnv(t)

		env.clock.Advance(9)
		_, err := env.clear(t)
		assert.ErrorIs(t, err, domain.ErrBatchWindowNotElapsed)
	})

	t.Run("min slots between clears", func(t *testing.T) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Params.MinSlotsBetweenClears = 20
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		env.clock.Advance(10)
		_, err = env.clear(t)
		assert.ErrorIs(t, err, domain.ErrBatchWindowNotElapsed)

		env.clock.Advance(10)
		_, err = env.clear(t)
		assert.NoError(t, err)
	})

	t.Run("paused market rejects clears", func(t *testing.T) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Paused = true
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		env.clock.Advance(10)
		_, err = env.clear(t)
		assert.ErrorIs(t, err, domain.ErrMarketPaused)
	})

	t.Run("keeper restricted market", func(t *testing.T) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Params.KeeperRestricted = true
		marketEntity.Params.OnlyKeeper = 9
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		env.clock.Advance(10)
		env.accumulateCurrentBatch(t)
		_, err = env.clearingUseCase.FinalizeClear(ctx, 5)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		// The restriction binds the authority too; only the designated
		// keeper may clear.
		_, err = env.clearingUseCase.FinalizeClear(ctx, env.market.Authority)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)

		_, err = env.clearingUseCase.FinalizeClear(ctx, 9)
		assert.NoError(t, err)
	})
}

func TestFinalizeClearPriceBand(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, secondPriceFP uint64) (*testEnv, error) {
		env := createTestEnv(t)

		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Params.MaxPriceMoveBps = 500
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, 1_000_000, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, 1_000_000, 1_000_000)
		require.NoError(t, err)
		env.clock.Advance(10)
		_, err = env.clear(t)
		require.NoError(t, err)

		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, secondPriceFP, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, secondPriceFP, 1_000_000)
		require.NoError(t, err)
		env.clock.Advance(10)
		_, clearErr := env.clear(t)
		return env, clearErr
	}

	t.Run("four percent move passes", func(t *testing.T) {
		_, err := setup(t, 1_040_000)
		assert.NoError(t, err)
	})

	t.Run("six percent move trips the breaker", func(t *testing.T) {
		env, err := setup(t, 1_060_000)
		assert.ErrorIs(t, err, domain.ErrPriceBandExceeded)

		// Nothing changed: the batch cursor stayed put and the batch can
		// still clear once the band allows it.
		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), marketEntity.CurrentBatchID)

		marketEntity.Params.MaxPriceMoveBps = 1_000
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		// Staging survived the failed clear; no re-accumulate needed.
		batchState, err := env.clearingUseCase.FinalizeClear(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_060_000), batchState.ClearingPriceFP)
	})

	t.Run("exactly five percent passes", func(t *testing.T) {
		_, err := setup(t, 1_050_000)
		assert.NoError(t, err)
	})

	t.Run("move too large for bps arithmetic trips the band", func(t *testing.T) {
		env := createTestEnv(t)

		// Against a reference price of 1 the move in bps does not fit in
		// 64 bits; the band still reports a band error, not an overflow.
		marketEntity, err := env.marketRepo.GetMarket()
		require.NoError(t, err)
		marketEntity.Params.MaxPriceMoveBps = 500
		marketEntity.LastClearingPriceFP = 1
		require.NoError(t, env.marketRepo.UpdateMarket(marketEntity))

		const hugePriceFP = 2_000_000_000_000_000
		env.ledgerRepo.Fund(2, env.market.QuoteAssetID, hugePriceFP)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 2, domain.OrderSideBid, hugePriceFP, 1_000_000)
		require.NoError(t, err)
		_, err = env.accumulatorUseCase.SubmitOrder(ctx, 3, domain.OrderSideAsk, hugePriceFP, 1_000_000)
		require.NoError(t, err)

		env.clock.Advance(10)
		_, err = env.clear(t)
		assert.ErrorIs(t, err, domain.ErrPriceBandExceeded)
	})
}

// Brute-force reference: try every candidate price and keep the smallest one
// with maximal executable volume.
func referenceClearingPrice(orders []*domain.OrderEntity) (uint64, uint64) {
	var bestPrice, bestVolume uint64
	seen := make(map[uint64]bool)
	for _, candidate := range orders {
		priceFP := candidate.LimitPriceFP
		if seen[priceFP] {
			continue
		}
		seen[priceFP] = true
		var bidVolume, askVolume uint64
		for _, order := range orders {
			if order.Side == domain.OrderSideBid && order.LimitPriceFP >= priceFP {
				bidVolume += order.AmountBaseFP
			}
			if order.Side == domain.OrderSideAsk && order.LimitPriceFP <= priceFP {
				askVolume += order.AmountBaseFP
			}
		}
		executable := bidVolume
		if askVolume < bidVolume {
			executable = askVolume
		}
		if executable > bestVolume || (executable == bestVolume && executable > 0 && priceFP < bestPrice) {
			bestVolume = executable
			bestPrice = priceFP
		}
	}
	if bestVolume == 0 {
		return 0, 0
	}
	return bestPrice, bestVolume
}

func TestUniformClearingPriceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orderCount := rapid.IntRange(0, 24).Draw(t, "orderCount")
		orders := make([]*domain.OrderEntity, 0, orderCount)
		for i := 0; i < orderCount; i++ {
			side := domain.OrderSideBid
			if rapid.Bool().Draw(t, "isAsk") {
				side = domain.OrderSideAsk
			}
			orders = append(orders, &domain.OrderEntity{
				ID:           uint64(i),
				Side:         side,
				LimitPriceFP: rapid.Uint64Range(1, 10).Draw(t, "price") * 500_000,
				AmountBaseFP: rapid.Uint64Range(1, 1_000_000).Draw(t, "amount"),
				Status:       domain.OrderStatusOpen,
			})
		}

		gotPrice, gotVolume, err := uniformClearingPrice(orders)
		require.NoError(t, err)

		wantPrice, wantVolume := referenceClearingPrice(orders)
		volume, err := gotVolume.Uint64()
		require.NoError(t, err)
		assert.Equal(t, wantVolume, volume)
		if wantVolume > 0 {
			assert.Equal(t, wantPrice, gotPrice)
		}
	})
}
