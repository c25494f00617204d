package auction

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

const clearPageSize = 500

// auctionUseCase serializes every market mutation with one mutex. The inner
// use cases assume they run one at a time against the market aggregate, and
// this facade is the only caller.
type auctionUseCase struct {
	accumulatorUseCase domain.BatchAccumulatorUseCase
	clearingUseCase    domain.ClearingUseCase
	settlementUseCase  domain.SettlementUseCase
	marketRepo         domain.MarketRepo

	lock sync.Mutex
}

func CreateAuctionUseCase(
	accumulatorUseCase domain.BatchAccumulatorUseCase,
	clearingUseCase domain.ClearingUseCase,
	settlementUseCase domain.SettlementUseCase,
	marketRepo domain.MarketRepo,
) domain.AuctionUseCase {
	return &auctionUseCase{
		accumulatorUseCase: accumulatorUseCase,
		clearingUseCase:    clearingUseCase,
		settlementUseCase:  settlementUseCase,
		marketRepo:         marketRepo,
	}
}

func (a *auctionUseCase) SubmitOrder(ctx context.Context, userID int, side domain.OrderSideEnum, limitPriceFP, amountBaseFP uint64) (*domain.OrderEntity, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.accumulatorUseCase.SubmitOrder(ctx, userID, side, limitPriceFP, amountBaseFP)
}

func (a *auctionUseCase) CancelOrder(ctx context.Context, userID int, orderID uint64) (*domain.OrderEntity, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.accumulatorUseCase.CancelOrder(ctx, userID, orderID)
}

func (a *auctionUseCase) ClearBatch(ctx context.Context, keeperUserID int) (*domain.BatchStateEntity, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	market, err := a.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}

	var afterOrderID uint64
	for {
		orders, err := a.marketRepo.OpenOrders(market.CurrentBatchID, afterOrderID, clearPageSize)
		if err != nil {
			return nil, errors.Wrap(err, "read open orders failed")
		}
		if len(orders) == 0 {
			break
		}
		if err := a.clearingUseCase.Accumulate(orders); err != nil {
			return nil, errors.Wrap(err, "accumulate orders failed")
		}
		afterOrderID = orders[len(orders)-1].ID
		if len(orders) < clearPageSize {
			break
		}
	}

	batchState, err := a.clearingUseCase.FinalizeClear(ctx, keeperUserID)
	if err != nil {
		return nil, errors.Wrap(err, "finalize clear failed")
	}
	return batchState, nil
}

func (a *auctionUseCase) SettleOrder(ctx context.Context, orderID uint64) (*domain.OrderFillEntity, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.settlementUseCase.SettleOrder(ctx, orderID)
}

// SettleBatch settles every remaining open order of a cleared batch in order-id
// order. Orders already claimed are skipped, so it can resume after a partial
// run.
func (a *auctionUseCase) SettleBatch(ctx context.Context, batchID uint64) ([]*domain.OrderFillEntity, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	orders, err := a.marketRepo.OpenOrders(batchID, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "read open orders failed")
	}

	fills := make([]*domain.OrderFillEntity, 0, len(orders))
	for _, order := range orders {
		fill, err := a.settlementUseCase.SettleOrder(ctx, order.ID)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				continue
			}
			return fills, errors.Wrapf(err, "settle order %d failed", order.ID)
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

func (a *auctionUseCase) GetBatchState(batchID uint64) (*domain.BatchStateEntity, error) {
	batchState, err := a.marketRepo.GetBatchState(batchID)
	if err != nil {
		return nil, errors.Wrap(err, "get batch state failed")
	}
	return batchState, nil
}
