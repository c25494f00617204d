package clearing

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
	"github.com/btorressz/micro-batch-amm/kit/mq"
)

type clearingUseCase struct {
	marketRepo        domain.MarketRepo
	feeUseCase        domain.FeeUseCase
	clock             domain.Clock
	batchClearedTopic mq.MQTopic

	// staging holds the orders gathered for the next clear, keyed by order
	// id so repeated pages never double count. It survives a failed clear
	// (price band trip) so the keeper can retry without re-reading.
	staging map[uint64]*domain.OrderEntity
}

func CreateClearingUseCase(
	marketRepo domain.MarketRepo,
	feeUseCase domain.FeeUseCase,
	clock domain.Clock,
	batchClearedTopic mq.MQTopic,
) domain.ClearingUseCase {
	return &clearingUseCase{
		marketRepo:        marketRepo,
		feeUseCase:        feeUseCase,
		clock:             clock,
		batchClearedTopic: batchClearedTopic,
		staging:           make(map[uint64]*domain.OrderEntity),
	}
}

func (c *clearingUseCase) Accumulate(orders []*domain.OrderEntity) error {
	market, err := c.marketRepo.GetMarket()
	if err != nil {
		return errors.Wrap(err, "get market failed")
	}
	for _, order := range orders {
		if order.Status != domain.OrderStatusOpen {
			continue
		}
		if order.BatchID != market.CurrentBatchID {
			continue
		}
		c.staging[order.ID] = order
	}
	return nil
}

func (c *clearingUseCase) FinalizeClear(ctx context.Context, keeperUserID int) (*domain.BatchStateEntity, error) {
	market, err := c.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}
	if market.Paused {
		return nil, errors.Wrap(domain.ErrMarketPaused, "clear rejected")
	}
	if market.Params.KeeperRestricted && keeperUserID != market.Params.OnlyKeeper {
		return nil, errors.Wrap(domain.ErrUnauthorized, "keeper restricted market")
	}
	nowSlot := c.clock.Now()
	if !market.BatchWindowClosed(nowSlot) {
		return nil, errors.Wrap(domain.ErrBatchWindowNotElapsed, "batch window still open")
	}
	if nowSlot < market.LastBatchSlot+market.Params.MinSlotsBetweenClears {
		return nil, errors.Wrap(domain.ErrBatchWindowNotElapsed, "min slots between clears not elapsed")
	}

	orders := make([]*domain.OrderEntity, 0, len(c.staging))
	for _, order := range c.staging {
		orders = append(orders, order)
	}

	clearingPriceFP, executableBaseFP, err := uniformClearingPrice(orders)
	if err != nil {
		return nil, errors.Wrap(err, "compute clearing price failed")
	}

	if executableBaseFP.IsZero() {
		// Empty or uncrossed batch. Roll the window with a zero price and
		// nothing to settle; the reference price is left untouched.
		batchState := &domain.BatchStateEntity{
			BatchID:     market.CurrentBatchID,
			CreatedSlot: market.LastBatchSlot,
			ClearedSlot: nowSlot,
			Settled:     true,
			Keeper:      keeperUserID,
		}
		if err := c.commitClear(ctx, market, batchState, nowSlot); err != nil {
			return nil, err
		}
		return batchState, nil
	}

	if market.LastClearingPriceFP > 0 && market.Params.MaxPriceMoveBps > 0 {
		var diffFP uint64
		if clearingPriceFP > market.LastClearingPriceFP {
			diffFP = clearingPriceFP - market.LastClearingPriceFP
		} else {
			diffFP = market.LastClearingPriceFP - clearingPriceFP
		}
		moveBps, err := domain.MulDivFloor(diffFP, domain.BpsDenom, market.LastClearingPriceFP)
		if err != nil {
			// A move too large to even express in bps is outside any band.
			return nil, errors.Wrap(domain.ErrPriceBandExceeded, "price move exceeds representable bps")
		}
		if moveBps > uint64(market.Params.MaxPriceMoveBps) {
			// Staging is retained so a retry after the band widens or the
			// reference price moves does not have to re-read orders.
			return nil, errors.Wrap(domain.ErrPriceBandExceeded, "clearing price outside band")
		}
	}

	totalBaseTradedFP, err := executableBaseFP.Uint64()
	if err != nil {
		return nil, errors.Wrap(err, "executable volume exceeds 64 bits")
	}
	totalQuoteTradedFP, err := domain.NotionalQuoteFP(totalBaseTradedFP, clearingPriceFP).Uint64()
	if err != nil {
		return nil, errors.Wrap(err, "traded notional exceeds 64 bits")
	}

	batchState := &domain.BatchStateEntity{
		BatchID:                    market.CurrentBatchID,
		ClearingPriceFP:            clearingPriceFP,
		TotalBaseTradedFP:          totalBaseTradedFP,
		TotalQuoteTradedFP:         totalQuoteTradedFP,
		CreatedSlot:                market.LastBatchSlot,
		ClearedSlot:                nowSlot,
		Keeper:                     keeperUserID,
		KeeperRewardQuoteFP:        c.feeUseCase.KeeperReward(totalQuoteTradedFP, market.Params.KeeperFeeBps),
		RemainingBidBaseToSettleFP: domain.U128From64(totalBaseTradedFP),
		RemainingAskBaseToSettleFP: domain.U128From64(totalBaseTradedFP),
	}
	if err := c.commitClear(ctx, market, batchState, nowSlot); err != nil {
		return nil, err
	}
	return batchState, nil
}

// commitClear persists the batch state, rolls the market cursor to the next
// window and announces the clear. Only called after every precondition passed.
func (c *clearingUseCase) commitClear(ctx context.Context, market *domain.MarketEntity, batchState *domain.BatchStateEntity, nowSlot uint64) error {
	if err := c.marketRepo.CreateBatchState(batchState); err != nil {
		return errors.Wrap(err, "create batch state failed")
	}

	market.CurrentBatchID++
	market.LastBatchSlot = nowSlot
	market.BatchNotionalQuoteFP = domain.Uint128{}
	market.GlobalOrdersInBatch = 0
	if batchState.TotalBaseTradedFP > 0 {
		market.LastClearingPriceFP = batchState.ClearingPriceFP
	}
	if err := c.marketRepo.UpdateMarket(market); err != nil {
		return errors.Wrap(err, "update market failed")
	}

	c.staging = make(map[uint64]*domain.OrderEntity)

	if err := c.batchClearedTopic.Produce(ctx, &domain.BatchClearedMessage{
		BatchID:            batchState.BatchID,
		ClearingPriceFP:    batchState.ClearingPriceFP,
		TotalBaseTradedFP:  batchState.TotalBaseTradedFP,
		TotalQuoteTradedFP: batchState.TotalQuoteTradedFP,
		ClearedSlot:        batchState.ClearedSlot,
	}); err != nil {
		return errors.Wrap(err, "produce batch cleared message failed")
	}

	return nil
}

// uniformClearingPrice maximizes the executable base volume over the candidate
// prices, which are exactly the limit prices present in the batch. Bid volume
// at price p counts bids with limit >= p; ask volume counts asks with
// limit <= p. Ties on volume resolve to the smallest price because candidates
// are scanned ascending and replacement requires strictly more volume.
func uniformClearingPrice(orders []*domain.OrderEntity) (uint64, domain.Uint128, error) {
	candidateSet := make(map[uint64]struct{}, len(orders))
	for _, order := range orders {
		candidateSet[order.LimitPriceFP] = struct{}{}
	}
	candidates := make([]uint64, 0, len(candidateSet))
	for priceFP := range candidateSet {
		candidates = append(candidates, priceFP)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var (
		bestPriceFP uint64
		bestVolume  domain.Uint128
	)
	for _, priceFP := range candidates {
		var bidVolume, askVolume domain.Uint128
		var err error
		for _, order := range orders {
			switch order.Side {
			case domain.OrderSideBid:
				if order.LimitPriceFP >= priceFP {
					bidVolume, err = bidVolume.Add(domain.U128From64(order.AmountBaseFP))
					if err != nil {
						return 0, domain.Uint128{}, errors.Wrap(err, "bid volume overflow")
					}
				}
			case domain.OrderSideAsk:
				if order.LimitPriceFP <= priceFP {
					askVolume, err = askVolume.Add(domain.U128From64(order.AmountBaseFP))
					if err != nil {
						return 0, domain.Uint128{}, errors.Wrap(err, "ask volume overflow")
					}
				}
			}
		}
		executable := bidVolume
		if askVolume.Cmp(bidVolume) < 0 {
			executable = askVolume
		}
		if executable.Cmp(bestVolume) > 0 {
			bestVolume = executable
			bestPriceFP = priceFP
		}
	}

	return bestPriceFP, bestVolume, nil
}
