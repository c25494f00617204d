package settlement

import (
	"context"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type settlementUseCase struct {
	marketRepo domain.MarketRepo
	ledgerRepo domain.LedgerRepo
	feeUseCase domain.FeeUseCase
}

func CreateSettlementUseCase(
	marketRepo domain.MarketRepo,
	ledgerRepo domain.LedgerRepo,
	feeUseCase domain.FeeUseCase,
) domain.SettlementUseCase {
	return &settlementUseCase{
		marketRepo: marketRepo,
		ledgerRepo: ledgerRepo,
		feeUseCase: feeUseCase,
	}
}

// SettleOrder pays out one order against its cleared batch. Orders fill all or
// nothing: a crossed order fills in full when the batch still has capacity for
// its whole amount, otherwise the escrow is refunded in full. Either way a
// claimed fill record is written, so a second call fails instead of paying
// twice.
func (s *settlementUseCase) SettleOrder(ctx context.Context, orderID uint64) (*domain.OrderFillEntity, error) {
	market, err := s.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}
	if market.Paused {
		return nil, errors.Wrap(domain.ErrMarketPaused, "settle rejected")
	}
	order, err := s.marketRepo.GetOrder(orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order failed")
	}
	if order.Status == domain.OrderStatusCancelled {
		return nil, errors.Wrap(domain.ErrAlreadyCancelled, "settle rejected")
	}
	if order.BatchID >= market.CurrentBatchID {
		return nil, errors.Wrap(domain.ErrBatchMismatch, "batch not cleared yet")
	}
	if _, err := s.marketRepo.GetOrderFill(orderID); err == nil {
		return nil, errors.Wrap(domain.ErrAlreadyClaimed, "settle rejected")
	} else if !errors.Is(err, domain.ErrNoFill) {
		return nil, errors.Wrap(err, "get order fill failed")
	}
	batchState, err := s.marketRepo.GetBatchState(order.BatchID)
	if err != nil {
		return nil, errors.Wrap(err, "get batch state failed")
	}

	if s.fillable(order, batchState) {
		return s.settleFilled(ctx, market, order, batchState)
	}
	return s.settleRefund(ctx, market, order)
}

func (s *settlementUseCase) fillable(order *domain.OrderEntity, batchState *domain.BatchStateEntity) bool {
	if batchState.ClearingPriceFP == 0 {
		return false
	}
	switch order.Side {
	case domain.OrderSideBid:
		if order.LimitPriceFP < batchState.ClearingPriceFP {
			return false
		}
	case domain.OrderSideAsk:
		if order.LimitPriceFP > batchState.ClearingPriceFP {
			return false
		}
	default:
		return false
	}
	return remainingForSide(order.Side, batchState).Cmp(domain.U128From64(order.AmountBaseFP)) >= 0
}

func remainingForSide(side domain.OrderSideEnum, batchState *domain.BatchStateEntity) domain.Uint128 {
	if side == domain.OrderSideBid {
		return batchState.RemainingBidBaseToSettleFP
	}
	return batchState.RemainingAskBaseToSettleFP
}

func (s *settlementUseCase) settleFilled(ctx context.Context, market *domain.MarketEntity, order *domain.OrderEntity, batchState *domain.BatchStateEntity) (*domain.OrderFillEntity, error) {
	grossQuoteFP, err := domain.MulDivFloor(order.AmountBaseFP, batchState.ClearingPriceFP, domain.PriceScale)
	if err != nil {
		return nil, errors.Wrap(err, "compute gross quote failed")
	}

	fill := &domain.OrderFillEntity{
		OrderID:      order.ID,
		BatchID:      order.BatchID,
		FilledBaseFP: order.AmountBaseFP,
		Claimed:      true,
	}
	var transfers []*domain.LedgerTransfer
	var protocolFeeFP uint64

	switch order.Side {
	case domain.OrderSideBid:
		// The bid escrowed at its limit; it pays the clearing price and the
		// difference comes back.
		if order.QuoteDepositFP < grossQuoteFP {
			return nil, errors.Wrap(domain.ErrLessAmount, "bid escrow below gross quote")
		}
		fill.FilledQuoteFP = grossQuoteFP
		fill.RefundQuoteFP = order.QuoteDepositFP - grossQuoteFP
		transfers = append(transfers, &domain.LedgerTransfer{
			VaultID:  market.BaseVaultID,
			UserID:   order.UserID,
			AssetID:  market.BaseAssetID,
			AmountFP: order.AmountBaseFP,
		})
		if fill.RefundQuoteFP > 0 {
			transfers = append(transfers, &domain.LedgerTransfer{
				VaultID:  market.QuoteVaultID,
				UserID:   order.UserID,
				AssetID:  market.QuoteAssetID,
				AmountFP: fill.RefundQuoteFP,
			})
		}
	case domain.OrderSideAsk:
		// Trading fee is withheld from the ask's quote proceeds; the protocol
		// share accrues to the market.
		feeBreakdown, err := s.feeUseCase.TradingFee(grossQuoteFP, &market.Params)
		if err != nil {
			return nil, errors.Wrap(err, "compute trading fee failed")
		}
		fill.FilledQuoteFP = grossQuoteFP - feeBreakdown.FeeQuoteFP
		protocolFeeFP = feeBreakdown.ProtocolQuoteFP
		if fill.FilledQuoteFP > 0 {
			transfers = append(transfers, &domain.LedgerTransfer{
				VaultID:  market.QuoteVaultID,
				UserID:   order.UserID,
				AssetID:  market.QuoteAssetID,
				AmountFP: fill.FilledQuoteFP,
			})
		}
	}

	if len(transfers) > 0 {
		if _, err := s.ledgerRepo.TransferOutBatch(ctx, transfers); err != nil {
			return nil, errors.Wrap(err, "settlement payout failed")
		}
	}

	// Each side draws down its own capacity against the executable volume;
	// the other side's fills never block this one.
	switch order.Side {
	case domain.OrderSideBid:
		batchState.RemainingBidBaseToSettleFP, err = batchState.RemainingBidBaseToSettleFP.Sub(domain.U128From64(order.AmountBaseFP))
	case domain.OrderSideAsk:
		batchState.RemainingAskBaseToSettleFP, err = batchState.RemainingAskBaseToSettleFP.Sub(domain.U128From64(order.AmountBaseFP))
	}
	if err != nil {
		return nil, errors.Wrap(err, "decrement remaining base failed")
	}
	if batchState.RemainingBidBaseToSettleFP.IsZero() && batchState.RemainingAskBaseToSettleFP.IsZero() {
		batchState.Settled = true
	}

	if err := s.marketRepo.SaveOrderFill(fill); err != nil {
		return nil, errors.Wrap(err, "save order fill failed")
	}
	if err := s.marketRepo.UpdateBatchState(batchState); err != nil {
		return nil, errors.Wrap(err, "update batch state failed")
	}
	if err := s.marketRepo.UpdateOrderStatus(order.ID, domain.OrderStatusFilled); err != nil {
		return nil, errors.Wrap(err, "update order status failed")
	}
	if protocolFeeFP > 0 {
		if err := s.feeUseCase.AccrueProtocolFee(ctx, protocolFeeFP); err != nil {
			return nil, errors.Wrap(err, "accrue protocol fee failed")
		}
	}

	return fill, nil
}

func (s *settlementUseCase) settleRefund(ctx context.Context, market *domain.MarketEntity, order *domain.OrderEntity) (*domain.OrderFillEntity, error) {
	fill := &domain.OrderFillEntity{
		OrderID: order.ID,
		BatchID: order.BatchID,
		Claimed: true,
	}

	switch order.Side {
	case domain.OrderSideBid:
		fill.RefundQuoteFP = order.QuoteDepositFP
		if fill.RefundQuoteFP > 0 {
			if _, err := s.ledgerRepo.TransferOut(ctx, market.QuoteVaultID, order.UserID, market.QuoteAssetID, fill.RefundQuoteFP); err != nil {
				return nil, errors.Wrap(err, "refund quote failed")
			}
		}
	case domain.OrderSideAsk:
		fill.RefundBaseFP = order.AmountBaseFP
		if _, err := s.ledgerRepo.TransferOut(ctx, market.BaseVaultID, order.UserID, market.BaseAssetID, fill.RefundBaseFP); err != nil {
			return nil, errors.Wrap(err, "refund base failed")
		}
	}

	if err := s.marketRepo.SaveOrderFill(fill); err != nil {
		return nil, errors.Wrap(err, "save order fill failed")
	}

	return fill, nil
}

func (s *settlementUseCase) GetOrderFill(orderID uint64) (*domain.OrderFillEntity, error) {
	fill, err := s.marketRepo.GetOrderFill(orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order fill failed")
	}
	return fill, nil
}
