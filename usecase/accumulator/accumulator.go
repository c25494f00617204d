package accumulator

import (
	"context"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type accumulatorUseCase struct {
	marketRepo  domain.MarketRepo
	ledgerRepo  domain.LedgerRepo
	riskUseCase domain.RiskUseCase
	clock       domain.Clock
}

func CreateAccumulatorUseCase(
	marketRepo domain.MarketRepo,
	ledgerRepo domain.LedgerRepo,
	riskUseCase domain.RiskUseCase,
	clock domain.Clock,
) domain.BatchAccumulatorUseCase {
	return &accumulatorUseCase{
		marketRepo:  marketRepo,
		ledgerRepo:  ledgerRepo,
		riskUseCase: riskUseCase,
		clock:       clock,
	}
}

func (a *accumulatorUseCase) SubmitOrder(ctx context.Context, userID int, side domain.OrderSideEnum, limitPriceFP, amountBaseFP uint64) (*domain.OrderEntity, error) {
	market, err := a.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}
	if market.Paused {
		return nil, errors.Wrap(domain.ErrMarketPaused, "submit order rejected")
	}
	if limitPriceFP == 0 {
		return nil, errors.Wrap(domain.ErrInvalidParams, "limit price must be positive")
	}
	if amountBaseFP == 0 {
		return nil, errors.Wrap(domain.ErrInvalidParams, "amount must be positive")
	}
	nowSlot := a.clock.Now()
	if market.BatchWindowClosed(nowSlot) {
		// Orders for the next window are accepted only after a clear rolls
		// the cursor.
		return nil, errors.Wrap(domain.ErrBatchWindowClosed, "submit order rejected")
	}

	notionalQuoteFP := domain.NotionalQuoteFP(amountBaseFP, limitPriceFP)

	switch side {
	case domain.OrderSideBid:
		if notionalQuoteFP.Cmp(domain.U128From64(market.Params.MinQuoteOrderFP)) < 0 {
			return nil, errors.Wrap(domain.ErrDustOrder, "bid notional below minimum")
		}
	case domain.OrderSideAsk:
		if amountBaseFP < market.Params.MinBaseOrderFP {
			return nil, errors.Wrap(domain.ErrDustOrder, "ask amount below minimum")
		}
	default:
		return nil, errors.Wrap(domain.ErrInvalidParams, "unknown order side")
	}

	stats, err := a.marketRepo.GetUserBatchStats(userID, market.CurrentBatchID)
	if err != nil {
		return nil, errors.Wrap(err, "get user batch stats failed")
	}
	if err := a.riskUseCase.ValidateNewOrder(market, stats, notionalQuoteFP); err != nil {
		return nil, errors.Wrap(err, "risk check failed")
	}

	var quoteDepositFP uint64
	switch side {
	case domain.OrderSideBid:
		quoteDepositFP, err = notionalQuoteFP.Uint64()
		if err != nil {
			return nil, errors.Wrap(err, "bid deposit exceeds 64 bits")
		}
		if quoteDepositFP == 0 {
			return nil, errors.Wrap(domain.ErrInvalidParams, "bid deposit rounds to zero")
		}
		if _, err := a.ledgerRepo.Deposit(ctx, userID, market.QuoteAssetID, market.QuoteVaultID, quoteDepositFP); err != nil {
			return nil, errors.Wrap(err, "escrow quote failed")
		}
	case domain.OrderSideAsk:
		if _, err := a.ledgerRepo.Deposit(ctx, userID, market.BaseAssetID, market.BaseVaultID, amountBaseFP); err != nil {
			return nil, errors.Wrap(err, "escrow base failed")
		}
	}

	// Escrow succeeded; commit stats, counters and the order record.
	stats.OrderCount++
	stats.NotionalQuoteFP, err = stats.NotionalQuoteFP.Add(notionalQuoteFP)
	if err != nil {
		return nil, errors.Wrap(err, "accumulate user notional failed")
	}
	market.GlobalOrdersInBatch++
	market.BatchNotionalQuoteFP, err = market.BatchNotionalQuoteFP.Add(notionalQuoteFP)
	if err != nil {
		return nil, errors.Wrap(err, "accumulate batch notional failed")
	}

	order := &domain.OrderEntity{
		ID:             market.NextOrderID,
		UserID:         userID,
		Side:           side,
		LimitPriceFP:   limitPriceFP,
		AmountBaseFP:   amountBaseFP,
		BatchID:        market.CurrentBatchID,
		Status:         domain.OrderStatusOpen,
		QuoteDepositFP: quoteDepositFP,
		PlacedSlot:     nowSlot,
	}
	market.NextOrderID++

	if err := a.marketRepo.SaveUserBatchStats(stats); err != nil {
		return nil, errors.Wrap(err, "save user batch stats failed")
	}
	if err := a.marketRepo.UpdateMarket(market); err != nil {
		return nil, errors.Wrap(err, "update market failed")
	}
	if err := a.marketRepo.CreateOrder(order); err != nil {
		return nil, errors.Wrap(err, "create order failed")
	}

	return order, nil
}

func (a *accumulatorUseCase) CancelOrder(ctx context.Context, userID int, orderID uint64) (*domain.OrderEntity, error) {
	market, err := a.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}
	if market.Paused {
		return nil, errors.Wrap(domain.ErrMarketPaused, "cancel order rejected")
	}
	order, err := a.marketRepo.GetOrder(orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order failed")
	}
	if order.UserID != userID {
		return nil, errors.Wrap(domain.ErrUnauthorized, "order does not belong to this user")
	}
	switch order.Status {
	case domain.OrderStatusCancelled:
		return nil, errors.Wrap(domain.ErrAlreadyCancelled, "cancel order rejected")
	case domain.OrderStatusFilled:
		return nil, errors.Wrap(domain.ErrAlreadyFilled, "cancel order rejected")
	}
	if order.BatchID != market.CurrentBatchID || market.BatchWindowClosed(a.clock.Now()) {
		return nil, errors.Wrap(domain.ErrBatchWindowClosed, "cancel order rejected")
	}

	switch order.Side {
	case domain.OrderSideBid:
		if _, err := a.ledgerRepo.TransferOut(ctx, market.QuoteVaultID, order.UserID, market.QuoteAssetID, order.QuoteDepositFP); err != nil {
			return nil, errors.Wrap(err, "refund quote failed")
		}
	case domain.OrderSideAsk:
		if _, err := a.ledgerRepo.TransferOut(ctx, market.BaseVaultID, order.UserID, market.BaseAssetID, order.AmountBaseFP); err != nil {
			return nil, errors.Wrap(err, "refund base failed")
		}
	}

	if err := a.marketRepo.UpdateOrderStatus(orderID, domain.OrderStatusCancelled); err != nil {
		return nil, errors.Wrap(err, "update order status failed")
	}
	order.Status = domain.OrderStatusCancelled

	return order, nil
}

func (a *accumulatorUseCase) GetOrder(orderID uint64) (*domain.OrderEntity, error) {
	order, err := a.marketRepo.GetOrder(orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order failed")
	}
	return order, nil
}

func (a *accumulatorUseCase) GetUserOrders(userID int) ([]*domain.OrderEntity, error) {
	orders, err := a.marketRepo.GetUserOrders(userID)
	if err != nil {
		return nil, errors.Wrap(err, "get user orders failed")
	}
	return orders, nil
}

func (a *accumulatorUseCase) GetUserBatchStats(userID int, batchID uint64) (*domain.UserBatchStatsEntity, error) {
	stats, err := a.marketRepo.GetUserBatchStats(userID, batchID)
	if err != nil {
		return nil, errors.Wrap(err, "get user batch stats failed")
	}
	return stats, nil
}
