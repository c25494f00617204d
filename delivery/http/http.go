package http

import (
	"context"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/btorressz/micro-batch-amm/domain"
	"github.com/btorressz/micro-batch-amm/kit/code"
	httpKit "github.com/btorressz/micro-batch-amm/kit/http"
	httpMiddlewareKit "github.com/btorressz/micro-batch-amm/kit/http/middleware"
	httpTransportKit "github.com/btorressz/micro-batch-amm/kit/http/transport"
)

type submitOrderRequest struct {
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type cancelOrderRequest struct {
	OrderID uint64
}

type settleOrderRequest struct {
	OrderID uint64
}

type getOrderRequest struct {
	OrderID uint64
}

type getOrderFillRequest struct {
	OrderID uint64
}

type getBatchStateRequest struct {
	BatchID uint64
}

type settleBatchRequest struct {
	BatchID uint64
}

type getBatchHistoryRequest struct {
	BatchID uint64
}

type setPausedRequest struct {
	Paused bool  `json:"paused"`
	Reason uint8 `json:"reason"`
}

type setParamsRequest struct {
	FeeBps                   uint16          `json:"fee_bps"`
	ProtocolFeeBps           uint16          `json:"protocol_fee_bps"`
	ReferralFeeBps           uint16          `json:"referral_fee_bps"`
	KeeperFeeBps             uint16          `json:"keeper_fee_bps"`
	MaxOrdersPerUserPerBatch uint32          `json:"max_orders_per_user_per_batch"`
	MaxOrdersGlobalPerBatch  uint32          `json:"max_orders_global_per_batch"`
	MaxNotionalPerBatch      decimal.Decimal `json:"max_notional_per_batch"`
	MaxNotionalPerUser       decimal.Decimal `json:"max_notional_per_user"`
	MaxPriceMoveBps          uint16          `json:"max_price_move_bps"`
	MinBaseOrder             decimal.Decimal `json:"min_base_order"`
	MinQuoteOrder            decimal.Decimal `json:"min_quote_order"`
	MinSlotsBetweenClears    uint64          `json:"min_slots_between_clears"`
	KeeperRestricted         bool            `json:"keeper_restricted"`
	OnlyKeeper               int             `json:"only_keeper"`
}

type orderResponse struct {
	ID           uint64          `json:"id"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	BatchID      uint64          `json:"batch_id"`
	Status       string          `json:"status"`
	QuoteDeposit decimal.Decimal `json:"quote_deposit"`
	PlacedSlot   uint64          `json:"placed_slot"`
}

type batchStateResponse struct {
	BatchID          uint64          `json:"batch_id"`
	ClearingPrice    decimal.Decimal `json:"clearing_price"`
	TotalBaseTraded  decimal.Decimal `json:"total_base_traded"`
	TotalQuoteTraded decimal.Decimal `json:"total_quote_traded"`
	CreatedSlot      uint64          `json:"created_slot"`
	ClearedSlot      uint64          `json:"cleared_slot"`
	Settled          bool            `json:"settled"`
	Keeper           int             `json:"keeper"`
}

type orderFillResponse struct {
	OrderID     uint64          `json:"order_id"`
	BatchID     uint64          `json:"batch_id"`
	FilledBase  decimal.Decimal `json:"filled_base"`
	FilledQuote decimal.Decimal `json:"filled_quote"`
	RefundBase  decimal.Decimal `json:"refund_base"`
	RefundQuote decimal.Decimal `json:"refund_quote"`
	Claimed     bool            `json:"claimed"`
}

type marketResponse struct {
	Paused              bool            `json:"paused"`
	PauseReason         uint8           `json:"pause_reason"`
	CurrentBatchID      uint64          `json:"current_batch_id"`
	LastBatchSlot       uint64          `json:"last_batch_slot"`
	BatchDurationSlots  uint64          `json:"batch_duration_slots"`
	LastClearingPrice   decimal.Decimal `json:"last_clearing_price"`
	FeeBps              uint16          `json:"fee_bps"`
	MaxPriceMoveBps     uint16          `json:"max_price_move_bps"`
	GlobalOrdersInBatch uint32          `json:"global_orders_in_batch"`
}

var (
	DecodeSubmitOrderRequest  = httpTransportKit.DecodeJsonRequest[submitOrderRequest]
	EncodeSubmitOrderResponse = httpMiddlewareKit.EncodeResponseSetSuccessHTTPCode(httpTransportKit.EncodeJsonResponse)

	EncodeCancelOrderResponse = httpTransportKit.EncodeJsonResponse

	EncodeGetOrderResponse = httpTransportKit.EncodeJsonResponse

	DecodeGetUserOrdersRequest  = httpTransportKit.DecodeEmptyRequest
	EncodeGetUserOrdersResponse = httpTransportKit.EncodeJsonResponse

	DecodeClearBatchRequest  = httpTransportKit.DecodeEmptyRequest
	EncodeClearBatchResponse = httpTransportKit.EncodeJsonResponse

	EncodeSettleOrderResponse = httpTransportKit.EncodeJsonResponse
	EncodeSettleBatchResponse = httpTransportKit.EncodeJsonResponse

	EncodeGetBatchStateResponse = httpTransportKit.EncodeJsonResponse
	EncodeGetOrderFillResponse  = httpTransportKit.EncodeJsonResponse

	DecodeViewMarketRequest  = httpTransportKit.DecodeEmptyRequest
	EncodeViewMarketResponse = httpTransportKit.EncodeJsonResponse

	DecodeSetPausedRequest  = httpTransportKit.DecodeJsonRequest[setPausedRequest]
	EncodeSetPausedResponse = httpMiddlewareKit.EncodeResponseSetSuccessHTTPCode(httpTransportKit.EncodeEmptyResponse)

	DecodeSetParamsRequest  = httpTransportKit.DecodeJsonRequest[setParamsRequest]
	EncodeSetParamsResponse = httpMiddlewareKit.EncodeResponseSetSuccessHTTPCode(httpTransportKit.EncodeEmptyResponse)

	EncodeGetBatchHistoryResponse = httpTransportKit.EncodeJsonResponse
)

func MakeSubmitOrderEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		req := request.(submitOrderRequest)
		side, err := parseOrderSide(req.Side)
		if err != nil {
			return nil, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(err)
		}
		priceFP, err := decimalToFP(req.Price)
		if err != nil {
			return nil, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(err)
		}
		amountFP, err := decimalToFP(req.Amount)
		if err != nil {
			return nil, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(err)
		}
		order, err := svc.SubmitOrder(ctx, userID, side, priceFP, amountFP)
		if err != nil {
			return nil, wrapDomainError(err, "submit order failed")
		}
		return makeOrderResponse(order), nil
	}
}

func MakeCancelOrderEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		req := request.(cancelOrderRequest)
		order, err := svc.CancelOrder(ctx, userID, req.OrderID)
		if err != nil {
			return nil, wrapDomainError(err, "cancel order failed")
		}
		return makeOrderResponse(order), nil
	}
}

func MakeGetOrderEndpoint(svc domain.BatchAccumulatorUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(getOrderRequest)
		order, err := svc.GetOrder(req.OrderID)
		if err != nil {
			return nil, wrapDomainError(err, "get order failed")
		}
		return makeOrderResponse(order), nil
	}
}

func MakeGetUserOrdersEndpoint(svc domain.BatchAccumulatorUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		orders, err := svc.GetUserOrders(userID)
		if err != nil {
			return nil, wrapDomainError(err, "get user orders failed")
		}
		ordersResponse := make([]*orderResponse, 0, len(orders))
		for _, order := range orders {
			ordersResponse = append(ordersResponse, makeOrderResponse(order))
		}
		return ordersResponse, nil
	}
}

func MakeClearBatchEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		batchState, err := svc.ClearBatch(ctx, userID)
		if err != nil {
			return nil, wrapDomainError(err, "clear batch failed")
		}
		return makeBatchStateResponse(batchState), nil
	}
}

func MakeSettleOrderEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(settleOrderRequest)
		fill, err := svc.SettleOrder(ctx, req.OrderID)
		if err != nil {
			return nil, wrapDomainError(err, "settle order failed")
		}
		return makeOrderFillResponse(fill), nil
	}
}

func MakeSettleBatchEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(settleBatchRequest)
		fills, err := svc.SettleBatch(ctx, req.BatchID)
		if err != nil {
			return nil, wrapDomainError(err, "settle batch failed")
		}
		fillsResponse := make([]*orderFillResponse, 0, len(fills))
		for _, fill := range fills {
			fillsResponse = append(fillsResponse, makeOrderFillResponse(fill))
		}
		return fillsResponse, nil
	}
}

func MakeGetBatchStateEndpoint(svc domain.AuctionUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(getBatchStateRequest)
		batchState, err := svc.GetBatchState(req.BatchID)
		if err != nil {
			return nil, wrapDomainError(err, "get batch state failed")
		}
		return makeBatchStateResponse(batchState), nil
	}
}

func MakeGetOrderFillEndpoint(svc domain.SettlementUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(getOrderFillRequest)
		fill, err := svc.GetOrderFill(req.OrderID)
		if err != nil {
			return nil, wrapDomainError(err, "get order fill failed")
		}
		return makeOrderFillResponse(fill), nil
	}
}

func MakeViewMarketEndpoint(svc domain.MarketUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		market, err := svc.ViewMarket()
		if err != nil {
			return nil, wrapDomainError(err, "view market failed")
		}
		return &marketResponse{
			Paused:              market.Paused,
			PauseReason:         market.PauseReason,
			CurrentBatchID:      market.CurrentBatchID,
			LastBatchSlot:       market.LastBatchSlot,
			BatchDurationSlots:  market.BatchDurationSlots,
			LastClearingPrice:   fpToDecimal(market.LastClearingPriceFP),
			FeeBps:              market.Params.FeeBps,
			MaxPriceMoveBps:     market.Params.MaxPriceMoveBps,
			GlobalOrdersInBatch: market.GlobalOrdersInBatch,
		}, nil
	}
}

func MakeSetPausedEndpoint(svc domain.MarketUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		req := request.(setPausedRequest)
		if err := svc.SetPaused(ctx, userID, req.Paused, req.Reason); err != nil {
			return nil, wrapDomainError(err, "set paused failed")
		}
		return nil, nil
	}
}

func MakeSetParamsEndpoint(svc domain.MarketUseCase) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		userID := httpKit.GetUserID(ctx)
		if userID == 0 {
			return nil, code.CreateErrorCode(http.StatusUnauthorized).AddErrorMetaData(errors.New("not found user id"))
		}
		req := request.(setParamsRequest)
		params, err := makeMarketParams(req)
		if err != nil {
			return nil, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(err)
		}
		if err := svc.SetParams(ctx, userID, params); err != nil {
			return nil, wrapDomainError(err, "set params failed")
		}
		return nil, nil
	}
}

func MakeGetBatchHistoryEndpoint(svc domain.BatchHistoryRepo) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(getBatchHistoryRequest)
		batchState, err := svc.GetBatchHistory(ctx, req.BatchID)
		if err != nil {
			return nil, wrapDomainError(err, "get batch history failed")
		}
		fills, err := svc.GetBatchOrderFills(ctx, req.BatchID)
		if err != nil {
			return nil, wrapDomainError(err, "get batch order fills failed")
		}
		fillsResponse := make([]*orderFillResponse, 0, len(fills))
		for _, fill := range fills {
			fillsResponse = append(fillsResponse, makeOrderFillResponse(fill))
		}
		return struct {
			Batch *batchStateResponse  `json:"batch"`
			Fills []*orderFillResponse `json:"fills"`
		}{makeBatchStateResponse(batchState), fillsResponse}, nil
	}
}

func DecodeCancelOrderRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	orderID, err := pathUint64(r, "orderID")
	if err != nil {
		return nil, err
	}
	return cancelOrderRequest{OrderID: orderID}, nil
}

func DecodeGetOrderRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	orderID, err := pathUint64(r, "orderID")
	if err != nil {
		return nil, err
	}
	return getOrderRequest{OrderID: orderID}, nil
}

func DecodeSettleOrderRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	orderID, err := pathUint64(r, "orderID")
	if err != nil {
		return nil, err
	}
	return settleOrderRequest{OrderID: orderID}, nil
}

func DecodeGetOrderFillRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	orderID, err := pathUint64(r, "orderID")
	if err != nil {
		return nil, err
	}
	return getOrderFillRequest{OrderID: orderID}, nil
}

func DecodeGetBatchStateRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	batchID, err := pathUint64(r, "batchID")
	if err != nil {
		return nil, err
	}
	return getBatchStateRequest{BatchID: batchID}, nil
}

func DecodeSettleBatchRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	batchID, err := pathUint64(r, "batchID")
	if err != nil {
		return nil, err
	}
	return settleBatchRequest{BatchID: batchID}, nil
}

func DecodeGetBatchHistoryRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	batchID, err := pathUint64(r, "batchID")
	if err != nil {
		return nil, err
	}
	return getBatchHistoryRequest{BatchID: batchID}, nil
}

func pathUint64(r *http.Request, key string) (uint64, error) {
	vars := mux.Vars(r)
	valueString, ok := vars[key]
	if !ok {
		return 0, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(errors.New("get " + key + " failed"))
	}
	value, err := strconv.ParseUint(valueString, 10, 64)
	if err != nil {
		return 0, code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(errors.New(key + " format error"))
	}
	return value, nil
}

func parseOrderSide(side string) (domain.OrderSideEnum, error) {
	switch side {
	case "bid":
		return domain.OrderSideBid, nil
	case "ask":
		return domain.OrderSideAsk, nil
	default:
		return domain.OrderSideUnknown, errors.New("unknown order side")
	}
}

// decimalToFP converts a human amount to the 1e6 fixed-point wire unit. More
// than six fractional digits is an error, not a silent truncation.
func decimalToFP(value decimal.Decimal) (uint64, error) {
	shifted := value.Shift(6)
	if !shifted.IsInteger() {
		return 0, errors.New("more than 6 decimal places")
	}
	if shifted.IsNegative() {
		return 0, errors.New("negative amount")
	}
	bigValue := shifted.BigInt()
	if !bigValue.IsUint64() {
		return 0, errors.New("amount out of range")
	}
	return bigValue.Uint64(), nil
}

func fpToDecimal(valueFP uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(valueFP), -6)
}

func makeOrderResponse(order *domain.OrderEntity) *orderResponse {
	return &orderResponse{
		ID:           order.ID,
		Side:         order.Side.String(),
		Price:        fpToDecimal(order.LimitPriceFP),
		Amount:       fpToDecimal(order.AmountBaseFP),
		BatchID:      order.BatchID,
		Status:       order.Status.String(),
		QuoteDeposit: fpToDecimal(order.QuoteDepositFP),
		PlacedSlot:   order.PlacedSlot,
	}
}

func makeBatchStateResponse(batchState *domain.BatchStateEntity) *batchStateResponse {
	return &batchStateResponse{
		BatchID:          batchState.BatchID,
		ClearingPrice:    fpToDecimal(batchState.ClearingPriceFP),
		TotalBaseTraded:  fpToDecimal(batchState.TotalBaseTradedFP),
		TotalQuoteTraded: fpToDecimal(batchState.TotalQuoteTradedFP),
		CreatedSlot:      batchState.CreatedSlot,
		ClearedSlot:      batchState.ClearedSlot,
		Settled:          batchState.Settled,
		Keeper:           batchState.Keeper,
	}
}

func makeOrderFillResponse(fill *domain.OrderFillEntity) *orderFillResponse {
	return &orderFillResponse{
		OrderID:     fill.OrderID,
		BatchID:     fill.BatchID,
		FilledBase:  fpToDecimal(fill.FilledBaseFP),
		FilledQuote: fpToDecimal(fill.FilledQuoteFP),
		RefundBase:  fpToDecimal(fill.RefundBaseFP),
		RefundQuote: fpToDecimal(fill.RefundQuoteFP),
		Claimed:     fill.Claimed,
	}
}

func makeMarketParams(req setParamsRequest) (*domain.MarketParams, error) {
	maxNotionalPerBatchFP, err := decimalToFP(req.MaxNotionalPerBatch)
	if err != nil {
		return nil, errors.Wrap(err, "max notional per batch")
	}
	maxNotionalPerUserFP, err := decimalToFP(req.MaxNotionalPerUser)
	if err != nil {
		return nil, errors.Wrap(err, "max notional per user")
	}
	minBaseOrderFP, err := decimalToFP(req.MinBaseOrder)
	if err != nil {
		return nil, errors.Wrap(err, "min base order")
	}
	minQuoteOrderFP, err := decimalToFP(req.MinQuoteOrder)
	if err != nil {
		return nil, errors.Wrap(err, "min quote order")
	}
	return &domain.MarketParams{
		FeeBps:                            req.FeeBps,
		ProtocolFeeBps:                    req.ProtocolFeeBps,
		ReferralFeeBps:                    req.ReferralFeeBps,
		KeeperFeeBps:                      req.KeeperFeeBps,
		MaxOrdersPerUserPerBatch:          req.MaxOrdersPerUserPerBatch,
		MaxOrdersGlobalPerBatch:           req.MaxOrdersGlobalPerBatch,
		MaxNotionalPerBatchQuoteFP:        domain.U128From64(maxNotionalPerBatchFP),
		MaxNotionalPerUserPerBatchQuoteFP: domain.U128From64(maxNotionalPerUserFP),
		MaxPriceMoveBps:                   req.MaxPriceMoveBps,
		MinBaseOrderFP:                    minBaseOrderFP,
		MinQuoteOrderFP:                   minQuoteOrderFP,
		MinSlotsBetweenClears:             req.MinSlotsBetweenClears,
		KeeperRestricted:                  req.KeeperRestricted,
		OnlyKeeper:                        req.OnlyKeeper,
	}, nil
}

// wrapDomainError maps domain sentinels to HTTP error codes so clients can
// tell a retryable clear failure from a permanent rejection.
func wrapDomainError(err error, message string) error {
	wrapped := errors.Wrap(err, message)
	switch {
	case errors.Is(err, domain.ErrNoMarket),
		errors.Is(err, domain.ErrNoOrder),
		errors.Is(err, domain.ErrNoBatch),
		errors.Is(err, domain.ErrNoFill):
		return code.CreateErrorCode(http.StatusNotFound).AddErrorMetaData(wrapped)
	case errors.Is(err, domain.ErrUnauthorized):
		return code.CreateErrorCode(http.StatusForbidden).AddErrorMetaData(wrapped)
	case errors.Is(err, domain.ErrMarketPaused),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrAlreadyFilled),
		errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrBatchMismatch),
		errors.Is(err, domain.ErrBatchWindowClosed):
		return code.CreateErrorCode(http.StatusConflict).AddErrorMetaData(wrapped)
	case errors.Is(err, domain.ErrBatchWindowNotElapsed),
		errors.Is(err, domain.ErrPriceBandExceeded):
		return code.CreateErrorCode(http.StatusTooEarly).AddErrorMetaData(wrapped)
	case errors.Is(err, domain.ErrInvalidParams),
		errors.Is(err, domain.ErrDustOrder),
		errors.Is(err, domain.ErrRiskLimitExceeded),
		errors.Is(err, domain.ErrLessAmount),
		errors.Is(err, domain.ErrMathOverflow):
		return code.CreateErrorCode(http.StatusBadRequest).AddErrorMetaData(wrapped)
	default:
		return wrapped
	}
}
