package domain

import "context"

type OrderSideEnum int

const (
	OrderSideUnknown OrderSideEnum = iota
	OrderSideBid
	OrderSideAsk
)

func (o OrderSideEnum) String() string {
	switch o {
	case OrderSideBid:
		return "bid"
	case OrderSideAsk:
		return "ask"
	default:
		return "unknown"
	}
}

type OrderStatusEnum int

const (
	OrderStatusUnknown OrderStatusEnum = iota
	OrderStatusOpen
	OrderStatusFilled
	OrderStatusCancelled
)

func (o OrderStatusEnum) String() string {
	switch o {
	case OrderStatusOpen:
		return "open"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFinal reports whether the status can no longer transition. Open orders
// transition exactly once, to Filled or Cancelled, never both.
func (o OrderStatusEnum) IsFinal() bool {
	return o == OrderStatusFilled || o == OrderStatusCancelled
}

type OrderEntity struct {
	ID     uint64
	UserID int

	Side         OrderSideEnum
	LimitPriceFP uint64
	AmountBaseFP uint64

	// BatchID is immutable after placement; the order never carries over to a
	// later batch.
	BatchID uint64
	Status  OrderStatusEnum

	// QuoteDepositFP is the quote escrowed at placement. Zero for asks, which
	// escrow AmountBaseFP in base instead.
	QuoteDepositFP uint64

	PlacedSlot uint64
}

func (o *OrderEntity) Clone() *OrderEntity {
	clone := *o
	return &clone
}

// OrderFillEntity is the per-order settlement record, written at most once.
type OrderFillEntity struct {
	OrderID uint64
	BatchID uint64

	FilledBaseFP  uint64
	FilledQuoteFP uint64
	RefundBaseFP  uint64
	RefundQuoteFP uint64

	Claimed bool
}

type UserBatchStatsEntity struct {
	UserID  int
	BatchID uint64

	OrderCount      uint32
	NotionalQuoteFP Uint128
}

type BatchAccumulatorUseCase interface {
	SubmitOrder(ctx context.Context, userID int, side OrderSideEnum, limitPriceFP, amountBaseFP uint64) (*OrderEntity, error)
	CancelOrder(ctx context.Context, userID int, orderID uint64) (*OrderEntity, error)
	GetOrder(orderID uint64) (*OrderEntity, error)
	GetUserOrders(userID int) ([]*OrderEntity, error)
	GetUserBatchStats(userID int, batchID uint64) (*UserBatchStatsEntity, error)
}
