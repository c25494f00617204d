package domain

import "context"

// MarketRepo owns the market aggregate and its per-batch records. Reads
// return clones; writes commit whole records. Callers serialize mutations of
// the same market aggregate (see AuctionUseCase).
type MarketRepo interface {
	CreateMarket(market *MarketEntity) error
	GetMarket() (*MarketEntity, error)
	UpdateMarket(market *MarketEntity) error

	CreateOrder(order *OrderEntity) error
	GetOrder(orderID uint64) (*OrderEntity, error)
	GetUserOrders(userID int) ([]*OrderEntity, error)
	UpdateOrderStatus(orderID uint64, status OrderStatusEnum) error

	// OpenOrders enumerates open orders of a batch in ascending order-id
	// order, starting after afterOrderID. limit <= 0 means no limit.
	OpenOrders(batchID uint64, afterOrderID uint64, limit int) ([]*OrderEntity, error)

	GetUserBatchStats(userID int, batchID uint64) (*UserBatchStatsEntity, error)
	SaveUserBatchStats(stats *UserBatchStatsEntity) error

	CreateBatchState(batchState *BatchStateEntity) error
	GetBatchState(batchID uint64) (*BatchStateEntity, error)
	UpdateBatchState(batchState *BatchStateEntity) error

	SaveOrderFill(fill *OrderFillEntity) error
	GetOrderFill(orderID uint64) (*OrderFillEntity, error)
}

// BatchHistoryRepo archives cleared batches and their settlement records for
// query, off the hot path.
type BatchHistoryRepo interface {
	SaveBatchHistory(ctx context.Context, batchState *BatchStateEntity) error
	SaveOrderFillsWithIgnore(ctx context.Context, fills []*OrderFillEntity) error
	GetBatchHistory(ctx context.Context, batchID uint64) (*BatchStateEntity, error)
	GetBatchOrderFills(ctx context.Context, batchID uint64) ([]*OrderFillEntity, error)
}
