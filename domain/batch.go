package domain

import (
	"context"
	"encoding/json"
)

// BatchStateEntity is the per-batch clearing summary. The clearing price is
// written exactly once; settlement only decrements the remaining capacity.
type BatchStateEntity struct {
	BatchID uint64

	ClearingPriceFP    uint64
	TotalBaseTradedFP  uint64
	TotalQuoteTradedFP uint64

	CreatedSlot uint64
	ClearedSlot uint64

	Settled bool

	Keeper              int
	KeeperRewardQuoteFP Uint128

	// Each side draws down its own settlement capacity: bids consume
	// bid-side base, asks consume ask-side base. Both start at
	// TotalBaseTradedFP and the batch is settled when both reach zero.
	RemainingBidBaseToSettleFP Uint128
	RemainingAskBaseToSettleFP Uint128
}

func (b *BatchStateEntity) Clone() *BatchStateEntity {
	clone := *b
	return &clone
}

type ClearingUseCase interface {
	// Accumulate stages a chunk of the current batch's open orders; callers
	// may page. Duplicate submissions of the same order id count once.
	Accumulate(orders []*OrderEntity) error
	FinalizeClear(ctx context.Context, keeperUserID int) (*BatchStateEntity, error)
}

type SettlementUseCase interface {
	SettleOrder(ctx context.Context, orderID uint64) (*OrderFillEntity, error)
	GetOrderFill(orderID uint64) (*OrderFillEntity, error)
}

type FeeBreakdown struct {
	FeeQuoteFP      uint64
	ProtocolQuoteFP uint64
	ReferralQuoteFP uint64
}

type FeeUseCase interface {
	TradingFee(grossQuoteFP uint64, params *MarketParams) (*FeeBreakdown, error)
	KeeperReward(totalQuoteTradedFP uint64, keeperFeeBps uint16) Uint128
	AccrueProtocolFee(ctx context.Context, amountQuoteFP uint64) error
	AccruedProtocolFees() (Uint128, error)
}

// BatchClearedMessage is produced to the batch-cleared topic when a clear
// finalizes, and drives the background settlement worker.
type BatchClearedMessage struct {
	BatchID            uint64 `json:"batch_id"`
	ClearingPriceFP    uint64 `json:"clearing_price_fp"`
	TotalBaseTradedFP  uint64 `json:"total_base_traded_fp"`
	TotalQuoteTradedFP uint64 `json:"total_quote_traded_fp"`
	ClearedSlot        uint64 `json:"cleared_slot"`
}

func (b *BatchClearedMessage) GetKey() string {
	return "batch-cleared"
}

func (b *BatchClearedMessage) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// AuctionUseCase is the serialized facade over the accumulator, clearing
// engine and settlement processor. All mutations of the market aggregate go
// through one mutex here.
type AuctionUseCase interface {
	SubmitOrder(ctx context.Context, userID int, side OrderSideEnum, limitPriceFP, amountBaseFP uint64) (*OrderEntity, error)
	CancelOrder(ctx context.Context, userID int, orderID uint64) (*OrderEntity, error)
	ClearBatch(ctx context.Context, keeperUserID int) (*BatchStateEntity, error)
	SettleOrder(ctx context.Context, orderID uint64) (*OrderFillEntity, error)
	SettleBatch(ctx context.Context, batchID uint64) ([]*OrderFillEntity, error)
	GetBatchState(batchID uint64) (*BatchStateEntity, error)
}
