package domain

import (
	"context"

	"github.com/google/uuid"
)

// MarketParams are the admin-tunable fee and risk controls, validated as a
// unit before being applied.
type MarketParams struct {
	FeeBps         uint16
	ProtocolFeeBps uint16
	ReferralFeeBps uint16
	KeeperFeeBps   uint16

	MaxOrdersPerUserPerBatch          uint32
	MaxOrdersGlobalPerBatch           uint32
	MaxNotionalPerBatchQuoteFP        Uint128
	MaxNotionalPerUserPerBatchQuoteFP Uint128

	MaxPriceMoveBps uint16

	MinBaseOrderFP  uint64
	MinQuoteOrderFP uint64

	MinSlotsBetweenClears uint64
	KeeperRestricted      bool
	OnlyKeeper            int
}

type MarketEntity struct {
	ID        uuid.UUID
	Authority int

	BaseAssetID  uuid.UUID
	QuoteAssetID uuid.UUID
	BaseVaultID  uuid.UUID
	QuoteVaultID uuid.UUID

	BatchDurationSlots uint64
	LastBatchSlot      uint64
	CurrentBatchID     uint64
	NextOrderID        uint64

	Params MarketParams

	Paused      bool
	PauseReason uint8

	// Rolling per-batch counters, reset when the cursor advances.
	BatchNotionalQuoteFP Uint128
	GlobalOrdersInBatch  uint32

	LastClearingPriceFP   uint64
	ProtocolFeesAccruedFP Uint128
}

func (m *MarketEntity) Clone() *MarketEntity {
	clone := *m
	return &clone
}

// BatchWindowClosed reports whether the current batch no longer accepts
// orders. New orders belong to the next window only after a clear has rolled
// the cursor.
func (m *MarketEntity) BatchWindowClosed(nowSlot uint64) bool {
	return nowSlot >= m.LastBatchSlot+m.BatchDurationSlots
}

type MarketUseCase interface {
	CreateMarket(ctx context.Context, authority int, batchDurationSlots uint64, feeBps uint16, maxOrdersPerUserPerBatch uint32) (*MarketEntity, error)
	SetPaused(ctx context.Context, callerID int, paused bool, reason uint8) error
	SetParams(ctx context.Context, callerID int, params *MarketParams) error
	ViewMarket() (*MarketEntity, error)
}

type RiskUseCase interface {
	ValidateNewOrder(market *MarketEntity, stats *UserBatchStatsEntity, orderNotionalQuoteFP Uint128) error
	ValidateParamUpdate(params *MarketParams) error
}
