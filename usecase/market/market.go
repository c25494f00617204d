package market

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type marketUseCase struct {
	marketRepo  domain.MarketRepo
	riskUseCase domain.RiskUseCase
	clock       domain.Clock
}

func CreateMarketUseCase(marketRepo domain.MarketRepo, riskUseCase domain.RiskUseCase, clock domain.Clock) domain.MarketUseCase {
	return &marketUseCase{
		marketRepo:  marketRepo,
		riskUseCase: riskUseCase,
		clock:       clock,
	}
}

// CreateMarket seeds a market with permissive defaults: caps unlimited, the
// price band disabled, dust minimums at one unit.
func (m *marketUseCase) CreateMarket(ctx context.Context, authority int, batchDurationSlots uint64, feeBps uint16, maxOrdersPerUserPerBatch uint32) (*domain.MarketEntity, error) {
	if uint64(feeBps) > domain.BpsDenom {
		return nil, errors.Wrap(domain.ErrInvalidParams, "fee bps above denominator")
	}
	if batchDurationSlots == 0 {
		return nil, errors.Wrap(domain.ErrInvalidParams, "batch duration must be positive")
	}
	if maxOrdersPerUserPerBatch == 0 {
		return nil, errors.Wrap(domain.ErrInvalidParams, "per-user order cap must be positive")
	}

	market := &domain.MarketEntity{
		ID:           uuid.New(),
		Authority:    authority,
		BaseAssetID:  uuid.New(),
		QuoteAssetID: uuid.New(),
		BaseVaultID:  uuid.New(),
		QuoteVaultID: uuid.New(),

		BatchDurationSlots: batchDurationSlots,
		LastBatchSlot:      m.clock.Now(),

		// Order ids start at 1: OpenOrders cursors are exclusive of their
		// start, and a fresh cursor is 0.
		NextOrderID: 1,

		Params: domain.MarketParams{
			FeeBps:         feeBps,
			ProtocolFeeBps: feeBps,

			MaxOrdersPerUserPerBatch:          maxOrdersPerUserPerBatch,
			MaxOrdersGlobalPerBatch:           ^uint32(0),
			MaxNotionalPerBatchQuoteFP:        domain.MaxUint128,
			MaxNotionalPerUserPerBatchQuoteFP: domain.MaxUint128,

			MinBaseOrderFP:  1,
			MinQuoteOrderFP: 1,

			MinSlotsBetweenClears: batchDurationSlots,
		},
	}
	if err := m.marketRepo.CreateMarket(market); err != nil {
		return nil, errors.Wrap(err, "create market failed")
	}
	return market, nil
}

func (m *marketUseCase) SetPaused(ctx context.Context, callerID int, paused bool, reason uint8) error {
	market, err := m.marketRepo.GetMarket()
	if err != nil {
		return errors.Wrap(err, "get market failed")
	}
	if market.Authority != callerID {
		return errors.Wrap(domain.ErrUnauthorized, "caller is not the market authority")
	}
	market.Paused = paused
	market.PauseReason = reason
	if err := m.marketRepo.UpdateMarket(market); err != nil {
		return errors.Wrap(err, "update market failed")
	}
	return nil
}

func (m *marketUseCase) SetParams(ctx context.Context, callerID int, params *domain.MarketParams) error {
	market, err := m.marketRepo.GetMarket()
	if err != nil {
		return errors.Wrap(err, "get market failed")
	}
	if market.Authority != callerID {
		return errors.Wrap(domain.ErrUnauthorized, "caller is not the market authority")
	}
	if err := m.riskUseCase.ValidateParamUpdate(params); err != nil {
		return errors.Wrap(err, "validate params failed")
	}
	market.Params = *params
	if err := m.marketRepo.UpdateMarket(market); err != nil {
		return errors.Wrap(err, "update market failed")
	}
	return nil
}

func (m *marketUseCase) ViewMarket() (*domain.MarketEntity, error) {
	market, err := m.marketRepo.GetMarket()
	if err != nil {
		return nil, errors.Wrap(err, "get market failed")
	}
	return market, nil
}
