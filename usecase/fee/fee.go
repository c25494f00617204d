package fee

import (
	"context"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type feeUseCase struct {
	marketRepo domain.MarketRepo
}

func CreateFeeUseCase(marketRepo domain.MarketRepo) domain.FeeUseCase {
	return &feeUseCase{
		marketRepo: marketRepo,
	}
}

// TradingFee computes floor(gross*fee_bps/10000) and splits it between the
// protocol and referral buckets in proportion to their bps shares of fee_bps.
func (f *feeUseCase) TradingFee(grossQuoteFP uint64, params *domain.MarketParams) (*domain.FeeBreakdown, error) {
	if uint32(params.ProtocolFeeBps)+uint32(params.ReferralFeeBps) > uint32(params.FeeBps) {
		return nil, errors.Wrap(domain.ErrInvalidParams, "fee splits exceed fee")
	}

	feeQuote := domain.BpsOf(grossQuoteFP, params.FeeBps)
	if params.FeeBps == 0 || feeQuote == 0 {
		return &domain.FeeBreakdown{}, nil
	}

	protocolQuote, err := domain.MulDivFloor(feeQuote, uint64(params.ProtocolFeeBps), uint64(params.FeeBps))
	if err != nil {
		return nil, errors.Wrap(err, "split protocol fee failed")
	}
	referralQuote, err := domain.MulDivFloor(feeQuote, uint64(params.ReferralFeeBps), uint64(params.FeeBps))
	if err != nil {
		return nil, errors.Wrap(err, "split referral fee failed")
	}

	return &domain.FeeBreakdown{
		FeeQuoteFP:      feeQuote,
		ProtocolQuoteFP: protocolQuote,
		ReferralQuoteFP: referralQuote,
	}, nil
}

// KeeperReward is informational accrual only; no payout is issued.
func (f *feeUseCase) KeeperReward(totalQuoteTradedFP uint64, keeperFeeBps uint16) domain.Uint128 {
	if keeperFeeBps == 0 {
		return domain.Uint128{}
	}
	return domain.U128From64(domain.BpsOf(totalQuoteTradedFP, keeperFeeBps))
}

func (f *feeUseCase) AccrueProtocolFee(ctx context.Context, amountQuoteFP uint64) error {
	if amountQuoteFP == 0 {
		return nil
	}
	market, err := f.marketRepo.GetMarket()
	if err != nil {
		return errors.Wrap(err, "get market failed")
	}
	accrued, err := market.ProtocolFeesAccruedFP.Add(domain.U128From64(amountQuoteFP))
	if err != nil {
		return errors.Wrap(err, "accrue protocol fee failed")
	}
	market.ProtocolFeesAccruedFP = accrued
	if err := f.marketRepo.UpdateMarket(market); err != nil {
		return errors.Wrap(err, "update market failed")
	}
	return nil
}

func (f *feeUseCase) AccruedProtocolFees() (domain.Uint128, error) {
	market, err := f.marketRepo.GetMarket()
	if err != nil {
		return domain.Uint128{}, errors.Wrap(err, "get market failed")
	}
	return market.ProtocolFeesAccruedFP, nil
}
