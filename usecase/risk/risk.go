package risk

import (
	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
)

type riskUseCase struct{}

func CreateRiskUseCase() domain.RiskUseCase {
	return &riskUseCase{}
}

func (r *riskUseCase) ValidateNewOrder(market *domain.MarketEntity, stats *domain.UserBatchStatsEntity, orderNotionalQuoteFP domain.Uint128) error {
	if uint64(stats.OrderCount)+1 > uint64(market.Params.MaxOrdersPerUserPerBatch) {
		return errors.Wrap(domain.ErrRiskLimitExceeded, "per-user order count cap")
	}
	if uint64(market.GlobalOrdersInBatch)+1 > uint64(market.Params.MaxOrdersGlobalPerBatch) {
		return errors.Wrap(domain.ErrRiskLimitExceeded, "global order count cap")
	}

	userNotional, err := stats.NotionalQuoteFP.Add(orderNotionalQuoteFP)
	if err != nil {
		return errors.Wrap(err, "accumulate user notional failed")
	}
	if userNotional.Cmp(market.Params.MaxNotionalPerUserPerBatchQuoteFP) > 0 {
		return errors.Wrap(domain.ErrRiskLimitExceeded, "per-user notional cap")
	}

	batchNotional, err := market.BatchNotionalQuoteFP.Add(orderNotionalQuoteFP)
	if err != nil {
		return errors.Wrap(err, "accumulate batch notional failed")
	}
	if batchNotional.Cmp(market.Params.MaxNotionalPerBatchQuoteFP) > 0 {
		return errors.Wrap(domain.ErrRiskLimitExceeded, "batch notional cap")
	}

	return nil
}

func (r *riskUseCase) ValidateParamUpdate(params *domain.MarketParams) error {
	if uint64(params.FeeBps) > domain.BpsDenom {
		return errors.Wrap(domain.ErrInvalidParams, "fee bps above denominator")
	}
	if uint32(params.ProtocolFeeBps)+uint32(params.ReferralFeeBps) > uint32(params.FeeBps) {
		return errors.Wrap(domain.ErrInvalidParams, "protocol and referral splits exceed fee")
	}
	if uint64(params.KeeperFeeBps) > domain.BpsDenom {
		return errors.Wrap(domain.ErrInvalidParams, "keeper fee bps above denominator")
	}
	if params.MaxOrdersPerUserPerBatch == 0 || params.MaxOrdersGlobalPerBatch == 0 {
		return errors.Wrap(domain.ErrInvalidParams, "order count caps must be positive")
	}
	if params.MaxOrdersPerUserPerBatch > params.MaxOrdersGlobalPerBatch {
		return errors.Wrap(domain.ErrInvalidParams, "per-user order cap above global cap")
	}
	if params.MaxNotionalPerUserPerBatchQuoteFP.Cmp(params.MaxNotionalPerBatchQuoteFP) > 0 {
		return errors.Wrap(domain.ErrInvalidParams, "per-user notional cap above batch cap")
	}
	return nil
}
