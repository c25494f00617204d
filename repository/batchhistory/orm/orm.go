package orm

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/btorressz/micro-batch-amm/domain"
	ormKit "github.com/btorressz/micro-batch-amm/kit/orm"
)

type batchHistoryModel struct {
	BatchID            uint64 `gorm:"column:batch_id;primaryKey"`
	ClearingPriceFP    uint64 `gorm:"column:clearing_price_fp"`
	TotalBaseTradedFP  uint64 `gorm:"column:total_base_traded_fp"`
	TotalQuoteTradedFP uint64 `gorm:"column:total_quote_traded_fp"`
	CreatedSlot        uint64 `gorm:"column:created_slot"`
	ClearedSlot        uint64 `gorm:"column:cleared_slot"`
	Keeper             int    `gorm:"column:keeper"`
	KeeperRewardFP     uint64 `gorm:"column:keeper_reward_fp"`
}

func (*batchHistoryModel) TableName() string {
	return "batch_history"
}

type orderFillModel struct {
	OrderID       uint64 `gorm:"column:order_id;primaryKey"`
	BatchID       uint64 `gorm:"column:batch_id;index"`
	FilledBaseFP  uint64 `gorm:"column:filled_base_fp"`
	FilledQuoteFP uint64 `gorm:"column:filled_quote_fp"`
	RefundBaseFP  uint64 `gorm:"column:refund_base_fp"`
	RefundQuoteFP uint64 `gorm:"column:refund_quote_fp"`
}

func (*orderFillModel) TableName() string {
	return "order_fills"
}

type batchHistoryRepo struct {
	orm *ormKit.DB
}

func CreateBatchHistoryRepo(orm *ormKit.DB) (domain.BatchHistoryRepo, error) {
	if err := orm.AutoMigrate(&batchHistoryModel{}, &orderFillModel{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate failed")
	}
	return &batchHistoryRepo{orm: orm}, nil
}

func (b *batchHistoryRepo) SaveBatchHistory(ctx context.Context, batchState *domain.BatchStateEntity) error {
	keeperReward, err := batchState.KeeperRewardQuoteFP.Uint64()
	if err != nil {
		return errors.Wrap(err, "narrow keeper reward failed")
	}
	model := batchHistoryModel{
		BatchID:            batchState.BatchID,
		ClearingPriceFP:    batchState.ClearingPriceFP,
		TotalBaseTradedFP:  batchState.TotalBaseTradedFP,
		TotalQuoteTradedFP: batchState.TotalQuoteTradedFP,
		CreatedSlot:        batchState.CreatedSlot,
		ClearedSlot:        batchState.ClearedSlot,
		Keeper:             batchState.Keeper,
		KeeperRewardFP:     keeperReward,
	}
	if err := b.orm.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return errors.Wrap(err, "save batch history failed")
	}
	return nil
}

func (b *batchHistoryRepo) SaveOrderFillsWithIgnore(ctx context.Context, fills []*domain.OrderFillEntity) error {
	if len(fills) == 0 {
		return nil
	}
	models := make([]*orderFillModel, 0, len(fills))
	for _, fill := range fills {
		models = append(models, &orderFillModel{
			OrderID:       fill.OrderID,
			BatchID:       fill.BatchID,
			FilledBaseFP:  fill.FilledBaseFP,
			FilledQuoteFP: fill.FilledQuoteFP,
			RefundBaseFP:  fill.RefundBaseFP,
			RefundQuoteFP: fill.RefundQuoteFP,
		})
	}
	if err := b.orm.Clauses(clause.OnConflict{DoNothing: true}).Create(models).Error; err != nil {
		return errors.Wrap(err, "save order fills failed")
	}
	return nil
}

func (b *batchHistoryRepo) GetBatchHistory(ctx context.Context, batchID uint64) (*domain.BatchStateEntity, error) {
	var model batchHistoryModel
	if err := b.orm.First(&model, "batch_id = ?", batchID); errors.Is(err, ormKit.ErrRecordNotFound) {
		return nil, domain.ErrNoBatch
	} else if err != nil {
		return nil, errors.Wrap(err, "get batch history failed")
	}
	return &domain.BatchStateEntity{
		BatchID:             model.BatchID,
		ClearingPriceFP:     model.ClearingPriceFP,
		TotalBaseTradedFP:   model.TotalBaseTradedFP,
		TotalQuoteTradedFP:  model.TotalQuoteTradedFP,
		CreatedSlot:         model.CreatedSlot,
		ClearedSlot:         model.ClearedSlot,
		Settled:             true,
		Keeper:              model.Keeper,
		KeeperRewardQuoteFP: domain.U128From64(model.KeeperRewardFP),
	}, nil
}

func (b *batchHistoryRepo) GetBatchOrderFills(ctx context.Context, batchID uint64) ([]*domain.OrderFillEntity, error) {
	var models []*orderFillModel
	if err := b.orm.Where("batch_id = ?", batchID).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "get batch order fills failed")
	}
	fills := make([]*domain.OrderFillEntity, 0, len(models))
	for _, model := range models {
		fills = append(fills, &domain.OrderFillEntity{
			OrderID:       model.OrderID,
			BatchID:       model.BatchID,
			FilledBaseFP:  model.FilledBaseFP,
			FilledQuoteFP: model.FilledQuoteFP,
			RefundBaseFP:  model.RefundBaseFP,
			RefundQuoteFP: model.RefundQuoteFP,
			Claimed:       true,
		})
	}
	return fills, nil
}
