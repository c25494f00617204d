package background

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/btorressz/micro-batch-amm/domain"
	loggerKit "github.com/btorressz/micro-batch-amm/kit/logger"
	"github.com/btorressz/micro-batch-amm/kit/mq"
)

// RunKeeper drives the clearing cadence. It polls and lets the use case decide
// whether a clear is due; window-not-elapsed and no-cross results are routine
// and only logged at debug.
func RunKeeper(
	ctx context.Context,
	auctionUseCase domain.AuctionUseCase,
	keeperUserID int,
	pollInterval time.Duration,
	logger *loggerKit.Logger,
) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "keeper stopped")
		case <-ticker.C:
			batchState, err := auctionUseCase.ClearBatch(ctx, keeperUserID)
			if err != nil {
				if errors.Is(err, domain.ErrBatchWindowNotElapsed) {
					continue
				}
				if errors.Is(err, domain.ErrPriceBandExceeded) || errors.Is(err, domain.ErrMarketPaused) {
					logger.Debug("clear skipped", loggerKit.Error(err))
					continue
				}
				logger.Error("clear batch failed", loggerKit.Error(err))
				continue
			}
			logger.Info("batch cleared",
				loggerKit.Uint64("batch_id", batchState.BatchID),
				loggerKit.Uint64("clearing_price_fp", batchState.ClearingPriceFP),
				loggerKit.Uint64("total_base_traded_fp", batchState.TotalBaseTradedFP),
			)
		}
	}
}

// RunSettlementWorker consumes batch-cleared messages, settles every order of
// the batch and persists the batch outcome to history storage. Settlement is
// idempotent, so a crash between settle and persist is safe to replay.
func RunSettlementWorker(
	ctx context.Context,
	auctionUseCase domain.AuctionUseCase,
	batchHistoryRepo domain.BatchHistoryRepo,
	batchClearedTopic mq.MQTopic,
	logger *loggerKit.Logger,
) error {
	batchClearedTopic.Subscribe("settlement-worker", func(message []byte) error {
		var batchCleared domain.BatchClearedMessage
		if err := json.Unmarshal(message, &batchCleared); err != nil {
			return errors.Wrap(err, "unmarshal batch cleared message failed")
		}

		fills, err := auctionUseCase.SettleBatch(ctx, batchCleared.BatchID)
		if err != nil {
			return errors.Wrapf(err, "settle batch %d failed", batchCleared.BatchID)
		}

		batchState, err := auctionUseCase.GetBatchState(batchCleared.BatchID)
		if err != nil {
			return errors.Wrap(err, "get batch state failed")
		}
		if err := batchHistoryRepo.SaveBatchHistory(ctx, batchState); err != nil {
			return errors.Wrap(err, "save batch history failed")
		}
		if len(fills) > 0 {
			if err := batchHistoryRepo.SaveOrderFillsWithIgnore(ctx, fills); err != nil {
				return errors.Wrap(err, "save order fills failed")
			}
		}

		logger.Info("batch settled",
			loggerKit.Uint64("batch_id", batchCleared.BatchID),
			loggerKit.Int("fills", len(fills)),
		)
		return nil
	}, mq.AddErrorHandler(func(err error) {
		logger.Error("settlement worker failed", loggerKit.Error(err))
	}))

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "settlement worker stopped")
	case <-batchClearedTopic.Done():
		return errors.Wrap(batchClearedTopic.Err(), "batch cleared topic get error")
	}
}
