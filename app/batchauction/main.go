package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/btorressz/micro-batch-amm/delivery/background"
	httpDelivery "github.com/btorressz/micro-batch-amm/delivery/http"
	httpKit "github.com/btorressz/micro-batch-amm/kit/http"
	httpMiddlewareKit "github.com/btorressz/micro-batch-amm/kit/http/middleware"
	loggerKit "github.com/btorressz/micro-batch-amm/kit/logger"
	memoryMQKit "github.com/btorressz/micro-batch-amm/kit/mq/memory"
	ormKit "github.com/btorressz/micro-batch-amm/kit/orm"
	utilKit "github.com/btorressz/micro-batch-amm/kit/util"
	batchHistoryORMRepo "github.com/btorressz/micro-batch-amm/repository/batchhistory/orm"
	monotonicClock "github.com/btorressz/micro-batch-amm/repository/clock/monotonic"
	ledgerMemoryRepo "github.com/btorressz/micro-batch-amm/repository/ledger/memory"
	marketMemoryRepo "github.com/btorressz/micro-batch-amm/repository/market/memory"
	"github.com/btorressz/micro-batch-amm/usecase/accumulator"
	"github.com/btorressz/micro-batch-amm/usecase/auction"
	"github.com/btorressz/micro-batch-amm/usecase/clearing"
	"github.com/btorressz/micro-batch-amm/usecase/fee"
	"github.com/btorressz/micro-batch-amm/usecase/market"
	"github.com/btorressz/micro-batch-amm/usecase/risk"
	"github.com/btorressz/micro-batch-amm/usecase/settlement"
)

func main() {
	httpAddr := utilKit.GetEnvString("HTTP_ADDR", ":9090")
	logFilePath := utilKit.GetEnvString("LOG_FILE_PATH", "")
	mysqlURI := utilKit.GetEnvString("MYSQL_URI", "")
	sqliteFilePath := utilKit.GetEnvString("SQLITE_FILE_PATH", "./batch-auction.db")
	slotDurationMS := utilKit.GetEnvInt("SLOT_DURATION_MS", 400)
	batchDurationSlots := utilKit.GetEnvUint64("BATCH_DURATION_SLOTS", 25)
	feeBps := utilKit.GetEnvInt("FEE_BPS", 30)
	maxOrdersPerUser := utilKit.GetEnvInt("MAX_ORDERS_PER_USER_PER_BATCH", 16)
	authorityUserID := utilKit.GetEnvInt("AUTHORITY_USER_ID", 1)
	keeperUserID := utilKit.GetEnvInt("KEEPER_USER_ID", 1)
	enableKeeper := utilKit.GetEnvBool("ENABLE_KEEPER", true)
	keeperPollMS := utilKit.GetEnvInt("KEEPER_POLL_MS", 500)
	fundUserID := utilKit.GetEnvInt("FUND_USER_ID", 0)
	fundAmountFP := utilKit.GetEnvUint64("FUND_AMOUNT_FP", 0)

	ctx := context.Background()

	logger, err := loggerKit.NewLogger(logFilePath, loggerKit.InfoLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var ormDB *ormKit.DB
	if mysqlURI != "" {
		ormDB, err = ormKit.CreateDB(ormKit.UseMySQL(mysqlURI))
	} else {
		ormDB, err = ormKit.CreateDB(ormKit.UseSQLite(sqliteFilePath))
	}
	if err != nil {
		panic(err)
	}

	batchClearedMQTopic := memoryMQKit.CreateMemoryMQ(ctx, 1000)

	clock := monotonicClock.CreateClock(time.Duration(slotDurationMS) * time.Millisecond)
	marketRepo := marketMemoryRepo.CreateMarketRepo()
	ledgerRepo := ledgerMemoryRepo.CreateLedgerRepo()
	batchHistoryRepo, err := batchHistoryORMRepo.CreateBatchHistoryRepo(ormDB)
	if err != nil {
		panic(err)
	}

	riskUseCase := risk.CreateRiskUseCase()
	feeUseCase := fee.CreateFeeUseCase(marketRepo)
	marketUseCase := market.CreateMarketUseCase(marketRepo, riskUseCase, clock)
	accumulatorUseCase := accumulator.CreateAccumulatorUseCase(marketRepo, ledgerRepo, riskUseCase, clock)
	clearingUseCase := clearing.CreateClearingUseCase(marketRepo, feeUseCase, clock, batchClearedMQTopic)
	settlementUseCase := settlement.CreateSettlementUseCase(marketRepo, ledgerRepo, feeUseCase)
	auctionUseCase := auction.CreateAuctionUseCase(accumulatorUseCase, clearingUseCase, settlementUseCase, marketRepo)

	marketEntity, err := marketUseCase.CreateMarket(ctx, authorityUserID, batchDurationSlots, uint16(feeBps), uint32(maxOrdersPerUser))
	if err != nil {
		panic(err)
	}
	if fundUserID != 0 && fundAmountFP != 0 {
		ledgerRepo.Fund(fundUserID, marketEntity.BaseAssetID, fundAmountFP)
		ledgerRepo.Fund(fundUserID, marketEntity.QuoteAssetID, fundAmountFP)
	}

	go func() {
		if err := background.RunSettlementWorker(ctx, auctionUseCase, batchHistoryRepo, batchClearedMQTopic, logger); err != nil {
			logger.Error("settlement worker stopped", loggerKit.Error(err))
		}
	}()
	if enableKeeper {
		go func() {
			if err := background.RunKeeper(ctx, auctionUseCase, keeperUserID, time.Duration(keeperPollMS)*time.Millisecond, logger); err != nil {
				logger.Error("keeper stopped", loggerKit.Error(err))
			}
		}()
	}

	loggingMiddleware := httpMiddlewareKit.CreateLoggingMiddleware(logger)
	options := []httptransport.ServerOption{
		httptransport.ServerBefore(httpKit.CustomBeforeCtx()),
		httptransport.ServerBefore(httpKit.UserIDFromHeaderCtx()),
		httptransport.ServerErrorEncoder(httpKit.EncodeErrorResponse()),
	}
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1/").Subrouter()
	api.Methods("GET").Path("/health").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	api.Methods("POST").Path("/orders").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeSubmitOrderEndpoint(auctionUseCase)),
			httpDelivery.DecodeSubmitOrderRequest,
			httpDelivery.EncodeSubmitOrderResponse,
			options...,
		),
	)
	api.Methods("DELETE").Path("/orders/{orderID}").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeCancelOrderEndpoint(auctionUseCase)),
			httpDelivery.DecodeCancelOrderRequest,
			httpDelivery.EncodeCancelOrderResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/orders/{orderID}").Handler(
		httptransport.NewServer(
			httpDelivery.MakeGetOrderEndpoint(accumulatorUseCase),
			httpDelivery.DecodeGetOrderRequest,
			httpDelivery.EncodeGetOrderResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/orders").Handler(
		httptransport.NewServer(
			httpDelivery.MakeGetUserOrdersEndpoint(accumulatorUseCase),
			httpDelivery.DecodeGetUserOrdersRequest,
			httpDelivery.EncodeGetUserOrdersResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/orders/{orderID}/fill").Handler(
		httptransport.NewServer(
			httpDelivery.MakeGetOrderFillEndpoint(settlementUseCase),
			httpDelivery.DecodeGetOrderFillRequest,
			httpDelivery.EncodeGetOrderFillResponse,
			options...,
		),
	)
	api.Methods("POST").Path("/orders/{orderID}/settle").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeSettleOrderEndpoint(auctionUseCase)),
			httpDelivery.DecodeSettleOrderRequest,
			httpDelivery.EncodeSettleOrderResponse,
			options...,
		),
	)
	api.Methods("POST").Path("/batches/clear").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeClearBatchEndpoint(auctionUseCase)),
			httpDelivery.DecodeClearBatchRequest,
			httpDelivery.EncodeClearBatchResponse,
			options...,
		),
	)
	api.Methods("POST").Path("/batches/{batchID}/settle").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeSettleBatchEndpoint(auctionUseCase)),
			httpDelivery.DecodeSettleBatchRequest,
			httpDelivery.EncodeSettleBatchResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/batches/{batchID}").Handler(
		httptransport.NewServer(
			httpDelivery.MakeGetBatchStateEndpoint(auctionUseCase),
			httpDelivery.DecodeGetBatchStateRequest,
			httpDelivery.EncodeGetBatchStateResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/batches/{batchID}/history").Handler(
		httptransport.NewServer(
			httpDelivery.MakeGetBatchHistoryEndpoint(batchHistoryRepo),
			httpDelivery.DecodeGetBatchHistoryRequest,
			httpDelivery.EncodeGetBatchHistoryResponse,
			options...,
		),
	)
	api.Methods("GET").Path("/market").Handler(
		httptransport.NewServer(
			httpDelivery.MakeViewMarketEndpoint(marketUseCase),
			httpDelivery.DecodeViewMarketRequest,
			httpDelivery.EncodeViewMarketResponse,
			options...,
		),
	)
	api.Methods("POST").Path("/market/pause").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeSetPausedEndpoint(marketUseCase)),
			httpDelivery.DecodeSetPausedRequest,
			httpDelivery.EncodeSetPausedResponse,
			options...,
		),
	)
	api.Methods("POST").Path("/market/params").Handler(
		httptransport.NewServer(
			loggingMiddleware(httpDelivery.MakeSetParamsEndpoint(marketUseCase)),
			httpDelivery.DecodeSetParamsRequest,
			httpDelivery.EncodeSetParamsResponse,
			options...,
		),
	)

	httpSrv := http.Server{
		Addr:    httpAddr,
		Handler: cors.Default().Handler(r),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("http server get error, error: %+v", err))
		}
	}()
	logger.Info("batch auction started",
		loggerKit.String("addr", httpAddr),
		loggerKit.Uint64("batch_duration_slots", batchDurationSlots),
		loggerKit.Int("fee_bps", feeBps),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	httpSrv.Shutdown(ctx)
	batchClearedMQTopic.Shutdown()
}
