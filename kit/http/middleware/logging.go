package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"

	httpKit "github.com/btorressz/micro-batch-amm/kit/http"
	loggerKit "github.com/btorressz/micro-batch-amm/kit/logger"
)

func CreateLoggingMiddleware(logger *loggerKit.Logger) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return func(ctx context.Context, request interface{}) (interface{}, error) {
			start := time.Now()
			response, err := next(ctx, request)
			fields := []loggerKit.Field{
				loggerKit.String("url", httpKit.GetURL(ctx)),
				loggerKit.String("request_id", httpKit.GetRequestID(ctx)),
				loggerKit.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Error("request failed", append(fields, loggerKit.Error(err))...)
				return response, err
			}
			logger.Info("request handled", fields...)
			return response, nil
		}
	}
}
