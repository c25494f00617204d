package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/btorressz/micro-batch-amm/kit/code"
)

func EncodeErrorResponse() func(ctx context.Context, err error, w http.ResponseWriter) {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		if err == nil {
			panic("encodeError with nil error")
		}

		errorCode := code.CreateHTTPError(code.ParseErrorCode(err))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(errorCode.HTTPCode)
		json.NewEncoder(w).Encode(errorCode)
	}
}
