package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	utilKit "github.com/btorressz/micro-batch-amm/kit/util"
)

type ctxKeyType int

const (
	_CTX_IP_KEY ctxKeyType = iota
	_CTX_HOST
	_CTX_URL_PATH
	_CTX_REQUEST_ID
	_CTX_USER_ID
)

func ReadUserIP(r *http.Request) string {
	IPAddress := r.Header.Get("X-Real-Ip")
	if IPAddress == "" {
		IPAddress = r.Header.Get("X-Forwarded-For")
	}
	if IPAddress == "" {
		IPAddress = r.RemoteAddr
	}
	return strings.Split(IPAddress, ":")[0]
}

func CustomBeforeCtx() func(ctx context.Context, r *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		ctx = context.WithValue(ctx, _CTX_HOST, r.Host)
		ctx = context.WithValue(ctx, _CTX_URL_PATH, r.URL.Path)
		ctx = context.WithValue(ctx, _CTX_IP_KEY, ReadUserIP(r))
		ctx = AddRequestID(ctx)
		return ctx
	}
}

// UserIDFromHeaderCtx trusts the X-User-Id header. This sits behind a gateway
// that already authenticated the caller; there is no token verification here.
func UserIDFromHeaderCtx() func(ctx context.Context, r *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		userID, err := strconv.Atoi(r.Header.Get("X-User-Id"))
		if err != nil {
			return ctx
		}
		return AddUserID(ctx, userID)
	}
}

func AddRequestID(ctx context.Context) context.Context {
	uniqueIDGenerate, err := utilKit.GetUniqueIDGenerate()
	if err != nil {
		return ctx
	}
	return context.WithValue(ctx, _CTX_REQUEST_ID, uniqueIDGenerate.Generate().GetBase62())
}

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(_CTX_REQUEST_ID).(string); ok {
		return requestID
	}
	return ""
}

func GetIP(ctx context.Context) string {
	if ip, ok := ctx.Value(_CTX_IP_KEY).(string); ok {
		return ip
	}
	return ""
}

func GetURL(ctx context.Context) string {
	if url, ok := ctx.Value(_CTX_URL_PATH).(string); ok {
		return url
	}
	return ""
}

func AddUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, _CTX_USER_ID, userID)
}

func GetUserID(ctx context.Context) int {
	if userID, ok := ctx.Value(_CTX_USER_ID).(int); ok {
		return userID
	}
	return 0
}
