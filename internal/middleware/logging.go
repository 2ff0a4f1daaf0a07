package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数、
// 返したIdPエラーコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bytes      int
	errorCode  string
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// recordErrorCode はラップされたすべてのstatusRecorderにエラーコードを記録する。
func recordErrorCode(w http.ResponseWriter, code string) {
	for {
		sr, ok := w.(*statusRecorder)
		if !ok {
			return
		}
		sr.errorCode = code
		w = sr.ResponseWriter
	}
}

// requestLog は後段のミドルウェアがアクセスログに載せたい値を受け渡す。
type requestLog struct {
	accountID string
}

var requestLogContextKey = contextKey("request_log")

// annotateAccount はアクセスログに認証済みアカウントIDを残す。
// ロギングミドルウェアの内側でのみ効果がある。
func annotateAccount(ctx context.Context, accountID string) {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.accountID = accountID
	}
}

// NewLoggingMiddleware はIdPへのリクエストごとにJSON構造化ログを1行出力するミドルウェアを返す。
// 5xxはError、4xxはWarn、それ以外はInfoで出力する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rl := &requestLog{}
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			ctx := context.WithValue(r.Context(), requestLogContextKey, rl)
			next.ServeHTTP(rec, r.WithContext(ctx))

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.Int("bytes", rec.bytes),
				slog.String("remote_ip", clientIP(r)),
			}
			if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
				attrs = append(attrs, slog.String("route", rctx.RoutePattern()))
			}

			accountID := rl.accountID
			if accountID == "" {
				accountID, _ = AccountIDFromContext(r.Context())
			}
			if accountID != "" {
				attrs = append(attrs, slog.String("account_id", accountID))
			}
			if rec.errorCode != "" {
				attrs = append(attrs, slog.String("error_code", rec.errorCode))
			}

			level := slog.LevelInfo
			switch {
			case rec.statusCode >= 500:
				level = slog.LevelError
			case rec.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "idp_request", attrs...)
		})
	}
}
