package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"willsave/pkg/apierror"
)

// Recovery returns a middleware that recovers from panics.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic",
						zap.Any("error", err),
						zap.String("request_id", GetRequestID(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)

					writeError(w, apierror.InternalError("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_, _ = w.Write(err.ToJSON())
}
