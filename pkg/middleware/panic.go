package middleware

import (
	"net/http"

	"github.com/bitechdev/TopicSpec/pkg/logger"
)

const panicMiddlewareMethodName = "PanicMiddleware"

// PanicRecovery recovers from handler panics, reports them through the
// logger (and so the error tracker) and answers 500.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rcv := recover(); rcv != nil {
				err := logger.HandlePanic(panicMiddlewareMethodName+" "+r.URL.Path, rcv)
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
