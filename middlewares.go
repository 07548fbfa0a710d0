package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	logs "github.com/sirupsen/logrus"
	limiter "github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
)

// limiter middleware pointer
var limiterMiddleware *stdlib.Middleware

// initialize Limiter middleware pointer, rate uses limiter format, e.g. 100-S
func initLimiter(period string) error {
	rate, err := limiter.NewRateFromFormatted(period)
	if err != nil {
		return err
	}
	store := memory.NewStore()
	instance := limiter.New(store, rate)
	limiterMiddleware = stdlib.NewMiddleware(instance)
	logs.WithFields(logs.Fields{"Rate": period}).Info("limiter")
	return nil
}

// Validate checks query parameters of incoming requests
func Validate(r *http.Request) error {
	for key, vals := range r.URL.Query() {
		switch key {
		case "run":
			for _, v := range vals {
				if !validRun(v) {
					return fmt.Errorf("invalid run name %q", v)
				}
			}
		default:
			return fmt.Errorf("unsupported parameter %q", key)
		}
	}
	return nil
}

// helper to validate incoming requests' parameters
func validateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			next.ServeHTTP(w, r)
			return
		}
		if err := Validate(r); err != nil {
			uri, _ := url.QueryUnescape(r.RequestURI)
			responseError(w, fmt.Sprintf("validation error of %s", uri), err, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limit middleware limits incoming requests
func limitMiddleware(next http.Handler) http.Handler {
	if limiterMiddleware == nil {
		return next
	}
	return limiterMiddleware.Handler(next)
}

// responseWriter is a minimal wrapper for http.ResponseWriter that allows the
// written HTTP status code and size to be captured for logging.
type responseWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
	rw.wroteHeader = true
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.size += int64(n)
	return n, err
}

// loggingMiddleware counts and logs the incoming HTTP request and its duration
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			atomic.AddUint64(&TotalPostRequests, 1)
		} else if r.Method == "GET" {
			atomic.AddUint64(&TotalGetRequests, 1)
		}
		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)
		logRequest(r, start, wrapped.Status(), wrapped.size)
	})
}
