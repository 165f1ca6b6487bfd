package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterOptions 路由設定
type RouterOptions struct {
	Logger             *slog.Logger
	LegacyWithdrawNoop bool
	// ServiceName otelhttp 的 operation 名稱
	ServiceName string
}

// NewRouter 建立所有路由與 middleware
func NewRouter(svc Service, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "bankd"
	}

	h := NewHandler(svc, log, opts.LegacyWithdrawNoop)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodOptions, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Post("/utpcDepositMoney", h.DepositMoney)
	r.Post("/utpcWithdrawMoney", h.WithdrawMoney)
	r.Post("/utpcChangeDCardKey", h.ChangeCardKey)
	r.Post("/utpcCreateDDL", h.CreateDDL)

	// 沒有安裝 TracerProvider 時為 no-op
	return otelhttp.NewHandler(r, opts.ServiceName)
}

// requestLogger 以 slog 記錄每個請求
func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.InfoContext(r.Context(), "http request",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
