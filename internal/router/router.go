package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/handler"
)

func SetupRoutes(
	cfg config.AppConfig,
	rdb *redis.Client,
	bonusHandler *handler.BonusHandler,
	webhookHandler *handler.WebhookHandler,
	callbackHandler *handler.CallbackHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Webhook-Signature", "X-Webhook-Timestamp"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/v1/bonuses/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, logger))

		// ============================================
		// WEBHOOKS (payment provider, inbound)
		// ============================================
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/payments", webhookHandler.HandlePaymentWebhook)
		})

		// ============================================
		// CALLBACKS (disbursement results, inbound)
		// ============================================
		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/withdrawals", callbackHandler.HandleWithdrawalCallback)
		})

		// ============================================
		// REFERRAL & BONUS API
		// ============================================
		r.Post("/users", bonusHandler.HandleRegister)
		r.Get("/users/{user_id}/downline", bonusHandler.HandleDownline)
		r.Get("/users/{user_id}/risk-profile", bonusHandler.HandleRiskProfile)

		r.Get("/payments/{payment_id}/bonuses", bonusHandler.HandlePaymentBonuses)
		r.Post("/payments/{payment_id}/bonuses/process", bonusHandler.HandleProcessPayment)

		r.Post("/bonuses/{bonus_id}/cancel", bonusHandler.HandleCancelBonus)

		r.Post("/withdrawals", bonusHandler.HandleInitiateWithdrawal)
	})

	return r
}

// LoggerMiddleware logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("user_agent", r.UserAgent()))
		})
	}
}
