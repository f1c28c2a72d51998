package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"bonus-service/internal/config"
	"bonus-service/internal/domain"
	"bonus-service/internal/handler"
	"bonus-service/internal/pkg/clock"
	"bonus-service/internal/pkg/lock"
	"bonus-service/internal/provider"
	publisher "bonus-service/internal/pub"
	"bonus-service/internal/repository"
	"bonus-service/internal/router"
	"bonus-service/internal/usecase"
	"bonus-service/internal/worker"
)

// Run wires the whole service together and blocks until ctx is cancelled:
// HTTP surface for webhooks and the bonus API, plus the payout, daily-yield,
// and fraud workers.
func Run(ctx context.Context, cfg config.AppConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer dbpool.Close()

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})
	defer rdb.Close()

	// --- Kafka writer ---
	kafkaWriter := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  publisher.BonusEventsTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer kafkaWriter.Close()

	clk := clock.System()
	locker := lock.NewRedisLocker(rdb)
	pub := publisher.NewBonusEventPublisher(kafkaWriter, rdb, logger)
	disburser := provider.NewClient(cfg, logger)

	// --- Repositories ---
	userRepo := repository.NewUserRepo(dbpool)
	networkRepo := repository.NewNetworkRepo(dbpool)
	walletRepo := repository.NewWalletRepo(dbpool)
	paymentRepo := repository.NewPaymentRepo(dbpool)
	bonusRepo := repository.NewBonusRepo(dbpool, clk)
	packageRepo := repository.NewPackageRepo(dbpool, walletRepo, bonusRepo)
	queueRepo := repository.NewQueueRepo(dbpool)
	auditRepo := repository.NewAuditRepo(dbpool)
	fraudRepo := repository.NewFraudRepo(dbpool)
	withdrawalRepo := repository.NewWithdrawalRepo(dbpool)
	payoutRepo := repository.NewPayoutRepo(dbpool, walletRepo, bonusRepo)
	registrationRepo := repository.NewRegistrationRepo(dbpool, userRepo, networkRepo, walletRepo)

	// --- Usecases ---
	validationUC := usecase.NewValidationUsecase(cfg, userRepo, paymentRepo, bonusRepo, networkRepo, clk, logger)
	schedule := domain.DefaultBonusSchedule()
	if err := schedule.Validate(); err != nil {
		log.Fatalf("invalid bonus schedule: %v", err)
	}
	calculatorUC := usecase.NewCalculatorUsecase(cfg, schedule, networkRepo, userRepo, bonusRepo, validationUC, logger)
	payoutUC := usecase.NewPayoutUsecase(cfg, queueRepo, payoutRepo, bonusRepo, auditRepo, pub, clk, logger)
	riskAssessor := usecase.NewRiskAssessor(cfg, paymentRepo, fraudRepo, clk, logger)
	orchestratorUC := usecase.NewOrchestratorUsecase(cfg, locker, paymentRepo, bonusRepo, auditRepo,
		validationUC, calculatorUC, payoutUC, riskAssessor, pub, clk, logger)
	paymentUC := usecase.NewPaymentUsecase(cfg, paymentRepo, packageRepo, walletRepo, auditRepo, orchestratorUC, logger)
	dailyUC := usecase.NewDailyYieldUsecase(cfg, packageRepo, auditRepo, clk, logger)
	fraudUC := usecase.NewFraudUsecase(cfg, networkRepo, fraudRepo, auditRepo, pub, clk, logger)
	networkUC := usecase.NewNetworkUsecase(cfg, registrationRepo, userRepo, networkRepo, auditRepo, rdb, logger)
	withdrawalUC := usecase.NewWithdrawalUsecase(cfg, withdrawalRepo, walletRepo, userRepo, auditRepo, disburser, clk, logger)

	// --- Handlers ---
	bonusHandler := handler.NewBonusHandler(networkUC, orchestratorUC, payoutUC, fraudUC, withdrawalUC, bonusRepo, logger)
	webhookHandler := handler.NewWebhookHandler(cfg, paymentUC, clk, logger)
	callbackHandler := handler.NewCallbackHandler(withdrawalUC, logger)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router.SetupRoutes(cfg, rdb, bonusHandler, webhookHandler, callbackHandler, logger),
	}

	// --- Workers ---
	var wg sync.WaitGroup
	wg.Add(3)
	go worker.NewPayoutWorker(cfg, payoutUC, logger).Run(ctx, &wg)
	go worker.NewDailyYieldWorker(cfg, dailyUC, logger).Run(ctx, &wg)
	go worker.NewFraudWorker(cfg, fraudUC, logger).Run(ctx, &wg)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("bonus service listening", zap.String("addr", cfg.HTTPAddr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
		wg.Wait()
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		wg.Wait()
		return nil
	}
}
