package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/astro-consult/internal/application"
	"github.com/example/astro-consult/internal/config"
	httptransport "github.com/example/astro-consult/internal/http"
	"github.com/example/astro-consult/internal/persistence"
	"github.com/example/astro-consult/internal/persistence/sqlite"
	"github.com/example/astro-consult/internal/realtime"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	idGenerator := uuid.NewString
	now := time.Now

	consultationRepo := newConsultationRepositoryAdapter(sqlite.NewConsultationRepository(storage))
	messageRepo := newMessageRepositoryAdapter(sqlite.NewMessageRepository(storage))

	hub := realtime.NewHub(logger)
	hub.Start()
	defer hub.Shutdown()

	var broker application.Broker = hub
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		bridge := realtime.NewBridge(hub, redisClient, logger)
		bridge.Start(ctx)
		defer bridge.Stop()

		broker = bridge
		logger.Info("realtime bridge enabled", "redis_addr", cfg.RedisAddr)
	}

	consultationService := application.NewConsultationServiceWithLogger(consultationRepo, idGenerator, now, logger)
	messagingService := application.NewMessagingServiceWithLogger(consultationRepo, messageRepo, broker, idGenerator, now, logger)
	messagingService.SetStorageTimeout(cfg.StorageTimeout)

	sweeper := application.NewSweeper(consultationRepo, cfg.SweepInterval, now, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	consultationHandler := httptransport.NewConsultationHandler(consultationService, logger)
	messageHandler := httptransport.NewMessageHandler(messagingService, logger)
	wsHandler := httptransport.NewWSHandler(consultationService, hub, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Consultations: consultationHandler,
		Messages:      messageHandler,
		Realtime:      wsHandler,
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.RequireParticipant(logger),
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("consultation API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// consultationRepositoryAdapter translates between the application's typed
// models and the persistence layer's string based records.
type consultationRepositoryAdapter struct {
	repo persistence.ConsultationRepository
}

func newConsultationRepositoryAdapter(repo persistence.ConsultationRepository) *consultationRepositoryAdapter {
	return &consultationRepositoryAdapter{repo: repo}
}

func (a *consultationRepositoryAdapter) CreateConsultation(ctx context.Context, consultation application.Consultation) error {
	return a.repo.CreateConsultation(ctx, toPersistenceConsultation(consultation))
}

func (a *consultationRepositoryAdapter) GetConsultation(ctx context.Context, id string) (application.Consultation, error) {
	stored, err := a.repo.GetConsultation(ctx, id)
	if err != nil {
		return application.Consultation{}, err
	}
	return toApplicationConsultation(stored), nil
}

func (a *consultationRepositoryAdapter) ListConsultationsForParticipant(ctx context.Context, participantID string) ([]application.Consultation, error) {
	models, err := a.repo.ListConsultationsForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	consultations := make([]application.Consultation, 0, len(models))
	for _, model := range models {
		consultations = append(consultations, toApplicationConsultation(model))
	}
	return consultations, nil
}

func (a *consultationRepositoryAdapter) TransitionStatus(ctx context.Context, id string, from []application.Status, to application.Status, at time.Time) error {
	guards := make([]string, 0, len(from))
	for _, status := range from {
		guards = append(guards, string(status))
	}
	return a.repo.TransitionStatus(ctx, id, guards, string(to), at)
}

func (a *consultationRepositoryAdapter) MarkDueLive(ctx context.Context, now time.Time) (int64, error) {
	return a.repo.MarkDueLive(ctx, now)
}

type messageRepositoryAdapter struct {
	repo persistence.MessageRepository
}

func newMessageRepositoryAdapter(repo persistence.MessageRepository) *messageRepositoryAdapter {
	return &messageRepositoryAdapter{repo: repo}
}

func (a *messageRepositoryAdapter) AppendMessage(ctx context.Context, message application.Message) (application.Message, error) {
	stored, err := a.repo.AppendMessage(ctx, toPersistenceMessage(message))
	if err != nil {
		return application.Message{}, err
	}
	return toApplicationMessage(stored), nil
}

func (a *messageRepositoryAdapter) ListMessages(ctx context.Context, consultationID string) ([]application.Message, error) {
	models, err := a.repo.ListMessages(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	messages := make([]application.Message, 0, len(models))
	for _, model := range models {
		messages = append(messages, toApplicationMessage(model))
	}
	return messages, nil
}

func toPersistenceConsultation(consultation application.Consultation) persistence.Consultation {
	return persistence.Consultation{
		ID:                  consultation.ID,
		UserID:              consultation.UserID,
		AstrologerID:        consultation.AstrologerID,
		ScheduledAt:         consultation.ScheduledAt,
		Status:              string(consultation.Status),
		CommunicationType:   string(consultation.CommunicationType),
		UserPublicKey:       consultation.UserPublicKey,
		AstrologerPublicKey: consultation.AstrologerPublicKey,
		SharedSecret:        consultation.SharedSecret,
		CreatedAt:           consultation.CreatedAt,
		UpdatedAt:           consultation.UpdatedAt,
	}
}

func toApplicationConsultation(consultation persistence.Consultation) application.Consultation {
	return application.Consultation{
		ID:                  consultation.ID,
		UserID:              consultation.UserID,
		AstrologerID:        consultation.AstrologerID,
		ScheduledAt:         consultation.ScheduledAt,
		Status:              application.Status(consultation.Status),
		CommunicationType:   application.CommunicationType(consultation.CommunicationType),
		UserPublicKey:       consultation.UserPublicKey,
		AstrologerPublicKey: consultation.AstrologerPublicKey,
		SharedSecret:        consultation.SharedSecret,
		CreatedAt:           consultation.CreatedAt,
		UpdatedAt:           consultation.UpdatedAt,
	}
}

func toPersistenceMessage(message application.Message) persistence.Message {
	return persistence.Message{
		ID:             message.ID,
		ConsultationID: message.ConsultationID,
		SenderID:       message.SenderID,
		SenderRole:     string(message.SenderRole),
		ReceiverID:     message.ReceiverID,
		ReceiverRole:   string(message.ReceiverRole),
		Ciphertext:     message.Ciphertext,
		IV:             message.IV,
		CreatedAt:      message.CreatedAt,
	}
}

func toApplicationMessage(message persistence.Message) application.Message {
	return application.Message{
		ID:             message.ID,
		ConsultationID: message.ConsultationID,
		SenderID:       message.SenderID,
		SenderRole:     application.Role(message.SenderRole),
		ReceiverID:     message.ReceiverID,
		ReceiverRole:   application.Role(message.ReceiverRole),
		Ciphertext:     message.Ciphertext,
		IV:             message.IV,
		CreatedAt:      message.CreatedAt,
	}
}
