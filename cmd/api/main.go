package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yojigen/ai-secretary/cmd/mainconfig"
	"github.com/yojigen/ai-secretary/internal/ai"
	"github.com/yojigen/ai-secretary/internal/api/router"
	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/internal/archive"
	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/internal/clients"
	appconfig "github.com/yojigen/ai-secretary/internal/config"
	"github.com/yojigen/ai-secretary/internal/delayed"
	"github.com/yojigen/ai-secretary/internal/downloads"
	"github.com/yojigen/ai-secretary/internal/drive"
	"github.com/yojigen/ai-secretary/internal/enrichment"
	"github.com/yojigen/ai-secretary/internal/gcal"
	"github.com/yojigen/ai-secretary/internal/http/handlers"
	"github.com/yojigen/ai-secretary/internal/intake"
	"github.com/yojigen/ai-secretary/internal/notify"
	observemetrics "github.com/yojigen/ai-secretary/internal/observability/metrics"
	"github.com/yojigen/ai-secretary/internal/orders"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting ai-secretary API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)

	lineClient := line.NewClient(cfg.LineChannelAccessToken)
	if cfg.LineAPIBaseURL != "" {
		lineClient.SetAPIBase(cfg.LineAPIBaseURL)
	}
	if cfg.LineDataAPIBaseURL != "" {
		lineClient.SetDataAPIBase(cfg.LineDataAPIBaseURL)
	}

	assistant := buildAssistant(ctx, cfg, awsCfg, logger)

	// Stores
	orderStore := orders.NewStore(dynamoClient, cfg.OrdersTable, logger)
	clientStore := clients.NewStore(dynamoClient, cfg.ClientsTable, logger)
	registrationStore := clients.NewRegistrationStore(dynamoClient, cfg.RegistrationsTable)
	mappingStore := clients.NewUserMappingStore(dynamoClient, cfg.UserMappingTable)
	draftStore := approval.NewDraftStore(dynamoClient, cfg.ApprovalsTable, cfg.ApprovalTTL, logger)
	noteStore := approval.NewNoteStore(dynamoClient, cfg.NotesTable)
	revisionStore := approval.NewRevisionStore(dynamoClient, cfg.RevisionsTable)

	stateStore := intake.NewStateStore(redisClient, cfg.AwaitingReplyTTL)
	bufferStore := intake.NewBufferStore(redisClient)

	// Google Drive / Calendar (optional)
	var driveService *drive.Service
	var calendarService *gcal.Service
	if cfg.GoogleCredentialsJSON != "" {
		creds := []byte(cfg.GoogleCredentialsJSON)
		driveService, err = drive.NewService(ctx, creds, cfg.DriveRootFolderID, logger)
		if err != nil {
			logger.Error("failed to init drive service", "error", err)
			os.Exit(1)
		}
		if cfg.CalendarID != "" {
			calendarService, err = gcal.NewService(ctx, creds, cfg.CalendarID, logger)
			if err != nil {
				logger.Error("failed to init calendar service", "error", err)
				os.Exit(1)
			}
		}
	}

	metrics := observemetrics.NewIntakeMetrics(nil)

	// Approval pipeline (primary send path)
	var pipeline *approval.Pipeline
	if cfg.ApprovalGroupID != "" {
		pipeline = approval.NewPipeline(
			draftStore,
			noteStore,
			revisionStore,
			clientStore,
			registrationStore,
			mappingStore,
			lineClient,
			assistant,
			cfg.ApprovalGroupID,
			approval.Window{Start: cfg.AutoSendStart, End: cfg.AutoSendEnd},
			logger,
		)
	}

	// File-processing queue. With the in-memory queue the worker runs inside
	// this process; with SQS a separate file-worker binary consumes it.
	var enrichWorker *enrichment.Worker
	var enqueuer *enrichment.Enqueuer
	if cfg.UseMemoryQueue {
		memQueue := enrichment.NewMemoryQueue(100)
		enqueuer = enrichment.NewEnqueuer(memQueue)
		if driveService != nil {
			processor := enrichment.NewProcessor(driveService, lineClient, downloads.NewDownloader(logger), orderStore, nil, logger)
			if pipeline != nil {
				processor = enrichment.NewProcessor(driveService, lineClient, downloads.NewDownloader(logger), orderStore, pipeline, logger)
			}
			enrichWorker = enrichment.NewWorker(processor, memQueue, logger, enrichment.WithWorkerCount(cfg.WorkerCount))
		}
	} else if cfg.FileTaskQueueURL != "" {
		enqueuer = enrichment.NewEnqueuer(enrichment.NewSQSQueue(sqsClient, cfg.FileTaskQueueURL))
	}

	// Delayed-send fallback path
	var delayedService *delayed.Service
	if pipeline == nil && cfg.DelayedResponseEnabled && cfg.DelayedSendQueueURL != "" {
		delayedService = delayed.NewService(
			delayed.NewStore(dynamoClient, cfg.DelayedSendTable),
			delayed.NewSQSDelayQueue(sqsClient, cfg.DelayedSendQueueURL),
			lineClient,
			logger,
		)
	}

	// Operator notifications
	var notifiers []intake.OrderNotifier
	if slackNotifier := notify.NewSlackNotifier(cfg.SlackWebhookURL, logger); slackNotifier != nil {
		notifiers = append(notifiers, slackNotifier)
	}
	if cfg.SESFromEmail != "" && cfg.NotifyEmails != "" {
		sesClient := sesv2.NewFromConfig(awsCfg)
		recipients := strings.Split(cfg.NotifyEmails, ",")
		for i := range recipients {
			recipients[i] = strings.TrimSpace(recipients[i])
		}
		notifiers = append(notifiers, notify.NewEmailNotifier(sesClient, cfg.SESFromEmail, cfg.SESFromName, recipients, logger))
	}

	if pipeline == nil && delayedService == nil {
		logger.Error("no send path configured: set APPROVAL_GROUP_ID or enable delayed responses with a queue URL")
		os.Exit(1)
	}

	serviceParams := intake.ServiceParams{
		Messenger:     lineClient,
		Filter:        intake.NewTriggerFilter(bufferStore, stateStore, assistant, logger),
		Router:        intake.NewRouter(clientStore, stateStore, orderStore, cfg.ApprovalGroupID, cfg.RecentOrderWindow, cfg.OrderLookupWindow),
		Registry:      clientStore,
		Registrations: registrationStore,
		Mappings:      mappingStore,
		State:         stateStore,
		Orders:        orderStore,
		Assistant:     assistant,
		Notifiers:     notifiers,
		ResponseDelay: cfg.ResponseDelay,
		Logger:        logger,
	}
	if enqueuer != nil {
		serviceParams.Enqueuer = enqueuer
	}
	if driveService != nil {
		serviceParams.Drive = driveService
	}
	if calendarService != nil {
		serviceParams.Calendar = calendarService
	}
	if pipeline != nil {
		serviceParams.Pipeline = pipeline
		serviceParams.Notes = noteStore
	}
	if delayedService != nil {
		serviceParams.Delayed = delayedService
	}
	service := intake.NewService(serviceParams)

	webhookHandler := handlers.NewLineWebhookHandler(handlers.LineWebhookConfig{
		Service:       service,
		ChannelSecret: cfg.LineChannelSecret,
		Logger:        logger,
		Metrics:       metrics,
	})

	adminRevisions := handlers.NewAdminRevisionsHandler(revisionStore, nil, logger)
	if cfg.RevisionArchiveBucket != "" {
		archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.RevisionArchiveBucket, logger)
		adminRevisions = handlers.NewAdminRevisionsHandler(revisionStore, archiveStore, logger)
	}

	r := router.New(&router.Config{
		Logger:         logger,
		LineWebhook:    webhookHandler,
		AdminRevisions: adminRevisions,
		AdminJWTSecret: cfg.AdminJWTSecret,
		MetricsHandler: promhttp.Handler(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if enrichWorker != nil {
		enrichWorker.Start(runCtx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if enrichWorker != nil {
		enrichWorker.Wait()
	}
}

// buildAssistant assembles the LLM stack: Gemini as the primary model and
// content analyzer, with Bedrock as fallback when a model ID is configured.
func buildAssistant(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *ai.Assistant {
	gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to init Gemini client", "error", err)
		os.Exit(1)
	}

	var llm ai.LLMClient = gemini
	if cfg.BedrockModelID != "" {
		bedrock := ai.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
		llm = ai.NewFallbackClient(gemini, bedrock, cfg.BedrockModelID, logger.Logger)
	}

	return ai.NewAssistant(llm, gemini, cfg.AITimeout, logger)
}
