package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/yojigen/ai-secretary/cmd/mainconfig"
	"github.com/yojigen/ai-secretary/internal/ai"
	"github.com/yojigen/ai-secretary/internal/approval"
	"github.com/yojigen/ai-secretary/internal/channels/line"
	"github.com/yojigen/ai-secretary/internal/clients"
	appconfig "github.com/yojigen/ai-secretary/internal/config"
	"github.com/yojigen/ai-secretary/internal/downloads"
	"github.com/yojigen/ai-secretary/internal/drive"
	"github.com/yojigen/ai-secretary/internal/enrichment"
	"github.com/yojigen/ai-secretary/internal/orders"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// file-worker consumes queued attachment and URL tasks, stores the
// material in Drive, and appends the resulting links to the order record.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting file worker",
		"env", cfg.Env,
		"workers", cfg.WorkerCount,
	)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	if cfg.FileTaskQueueURL == "" {
		logger.Error("FILE_TASK_QUEUE_URL is required")
		os.Exit(1)
	}
	if cfg.GoogleCredentialsJSON == "" {
		logger.Error("GOOGLE_SERVICE_ACCOUNT is required")
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	lineClient := line.NewClient(cfg.LineChannelAccessToken)
	if cfg.LineAPIBaseURL != "" {
		lineClient.SetAPIBase(cfg.LineAPIBaseURL)
	}
	if cfg.LineDataAPIBaseURL != "" {
		lineClient.SetDataAPIBase(cfg.LineDataAPIBaseURL)
	}

	driveService, err := drive.NewService(ctx, []byte(cfg.GoogleCredentialsJSON), cfg.DriveRootFolderID, logger)
	if err != nil {
		logger.Error("failed to init drive service", "error", err)
		os.Exit(1)
	}

	orderStore := orders.NewStore(dynamoClient, cfg.OrdersTable, logger)

	// Completion notices go through the approval group when one is
	// configured; otherwise the worker only updates the order record.
	var pipeline *approval.Pipeline
	if cfg.ApprovalGroupID != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to init Gemini client", "error", err)
			os.Exit(1)
		}
		assistant := ai.NewAssistant(gemini, gemini, cfg.AITimeout, logger)
		pipeline = approval.NewPipeline(
			approval.NewDraftStore(dynamoClient, cfg.ApprovalsTable, cfg.ApprovalTTL, logger),
			approval.NewNoteStore(dynamoClient, cfg.NotesTable),
			approval.NewRevisionStore(dynamoClient, cfg.RevisionsTable),
			clients.NewStore(dynamoClient, cfg.ClientsTable, logger),
			clients.NewRegistrationStore(dynamoClient, cfg.RegistrationsTable),
			clients.NewUserMappingStore(dynamoClient, cfg.UserMappingTable),
			lineClient,
			assistant,
			cfg.ApprovalGroupID,
			approval.Window{Start: cfg.AutoSendStart, End: cfg.AutoSendEnd},
			logger,
		)
	}

	processor := enrichment.NewProcessor(driveService, lineClient, downloads.NewDownloader(logger), orderStore, nil, logger)
	if pipeline != nil {
		processor = enrichment.NewProcessor(driveService, lineClient, downloads.NewDownloader(logger), orderStore, pipeline, logger)
	}

	queue := enrichment.NewSQSQueue(sqsClient, cfg.FileTaskQueueURL)
	worker := enrichment.NewWorker(processor, queue, logger, enrichment.WithWorkerCount(cfg.WorkerCount))

	runCtx, cancel := context.WithCancel(ctx)
	worker.Start(runCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker drained")
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timed out, exiting")
	}
}
