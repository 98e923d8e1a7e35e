package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/yojigen/ai-secretary/cmd/mainconfig"
	"github.com/yojigen/ai-secretary/internal/channels/line"
	appconfig "github.com/yojigen/ai-secretary/internal/config"
	"github.com/yojigen/ai-secretary/internal/delayed"
	"github.com/yojigen/ai-secretary/pkg/logging"
)

// delayed-send-worker delivers replies whose delay window has elapsed.
// The queue message only names a record; cancellation is checked against
// DynamoDB at delivery time so an unsend always wins.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting delayed-send worker", "env", cfg.Env)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	if cfg.DelayedSendQueueURL == "" {
		logger.Error("DELAYED_SEND_QUEUE_URL is required")
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)

	lineClient := line.NewClient(cfg.LineChannelAccessToken)
	if cfg.LineAPIBaseURL != "" {
		lineClient.SetAPIBase(cfg.LineAPIBaseURL)
	}

	service := delayed.NewService(
		delayed.NewStore(dynamodb.NewFromConfig(awsCfg), cfg.DelayedSendTable),
		delayed.NewSQSDelayQueue(sqsClient, cfg.DelayedSendQueueURL),
		lineClient,
		logger,
	)

	runCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			consume(runCtx, sqsClient, cfg.DelayedSendQueueURL, service, logger, id)
		}(i)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker drained")
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timed out, exiting")
	}
}

func consume(ctx context.Context, client *sqs.Client, queueURL string, service *delayed.Service, logger *logging.Logger, workerID int) {
	logger.Debug("delayed-send consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 5,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range out.Messages {
			if msg.Body == nil {
				continue
			}
			if err := service.HandleQueueMessage(ctx, *msg.Body); err != nil {
				logger.Error("failed to handle delayed reply", "error", err)
				continue
			}
			if msg.ReceiptHandle != nil {
				_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(queueURL),
					ReceiptHandle: msg.ReceiptHandle,
				})
				if err != nil {
					logger.Error("failed to delete queue message", "error", err)
				}
			}
		}
	}
}
