package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"msgvault-backend/internal/bootstrap"
	"msgvault-backend/internal/queue"
	"msgvault-backend/internal/shared/config"
	"msgvault-backend/internal/shared/telemetry"
	"msgvault-backend/internal/workerproc"
)

const (
	defaultVisibilitySeconds = 300
	defaultWorkerConcurrency = 4
)

func main() {
	cfg := config.Load()
	if err := telemetry.Init(cfg.Env); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close(context.Background())

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}

	switch cfg.QueueBackend {
	case config.QueueNATS:
		err = runNATS(ctx, cfg, app.Processor, concurrency)
	case config.QueueSQS:
		err = runSQS(ctx, cfg, app.Processor, concurrency)
	default:
		log.Fatalf("QUEUE_BACKEND must be %q or %q, got %q", config.QueueSQS, config.QueueNATS, cfg.QueueBackend)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
}

func runNATS(ctx context.Context, cfg config.Config, ing workerproc.Ingester, concurrency int) error {
	client, err := queue.ConnectNATS(cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
	if err != nil {
		return err
	}
	defer client.Close()

	telemetry.Info("worker.started", map[string]any{
		"backend":     config.QueueNATS,
		"subject":     cfg.NATSSubject,
		"group":       cfg.NATSQueueGroup,
		"concurrency": concurrency,
	})
	return client.Consume(ctx, cfg.NATSQueueGroup, concurrency, func(ctx context.Context, body []byte) queue.Result {
		return workerproc.Process(ctx, ing, string(body), map[string]any{"backend": config.QueueNATS})
	})
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func runSQS(ctx context.Context, cfg config.Config, ing workerproc.Ingester, concurrency int) error {
	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	if queueURL == "" {
		return errors.New("SQS_QUEUE_URL is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return err
	}
	visibility := envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)

	telemetry.Info("worker.started", map[string]any{
		"backend":     config.QueueSQS,
		"queue_url":   queueURL,
		"concurrency": concurrency,
		"visibility":  visibility,
	})
	pollSQS(ctx, sqs.NewFromConfig(awsCfg), queueURL, ing, concurrency, visibility, cfg.ShutdownTimeout)
	return nil
}

func pollSQS(ctx context.Context, client sqsAPI, queueURL string, ing workerproc.Ingester, concurrency, visibility int, shutdownTimeout time.Duration) {
	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(queueURL),
			MaxNumberOfMessages:         10,
			WaitTimeSeconds:             20,
			VisibilityTimeout:           int32(visibility),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// Finish the in-flight item even after shutdown begins.
				handleMessage(context.WithoutCancel(ctx), client, queueURL, ing, m)
			}(msg)
		}
	}

	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	telemetry.Info("worker.draining", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

// handleMessage deletes the message unless processing asked for redelivery.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, ing workerproc.Ingester, msg sqstypes.Message) {
	fields := baseFields(msg)
	if workerproc.Process(ctx, ing, aws.ToString(msg.Body), fields) == queue.ResultRetry {
		return
	}
	deleteMessage(ctx, client, queueURL, msg)
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg)
		fields["error"] = err.Error()
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message) map[string]any {
	return map[string]any{
		"backend":        config.QueueSQS,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
