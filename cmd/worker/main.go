package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	billingapp "github.com/saasops/backend/internal/application/billing"
	domainbilling "github.com/saasops/backend/internal/domain/billing"
	billinginfra "github.com/saasops/backend/internal/infrastructure/billing"
	"github.com/saasops/backend/internal/infrastructure/config"
	"github.com/saasops/backend/internal/infrastructure/logger"
	"github.com/saasops/backend/internal/infrastructure/persistence/dynamo"
	"github.com/saasops/backend/internal/infrastructure/scheduler"
	"github.com/saasops/backend/internal/infrastructure/secrets"
	"github.com/saasops/backend/internal/infrastructure/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting metering worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("table", cfg.Metering.TableName),
		zap.String("bucket_unit", cfg.Metering.BucketUnit),
	)

	ctx := context.Background()

	// Initialize telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	metrics, err := telemetry.NewMeteringMetrics(meterProvider.Meter("metering-worker"))
	if err != nil {
		// Metrics are not worth refusing to start over; a nil receiver
		// turns every recording into a no-op.
		log.Warn("Failed to initialize metering metrics, continuing without", zap.Error(err))
		metrics = nil
	}

	// Initialize AWS clients
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatal("Failed to load AWS configuration", zap.Error(err))
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})

	// Initialize stores
	eventStore := dynamo.NewEventStore(dynamoClient, cfg.Metering.TableName, log)
	aggregateStore := dynamo.NewAggregateStore(dynamoClient, cfg.Metering.TableName, log)
	tenantDirectory := dynamo.NewTenantDirectory(dynamoClient, cfg.Metering.TableName, cfg.Metering.TenantIndexName, log)

	// Initialize billing provider access
	keySource, err := buildKeySource(cfg, awsCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize API key source", zap.Error(err))
	}
	publisher := billinginfra.NewStripePublisher(log)

	// Initialize application services
	aggregationService, err := billingapp.NewAggregationService(
		eventStore,
		aggregateStore,
		tenantDirectory,
		log.Named("aggregation"),
		metrics,
		billingapp.AggregationConfig{
			BucketUnit: cfg.Metering.ParsedBucketUnit(),
			ChunkSize:  cfg.Metering.EventChunkSize,
		},
	)
	if err != nil {
		log.Fatal("Failed to initialize aggregation service", zap.Error(err))
	}
	publishService := billingapp.NewPublishService(
		aggregateStore,
		tenantDirectory,
		publisher,
		keySource,
		log.Named("publish"),
		metrics,
	)

	// Initialize schedulers
	aggregationScheduler, err := scheduler.NewCycleScheduler("aggregation", aggregationService, log, scheduler.CycleSchedulerConfig{
		Enabled:      cfg.Aggregation.Enabled,
		Interval:     cfg.Aggregation.Interval,
		CycleTimeout: cfg.Aggregation.Timeout,
		RunOnStart:   true,
	})
	if err != nil {
		log.Fatal("Failed to initialize aggregation scheduler", zap.Error(err))
	}
	publishScheduler, err := scheduler.NewCycleScheduler("publish", publishService, log, scheduler.CycleSchedulerConfig{
		Enabled:      cfg.Publish.Enabled,
		Interval:     cfg.Publish.Interval,
		CycleTimeout: cfg.Publish.Timeout,
		RunOnStart:   false,
	})
	if err != nil {
		log.Fatal("Failed to initialize publish scheduler", zap.Error(err))
	}

	if err := aggregationScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start aggregation scheduler", zap.Error(err))
	}
	if err := publishScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start publish scheduler", zap.Error(err))
	}

	log.Info("Metering worker started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Shutting down metering worker", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := publishScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Publish scheduler shutdown error", zap.Error(err))
	}
	if err := aggregationScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Aggregation scheduler shutdown error", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown error", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown error", zap.Error(err))
	}

	log.Info("Metering worker stopped")
}

// buildKeySource picks the billing credential source: Secrets Manager when a
// secret is configured, otherwise the directly configured development key.
func buildKeySource(cfg *config.Config, awsCfg aws.Config, log *zap.Logger) (domainbilling.APIKeySource, error) {
	if cfg.Stripe.APIKeySecretID != "" {
		client := secretsmanager.NewFromConfig(awsCfg)
		return secrets.NewManagerKeySource(client, cfg.Stripe.APIKeySecretID, log)
	}
	return secrets.NewStaticKeySource(cfg.Stripe.APIKey)
}
