package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	jobctrl "agentrag/src/infrastructure/job"
	"agentrag/src/log"
	"agentrag/src/storage/cachectrl"
	"agentrag/src/storage/minioctrl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background job worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func openJobDB() (*gorm.DB, error) {
	switch backend := strings.ToLower(viper.GetString("jobs.backend")); backend {
	case "postgres":
		return cachectrl.OpenPostgres(dsnFromConfig())
	case "sqlite":
		path := viper.GetString("jobs.sqlite_path")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create jobs directory: %w", err)
		}
		return cachectrl.OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown jobs backend %q", backend)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Initialize logger
	logger := log.Watermill("worker")

	db, err := openJobDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying *sql.DB for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// Initialize AMQP publisher
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		logger,
	)
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	// Initialize AMQP subscriber
	subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	subscriberConfig.Consume.NoRequeueOnNack = true
	amqpSubscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	// Initialize router
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}

	// Add middleware
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	// Initialize MinioService
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %w", err)
	}
	bucket := viper.GetString("minio.report_bucket")
	if err := minioService.EnsureBucketExists(cmd.Context(), bucket); err != nil {
		return err
	}

	p, err := buildPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	// Initialize job repository and service
	jobRepo, err := jobctrl.NewGormJobRepository(db)
	if err != nil {
		return err
	}
	batchTask := jobctrl.NewBatchTask(p.orchestrator, minioService, bucket)
	jobService := jobctrl.NewJobService(amqpPublisher, jobRepo, logger, batchTask)

	// Add handler for processing jobs
	router.AddNoPublisherHandler(
		"job_processor",
		jobctrl.Topic,
		amqpSubscriber,
		jobService.ProcessJobMessage,
	)

	// Run the router
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := router.Run(ctx); err != nil {
			log.Error(err, "router stopped with error")
			cancel()
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-c:
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	cancel()
	<-stopped
	log.Info("Router stopped")

	return nil
}
