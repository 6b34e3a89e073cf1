package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	gootelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/dataops-hub/flowbridge/internal/bridge"
	"github.com/dataops-hub/flowbridge/internal/cache"
	"github.com/dataops-hub/flowbridge/internal/db"
	"github.com/dataops-hub/flowbridge/internal/engine"
	"github.com/dataops-hub/flowbridge/internal/handlers"
	"github.com/dataops-hub/flowbridge/internal/logsync"
	"github.com/dataops-hub/flowbridge/internal/queue"
	"github.com/dataops-hub/flowbridge/utils"
)

// initTelemetry wires traces to the configured OTLP endpoint and serves
// Prometheus metrics on their own listener. The returned function flushes
// both providers on shutdown.
func initTelemetry(ctx context.Context, cfg utils.TelemetryConfig) (func(context.Context), error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("flowbridge")),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(traceExp), trace.WithResource(res))
	otel.SetTracerProvider(tp)

	promExp, err := otelprom.New()
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(promExp), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
			log.Printf("metrics listener on %s stopped: %v", cfg.MetricsAddr, err)
		}
	}()

	return func(ctx context.Context) {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	}, nil
}

func main() {
	ctx := context.Background()

	cfg, err := utils.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer shutdownTelemetry(ctx)

	if err := db.InitMySQL(cfg.MySQLDSN); err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}

	engineClient := engine.NewClient(cfg.Engine.APIURL)

	// Seen-set backend: Redis when configured, in-process otherwise.
	var seen cache.SeenStore
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = queue.NewRedisClient(cfg)
		seen = cache.NewRedisSeen(rdb, cfg.SeenTTL())
	} else {
		seen = cache.NewMemorySeen(cfg.SeenTTL())
	}

	jobBridge := bridge.New(db.DB, engineClient, bridge.Config{
		FlowName:    cfg.Engine.FlowName,
		WorkPool:    cfg.Engine.WorkPool,
		Entrypoint:  cfg.Engine.Entrypoint,
		FlowPath:    cfg.Engine.FlowPath,
		Timezone:    cfg.Engine.Timezone,
		SettleDelay: cfg.SettleDelay(),
	})
	streamer := logsync.NewStreamer(db.DB, engineClient, cfg.Stream.MaxRetries, cfg.RetryDelay(), cfg.PollInterval())
	syncer := logsync.NewSyncer(db.DB, engineClient, seen, cfg.Sync.Workers)

	// Background worker for queued log syncs
	if rdb != nil {
		go queue.StartSyncWorker(rdb, syncer)
	}

	// Gin server setup
	r := gin.Default()
	r.Use(gootelgin.Middleware("flowbridge"))

	// Handlers
	jobHandler := handlers.NewJobHandler(db.DB, engineClient)
	jobTaskHandler := handlers.NewJobTaskHandler(db.DB)
	triggerHandler := handlers.NewTriggerHandler(db.DB, jobBridge, engineClient)
	streamHandler := handlers.NewStreamHandler(streamer, syncer, rdb)
	runsHandler := handlers.NewRunsHandler(db.DB, engineClient, syncer)

	// Job endpoints
	r.POST("/jobs", jobHandler.CreateJob)
	r.GET("/jobs", jobHandler.ListJobs)
	r.GET("/jobs/:id", jobHandler.GetJob)
	r.PUT("/jobs/:id", jobHandler.UpdateJob)
	r.DELETE("/jobs/:id", jobHandler.DeleteJob)
	r.GET("/jobs/:id/logs", jobHandler.GetJobLogs)
	r.GET("/jobs/:id/tasks", jobHandler.GetJobTasks)
	r.PUT("/jobs/:id/tasks", jobHandler.ReplaceJobTasks)
	r.GET("/jobs/:id/tasks/detail", runsHandler.JobTasksDetail)
	r.GET("/jobs/:id/info", runsHandler.JobInfo)
	r.GET("/jobs/:id/variables", runsHandler.JobVariables)

	// Job-task link endpoints
	r.POST("/job-tasks/:id", jobTaskHandler.AddTaskToJob)
	r.PUT("/job-tasks/:id", jobTaskHandler.UpdateJobTask)
	r.DELETE("/job-tasks/:id", jobTaskHandler.RemoveJobTask)

	// Engine bridge endpoints
	r.POST("/jobs/:id/trigger", triggerHandler.Trigger)
	r.GET("/flow-run-status/:id", triggerHandler.FlowRunStatus)

	// Log endpoints
	r.GET("/jobs/:id/stream", streamHandler.StreamLogs)
	r.POST("/jobs/:id/logs/sync", streamHandler.SyncLogs)
	r.POST("/logs", runsHandler.LogsForRuns)

	// Deployment introspection
	r.GET("/deployments/:id/flow-runs", runsHandler.DeploymentFlowRuns)
	r.GET("/deployments/:id/task-runs", runsHandler.DeploymentTaskRuns)

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Starting server on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
