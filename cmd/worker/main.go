package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"gait-pipeline/internal/config"
	"gait-pipeline/internal/gait"
	"gait-pipeline/internal/heartbeat"
	"gait-pipeline/internal/pipeline"
	"gait-pipeline/internal/providers"
	"gait-pipeline/internal/queue"
	"gait-pipeline/internal/recordsync"
	"gait-pipeline/internal/report"
	"gait-pipeline/internal/store"
	"gait-pipeline/internal/telemetry"
	workerproc "gait-pipeline/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewRedisQueue(redisClient, cfg.VisibilityTimeout)

	recSync := recordsync.New(st)
	go recSync.RunReloader(ctx, cfg.CacheReloadEvery)

	reports, err := reportWriter(ctx, cfg)
	if err != nil {
		log.Fatalf("init report storage: %v", err)
	}

	hbCfg := heartbeat.DefaultConfig()
	hbCfg.Interval = cfg.HeartbeatInterval
	hbCfg.MaxRestarts = cfg.HeartbeatRestarts

	commitCfg := pipeline.DefaultCommitConfig()
	commitCfg.MaxAttempts = cfg.CommitMaxAttempts
	commitCfg.Budget = cfg.CommitBudget

	orch := pipeline.NewOrchestrator(pipeline.Options{
		Sync:         recSync,
		Store:        st,
		Pose:         providers.NewHTTPPose(cfg.PoseServiceURL, cfg.ProviderTimeout),
		Lifter:       providers.NewHTTPLifter(cfg.LiftServiceURL, cfg.ProviderTimeout),
		Reports:      reports,
		Engine:       gait.DefaultOptions(),
		Heartbeat:    hbCfg,
		StageTimeout: cfg.ProviderTimeout,
		Commit:       commitCfg,
	})

	sweeper := pipeline.NewSweeper(st, pipeline.SweepConfig{
		Staleness: cfg.StalenessWindow,
		Limit:     cfg.SweepBatchSize,
		Requeue:   q.Requeue,
	})
	go sweeper.RunSweeper(ctx, cfg.SweepInterval)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started: concurrency=%d visibility=%s staleness=%s",
		workerID, cfg.WorkerConcurrency, cfg.VisibilityTimeout, cfg.StalenessWindow)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		id := fmt.Sprintf("%s-%d", workerID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := workerproc.NewProcessor(cfg, q, st, orch, id)
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("worker %s stopped: %v", id, err)
			}
		}()
	}
	wg.Wait()
}

// reportWriter selects S3-backed report storage when a bucket is configured,
// a local directory otherwise.
func reportWriter(ctx context.Context, cfg config.Config) (*report.Writer, error) {
	if cfg.ReportBucket != "" {
		up, err := report.NewS3Uploader(ctx, report.S3Options{
			Bucket:    cfg.ReportBucket,
			Region:    cfg.ReportRegion,
			Endpoint:  cfg.ReportEndpoint,
			PathStyle: cfg.ReportPathStyle,
		})
		if err != nil {
			return nil, err
		}
		return report.NewWriter(up), nil
	}
	return report.NewWriter(&report.LocalUploader{BaseDir: cfg.ReportLocalDir}), nil
}
