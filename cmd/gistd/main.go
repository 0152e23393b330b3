package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gistd/gistd/internal/api"
	"github.com/gistd/gistd/internal/cache"
	"github.com/gistd/gistd/internal/config"
	"github.com/gistd/gistd/internal/dispatch"
	"github.com/gistd/gistd/internal/extract"
	"github.com/gistd/gistd/internal/job"
	"github.com/gistd/gistd/internal/queue"
	"github.com/gistd/gistd/internal/summarize"
	"github.com/gistd/gistd/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg)

	store, err := job.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open job store")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	resultCache := cache.NewRedis(rdb)

	broker, err := dialBroker(log, cfg.AMQPURL, cfg.QueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to message broker")
	}
	defer broker.Close()

	pub, err := broker.Publisher()
	if err != nil {
		log.Fatal().Err(err).Msg("open publish channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := dispatch.New(store, pub, log,
		cfg.DispatchInterval, cfg.DispatchGrace, cfg.SweepInterval, cfg.StaleAge)
	dispatcher.Start(ctx)

	summarizer := summarize.NewClient(cfg.SummarizeURL, cfg.SummarizeAPIKey, cfg.SummarizeModel)
	pool := worker.NewPool(store, resultCache, summarizer,
		func() (queue.Consumer, error) { return broker.NewConsumer() },
		log, cfg.Workers, cfg.SummarizeTimeout, cfg.CacheTTL)
	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start worker pool")
	}

	extractor := &extract.ReadabilityExtractor{Timeout: cfg.ExtractTimeout}
	handler := api.NewHandler(store, resultCache, extractor, log, cfg.MaxTextLen)
	limiter := api.NewRateLimiter(cfg.SubmitRPS)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, limiter.Wrap(http.HandlerFunc(handler.Submit)))
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Chain(mux, api.CORS(cfg.CORSOrigins), api.RequestID, api.Logging(log)),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Int("workers", cfg.Workers).Msg("gistd listening")
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
		}
	case amqpErr := <-broker.NotifyClose():
		log.Error().Err(amqpErr).Msg("broker connection lost")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Stop feeding the workers, then let in-flight jobs finish.
	cancel()
	pool.Wait()
	log.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// dialBroker retries with capped exponential backoff and jitter; the broker
// often comes up after the service in a compose stack.
func dialBroker(log zerolog.Logger, url, queueName string) (*queue.Broker, error) {
	const maxAttempts = 10
	backoff := time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		b, err := queue.Dial(url, queueName)
		if err == nil {
			return b, nil
		}
		lastErr = err
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", sleep).Msg("broker dial failed")
		time.Sleep(sleep)
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
	return nil, lastErr
}
