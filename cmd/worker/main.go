package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/color"
	"github.com/pedscribe/pedscribe/internal/pkg/audio"
	"github.com/pedscribe/pedscribe/internal/pkg/extractor"
	"github.com/pedscribe/pedscribe/internal/pkg/llm"
	"github.com/pedscribe/pedscribe/internal/pkg/metrics"
	"github.com/pedscribe/pedscribe/internal/pkg/pipeline"
	"github.com/pedscribe/pedscribe/internal/pkg/postgres"
	"github.com/pedscribe/pedscribe/internal/pkg/textclean"
	"github.com/pedscribe/pedscribe/internal/pkg/transcriber"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
	"github.com/pedscribe/pedscribe/internal/pkg/worker"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

func main() {
	_ = godotenv.Load()
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &worker.ServiceData{}
	pd := &pipeline.Data{}
	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}

	goapp.Log.Info().Int32("max_conn", dbConfig.MaxConns).Int32("min_conn", dbConfig.MinConns).Msg("db info")

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	data.GueClient, err = gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}
	data.WorkerCount = defaultV(cfg.GetInt("worker.count"), 2)
	data.Testing = cfg.GetBool("worker.testing")
	data.Timeout = defaultV(cfg.GetDuration("worker.timeout"), worker.DefaultTimeout)

	pd.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}
	pd.Filer, err = miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.https")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}
	pd.DB, err = postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	ffmpeg, err := audio.NewCmdRunner(defaultV(cfg.GetString("audio.ffmpeg"), "ffmpeg"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init ffmpeg")
	}
	ffprobe, err := audio.NewCmdRunner(defaultV(cfg.GetString("audio.ffprobe"), "ffprobe"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init ffprobe")
	}
	prober, err := audio.NewProber(ffprobe)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init prober")
	}
	guard, err := audio.NewSizeGuard(ffmpeg, cfg.GetInt64("audio.maxSize"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init size guard")
	}
	pd.Guard = guard
	pd.Chunker, err = audio.NewChunker(ffmpeg, prober, guard)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init chunker")
	}

	pd.Transcriber, err = transcriber.NewClient(transcriber.Options{URL: cfg.GetString("transcriber.url"),
		Key: cfg.GetString("transcriber.key"), Model: cfg.GetString("transcriber.model"),
		Format: cfg.GetString("transcriber.format"), Prompt: cfg.GetString("transcriber.prompt"),
		Timeout: cfg.GetDuration("transcriber.timeout")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init transcriber")
	}
	lc, err := llm.NewClient(llm.Options{URL: cfg.GetString("llm.url"), Key: cfg.GetString("llm.key"),
		Model: cfg.GetString("llm.model"), Timeout: cfg.GetDuration("llm.timeout")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init llm")
	}
	pd.TextCleaner, err = textclean.NewCleaner(lc, cfg.GetInt("cleaner.maxChars"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init text cleaner")
	}
	pd.Extractor, err = extractor.NewExtractor(lc, cfg.GetInt("extractor.minWords"), cfg.GetInt("extractor.maxPrevious"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init extractor")
	}
	pd.Metrics, err = metrics.NewPipeline()
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init metrics")
	}
	pd.WorkDir = cfg.GetString("worker.workDir")
	pd.Language = defaultV(cfg.GetString("audio.language"), "pt")
	pd.LeaseTime = defaultV(cfg.GetDuration("worker.lease"), pipeline.DefaultLeaseTime)
	data.Pipeline = pd

	printBanner()

	go utils.RunPerfEndpoint()

	ctx, cancelFunc := context.WithCancel(context.Background())
	doneCh, err := worker.StartWorkerService(ctx, data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}
	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

func defaultV[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
                   __                    _ __
    ____  ___  ___/ /_____________________(_) /_  ___
   / __ \/ _ \/ __  / ___/ ___/ ___/ __ \/ / __ \/ _ \
  / /_/ /  __/ /_/ (__  ) /__/ /  / /_/ / / /_/ /  __/
 / .___/\___/\__,_/____/\___/_/   \____/_/_.___/\___/
/_/                                       v: %s
                      __
 _      ______  _____/ /_____  _____
| | /| / / __ \/ ___/ //_/ _ \/ ___/
| |/ |/ / /_/ / /  / ,< /  __/ /
|__/|__/\____/_/  /_/|_|\___/_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/pedscribe/pedscribe"))
}
