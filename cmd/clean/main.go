package main

import (
	"context"
	"time"

	aclean "github.com/airenas/async-api/pkg/clean"
	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/color"
	"github.com/pedscribe/pedscribe/internal/pkg/clean"
	"github.com/pedscribe/pedscribe/internal/pkg/postgres"
)

const (
	defaultExpire   = time.Hour * 24
	defaultRunEvery = time.Hour
)

func main() {
	_ = godotenv.Load()
	goapp.StartWithDefault()
	cfg := goapp.Config

	data := &clean.Data{}
	data.Port = cfg.GetInt("port")

	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	data.DB, err = postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	dbCleaner, err := postgres.NewSessionCleaner(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init session cleaner")
	}

	fsCleaner, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.https")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file cleaner")
	}

	expire := durationOr(cfg.GetDuration("timer.expire"), defaultExpire)
	tData := aclean.TimerData{}
	tData.IDsProvider, err = postgres.NewExpiredSessions(dbPool, expire)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init IDs provider")
	}

	printBanner()

	// parts first, the row is the only pointer to them
	cleaner := &aclean.CleanerGroup{}
	cleaner.Jobs = append(cleaner.Jobs, fsCleaner)
	cleaner.Jobs = append(cleaner.Jobs, dbCleaner)

	data.Cleaner = cleaner

	tData.RunEvery = durationOr(cfg.GetDuration("timer.runEvery"), defaultRunEvery)
	tData.Cleaner = cleaner

	goapp.Log.Info().Dur("expire", expire).Dur("runEvery", tData.RunEvery).Msg("upload sessions")

	ctxTimer, cancelFunc := context.WithCancel(ctx)
	doneCh, err := aclean.StartCleanTimer(ctxTimer, &tData)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start timer")
	}
	err = clean.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
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
/_/
        __
  _____/ /__  ____ _____
 / ___/ / _ \/ __ ` + "`" + `/ __ \
/ /__/ /  __/ /_/ / / / /
\___/_/\___/\__,_/_/ /_/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/pedscribe/pedscribe"))
}
