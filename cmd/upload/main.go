package main

import (
	"context"

	aclean "github.com/airenas/async-api/pkg/clean"
	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/color"
	"github.com/pedscribe/pedscribe/internal/pkg/postgres"
	"github.com/pedscribe/pedscribe/internal/pkg/upload"
)

func main() {
	_ = godotenv.Load()
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config
	data := &upload.Data{}
	data.Port = cfg.GetInt("port")
	data.MaxChunkSize = cfg.GetInt64("upload.maxChunkSize")
	data.MaxChunks = cfg.GetInt("upload.maxChunks")

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

	data.DB, err = postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	filer, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key"),
		Secure: cfg.GetBool("filer.https")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init file saver")
	}
	data.Filer = filer

	data.MsgSender, err = postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	sessionCleaner, err := postgres.NewSessionCleaner(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init session cleaner")
	}
	cleaner := &aclean.CleanerGroup{}
	cleaner.Jobs = append(cleaner.Jobs, filer)
	cleaner.Jobs = append(cleaner.Jobs, sessionCleaner)
	data.SessionCleaner = cleaner

	err = upload.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
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
                 __                __
    __  ______  / /___  ____ _____/ /
   / / / / __ \/ / __ \/ __ ` + "`" + `/ __  /
  / /_/ / /_/ / / /_/ / /_/ / /_/ /
  \__,_/ .___/_/\____/\__,_/\__,_/   v: %s
      /_/

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/pedscribe/pedscribe"))
}
