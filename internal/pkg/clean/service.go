package clean

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/api"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Cleaner is a wrapper for clean functionality
type Cleaner interface {
	Clean(ctx context.Context, ID string) error
}

// SessionDB loads upload session owner
type SessionDB interface {
	LoadUploadSession(ctx context.Context, id string) (*persistence.UploadSession, error)
}

// Data keeps data required for service work
type Data struct {
	Port    int
	Cleaner Cleaner
	DB      SessionDB
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Int("port", data.Port).Msgf("Starting HTTP PEDSCRIBE clean service")
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Cleaner == nil {
		return errors.New("no cleaner")
	}
	if data.DB == nil {
		return errors.New("no DB")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("ps_clean", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.DELETE("/delete/:id", delete(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

// delete aborts an upload session, a session without a row is still cleaned from the file store
func delete(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("delete method")()

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong ID")
		}
		ctx := c.Request().Context()
		s, err := data.DB.LoadUploadSession(ctx, id.String())
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load session")
		}
		doctor := strings.TrimSpace(c.Request().Header.Get(api.HeaderDoctorID))
		if s != nil && doctor != "" && s.DoctorID != doctor {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		if err := data.Cleaner.Clean(ctx, id.String()); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't delete")
		}
		goapp.Log.Info().Str("session", id.String()).Msg("deleted")
		return c.String(http.StatusOK, "deleted")
	}
}
