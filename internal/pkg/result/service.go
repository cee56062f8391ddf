package result

import (
	"context"
	"io"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/api"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FileReader loads file by name
type FileReader interface {
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
}

// DB provides the consultation audio keys
type DB interface {
	LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error)
}

// Data keeps data required for service work
type Data struct {
	Port   int
	Reader FileReader
	DB     DB
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Int("port", data.Port).Msg("Starting PEDSCRIBE result service")

	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Minute

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Reader == nil {
		return errors.New("no file reader")
	}
	if data.DB == nil {
		return errors.New("no DB")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("ps_result", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/audio/:id", downloadAudio(data, audioKey))
	e.HEAD("/audio/:id", downloadAudio(data, audioKey))
	e.GET("/audio/:id/original", downloadAudio(data, originalKey))
	e.HEAD("/audio/:id/original", downloadAudio(data, originalKey))
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

func audioKey(c *persistence.Consultation) string {
	return c.AudioURL
}

func originalKey(c *persistence.Consultation) string {
	return c.OriginalAudioURL.String
}

func downloadAudio(data *Data, keyFunc func(*persistence.Consultation) string) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("download method")()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no ID")
		}
		cons, err := data.DB.LoadConsultation(c.Request().Context(), id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "not found")
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load consultation")
		}
		if doctor := strings.TrimSpace(c.Request().Header.Get(api.HeaderDoctorID)); doctor != "" && doctor != cons.DoctorID {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		key := keyFunc(cons)
		if key == "" {
			return echo.NewHTTPError(http.StatusNotFound, "no audio")
		}
		return serveFile(c, data, key)
	}
}

func serveFile(c echo.Context, data *Data, name string) error {
	goapp.Log.Info().Str("file", name).Msg("loading")
	file, err := data.Reader.LoadFile(c.Request().Context(), name)
	if err != nil {
		return fileError(err, "can't get file")
	}
	defer file.Close()
	stGetter, ok := file.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		goapp.Log.Error().Msg(`file does not implement "interface{ Stat() (fs.FileInfo, error)"`)
		return echo.NewHTTPError(http.StatusInternalServerError, "can't get file stat")
	}
	stat, err := stGetter.Stat()
	if err != nil {
		return fileError(err, "can't get file stat")
	}

	w := c.Response()
	base := filepath.Base(name)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base}))
	http.ServeContent(w, c.Request(), base, stat.ModTime(), file)
	return nil
}

func fileError(err error, msg string) error {
	goapp.Log.Error().Err(err).Send()
	if isNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func isNotFound(err error) bool {
	var errTest minio.ErrorResponse
	return errors.As(err, &errTest) && errTest.StatusCode == http.StatusNotFound
}
