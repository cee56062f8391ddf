package statusservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"

	"github.com/pedscribe/pedscribe/internal/pkg/api"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/status"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DB loads consultation status info
type DB interface {
	LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error)
}

// WSConnHandler keeps subscribed websocket connections
type WSConnHandler interface {
	HandleConnection(WsConn) error
	Send(id string, v interface{}) int
	Count(id string) int
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	WSHandler WSConnHandler
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP PEDSCRIBE status service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("ps_status", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/status/:id", statusHandler(data))
	e.GET("/live", live(data))
	e.GET("/subscribe", subscribeHandler(data))

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

type result struct {
	ID        string                       `json:"id"`
	Status    string                       `json:"status"`
	Error     string                       `json:"error,omitempty"`
	ErrorCode string                       `json:"errorCode,omitempty"`
	Steps     []persistence.ProcessingStep `json:"steps"`
}

func statusHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("status method")()

		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no ID")
		}
		cons, err := data.DB.LoadConsultation(c.Request().Context(), id)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "service error")
		}
		doctor := strings.TrimSpace(c.Request().Header.Get(api.HeaderDoctorID))
		if cons == nil || (doctor != "" && cons.DoctorID != doctor) {
			return c.JSON(http.StatusNotFound, notFound(id))
		}
		return c.JSON(http.StatusOK, mapStatus(cons))
	}
}

func notFound(id string) *result {
	return &result{ID: id, Status: status.ECNotFound.String(), Error: "unknown ID: " + id,
		ErrorCode: status.ECNotFound.String(), Steps: []persistence.ProcessingStep{}}
}

func mapStatus(c *persistence.Consultation) *result {
	res := &result{ID: c.ID, Status: c.Status, Error: c.Error.String, ErrorCode: c.ErrorCode.String, Steps: c.Steps}
	if res.Steps == nil {
		res.Steps = []persistence.ProcessingStep{}
	}
	return res
}

func validate(data *Data) error {
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws)
	}
}
