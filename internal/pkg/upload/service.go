package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/api"
	"github.com/pedscribe/pedscribe/internal/pkg/messages"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// DefaultMaxChunkSize is the client part size plus multipart slack
	DefaultMaxChunkSize int64 = 4*1024*1024 + 512*1024
	// DefaultMaxChunks per upload session
	DefaultMaxChunks = 500
)

// Filer stores and reads media
type Filer interface {
	SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB keeps consultations and upload sessions
type DB interface {
	LoadConsultation(ctx context.Context, id string) (*persistence.Consultation, error)
	InsertConsultation(ctx context.Context, c *persistence.Consultation) error
	FindConsultationByHash(ctx context.Context, doctorID, hash string) (string, error)
	LoadUploadSession(ctx context.Context, id string) (*persistence.UploadSession, error)
	SaveUploadPart(ctx context.Context, s *persistence.UploadSession, p *persistence.UploadPart) error
}

// Cleaner removes data by ID
type Cleaner interface {
	Clean(ctx context.Context, id string) error
}

// Data keeps data required for service work
type Data struct {
	Port           int
	Filer          Filer
	DB             DB
	MsgSender      MsgSender
	SessionCleaner Cleaner
	MaxChunkSize   int64
	MaxChunks      int
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP PEDSCRIBE upload service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 180 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Filer == nil {
		return fmt.Errorf("no filer")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.SessionCleaner == nil {
		return fmt.Errorf("no session cleaner")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("ps_upload", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/upload", upload(data))
	e.POST("/chunk", chunk(data))
	e.POST("/finalize", finalize(data))
	e.POST("/process/:id", process(data))
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

type result struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// consultationInput is the form data common for single and chunked uploads
type consultationInput struct {
	doctorID  string
	patientID string
	tp        persistence.ConsultationType
	subtype   string
	duration  float64
	hash      string
}

func upload(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("upload method")()
		ctx := c.Request().Context()

		doctor, err := doctorID(c)
		if err != nil {
			return err
		}
		form, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no multipart form data")
		}
		defer cleanFiles(form)
		if err := validateFormParams(form, uploadParams, api.PrmFile, api.PrmOriginal); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in, err := takeInput(form, doctor)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		file, fh, err := takeFile(form, api.PrmFile)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no file")
		}
		defer file.Close()
		if err := validateAudioName(fh.Filename); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if in.hash == "" {
			if in.hash, err = hashSeeker(file); err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
		}
		dup, err := data.DB.FindConsultationByHash(ctx, in.doctorID, in.hash)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if dup != "" {
			goapp.Log.Info().Str("ID", dup).Msg("duplicate upload")
			return c.JSON(http.StatusOK, result{ID: dup, Duplicate: true})
		}

		cons := newConsultation(in, fh.Filename, fh.Header.Get(echo.HeaderContentType))
		cons.AudioURL, err = utils.MakeValidateFileName(cons.ID, fh.Filename)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := data.Filer.SaveFile(ctx, cons.AudioURL, file, fh.Size); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if of, ofh, err := takeFile(form, api.PrmOriginal); err == nil {
			defer of.Close()
			key, err := utils.MakeValidateFileName(cons.ID, "original"+strings.ToLower(filepath.Ext(ofh.Filename)))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			if err := data.Filer.SaveFile(ctx, key, of, ofh.Size); err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
			cons.OriginalAudioURL = utils.ToSQLStr(key)
		}
		if err := startProcessing(ctx, data, cons); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, result{ID: cons.ID})
	}
}

func process(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("process method")()
		ctx := c.Request().Context()
		doctor, err := doctorID(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no ID")
		}
		cons, err := data.DB.LoadConsultation(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if cons.DoctorID != doctor {
			goapp.Log.Warn().Str("ID", id).Str("doctor", doctor).Msg("foreign consultation")
			return echo.NewHTTPError(http.StatusNotFound)
		}
		err = data.MsgSender.SendMessage(ctx, messages.NewProcessMessage(id, utils.ParamTrue(c.QueryParam(api.PrmResume)),
			utils.ParamTrue(c.QueryParam(api.PrmOriginalAudio))), messages.Process)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, result{ID: id})
	}
}

// startProcessing inserts the pending consultation and enqueues the pipeline job
func startProcessing(ctx context.Context, data *Data, cons *persistence.Consultation) error {
	if err := data.DB.InsertConsultation(ctx, cons); err != nil {
		return fmt.Errorf("can't insert consultation: %w", err)
	}
	if err := data.MsgSender.SendMessage(ctx, messages.NewProcessMessage(cons.ID, false, false), messages.Process); err != nil {
		return fmt.Errorf("can't send process msg: %w", err)
	}
	goapp.Log.Info().Str("ID", cons.ID).Str("file", cons.AudioURL).Msg("consultation queued")
	return nil
}

func newConsultation(in *consultationInput, fileName, fileType string) *persistence.Consultation {
	now := time.Now()
	return &persistence.Consultation{ID: uuid.New().String(), DoctorID: in.doctorID, PatientID: in.patientID,
		Type: in.tp, Subtype: utils.ToSQLStr(in.subtype), AudioHash: utils.ToSQLStr(in.hash),
		AudioDuration: utils.ToSQLFloat64(in.duration), FileName: fileName, FileType: utils.ToSQLStr(fileType),
		Steps: []persistence.ProcessingStep{}, Created: now, Updated: now}
}

func doctorID(c echo.Context) (string, error) {
	res := strings.TrimSpace(c.Request().Header.Get(api.HeaderDoctorID))
	if res == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "no doctor")
	}
	return res, nil
}

var (
	uploadParams = map[string]bool{api.PrmPatientID: true, api.PrmDuration: true, api.PrmHash: true,
		api.PrmConsultationType: true, api.PrmSubtype: true}
	chunkParams    = map[string]bool{api.PrmSessionID: true, api.PrmChunkIndex: true, api.PrmTotalChunks: true}
	finalizeParams = map[string]bool{api.PrmSessionID: true, api.PrmPatientID: true, api.PrmDuration: true,
		api.PrmFileName: true, api.PrmFileType: true, api.PrmHash: true, api.PrmConsultationType: true,
		api.PrmSubtype: true}
)

func takeInput(form *multipart.Form, doctor string) (*consultationInput, error) {
	res := &consultationInput{doctorID: doctor}
	res.patientID = strings.TrimSpace(formValue(form, api.PrmPatientID))
	if res.patientID == "" {
		return nil, fmt.Errorf("no %s", api.PrmPatientID)
	}
	var err error
	if res.tp, err = persistence.ParseConsultationType(formValue(form, api.PrmConsultationType)); err != nil {
		return nil, err
	}
	res.subtype = strings.TrimSpace(formValue(form, api.PrmSubtype))
	if d := strings.TrimSpace(formValue(form, api.PrmDuration)); d != "" {
		if res.duration, err = strconv.ParseFloat(d, 64); err != nil || res.duration < 0 {
			return nil, fmt.Errorf("wrong %s '%s'", api.PrmDuration, d)
		}
	}
	res.hash = strings.ToLower(strings.TrimSpace(formValue(form, api.PrmHash)))
	return res, nil
}

func formValue(form *multipart.Form, name string) string {
	return takeFirst(form.Value[name], "")
}

func takeFirst[K interface{}](a []K, d K) K {
	if len(a) > 0 {
		return a[0]
	}
	return d
}

func cleanFiles(f *multipart.Form) {
	if f != nil {
		_ = f.RemoveAll()
	}
}

// validateFormParams allows only known values and files, the first file is required
func validateFormParams(form *multipart.Form, allowed map[string]bool, files ...string) error {
	for k := range form.Value {
		if !allowed[k] {
			return fmt.Errorf("unknown parameter '%s'", k)
		}
	}
	check := map[string]bool{}
	for _, f := range files {
		check[f] = true
	}
	for k := range form.File {
		if !check[k] {
			return fmt.Errorf("unexpected form file parameter '%s'", k)
		}
	}
	if len(files) > 0 && len(form.File[files[0]]) == 0 {
		return fmt.Errorf("no form file parameter '%s'", files[0])
	}
	return nil
}

func takeFile(form *multipart.Form, paramName string) (multipart.File, *multipart.FileHeader, error) {
	handler := takeFirst(form.File[paramName], nil)
	if handler == nil {
		return nil, nil, http.ErrMissingFile
	}
	file, err := handler.Open()
	return file, handler, err
}

func validateAudioName(name string) error {
	ext := filepath.Ext(name)
	if !utils.SupportAudioExt(ext) {
		return fmt.Errorf("wrong file extension '%s'", ext)
	}
	if _, err := utils.MakeValidateFileName("", name); err != nil {
		return fmt.Errorf("wrong file name '%s'", name)
	}
	return nil
}

func hashSeeker(r io.ReadSeeker) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("can't hash: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("can't seek: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
