package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pedscribe/pedscribe/internal/pkg/api"
	"github.com/pedscribe/pedscribe/internal/pkg/persistence"
	"github.com/pedscribe/pedscribe/internal/pkg/utils"
)

type chunkResult struct {
	SessionID   string `json:"sessionId"`
	ChunkIndex  int    `json:"chunkIndex"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"totalChunks"`
}

// PartKey returns the storage key of a session part
func PartKey(sessionID string, idx int) string {
	return fmt.Sprintf("%s/part-%05d", sessionID, idx)
}

func chunk(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("chunk method")()
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
		if err := validateFormParams(form, chunkParams, api.PrmChunk); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sid, err := sessionID(formValue(form, api.PrmSessionID))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		total, err := intValue(formValue(form, api.PrmTotalChunks), 1, maxChunks(data))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("wrong %s: %v", api.PrmTotalChunks, err))
		}
		idx, err := intValue(formValue(form, api.PrmChunkIndex), 0, total-1)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("wrong %s: %v", api.PrmChunkIndex, err))
		}
		file, fh, err := takeFile(form, api.PrmChunk)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no chunk")
		}
		defer file.Close()
		if fh.Size <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "empty chunk")
		}
		if fh.Size > maxChunkSize(data) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("chunk too large: %d > %d", fh.Size, maxChunkSize(data)))
		}

		s, err := data.DB.LoadUploadSession(ctx, sid)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if s == nil {
			goapp.Log.Info().Str("session", sid).Int("total", total).Msg("new upload session")
			s = &persistence.UploadSession{ID: sid, DoctorID: doctor, TotalChunks: total}
		}
		if s.DoctorID != doctor {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		if s.TotalChunks != total {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s mismatch: %d != %d", api.PrmTotalChunks, total, s.TotalChunks))
		}
		if err := data.Filer.SaveFile(ctx, PartKey(sid, idx), file, fh.Size); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		p := persistence.UploadPart{SessionID: sid, Index: idx, Size: fh.Size}
		if err := data.DB.SaveUploadPart(ctx, s, &p); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, chunkResult{SessionID: sid, ChunkIndex: idx, TotalChunks: total,
			Received: len(withPart(s.Parts, p))})
	}
}

func finalize(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("finalize method")()
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
		if err := validateFormParams(form, finalizeParams); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sid, err := sessionID(formValue(form, api.PrmSessionID))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		in, err := takeInput(form, doctor)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		fileName := strings.TrimSpace(formValue(form, api.PrmFileName))
		if err := validateAudioName(fileName); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		s, err := data.DB.LoadUploadSession(ctx, sid)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "no session")
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if s.DoctorID != doctor {
			return echo.NewHTTPError(http.StatusNotFound, "no session")
		}
		if missing := missingParts(s); len(missing) > 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("missing chunks %v", missing))
		}
		if in.hash != "" {
			dup, err := data.DB.FindConsultationByHash(ctx, doctor, in.hash)
			if err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
			if dup != "" {
				goapp.Log.Info().Str("ID", dup).Str("session", sid).Msg("duplicate upload")
				cleanSession(ctx, data, sid)
				return c.JSON(http.StatusOK, result{ID: dup, Duplicate: true})
			}
		}

		cons := newConsultation(in, fileName, formValue(form, api.PrmFileType))
		cons.AudioURL, err = utils.MakeValidateFileName(cons.ID, fileName)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		hash, err := assemble(ctx, data.Filer, s, cons.AudioURL)
		if err != nil {
			goapp.Log.Error().Err(err).Str("session", sid).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if in.hash == "" {
			cons.AudioHash = utils.ToSQLStr(hash)
		} else if in.hash != hash {
			goapp.Log.Warn().Str("session", sid).Str("client", in.hash).Str("server", hash).Msg("hash mismatch")
		}
		if err := startProcessing(ctx, data, cons); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		cleanSession(ctx, data, sid)
		return c.JSON(http.StatusOK, result{ID: cons.ID})
	}
}

func cleanSession(ctx context.Context, data *Data, sid string) {
	if err := data.SessionCleaner.Clean(context.WithoutCancel(ctx), sid); err != nil {
		goapp.Log.Warn().Err(err).Str("session", sid).Msg("can't clean upload session")
	}
}

// assemble streams parts in index order into key and returns sha256 of the result
func assemble(ctx context.Context, filer Filer, s *persistence.UploadSession, key string) (string, error) {
	parts := sortedParts(s.Parts)
	keys := make([]string, 0, len(parts))
	var size int64
	for _, p := range parts {
		keys = append(keys, PartKey(s.ID, p.Index))
		size += p.Size
	}
	r := &partsReader{ctx: ctx, filer: filer, keys: keys}
	defer r.Close()
	h := sha256.New()
	if err := filer.SaveFile(ctx, key, io.TeeReader(r, h), size); err != nil {
		return "", fmt.Errorf("can't save '%s': %w", key, err)
	}
	goapp.Log.Info().Str("session", s.ID).Str("file", key).Int("parts", len(keys)).Int64("size", size).Msg("assembled")
	return hex.EncodeToString(h.Sum(nil)), nil
}

// partsReader opens parts one by one while reading
type partsReader struct {
	ctx   context.Context
	filer Filer
	keys  []string
	cur   io.ReadCloser
}

func (r *partsReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			f, err := r.filer.LoadFile(r.ctx, r.keys[0])
			if err != nil {
				return 0, fmt.Errorf("can't load '%s': %w", r.keys[0], err)
			}
			r.cur, r.keys = f, r.keys[1:]
		}
		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			_ = r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partsReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}

func sortedParts(parts []persistence.UploadPart) []persistence.UploadPart {
	res := make([]persistence.UploadPart, len(parts))
	copy(res, parts)
	sort.Slice(res, func(i, j int) bool { return res[i].Index < res[j].Index })
	return res
}

// withPart returns parts with p replacing a part of the same index
func withPart(parts []persistence.UploadPart, p persistence.UploadPart) []persistence.UploadPart {
	res := make([]persistence.UploadPart, 0, len(parts)+1)
	for _, sp := range parts {
		if sp.Index != p.Index {
			res = append(res, sp)
		}
	}
	return append(res, p)
}

// missingParts returns indices in [0, TotalChunks) without a part
func missingParts(s *persistence.UploadSession) []int {
	got := map[int]bool{}
	for _, p := range s.Parts {
		got[p.Index] = true
	}
	res := []int{}
	for i := 0; i < s.TotalChunks; i++ {
		if !got[i] {
			res = append(res, i)
		}
	}
	return res
}

func sessionID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("wrong %s '%s'", api.PrmSessionID, s)
	}
	return id.String(), nil
}

func intValue(s string, min, max int) (int, error) {
	res, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number '%s'", s)
	}
	if res < min || res > max {
		return 0, fmt.Errorf("%d not in [%d, %d]", res, min, max)
	}
	return res, nil
}

func maxChunkSize(data *Data) int64 {
	if data.MaxChunkSize > 0 {
		return data.MaxChunkSize
	}
	return DefaultMaxChunkSize
}

func maxChunks(data *Data) int {
	if data.MaxChunks > 0 {
		return data.MaxChunks
	}
	return DefaultMaxChunks
}
