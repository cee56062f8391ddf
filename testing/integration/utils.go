//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pedscribe/pedscribe/internal/pkg/postgres"
)

func WaitForOpenOrFail(ctx context.Context, URL string) {
	u, err := url.Parse(URL)
	if err != nil {
		log.Fatalf("FAIL: can't parse %s", URL)
	}
	for {
		err = listen(net.JoinHostPort(u.Hostname(), u.Port()))
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			log.Fatalf("FAIL: can't access %s", URL)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func GetEnvOrFail(s string) string {
	res := os.Getenv(s)
	if res == "" {
		log.Fatalf("no env '%s'", s)
	}
	return res
}

func listen(urlStr string) error {
	log.Printf("dial %s", urlStr)
	conn, err := net.DialTimeout("tcp", urlStr, time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return nil
}

func waitForDB(ctx context.Context, URL string) {
	dbPool, err := pgxpool.New(ctx, URL)
	if err != nil {
		log.Fatalf("FAIL: can't init db pool")
	}
	defer dbPool.Close()

	for {
		log.Printf("check db live ...")
		db, err := postgres.NewDB(dbPool)
		if err == nil {
			if err = db.Live(ctx); err == nil {
				return
			}
			log.Print(err.Error())
		}
		select {
		case <-ctx.Done():
			log.Fatalf("FAIL: can't access db")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

const (
	transcript = "Mãe: ele está com febre há dois dias e tosse seca. Médico: vamos examinar, pulmões limpos, peso doze quilos."
	extracted  = `{"chief_complaint":"febre há dois dias","hma":"febre e tosse seca","history":null,
"family_history":null,"prenatal_perinatal_history":null,"physical_exam":"pulmões limpos","development_notes":null,
"weight_kg":12,"height_cm":null,"head_circumference_cm":null,"weight_source":"audio","height_source":null,
"head_circumference_source":null,"diagnosis":"IVAS","diagnosis_is_ai_suggestion":true,"conduct":null,"plan":null,
"notes":null,"medication_alerts":null,"patient_updates":{},"speaker_analysis":{"mother_statements":["febre"],
"doctor_statements":["pulmões limpos"]},"quality_score":80}`
)

// mockHandler serves the transcription engine and the LLM
func mockHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": transcript})
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		content := extracted
		if strings.Contains(req.Messages[0].Content, "cleaned_text") {
			b, _ := json.Marshal(map[string]string{"cleaned_text": transcript})
			content = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{
			map[string]interface{}{"message": map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop"}}})
	default:
		log.Printf("unknown request to: %s", r.URL.String())
		w.WriteHeader(http.StatusNotFound)
	}
}
