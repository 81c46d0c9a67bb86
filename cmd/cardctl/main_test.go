package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cuongbtq/pricecards/internal/auth"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func newAPI(t *testing.T, final domain.JobStatus) *httptest.Server {
	t.Helper()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/processing/analyze-text", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"job-1","status":"pending"}`))
	})
	mux.HandleFunc("/api/processing/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		// first query sees the job still pending, the second its final state
		if polls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"jobId":"job-1","status":"processing","progress":40}`))
			return
		}
		body := map[string]any{"jobId": "job-1", "status": final, "progress": 100}
		if final == domain.JobStatusCompleted {
			body["result"] = map[string]any{"titulo": "Cotação", "data": "10/03/2025", "produtos": []any{}}
		} else {
			body["error"] = "model output is not a valid price card"
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze_TextCompleted(t *testing.T) {
	srv := newAPI(t, domain.JobStatusCompleted)

	stdout, stderr, err := executeCmd(t, "--api", srv.URL, "analyze", "--text", "MILHO mar/25 R$ 68")
	require.NoError(t, err)

	assert.Contains(t, stderr, "job job-1 submitted")
	assert.Contains(t, stderr, "processing  40%")
	assert.Contains(t, stderr, "completed  100%")

	var card domain.PriceCard
	require.NoError(t, json.Unmarshal([]byte(stdout), &card))
	assert.Equal(t, "Cotação", card.Title)
}

func TestAnalyze_JobFailed(t *testing.T) {
	srv := newAPI(t, domain.JobStatusFailed)

	_, _, err := executeCmd(t, "--api", srv.URL, "analyze", "--text", "nada")
	require.ErrorIs(t, err, errJobFailed)
	assert.Contains(t, err.Error(), "not a valid price card")
}

func TestAnalyze_RequiresOneInput(t *testing.T) {
	_, _, err := executeCmd(t, "analyze")
	require.Error(t, err)

	_, _, err = executeCmd(t, "analyze", "--text", "a", "--file", "b.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestProgressPrinter_SkipsRepeats(t *testing.T) {
	var out bytes.Buffer
	print := progressPrinter(&out)

	p40 := 40
	print(&domain.StatusReport{Status: domain.JobStatusPending})
	print(&domain.StatusReport{Status: domain.JobStatusPending})
	print(&domain.StatusReport{Status: domain.JobStatusProcessing, Progress: &p40})
	print(&domain.StatusReport{Status: domain.JobStatusProcessing, Progress: &p40})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"pending", "processing  40%"}, lines)
}

func TestResolve_DirectImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	t.Cleanup(upstream.Close)

	// the api is down, so the backend proxy fails and direct wins
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	stdout, stderr, err := executeCmd(t, "--api", down.URL, "resolve", upstream.URL+"/foto.png", "--kind", "image")
	require.NoError(t, err)
	assert.Equal(t, upstream.URL+"/foto.png", strings.TrimSpace(stdout))
	assert.Contains(t, stderr, "resolved via direct")
}

func TestResolve_InvalidKind(t *testing.T) {
	_, _, err := executeCmd(t, "resolve", "https://example.com/a.ogg", "--kind", "video")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestToken_MintsVerifiableToken(t *testing.T) {
	t.Setenv("API_JWT_SECRET", "0123456789abcdef")

	stdout, _, err := executeCmd(t, "token", "--subject", "operator", "--fox-user", "fox-7")
	require.NoError(t, err)

	claims, err := auth.ParseToken("0123456789abcdef", strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, "fox-7", claims.FoxUserID)
}

func TestToken_RequiresSecret(t *testing.T) {
	t.Setenv("API_JWT_SECRET", "")
	_, _, err := executeCmd(t, "token")
	require.Error(t, err)
}
