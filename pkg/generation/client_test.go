package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func newTestClient(url string) *Client {
	return NewClient(config.GenerationConfig{
		BaseURL:           url,
		Model:             "test-model",
		Timeout:           5 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 100,
	})
}

func TestAssessRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		reply(w, "```json\n{\"scores\":{\"completeness\":8,\"accuracy\":7,\"quality\":12,\"domain_fit\":6,\"value\":7},\"pass\":true}\n```")
	}))
	defer srv.Close()

	a, err := newTestClient(srv.URL).Assess(context.Background(), AssessRequest{JobTitle: "landing page"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 10.0, a.Scores.Quality)
	assert.InDelta(t, 7.6, a.Score(), 1e-9)
	assert.True(t, a.Pass)
}

func TestAssessKeepsExplicitZeroAndIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"scores":{"completeness":6,"accuracy":6,"quality":6,"domain_fit":6,"value":6},"overall":0,"pass":false,"feedback":"off brief","issues":["wrong audience","no call to action"]}`)
	}))
	defer srv.Close()

	a, err := newTestClient(srv.URL).Assess(context.Background(), AssessRequest{JobTitle: "ad copy"})
	require.NoError(t, err)
	require.NotNil(t, a.Overall)
	assert.Equal(t, 0.0, *a.Overall)
	assert.Equal(t, []string{"wrong audience", "no call to action"}, a.Issues)
}

func TestNormalizeClampsOverall(t *testing.T) {
	high := 14.0
	a := Assessment{Overall: &high}
	a.Normalize()
	assert.Equal(t, 10.0, a.Score())

	missing := Assessment{Scores: Scores{Completeness: 5, Accuracy: 5, Quality: 5, DomainFit: 5, Value: 5}}
	missing.Normalize()
	assert.Equal(t, 5.0, missing.Score())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), StepRequest{Role: "writer"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlanWithoutStepsFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"steps":[],"shares":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Plan(context.Background(), PlanRequest{Title: "logo"})
	assert.ErrorIs(t, err, apperr.ErrExternalServiceUnavailable)
}

func TestPlanDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.NotNil(t, req.ResponseFormat)
		reply(w, `{"steps":[{"bot_id":4,"role":"writer","output_type":"markdown"}],"shares":[{"bot_id":4,"share":1}]}`)
	}))
	defer srv.Close()

	plan, err := newTestClient(srv.URL).Plan(context.Background(), PlanRequest{Title: "blog post"})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, uint(4), plan.Steps[0].BotID)
	assert.Equal(t, 1.0, plan.Shares[0].Share)
}
