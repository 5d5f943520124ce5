package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridironlabs/pressbox/press/schedule"
	"github.com/gridironlabs/pressbox/press/season"
)

func TestGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "league-1", req["league_id"])
		assert.Equal(t, "weekly_recap", req["content_type"])
		assert.Equal(t, "stats_nerd", req["persona"])

		json.NewEncoder(w).Encode(map[string]string{"content_id": "content-42"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	id, err := client.GenerateContent(context.Background(), "league-1", schedule.ContentWeeklyRecap,
		"stats_nerd", map[string]any{"week": 5})
	require.NoError(t, err)
	assert.Equal(t, "content-42", id)
}

func TestGenerateContentErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "generation backlog full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.GenerateContent(context.Background(), "league-1", schedule.ContentWeeklyRecap, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestResolvePhase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/season/phase", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("date"))
		json.NewEncoder(w).Encode(map[string]string{"phase": "PLAYOFFS", "reason": "week 16"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	info, err := client.ResolvePhase(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, season.PhasePlayoffs, info.Phase)
	assert.Equal(t, "week 16", info.Reason)
}

func TestResolveAnchor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/leagues/league-1/anchors/season_start", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"date": "2025-09-04T00:00:00Z"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	anchor, err := client.ResolveAnchor(context.Background(), "league-1", "season_start")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 4, 0, 0, 0, 0, time.UTC), anchor.UTC())
}

func TestCurrentWeek(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/leagues/league-1/week", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int{"week": 7})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	week, err := client.CurrentWeek(context.Background(), "league-1")
	require.NoError(t, err)
	assert.Equal(t, 7, week)
}

func TestNotifyCommentSubsystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/comments/notify", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req["job_id"])
		assert.Equal(t, float64(8), req["max_users"])
		assert.Equal(t, float64((24*time.Hour).Milliseconds()), req["lead_time_ms"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := client.NotifyCommentSubsystem(context.Background(), "job-1", 8, 24*time.Hour)
	require.NoError(t, err)
}
