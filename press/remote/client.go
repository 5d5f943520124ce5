// Package remote is the HTTP client for the engine's external
// collaborators: the generation worker, the season-boundary service, and
// the comment subsystem. All five collaborator interfaces are served by
// one configured base URL.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gridironlabs/pressbox/errors"
	"github.com/gridironlabs/pressbox/press/schedule"
	"github.com/gridironlabs/pressbox/press/season"
)

// Client implements the collaborator interfaces over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a collaborator client. A zero timeout defaults to one
// minute, matching the generator's implicit call budget.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GenerateContent asks the generation worker to produce content and
// returns the resulting content ID. Called at most once per job attempt.
func (c *Client) GenerateContent(ctx context.Context, leagueID string, ct schedule.ContentType,
	persona string, contextData map[string]any) (string, error) {
	req := struct {
		LeagueID    string         `json:"league_id"`
		ContentType string         `json:"content_type"`
		Persona     string         `json:"persona,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
	}{leagueID, string(ct), persona, contextData}

	var resp struct {
		ContentID string `json:"content_id"`
	}
	if err := c.post(ctx, "/v1/generate", req, &resp); err != nil {
		return "", errors.Wrap(err, "generation call failed")
	}
	if resp.ContentID == "" {
		return "", errors.New("generation worker returned no content id")
	}
	return resp.ContentID, nil
}

// ResolvePhase looks up the season phase for a date.
func (c *Client) ResolvePhase(ctx context.Context, date time.Time) (season.PhaseInfo, error) {
	var resp struct {
		Phase  string `json:"phase"`
		Reason string `json:"reason"`
	}
	path := "/v1/season/phase?date=" + url.QueryEscape(date.UTC().Format(time.RFC3339))
	if err := c.get(ctx, path, &resp); err != nil {
		return season.PhaseInfo{}, errors.Wrap(err, "season phase lookup failed")
	}
	return season.PhaseInfo{Phase: season.Phase(resp.Phase), Reason: resp.Reason}, nil
}

// ResolveAnchor resolves a league's named season anchor to a date.
func (c *Client) ResolveAnchor(ctx context.Context, leagueID, anchorName string) (time.Time, error) {
	var resp struct {
		Date string `json:"date"`
	}
	path := fmt.Sprintf("/v1/leagues/%s/anchors/%s", url.PathEscape(leagueID), url.PathEscape(anchorName))
	if err := c.get(ctx, path, &resp); err != nil {
		return time.Time{}, errors.Wrapf(err, "anchor lookup failed for %s", anchorName)
	}
	t, err := time.Parse(time.RFC3339, resp.Date)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid anchor date %q for %s", resp.Date, anchorName)
	}
	return t, nil
}

// CurrentWeek returns the league's current week number.
func (c *Client) CurrentWeek(ctx context.Context, leagueID string) (int, error) {
	var resp struct {
		Week int `json:"week"`
	}
	path := fmt.Sprintf("/v1/leagues/%s/week", url.PathEscape(leagueID))
	if err := c.get(ctx, path, &resp); err != nil {
		return 0, errors.Wrap(err, "week lookup failed")
	}
	return resp.Week, nil
}

// NotifyCommentSubsystem tells the comment subsystem about completed
// content so it can solicit league-member reactions.
func (c *Client) NotifyCommentSubsystem(ctx context.Context, jobID string, maxUsers int, leadTime time.Duration) error {
	req := struct {
		JobID      string `json:"job_id"`
		MaxUsers   int    `json:"max_users"`
		LeadTimeMs int64  `json:"lead_time_ms"`
	}{jobID, maxUsers, leadTime.Milliseconds()}

	if err := c.post(ctx, "/v1/comments/notify", req, nil); err != nil {
		return errors.Wrap(err, "comment notification failed")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := errors.Newf("collaborator returned %d for %s %s", resp.StatusCode, req.Method, req.URL.Path)
		return errors.WithDetail(err, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
