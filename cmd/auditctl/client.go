package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/neogan74/auditlens/internal/anomaly"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/neogan74/auditlens/internal/retention"
	"github.com/neogan74/auditlens/internal/search"
)

// AuditClient talks to the auditlens HTTP API.
type AuditClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RecordList is the body of the critical and suspicious listings.
type RecordList struct {
	Records []*audit.Record `json:"records"`
	Count   int             `json:"count"`
}

type ReviewRequest struct {
	Status     string `json:"status"`
	ReviewerID string `json:"reviewerId,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type RelatedRequest struct {
	RelatedID string `json:"relatedId"`
}

type MarkResponse struct {
	ActorID string `json:"actorId"`
	Marked  int    `json:"marked"`
}

type BackupResponse struct {
	Message string `json:"message"`
	Path    string `json:"backup_path"`
	Version uint64 `json:"version"`
}

func NewAuditClient(baseURL, token string, timeout time.Duration) *AuditClient {
	return &AuditClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do sends a request and decodes a JSON response into out when out is not nil.
func (c *AuditClient) do(method, path string, query url.Values, body, out any) error {
	raw, _, err := c.raw(method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *AuditClient) raw(method, path string, query url.Values, body any) ([]byte, http.Header, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			if errResp.Message != "" {
				return nil, nil, fmt.Errorf("server error: %s - %s", errResp.Error, errResp.Message)
			}
			return nil, nil, fmt.Errorf("server error: %s", errResp.Error)
		}
		return nil, nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return data, resp.Header, nil
}

func (c *AuditClient) Search(query url.Values) (*search.Result, error) {
	var res search.Result
	if err := c.do(http.MethodGet, "/audit/events", query, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *AuditClient) Get(id string) (*audit.Record, error) {
	var rec audit.Record
	if err := c.do(http.MethodGet, "/audit/events/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *AuditClient) Statistics(query url.Values) (*audit.Statistics, error) {
	var stats audit.Statistics
	if err := c.do(http.MethodGet, "/audit/statistics", query, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Listing fetches /audit/critical or /audit/suspicious.
func (c *AuditClient) Listing(kind string, hours int) (*RecordList, error) {
	query := url.Values{}
	if hours > 0 {
		query.Set("hours", fmt.Sprint(hours))
	}
	var list RecordList
	if err := c.do(http.MethodGet, "/audit/"+kind, query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *AuditClient) Behavior(actorID string, days int) (*anomaly.Report, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", fmt.Sprint(days))
	}
	var report anomaly.Report
	if err := c.do(http.MethodGet, "/audit/actors/"+url.PathEscape(actorID)+"/behavior", query, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *AuditClient) MarkAnomalies(actorID string) (*MarkResponse, error) {
	var res MarkResponse
	if err := c.do(http.MethodPost, "/audit/actors/"+url.PathEscape(actorID)+"/anomalies/mark", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *AuditClient) Review(id string, req ReviewRequest) (*audit.Record, error) {
	var rec audit.Record
	if err := c.do(http.MethodPost, "/audit/events/"+url.PathEscape(id)+"/review", nil, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *AuditClient) SetFlags(id string, patch audit.FlagPatch) (*audit.Record, error) {
	var rec audit.Record
	if err := c.do(http.MethodPatch, "/audit/events/"+url.PathEscape(id)+"/flags", nil, patch, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *AuditClient) LinkRelated(id, relatedID string) (*audit.Record, error) {
	var rec audit.Record
	if err := c.do(http.MethodPost, "/audit/events/"+url.PathEscape(id)+"/related", nil, RelatedRequest{RelatedID: relatedID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Export returns the exported document and the number of records in it.
func (c *AuditClient) Export(query url.Values) ([]byte, string, error) {
	data, header, err := c.raw(http.MethodGet, "/audit/export", query, nil)
	if err != nil {
		return nil, "", err
	}
	return data, header.Get("X-Export-Count"), nil
}

// Retention runs the archive or purge sweep. ageDays 0 uses the server default.
func (c *AuditClient) Retention(sweep string, ageDays int) (*retention.Result, error) {
	query := url.Values{}
	if ageDays > 0 {
		query.Set("ageDays", fmt.Sprint(ageDays))
	}
	var res retention.Result
	if err := c.do(http.MethodPost, "/audit/retention/"+sweep, query, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *AuditClient) CreateBackup() (*BackupResponse, error) {
	var res BackupResponse
	if err := c.do(http.MethodPost, "/admin/backup", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
