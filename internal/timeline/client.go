// Package timeline is a thin client over the document service's history
// aggregation and rollback endpoints. Unlike background paging, these are
// user-initiated actions, so failures surface to the caller.
package timeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Granularity selects the timeline bucket width.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

var (
	errMissingBaseURL = errors.New("timeline: base url is required")
	errMissingBoardID = errors.New("timeline: board id is required")

	// ErrInvalidGranularity indicates an unsupported bucket width.
	ErrInvalidGranularity = errors.New("timeline: invalid granularity")
)

const defaultRequestTimeout = 15 * time.Second

// Bucket is one server-aggregated slice of board history.
type Bucket struct {
	Timestamp        string `json:"timestamp"`
	SequenceStart    int64  `json:"sequence_start"`
	SequenceEnd      int64  `json:"sequence_end"`
	EventCount       int    `json:"event_count"`
	Creates          int    `json:"creates"`
	Updates          int    `json:"updates"`
	Deletes          int    `json:"deletes"`
	ContributorCount int    `json:"contributor_count"`
}

// RollbackResult reports the outcome of a rollback request.
type RollbackResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RollbackEvents int    `json:"rollback_events"`
	NewSequence    int64  `json:"new_sequence"`
}

// ClientConfig bundles the dependencies of a Client.
type ClientConfig struct {
	BaseURL    string
	BoardID    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the history endpoints of one board.
type Client struct {
	baseURL    string
	boardID    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	if cfg.BoardID == "" {
		return nil, errMissingBoardID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		boardID:    cfg.BoardID,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Timeline fetches aggregated change buckets at the given granularity.
func (c *Client) Timeline(ctx context.Context, granularity Granularity) ([]Bucket, error) {
	switch granularity {
	case GranularityMinute, GranularityHour, GranularityDay:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidGranularity, granularity)
	}

	endpoint := fmt.Sprintf("%s/boards/%s/history/timeline", c.baseURL, url.PathEscape(c.boardID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	query := request.URL.Query()
	query.Set("granularity", string(granularity))
	request.URL.RawQuery = query.Encode()

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("timeline fetch failed",
			zap.String("operation", "timeline.fetch"),
			zap.String("board_id", c.boardID),
			zap.Error(err))
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timeline: unexpected status %d", response.StatusCode)
	}

	var buckets []Bucket
	if err := json.NewDecoder(response.Body).Decode(&buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Rollback asks the service to rewind the board to target sequence by
// issuing inverse events.
func (c *Client) Rollback(ctx context.Context, targetSequence int64) (RollbackResult, error) {
	body, err := json.Marshal(map[string]int64{"target_sequence": targetSequence})
	if err != nil {
		return RollbackResult{}, err
	}
	endpoint := fmt.Sprintf("%s/boards/%s/history/rollback", c.baseURL, url.PathEscape(c.boardID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return RollbackResult{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("rollback request failed",
			zap.String("operation", "timeline.rollback"),
			zap.String("board_id", c.boardID),
			zap.Error(err))
		return RollbackResult{}, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return RollbackResult{}, fmt.Errorf("timeline: unexpected status %d", response.StatusCode)
	}

	var result RollbackResult
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return RollbackResult{}, err
	}
	return result, nil
}
