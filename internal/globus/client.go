// Package globus implements the transfer service on top of the Globus
// Transfer REST API. Only task submission and task lookup are covered;
// obtaining the initial refresh token is left to Globus' own tooling.
package globus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cortexlab/alyx-go/internal/transfer"
)

// DefaultAPIURL is the Globus Transfer API root.
const DefaultAPIURL = "https://transfer.api.globus.org/v0.10"

// ErrNotLoggedIn means no Globus refresh token has been stored yet.
var ErrNotLoggedIn = errors.New("globus: not logged in")

// syncLevels maps sync level names to the API's integer levels.
var syncLevels = map[string]int{
	"exists":   0,
	"size":     1,
	"mtime":    2,
	"checksum": 3,
}

// Timestamp layouts used by the Transfer API.
var timeLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	time.RFC3339,
}

// APIError is a non-2xx answer from the Transfer API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("globus: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to the Transfer API. The http.Client must attach bearer
// tokens, typically one built by oauth2.NewClient.
type Client struct {
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Transfer API client.
func NewClient(apiURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

type transferItem struct {
	DataType        string `json:"DATA_TYPE"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

type transferDocument struct {
	DataType            string         `json:"DATA_TYPE"`
	SubmissionID        string         `json:"submission_id"`
	SourceEndpoint      string         `json:"source_endpoint"`
	DestinationEndpoint string         `json:"destination_endpoint"`
	Label               string         `json:"label,omitempty"`
	VerifyChecksum      bool           `json:"verify_checksum"`
	SyncLevel           *int           `json:"sync_level,omitempty"`
	Data                []transferItem `json:"DATA"`
}

type submitResponse struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	TaskID                         string `json:"task_id"`
	Status                         string `json:"status"`
	Label                          string `json:"label"`
	SourceEndpointDisplayName      string `json:"source_endpoint_display_name"`
	DestinationEndpointDisplayName string `json:"destination_endpoint_display_name"`
	RequestTime                    string `json:"request_time"`
	CompletionTime                 string `json:"completion_time"`
	Files                          int    `json:"files"`
	BytesTransferred               int64  `json:"bytes_transferred"`
}

// Submit obtains a submission id and submits a one-item transfer task.
func (c *Client) Submit(ctx context.Context, d transfer.Descriptor) (transfer.Submission, error) {
	var sid struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/submission_id", nil, &sid); err != nil {
		return transfer.Submission{}, fmt.Errorf("globus: requesting submission id: %w", err)
	}

	doc := transferDocument{
		DataType:            "transfer",
		SubmissionID:        sid.Value,
		SourceEndpoint:      d.SourceEndpoint,
		DestinationEndpoint: d.DestinationEndpoint,
		Label:               d.Label,
		VerifyChecksum:      d.VerifyChecksum,
		Data: []transferItem{{
			DataType:        "transfer_item",
			SourcePath:      d.SourcePath,
			DestinationPath: d.DestinationPath,
		}},
	}

	if d.SyncLevel != "" {
		level, ok := syncLevels[d.SyncLevel]
		if !ok {
			return transfer.Submission{}, fmt.Errorf("globus: unknown sync level %q", d.SyncLevel)
		}

		doc.SyncLevel = &level
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/transfer", doc, &resp); err != nil {
		return transfer.Submission{}, err
	}

	c.logger.Debug("globus task submitted",
		slog.String("task_id", resp.TaskID),
		slog.String("submission_id", sid.Value),
	)

	return transfer.Submission{TaskID: resp.TaskID, Code: resp.Code, Message: resp.Message}, nil
}

// Task fetches one task record.
func (c *Client) Task(ctx context.Context, taskID string) (transfer.Task, error) {
	var resp taskResponse
	if err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(taskID), nil, &resp); err != nil {
		return transfer.Task{}, err
	}

	return transfer.Task{
		TaskID:              resp.TaskID,
		Status:              resp.Status,
		Label:               resp.Label,
		SourceEndpoint:      resp.SourceEndpointDisplayName,
		DestinationEndpoint: resp.DestinationEndpointDisplayName,
		RequestTime:         parseTime(resp.RequestTime),
		CompletionTime:      parseTime(resp.CompletionTime),
		Files:               resp.Files,
		BytesTransferred:    resp.BytesTransferred,
	}, nil
}

// do sends one JSON request and decodes the JSON answer into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("globus: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("globus: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("globus: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("globus: reading response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}

		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Code != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}

		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("globus: decoding %s response: %w", path, err)
	}

	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
