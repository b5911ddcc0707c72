package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/denoise-client/internal/audio"
	"github.com/skypro1111/denoise-client/internal/metrics"
)

// DefaultBaseURL is the local development endpoint of the processing service
const DefaultBaseURL = "http://localhost:5000/api"

// Client talks to the remote noise-suppression service. It keeps no state
// between calls and is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Config contains processing client configuration
type Config struct {
	BaseURL   string
	Timeout   time.Duration // zero leaves timeouts to the caller's context
	UserAgent string
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics records every request on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// InputFile is an audio payload selected by the user. It is not modified after
// construction.
type InputFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// NewInputFile copies data into a new InputFile. An empty content type is
// detected from the payload.
func NewInputFile(name, contentType string, data []byte) *InputFile {
	buf := make([]byte, len(data))
	copy(buf, data)

	return &InputFile{
		Name:        name,
		ContentType: audio.DetectContentType(buf, contentType),
		Data:        buf,
	}
}

// Size returns the payload size in bytes
func (f *InputFile) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// ModelDescriptor describes a model advertised by the service. Fields other
// than name are kept in Extra.
type ModelDescriptor struct {
	Name  string         `json:"name"`
	Extra map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown descriptor fields in Extra
func (m *ModelDescriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if name, ok := raw["name"].(string); ok {
		m.Name = name
	}
	delete(raw, "name")

	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// MarshalJSON flattens Extra next to name
func (m ModelDescriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	out["name"] = m.Name
	return json.Marshal(out)
}

type errorBody struct {
	Error string `json:"error"`
}

type modelsBody struct {
	Models []ModelDescriptor `json:"models"`
}

// NewClient creates a new processing service client
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	u, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", config.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL must use http or https, got %q", config.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL has no host: %q", config.BaseURL)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout < 0 {
		config.Timeout = 0
	}

	if config.UserAgent == "" {
		config.UserAgent = "denoise-client/1.0"
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the normalized service base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Submit uploads file for noise suppression and returns the processed audio
// exactly as the service sent it.
func (c *Client) Submit(ctx context.Context, file *InputFile) ([]byte, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, &InvalidInputError{Reason: "No audio file provided"}
	}

	// Create multipart form data
	body, contentType, err := createMultipartBody(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}
	c.metrics.RecordPayload("upload", file.Size())

	status, respBody, err := c.do(ctx, OpProcessAudio, http.MethodPost, body, contentType)
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		return nil, newServiceError(OpProcessAudio, status, respBody, DefaultProcessMessage)
	}

	c.metrics.RecordPayload("download", len(respBody))
	return respBody, nil
}

// ListModels returns the models advertised by the service. A response without
// a models field yields an empty slice.
func (c *Client) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	status, respBody, err := c.do(ctx, OpListModels, http.MethodGet, nil, "")
	if err != nil {
		return nil, err
	}

	if !isSuccess(status) {
		return nil, &ServiceError{Op: OpListModels, StatusCode: status, Message: DefaultModelsMessage}
	}

	var parsed modelsBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &TransportError{Op: OpListModels, Cause: fmt.Errorf("failed to parse response JSON: %w", err)}
	}

	if parsed.Models == nil {
		return []ModelDescriptor{}, nil
	}
	return parsed.Models, nil
}

// Health checks the service health endpoint
func (c *Client) Health(ctx context.Context) error {
	status, respBody, err := c.do(ctx, OpHealth, http.MethodGet, nil, "")
	if err != nil {
		return err
	}

	if !isSuccess(status) {
		return newServiceError(OpHealth, status, respBody, DefaultHealthMessage)
	}
	return nil
}

// do performs a single HTTP request and reads the whole response body
func (c *Client) do(ctx context.Context, op, method string, body io.Reader, contentType string) (int, []byte, error) {
	startTime := time.Now()
	requestID := uuid.NewString()

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+"/"+op, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// Set headers
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	// Perform request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.finish(op, requestID, "transport_error", 0, startTime, err)
		return 0, nil, &TransportError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	// Read response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.finish(op, requestID, "transport_error", resp.StatusCode, startTime, err)
		return 0, nil, &TransportError{Op: op, Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	outcome := "success"
	if !isSuccess(resp.StatusCode) {
		outcome = "service_error"
	}
	c.finish(op, requestID, outcome, resp.StatusCode, startTime, nil)

	return resp.StatusCode, respBody, nil
}

func (c *Client) finish(op, requestID, outcome string, status int, startTime time.Time, err error) {
	elapsed := time.Since(startTime)
	c.metrics.RecordServiceRequest(op, outcome, elapsed.Seconds())

	attrs := []any{
		slog.String("operation", op),
		slog.String("request_id", requestID),
		slog.String("outcome", outcome),
		slog.Int("status_code", status),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.logger.Debug("Processing service request finished", attrs...)
}

// createMultipartBody creates a multipart/form-data body with a single file part
func createMultipartBody(file *InputFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partType := file.ContentType
	if partType == "" {
		partType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": file.Name,
	}))
	header.Set("Content-Type", partType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func newServiceError(op string, status int, body []byte, fallback string) *ServiceError {
	message := fallback

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		message = parsed.Error
	}

	return &ServiceError{Op: op, StatusCode: status, Message: message}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
