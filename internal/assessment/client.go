package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rehabstage/internal/domain"
)

const (
	defaultBaseURL   = "https://api.mystrokeapi.uk"
	defaultFieldName = "value"
	userAgent        = "rehabstage/1.0"
)

// TokenSource returns the bearer token for outbound calls. An empty token
// sends the request unauthenticated.
type TokenSource func() string

// Config controls the assessment API client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Token   TokenSource
}

// Client talks to the remote session and assessment endpoints. Every call
// is a single attempt; retry policy belongs to the caller.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Submit uploads one captured attempt to /game/session/forward.
func (c *Client) Submit(ctx context.Context, req domain.SubmissionRequest) (domain.Verdict, error) {
	body, contentType, err := buildSubmissionBody(req)
	if err != nil {
		return domain.Verdict{}, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/game/session/forward", body)
	if err != nil {
		return domain.Verdict{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	var verdict domain.Verdict
	if err := c.do(httpReq, &verdict); err != nil {
		return domain.Verdict{}, err
	}
	return verdict, nil
}

// StartSession bootstraps a session for a level.
func (c *Client) StartSession(ctx context.Context, levelID string, isCustom bool) (domain.SessionStart, error) {
	payload, err := json.Marshal(map[string]any{"levelId": levelID, "isCustom": isCustom})
	if err != nil {
		return domain.SessionStart{}, fmt.Errorf("failed to encode session start request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/game/session/start", bytes.NewReader(payload))
	if err != nil {
		return domain.SessionStart{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var start domain.SessionStart
	if err := c.do(httpReq, &start); err != nil {
		return domain.SessionStart{}, err
	}
	if strings.TrimSpace(start.SessionID) == "" {
		return domain.SessionStart{}, &domain.ResponseDecodeError{Message: "session start response has no sessionId", StatusCode: http.StatusOK}
	}
	return start, nil
}

// EndSession closes a session on the server.
func (c *Client) EndSession(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	payload, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("failed to encode session end request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/game/session/end", bytes.NewReader(payload))
	if err != nil {
		return domain.SessionSummary{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var summary domain.SessionSummary
	if err := c.do(httpReq, &summary); err != nil {
		return domain.SessionSummary{}, err
	}
	return summary, nil
}

// ListLevels returns the first page of levels for a game type.
func (c *Client) ListLevels(ctx context.Context, gameType string) ([]domain.Level, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("limit", "15")
	query.Set("type", gameType)

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/game/main-levels?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Levels []domain.Level `json:"levels"`
	}
	if err := c.do(httpReq, &response); err != nil {
		return nil, err
	}
	return response.Levels, nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if c.cfg.Token != nil {
		if token := strings.TrimSpace(c.cfg.Token()); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

// do performs the request and decodes a JSON body into out, mapping
// failures onto TransportError and ResponseDecodeError.
func (c *Client) do(httpReq *http.Request, out any) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &domain.TransportError{Message: transportMessage(err), StatusCode: 0, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Message: fmt.Sprintf("failed to read response body: %v", err), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.TransportError{Message: statusMessage(resp.StatusCode, respBody), StatusCode: resp.StatusCode}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &domain.ResponseDecodeError{Message: fmt.Sprintf("failed to parse response JSON: %v", err), StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func transportMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}

func statusMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256]
	}
	if text == "" {
		return http.StatusText(status)
	}
	return text
}

// buildSubmissionBody creates the multipart/form-data forward request.
func buildSubmissionBody(req domain.SubmissionRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"sessionId", req.SessionID},
		{"stageNumber", strconv.Itoa(req.StageNumber)},
		{"threshold", strconv.FormatFloat(req.Threshold, 'f', -1, 64)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}
	for key, value := range req.ExtraFields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	fieldName := req.FieldName
	if fieldName == "" {
		fieldName = defaultFieldName
	}
	kind := req.MediaKind
	if kind == "" {
		kind = domain.MediaAudio
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s.%s"`, fieldName, uuid.NewString(), kind.Extension()))
	header.Set("Content-Type", kind.ContentType())
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create media part: %w", err)
	}
	if _, err := part.Write(req.Media); err != nil {
		return nil, "", fmt.Errorf("failed to write media: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
