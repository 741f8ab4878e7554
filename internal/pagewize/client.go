package pagewize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	HeaderAPIKey = "X-Apikey"
	UserAgent    = "Pagewize Connect alpha"

	maxResponseBytes = 4 << 20
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrServer          = errors.New("pagewize api server error")
)

type Config struct {
	APIKey   string
	Host     string
	Protocol string
	Debug    bool
	Timeout  time.Duration
	Logger   *log.Logger
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	debug      bool
	logger     *log.Logger
	validate   *validator.Validate
}

// Response is the envelope every content API endpoint answers with.
type Response struct {
	StatusCode int             `json:"-"`
	Result     bool            `json:"result"`
	Code       int             `json:"code"`
	Message    json.RawMessage `json:"message"`
}

// Variables decodes Message as the template variables of a content item.
func (r Response) Variables() (map[string]any, error) {
	vars := map[string]any{}
	if len(r.Message) == 0 || string(r.Message) == "null" {
		return vars, nil
	}
	if err := json.Unmarshal(r.Message, &vars); err != nil {
		return nil, fmt.Errorf("decode message variables: %w", err)
	}
	return vars, nil
}

type Comment struct {
	Name          string `json:"name" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Comment       string `json:"comment" validate:"required"`
	PostID        *int64 `json:"postId,omitempty"`
	ParentComment *int64 `json:"parentComment,omitempty"`
}

type slugRequest struct {
	Slug     string `json:"slug" validate:"required"`
	Language string `json:"language,omitempty" validate:"omitempty,max=2"`
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidArgument)
	}

	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol == "" {
		protocol = "https"
	}
	if protocol != "http" && protocol != "https" {
		return nil, fmt.Errorf("%w: %s is not a valid protocol, please use http/https", ErrInvalidArgument, cfg.Protocol)
	}

	host := strings.Trim(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = "api.pagewize.com"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiKey:   cfg.APIKey,
		baseURL:  protocol + "://" + host,
		debug:    cfg.Debug,
		logger:   logger,
		validate: validator.New(),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchContent looks up the page, post or post category published at slug.
// language is an optional two letter ISO code.
func (c *Client) FetchContent(ctx context.Context, slug, language string) (Response, error) {
	if slug == "" {
		slug = "/"
	}
	body := slugRequest{Slug: slug, Language: language}
	if err := c.validate.Struct(body); err != nil {
		return Response{}, fmt.Errorf("%w: %s is not a valid ISO language value", ErrInvalidArgument, language)
	}
	return c.do(ctx, c.baseURL+"/slugs", body)
}

// AddComment places a comment under a post; set ParentComment to reply to
// an existing comment.
func (c *Client) AddComment(ctx context.Context, comment Comment) (Response, error) {
	if err := c.validate.Struct(comment); err != nil {
		return Response{}, fmt.Errorf("%w: %s", ErrInvalidArgument, describeValidation(err))
	}
	return c.do(ctx, c.baseURL+"/comments", comment)
}

func (c *Client) do(ctx context.Context, endpoint string, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request body: %w", err)
	}
	if c.debug {
		c.logger.Printf("pagewize request url=%s body=%s", endpoint, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("pagewize request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if c.debug {
		c.logger.Printf("pagewize response url=%s status=%d body=%s", endpoint, resp.StatusCode, raw)
	}

	if resp.StatusCode >= 500 {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("%w: status=%d", ErrServer, resp.StatusCode)
	}

	out := Response{StatusCode: resp.StatusCode}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return Response{StatusCode: resp.StatusCode}, fmt.Errorf("decode response status=%d: %w", resp.StatusCode, err)
		}
	}
	if out.Code == 0 {
		out.Code = resp.StatusCode
	}
	return out, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			fields = append(fields, strings.ToLower(e.Field())+" is required")
		case "email":
			fields = append(fields, strings.ToLower(e.Field())+" is not a valid address")
		default:
			fields = append(fields, strings.ToLower(e.Field())+" is invalid")
		}
	}
	return strings.Join(fields, ", ")
}
