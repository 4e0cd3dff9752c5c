package api

//go:generate mockgen -destination=mock/client.go . IClient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/publicsuffix"

	"github.com/Syncre-App/Mobile-sub001/auth"
)

const (
	DefaultPageSize = 20

	maxResponseSize = 8 << 20
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
)

// StatusError is a non-2xx response, or a body with `success: false`.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Message)
}

// IClient is the REST surface consumed by the engine.
type IClient interface {
	FetchMessages(ctx context.Context, req *FetchRequest) (*Page, error)
	MarkSeen(ctx context.Context, chatID string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
}

type Client struct {
	base   *url.URL
	tokens auth.TokenSource
	hc     *http.Client
}

func NewClient(baseURL string, tokens auth.TokenSource, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Client{
		base:   base,
		tokens: tokens,
		hc:     &http.Client{Jar: jar, Timeout: timeout},
	}, nil
}

// BaseURL is used to resolve relative attachment urls.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) FetchMessages(ctx context.Context, req *FetchRequest) (*Page, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if req.Before != "" {
		q.Set("before", req.Before)
	}
	if req.DeviceID != "" {
		q.Set("deviceId", req.DeviceID)
	}

	var page Page
	path := "chat/" + url.PathEscape(req.ChatID) + "/messages?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MarkSeen is idempotent: a conversation that is already read is not an error.
func (c *Client) MarkSeen(ctx context.Context, chatID string) error {
	err := c.do(ctx, http.MethodPost, "chat/"+url.PathEscape(chatID)+"/seen", nil)
	var se *StatusError
	if errors.As(err, &se) && alreadyRead(se.Message) {
		glog.V(5).Infof("MarkSeen(): chat %s already read", chatID)
		return nil
	}
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	path := "chat/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s %s: decode body: %w", method, path, err)
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 || (len(body) > 0 && !env.Success) {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

func alreadyRead(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already read") || strings.Contains(msg, "already seen")
}
