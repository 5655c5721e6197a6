package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFetchTimeout = 15 * time.Second
	DefaultMaxBodySize  = 10 << 20

	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml;q=0.9, */*;q=0.8"
)

type FetcherConfig struct {
	UserAgent         string
	FallbackUserAgent string // used once, only after an AUTH_ERROR
	Timeout           time.Duration
	MaxBodySize       int64
}

type Fetcher struct {
	httpClient        *http.Client
	userAgent         string
	fallbackUserAgent string
	timeout           time.Duration
	maxBodySize       int64
}

func NewFetcher(httpClient *http.Client, config FetcherConfig) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultFetchTimeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	return &Fetcher{
		httpClient:        httpClient,
		userAgent:         config.UserAgent,
		fallbackUserAgent: config.FallbackUserAgent,
		timeout:           config.Timeout,
		maxBodySize:       config.MaxBodySize,
	}
}

// Fetch retrieves the raw feed document at url. Failures are always *Error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	if strings.TrimSpace(url) == "" {
		return nil, NewError(CategoryValidation, "feed URL is empty", nil)
	}

	result, err := f.fetchWithUserAgent(ctx, url, f.userAgent)
	if err == nil {
		return result, nil
	}

	var fe *Error
	if errors.As(err, &fe) && fe.Category == CategoryAuth && f.fallbackUserAgent != "" {
		slog.Debug("Retrying fetch with fallback user agent", "url", url, "status", fe.StatusCode)

		fallbackResult, fallbackErr := f.fetchWithUserAgent(ctx, url, f.fallbackUserAgent)
		if fallbackErr == nil {
			return fallbackResult, nil
		}
		slog.Debug("Fallback user agent fetch failed", "url", url, "error", fallbackErr)
	}

	return nil, err
}

// Validate performs the same fetch as Fetch but reports the outcome instead of failing.
func (f *Fetcher) Validate(ctx context.Context, url string) ValidationResult {
	result, err := f.Fetch(ctx, url)
	if err != nil {
		fe := AsError(err)
		return ValidationResult{
			Category: fe.Category,
			Message:  fe.Error(),
			Err:      fe,
		}
	}
	return ValidationResult{Valid: true, Result: result}
}

func (f *Fetcher) fetchWithUserAgent(ctx context.Context, url, userAgent string) (*FetchResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewError(CategoryValidation, "invalid feed URL", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTPStatus(resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if int64(len(data)) > f.maxBodySize {
		return nil, NewError(CategoryParse, fmt.Sprintf("response body exceeds %d bytes", f.maxBodySize), nil)
	}

	content, err := decodeBody(data, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, NewError(CategoryParse, "failed to decode response body", err)
	}

	if strings.TrimSpace(content) == "" {
		fe := NewError(CategoryEmptyResponse, "response body is empty", nil)
		fe.StatusCode = resp.StatusCode
		return nil, fe
	}

	headers := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	return &FetchResult{
		Content:    content,
		StatusCode: resp.StatusCode,
		Headers:    headers,
	}, nil
}
