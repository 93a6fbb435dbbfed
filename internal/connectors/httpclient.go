package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// HTTPError — ответ провайдера с кодом вне 2xx.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// httpCaller выполняет JSON-запросы к провайдеру.
type httpCaller struct {
	client  *http.Client
	headers map[string]*textTemplate
}

// newHTTPCaller создаёт httpCaller. Таймаут берётся из props.timeout_sec,
// если переданный client — общий клиент по умолчанию.
func newHTTPCaller(client *http.Client, props map[string]any) (*httpCaller, error) {
	if client == nil {
		timeout := defaultHTTPTimeout
		if sec := propFloat(props, propTimeout); sec > 0 {
			timeout = time.Duration(sec * float64(time.Second))
		}
		client = &http.Client{Timeout: timeout}
	}

	headers := make(map[string]*textTemplate)
	for key, value := range propStringMap(props, propHeaders) {
		tmpl, err := compileTemplate("headers."+key, value)
		if err != nil {
			return nil, err
		}
		headers[key] = tmpl
	}
	return &httpCaller{client: client, headers: headers}, nil
}

// do выполняет запрос и возвращает разобранное тело ответа.
// Ответ вне 2xx возвращается как *HTTPError.
func (c *httpCaller) do(ctx context.Context, method, url string, body any, data requestData) (any, error) {
	req, err := c.buildRequest(ctx, method, url, body, data)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var parsed any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") || json.Valid(raw) {
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed, nil
		}
	}
	return string(raw), nil
}

func (c *httpCaller) buildRequest(ctx context.Context, method, url string, body any, data requestData) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, tmpl := range c.headers {
		value, err := tmpl.render(data)
		if err != nil {
			return nil, err
		}
		req.Header.Set(key, value)
	}
	return req, nil
}
