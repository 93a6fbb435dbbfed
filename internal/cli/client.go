package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TriggerResponse — триггер из API.
type TriggerResponse struct {
	FlowID      string `json:"flow_id"`
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Connector   string `json:"connector"`
	Enabled     bool   `json:"enabled"`
	CallbackURL string `json:"callback_url,omitempty"`
	Schedule    struct {
		Cron        string `json:"cron,omitempty"`
		IntervalSec int    `json:"interval_sec,omitempty"`
		Timezone    string `json:"timezone,omitempty"`
	} `json:"schedule"`
}

// EnableResponse — результат enable.
type EnableResponse struct {
	FlowID       string         `json:"flow_id"`
	Name         string         `json:"name"`
	Mode         string         `json:"mode"`
	Enabled      bool           `json:"enabled"`
	Subscription map[string]any `json:"subscription,omitempty"`
	Watermark    *int64         `json:"watermark,omitempty"`
}

// TestResponse — результат test.
type TestResponse struct {
	Samples []any `json:"samples"`
}

// ResolutionResponse — результат respond / complete.
type ResolutionResponse struct {
	RunID     string         `json:"run_id"`
	Accepted  bool           `json:"accepted"`
	Responded bool           `json:"responded"`
	Response  map[string]any `json:"response,omitempty"`
	At        string         `json:"at"`
}

// CorrelationResponse — аудит корреляции run.
type CorrelationResponse struct {
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	CreatedAt  string         `json:"created_at"`
	Deadline   string         `json:"deadline"`
	ResolvedAt string         `json:"resolved_at,omitempty"`
	Response   map[string]any `json:"response,omitempty"`
}

// SubmitResult — ответ на отправку формы/чата.
//
// Тело не обёрнуто в {"data"}: это либо ответ run,
// либо {"status","run_id"}, если ответа не было.
type SubmitResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// RespondRequest — ответ run.
type RespondRequest struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для API сервиса триггеров.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
//
// Таймаут клиента больше максимального ожидания формы,
// чтобы submit дожидался ответа сервера.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 11 * time.Minute,
		},
	}
}

// --- Triggers ---

// ListTriggers возвращает все триггеры.
func (c *Client) ListTriggers() ([]TriggerResponse, error) {
	var triggers []TriggerResponse
	err := c.list("/api/v1/triggers", nil, &triggers)
	return triggers, err
}

// EnableTrigger включает триггер.
func (c *Client) EnableTrigger(flowID, name string) (*EnableResponse, error) {
	var resp EnableResponse
	err := c.post(triggerPath(flowID, name, "enable"), nil, &resp)
	return &resp, err
}

// DisableTrigger выключает триггер.
func (c *Client) DisableTrigger(flowID, name string) error {
	return c.post(triggerPath(flowID, name, "disable"), nil, nil)
}

// TestTrigger возвращает пример payload.
func (c *Client) TestTrigger(flowID, name string) (*TestResponse, error) {
	var resp TestResponse
	err := c.post(triggerPath(flowID, name, "test"), nil, &resp)
	return &resp, err
}

func triggerPath(flowID, name, action string) string {
	return "/api/v1/flows/" + url.PathEscape(flowID) + "/triggers/" + url.PathEscape(name) + "/" + action
}

// --- Submissions ---

// Describe возвращает описание формы или чата.
func (c *Client) Describe(kind, flowID string) (map[string]any, error) {
	var desc map[string]any
	err := c.get("/"+kind+"/"+url.PathEscape(flowID), &desc)
	return desc, err
}

// Submit отправляет форму или сообщение чата и ждёт ответа.
// timeout <= 0 означает таймаут сервера.
func (c *Client) Submit(kind, flowID string, payload json.RawMessage, timeout time.Duration) (*SubmitResult, error) {
	path := "/" + kind + "/" + url.PathEscape(flowID)
	if timeout > 0 {
		path += "?timeout=" + strconv.Itoa(int(timeout.Seconds()))
	}

	resp, err := c.do(http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &SubmitResult{StatusCode: resp.StatusCode}
	if json.Valid(body) {
		result.Body = body
	} else if len(body) > 0 {
		quoted, _ := json.Marshal(string(body))
		result.Body = quoted
	}
	return result, nil
}

// --- Runs ---

// Respond отправляет ответ run.
func (c *Client) Respond(runID string, req RespondRequest) (*ResolutionResponse, error) {
	var resp ResolutionResponse
	err := c.post("/api/v1/runs/"+url.PathEscape(runID)+"/respond", req, &resp)
	return &resp, err
}

// Complete сообщает о завершении run.
func (c *Client) Complete(runID string) (*ResolutionResponse, error) {
	var resp ResolutionResponse
	err := c.post("/api/v1/runs/"+url.PathEscape(runID)+"/complete", nil, &resp)
	return &resp, err
}

// Correlation возвращает аудит корреляции run.
func (c *Client) Correlation(runID string) (*CorrelationResponse, error) {
	var resp CorrelationResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(runID)+"/correlation", &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		if b != nil {
			bodyReader = bytes.NewReader(b)
		}
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
