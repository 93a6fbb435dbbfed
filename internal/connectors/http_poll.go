package connectors

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/automata-triggers/internal/domain"
	"golang.org/x/time/rate"
)

// KindHTTPPoll — тип polling-коннектора.
const KindHTTPPoll = "http_poll"

// HTTPPoll опрашивает HTTP endpoint и возвращает элементы с временем.
//
// Props:
//
//	url: https://api.example.com/rows     # обязательно, допускает шаблон
//	                                      # (?since={{ .Since }})
//	items: .data                          # jq, путь к элементам (по умолчанию ".")
//	timestamp: .created_at                # jq, время элемента (обязательно)
//	timestamp_unit: ms                    # ms (по умолчанию) или s для числового времени
//	since_param: updated_after            # передать watermark провайдеру в query
//	rate_per_sec: 2                       # ограничение частоты запросов
//	headers: {Authorization: 'Bearer {{ env "ROWS_TOKEN" }}'}
//	timeout_sec: 10
//
// Время может быть RFC3339-строкой, числом или строкой с числом.
type HTTPPoll struct {
	url        *textTemplate
	items      *query
	timestamp  *query
	seconds    bool
	sinceParam string
	limiter    *rate.Limiter
	http       *httpCaller
}

// NewHTTPPoll создаёт HTTPPoll из props.
func NewHTTPPoll(props map[string]any, opts Options) (*HTTPPoll, error) {
	rawURL, err := requireString(KindHTTPPoll, props, propURL)
	if err != nil {
		return nil, err
	}
	urlTmpl, err := compileTemplate(propURL, rawURL)
	if err != nil {
		return nil, err
	}
	// Проверяем адрес, каким он будет при первом опросе
	firstURL, err := urlTmpl.render(requestData{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: url: %w", ErrInvalidProps, KindHTTPPoll, err)
	}
	if _, err := url.ParseRequestURI(firstURL); err != nil {
		return nil, fmt.Errorf("%w: %s: url: %w", ErrInvalidProps, KindHTTPPoll, err)
	}

	tsExpr, err := requireString(KindHTTPPoll, props, propTimestamp)
	if err != nil {
		return nil, err
	}

	items, err := compileQuery(propString(props, propItems))
	if err != nil {
		return nil, err
	}
	timestamp, err := compileQuery(tsExpr)
	if err != nil {
		return nil, err
	}

	unit := propString(props, propUnit)
	if unit != "" && unit != "ms" && unit != "s" {
		return nil, fmt.Errorf("%w: %s: timestamp_unit must be ms or s", ErrInvalidProps, KindHTTPPoll)
	}

	caller, err := newHTTPCaller(opts.HTTPClient, props)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSec := propFloat(props, propRate); perSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}

	return &HTTPPoll{
		url:        urlTmpl,
		items:      items,
		timestamp:  timestamp,
		seconds:    unit == "s",
		sinceParam: propString(props, propSince),
		limiter:    limiter,
		http:       caller,
	}, nil
}

// Kind возвращает тип коннектора.
func (c *HTTPPoll) Kind() string { return KindHTTPPoll }

// FetchItems выполняет один запрос и извлекает элементы.
func (c *HTTPPoll) FetchItems(ctx context.Context, tc domain.TriggerContext) ([]domain.Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	data := newRequestData(tc)
	target, err := c.requestURL(data)
	if err != nil {
		return nil, err
	}

	body, err := c.http.do(ctx, http.MethodGet, target, nil, data)
	if err != nil {
		return nil, err
	}

	results, err := c.items.all(ctx, body)
	if err != nil {
		return nil, err
	}
	raw := flatten(results)

	items := make([]domain.Item, 0, len(raw))
	for i, payload := range raw {
		ts, err := c.timestamp.first(ctx, payload)
		if err != nil {
			return nil, err
		}
		epoch, err := c.epochMillis(ts)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, domain.Item{EpochMillis: epoch, Payload: payload})
	}
	return items, nil
}

// requestURL рендерит url и добавляет watermark в query, если задан
// since_param. При первом опросе параметр не передаётся.
func (c *HTTPPoll) requestURL(data requestData) (string, error) {
	rendered, err := c.url.render(data)
	if err != nil {
		return "", err
	}
	if c.sinceParam == "" || data.Watermark == 0 {
		return rendered, nil
	}
	u, err := url.Parse(rendered)
	if err != nil {
		return "", fmt.Errorf("%w: url: %w", ErrTemplate, err)
	}
	q := u.Query()
	q.Set(c.sinceParam, strconv.FormatInt(data.Watermark, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// epochMillis приводит значение времени к миллисекундам.
func (c *HTTPPoll) epochMillis(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return c.fromNumber(t)
	case int:
		return c.fromNumber(float64(t))
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli(), nil
		}
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return c.fromNumber(n)
		}
		return 0, fmt.Errorf("%w: %q", ErrTimestamp, t)
	case nil:
		return 0, ErrTimestamp
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrTimestamp, v)
	}
}

// fromNumber переводит число в миллисекунды. Значения вне int64
// отклоняются: преобразование такого float в int64 не определено.
func (c *HTTPPoll) fromNumber(n float64) (int64, error) {
	if c.seconds {
		n *= 1000
	}
	n = math.Round(n)
	if math.IsNaN(n) || n < math.MinInt64 || n >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %g out of range", ErrTimestamp, n)
	}
	return int64(n), nil
}
