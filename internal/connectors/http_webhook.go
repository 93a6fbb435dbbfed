package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shaiso/automata-triggers/internal/domain"
)

// KindHTTPWebhook — тип webhook-коннектора с внешней подпиской.
const KindHTTPWebhook = "http_webhook"

// HTTPWebhook регистрирует callback URL у провайдера через REST API.
//
// Props:
//
//	subscribe_url: https://api.example.com/hooks  # обязательно
//	id_path: .id                                  # jq, id подписки в ответе
//	events: .events[]                             # jq, события во входящем теле
//	headers: {Authorization: 'Bearer {{ env "HOOKS_TOKEN" }}'}
//	secret: s3cr3t                                # проверка X-Automata-Signature
//
// Enable отправляет POST {callback_url} на subscribe_url. Disable отправляет
// DELETE на subscribe_url/{id}; 404 считается успехом.
type HTTPWebhook struct {
	subscribeURL string
	idPath       *query
	events       *query
	http         *httpCaller
}

// NewHTTPWebhook создаёт HTTPWebhook из props.
func NewHTTPWebhook(props map[string]any, opts Options) (*HTTPWebhook, error) {
	subscribeURL, err := requireString(KindHTTPWebhook, props, propSubscribe)
	if err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(subscribeURL); err != nil {
		return nil, fmt.Errorf("%w: %s: subscribe_url: %w", ErrInvalidProps, KindHTTPWebhook, err)
	}

	idPath := propString(props, propIDPath)
	if idPath == "" {
		idPath = ".id"
	}
	ids, err := compileQuery(idPath)
	if err != nil {
		return nil, err
	}
	events, err := compileQuery(propString(props, propEvents))
	if err != nil {
		return nil, err
	}

	caller, err := newHTTPCaller(opts.HTTPClient, props)
	if err != nil {
		return nil, err
	}

	return &HTTPWebhook{
		subscribeURL: strings.TrimSuffix(subscribeURL, "/"),
		idPath:       ids,
		events:       events,
		http:         caller,
	}, nil
}

// Kind возвращает тип коннектора.
func (c *HTTPWebhook) Kind() string { return KindHTTPWebhook }

// OnEnable создаёт подписку у провайдера.
func (c *HTTPWebhook) OnEnable(ctx context.Context, tc domain.TriggerContext) (domain.SubscriptionInfo, error) {
	body, err := c.http.do(ctx, http.MethodPost, c.subscribeURL, map[string]any{
		"callback_url": tc.CallbackURL,
	}, newRequestData(tc))
	if err != nil {
		return domain.SubscriptionInfo{}, err
	}

	id, err := c.idPath.first(ctx, body)
	if err != nil {
		return domain.SubscriptionInfo{}, err
	}
	if id == nil {
		return domain.SubscriptionInfo{}, fmt.Errorf("%w: subscription id not found in response", ErrInvalidPayload)
	}

	return domain.SubscriptionInfo{
		ExternalID: fmt.Sprint(id),
		Metadata:   map[string]any{"subscribe_url": c.subscribeURL},
	}, nil
}

// OnDisable удаляет подписку у провайдера.
func (c *HTTPWebhook) OnDisable(ctx context.Context, tc domain.TriggerContext, sub domain.Subscription) error {
	_, err := c.http.do(ctx, http.MethodDelete, c.subscribeURL+"/"+url.PathEscape(sub.ExternalID), nil, newRequestData(tc))

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Normalize извлекает события из тела запроса.
func (c *HTTPWebhook) Normalize(ctx context.Context, _ domain.TriggerContext, raw domain.RawPayload) ([]domain.Event, error) {
	return extractEvents(ctx, c.events, raw)
}

// extractEvents разбирает JSON-тело и применяет jq-выражение событий.
func extractEvents(ctx context.Context, events *query, raw domain.RawPayload) ([]domain.Event, error) {
	body, err := decodeJSON(raw.Body)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []domain.Event{}, nil
	}

	results, err := events.all(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	out := make([]domain.Event, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
