package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// KindCatchWebhook — тип webhook-коннектора без внешней подписки.
const KindCatchWebhook = "catch_webhook"

// Умолчания дедупликации.
const (
	defaultDedupTTL     = 24 * time.Hour
	defaultDedupMaxKeys = 1000

	seenPrefix = "seen:"
	seenIndex  = "seen-index"

	// claimAttempts — повторы CAS при конкурентных доставках.
	claimAttempts = 8
)

// CatchWebhook принимает любые запросы на callback URL.
//
// Props:
//
//	events: .                 # jq, события во входящем теле
//	dedup_key: .event_id      # jq, ключ для отбрасывания повторных доставок
//	dedup_ttl: 24h            # сколько помнить ключ
//	dedup_max_keys: 1000      # сколько ключей помнить не более
//	secret: s3cr3t
//
// Подписка у провайдера не создаётся: enable сохраняет синтетическую
// запись, чтобы lifecycle был одинаковым для всех webhook-коннекторов.
type CatchWebhook struct {
	events  *query
	dedup   *query
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
}

// NewCatchWebhook создаёт CatchWebhook из props.
func NewCatchWebhook(props map[string]any, _ Options) (*CatchWebhook, error) {
	events, err := compileQuery(propString(props, propEvents))
	if err != nil {
		return nil, err
	}

	c := &CatchWebhook{
		events:  events,
		ttl:     defaultDedupTTL,
		maxKeys: defaultDedupMaxKeys,
		now:     time.Now,
	}
	if expr := propString(props, propDedupKey); expr != "" {
		if c.dedup, err = compileQuery(expr); err != nil {
			return nil, err
		}
	}
	if v := propString(props, propDedupTTL); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("%w: %s: %s: %q", ErrInvalidProps, KindCatchWebhook, propDedupTTL, v)
		}
		c.ttl = ttl
	}
	if n := propFloat(props, propDedupMax); n != 0 {
		if n < 1 {
			return nil, fmt.Errorf("%w: %s: %s must be positive", ErrInvalidProps, KindCatchWebhook, propDedupMax)
		}
		c.maxKeys = int(n)
	}
	return c, nil
}

// Kind возвращает тип коннектора.
func (c *CatchWebhook) Kind() string { return KindCatchWebhook }

// OnEnable возвращает синтетическую подписку.
func (c *CatchWebhook) OnEnable(_ context.Context, tc domain.TriggerContext) (domain.SubscriptionInfo, error) {
	return domain.SubscriptionInfo{
		ExternalID: "catch-" + uuid.NewString(),
		Metadata:   map[string]any{"callback_url": tc.CallbackURL},
	}, nil
}

// OnDisable ничего не делает.
func (c *CatchWebhook) OnDisable(context.Context, domain.TriggerContext, domain.Subscription) error {
	return nil
}

// Normalize извлекает события. Хранилище не трогает: повторы отбрасывает
// ClaimEvent непосредственно перед запуском run.
func (c *CatchWebhook) Normalize(ctx context.Context, _ domain.TriggerContext, raw domain.RawPayload) ([]domain.Event, error) {
	return extractEvents(ctx, c.events, raw)
}

func noRelease(context.Context) error { return nil }

// ClaimEvent отмечает ключ события в хранилище flow.
//
// Отметка хранит время; истёкшая отметка (старше dedup_ttl) перехватывается
// через CAS, как отсутствующая. Событие без ключа всегда проходит.
func (c *CatchWebhook) ClaimEvent(ctx context.Context, tc domain.TriggerContext, event domain.Event) (bool, func(context.Context) error, error) {
	if c.dedup == nil || tc.Store == nil {
		return true, noRelease, nil
	}
	key, err := c.dedup.first(ctx, event)
	if err != nil {
		return false, nil, err
	}
	if key == nil {
		return true, noRelease, nil
	}

	marker := seenPrefix + fmt.Sprint(key)
	now := c.now()
	stamp := []byte(strconv.FormatInt(now.UnixMilli(), 10))

	claimed, err := c.claim(ctx, tc.Store, marker, stamp, now)
	if err != nil || !claimed {
		return false, nil, err
	}

	release := func(ctx context.Context) error {
		return deleteIfStamp(ctx, tc.Store, marker, stamp)
	}
	if err := c.remember(ctx, tc.Store, marker, now); err != nil {
		_ = release(ctx)
		return false, nil, err
	}
	return true, release, nil
}

func (c *CatchWebhook) claim(ctx context.Context, kv domain.KV, marker string, stamp []byte, now time.Time) (bool, error) {
	for range claimAttempts {
		current, found, err := kv.Get(ctx, marker)
		if err != nil {
			return false, fmt.Errorf("read dedup key: %w", err)
		}
		var old []byte
		if found {
			if !c.expired(current, now) {
				return false, nil
			}
			old = current
		}

		swapped, err := kv.CompareAndSwap(ctx, marker, old, stamp)
		if err != nil {
			return false, fmt.Errorf("write dedup key: %w", err)
		}
		if swapped {
			return true, nil
		}
	}
	// Ключ всё время перехватывают параллельные доставки того же события
	return false, nil
}

func (c *CatchWebhook) expired(stamp []byte, now time.Time) bool {
	ms, err := strconv.ParseInt(string(stamp), 10, 64)
	if err != nil {
		return true
	}
	return now.Sub(time.UnixMilli(ms)) >= c.ttl
}

// seenEntry — запись индекса отметок в порядке появления.
type seenEntry struct {
	Key string `json:"k"`
	At  int64  `json:"at"`
}

// remember добавляет отметку в индекс и удаляет отметки, вышедшие за
// dedup_ttl или за dedup_max_keys. Индекс обновляется через CAS.
func (c *CatchWebhook) remember(ctx context.Context, kv domain.KV, marker string, now time.Time) error {
	for range claimAttempts {
		raw, found, err := kv.Get(ctx, seenIndex)
		if err != nil {
			return fmt.Errorf("read dedup index: %w", err)
		}

		var index []seenEntry
		if found {
			if err := json.Unmarshal(raw, &index); err != nil {
				// Битый индекс начинаем заново; отметки всё равно истекут по времени
				index = nil
			}
		}

		index = append(index, seenEntry{Key: marker, At: now.UnixMilli()})
		cutoff := now.Add(-c.ttl).UnixMilli()
		drop := 0
		for drop < len(index) && (index[drop].At <= cutoff || len(index)-drop > c.maxKeys) {
			drop++
		}
		evicted := slices.Clone(index[:drop])
		index = index[drop:]

		next, err := json.Marshal(index)
		if err != nil {
			return fmt.Errorf("marshal dedup index: %w", err)
		}
		var old []byte
		if found {
			old = raw
		}
		swapped, err := kv.CompareAndSwap(ctx, seenIndex, old, next)
		if err != nil {
			return fmt.Errorf("write dedup index: %w", err)
		}
		if !swapped {
			continue
		}

		for _, e := range evicted {
			stamp := []byte(strconv.FormatInt(e.At, 10))
			if err := deleteIfStamp(ctx, kv, e.Key, stamp); err != nil {
				return fmt.Errorf("evict dedup key: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("update dedup index: %w", ErrDedupConflict)
}

// deleteIfStamp удаляет отметку, только если её не перезаписали позже.
func deleteIfStamp(ctx context.Context, kv domain.KV, marker string, stamp []byte) error {
	current, found, err := kv.Get(ctx, marker)
	if err != nil || !found || !bytes.Equal(current, stamp) {
		return err
	}
	return kv.Delete(ctx, marker)
}
