package connectors

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/shaiso/automata-triggers/internal/domain"
)

// Options — общие зависимости для фабрик коннекторов.
type Options struct {
	// HTTPClient — клиент для обращений к провайдерам.
	// Если nil, каждый коннектор создаёт свой с таймаутом из props.
	HTTPClient *http.Client

	// PlatformName и PlatformLogoURL — брендинг чата.
	PlatformName    string
	PlatformLogoURL string
}

// Factory создаёт коннектор из props определения.
type Factory func(props map[string]any, opts Options) (domain.Connector, error)

// Catalog — таблица фабрик коннекторов по типу.
// Потокобезопасен.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      Options
}

// NewCatalog создаёт пустой Catalog.
func NewCatalog(opts Options) *Catalog {
	return &Catalog{factories: make(map[string]Factory), opts: opts}
}

// DefaultCatalog создаёт Catalog со всеми встроенными коннекторами.
func DefaultCatalog(opts Options) *Catalog {
	c := NewCatalog(opts)

	c.Register(KindHTTPPoll, func(p map[string]any, o Options) (domain.Connector, error) { return NewHTTPPoll(p, o) })
	c.Register(KindHTTPWebhook, func(p map[string]any, o Options) (domain.Connector, error) { return NewHTTPWebhook(p, o) })
	c.Register(KindCatchWebhook, func(p map[string]any, o Options) (domain.Connector, error) { return NewCatchWebhook(p, o) })
	c.Register(KindForm, func(p map[string]any, o Options) (domain.Connector, error) { return NewForm(p, o) })
	c.Register(KindChat, func(p map[string]any, o Options) (domain.Connector, error) { return NewChat(p, o) })

	return c
}

// Register добавляет фабрику. Существующая фабрика того же типа перезаписывается.
func (c *Catalog) Register(kind string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = f
}

// Build создаёт коннектор заданного типа.
func (c *Catalog) Build(kind string, props map[string]any) (domain.Connector, error) {
	c.mu.RLock()
	f, ok := c.factories[kind]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, kind)
	}
	return f(props, c.opts)
}

// Kinds возвращает отсортированный список типов.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.factories))
	for k := range c.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
