package connectors

import "fmt"

// Ключи props, общие для нескольких коннекторов.
const (
	propURL       = "url"
	propHeaders   = "headers"
	propTimeout   = "timeout_sec"
	propEvents    = "events"
	propSecret    = "secret"
	propTitle     = "title"
	propSchema    = "input_schema"
	propWait      = "wait_for_response"
	propDedupKey  = "dedup_key"
	propDedupTTL  = "dedup_ttl"
	propDedupMax  = "dedup_max_keys"
	propRate      = "rate_per_sec"
	propItems     = "items"
	propTimestamp = "timestamp"
	propUnit      = "timestamp_unit"
	propSince     = "since_param"
	propSubscribe = "subscribe_url"
	propIDPath    = "id_path"
)

// propString извлекает строковое значение из props.
func propString(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// propFloat извлекает числовое значение из props.
// YAML отдаёт int, JSON — float64.
func propFloat(props map[string]any, key string) float64 {
	if v, ok := props[key]; ok {
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case float64:
			return n
		}
	}
	return 0
}

// propBool извлекает булево значение из props.
func propBool(props map[string]any, key string, defaultVal bool) bool {
	if v, ok := props[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// propStringMap извлекает map[string]string из props.
func propStringMap(props map[string]any, key string) map[string]string {
	v, ok := props[key]
	if !ok {
		return nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		result := make(map[string]string, len(m))
		for k, val := range m {
			result[k] = fmt.Sprint(val)
		}
		return result
	}
	return nil
}

// propMap извлекает вложенный объект из props.
func propMap(props map[string]any, key string) map[string]any {
	if v, ok := props[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// requireString возвращает ошибку, если обязательное строковое поле пусто.
func requireString(kind string, props map[string]any, key string) (string, error) {
	s := propString(props, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s: %s is required", ErrInvalidProps, kind, key)
	}
	return s, nil
}
