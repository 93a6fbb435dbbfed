package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// Типы коннекторов синхронной отправки.
const (
	KindForm = "form"
	KindChat = "chat"
)

// chatSchema — схема входа чата, если в props своя не задана.
var chatSchema = map[string]any{
	"type":     "object",
	"required": []any{"message"},
	"properties": map[string]any{
		"message":    map[string]any{"type": "string", "minLength": 1},
		"session_id": map[string]any{"type": "string"},
	},
}

// Submit — коннектор формы или чата.
//
// Props:
//
//	title: Contact us
//	wait_for_response: true       # по умолчанию true
//	input_schema:                 # JSON Schema входных полей
//	  type: object
//	  required: [email]
//	  properties:
//	    email: {type: string}
//
// Тело принимается как JSON или как application/x-www-form-urlencoded.
// Перед запуском run payload проверяется схемой.
type Submit struct {
	kind     string
	title    string
	wait     bool
	schema   map[string]any
	compiled *jsonschema.Schema
	branding map[string]any
}

// NewForm создаёт коннектор формы.
func NewForm(props map[string]any, _ Options) (*Submit, error) {
	return newSubmit(KindForm, props, nil)
}

// NewChat создаёт коннектор чата. В описание добавляется брендинг платформы.
func NewChat(props map[string]any, opts Options) (*Submit, error) {
	branding := map[string]any{"name": opts.PlatformName}
	if opts.PlatformLogoURL != "" {
		branding["logo_url"] = opts.PlatformLogoURL
	}
	return newSubmit(KindChat, props, branding)
}

func newSubmit(kind string, props map[string]any, branding map[string]any) (*Submit, error) {
	schema := propMap(props, propSchema)
	if schema == nil && kind == KindChat {
		schema = chatSchema
	}

	s := &Submit{
		kind:     kind,
		title:    propString(props, propTitle),
		wait:     propBool(props, propWait, true),
		schema:   schema,
		branding: branding,
	}

	if schema != nil {
		compiled, err := compileSchema(kind, schema)
		if err != nil {
			return nil, err
		}
		s.compiled = compiled
	}
	return s, nil
}

// Kind возвращает тип коннектора.
func (s *Submit) Kind() string { return s.kind }

// Describe возвращает описание для отрисовки.
func (s *Submit) Describe(domain.TriggerContext) domain.SubmitDescriptor {
	desc := domain.SubmitDescriptor{
		Kind:            s.kind,
		Title:           s.title,
		InputSchema:     maps.Clone(s.schema),
		WaitForResponse: s.wait,
	}
	if s.branding != nil {
		desc.Branding = maps.Clone(s.branding)
	}
	return desc
}

// Normalize разбирает тело и проверяет его схемой.
// Возвращает ровно одно событие.
func (s *Submit) Normalize(_ context.Context, _ domain.TriggerContext, raw domain.RawPayload) ([]domain.Event, error) {
	payload, err := parseSubmission(raw)
	if err != nil {
		return nil, err
	}

	if s.compiled != nil {
		// Валидатор ожидает числа в виде json.Number
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if err := s.compiled.Validate(inst); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return []domain.Event{payload}, nil
}

// parseSubmission разбирает JSON или url-encoded тело.
func parseSubmission(raw domain.RawPayload) (map[string]any, error) {
	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return map[string]any{}, nil
	}

	if isFormEncoded(raw.Headers) {
		values, err := url.ParseQuery(string(raw.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		out := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				out[k] = v[0]
			} else {
				out[k] = v
			}
		}
		return out, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %w", ErrInvalidPayload, err)
	}
	return out, nil
}

func isFormEncoded(headers map[string][]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") && len(v) > 0 {
			return strings.HasPrefix(v[0], "application/x-www-form-urlencoded")
		}
	}
	return false
}

// compileSchema компилирует схему из props.
func compileSchema(kind string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: input_schema: %w", ErrInvalidProps, kind, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: input_schema: %w", ErrInvalidProps, kind, err)
	}

	const location = "mem://input_schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: input_schema: %w", ErrInvalidProps, kind, err)
	}
	compiled, err := c.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: input_schema: %w", ErrInvalidProps, kind, err)
	}
	return compiled, nil
}
