package connectors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/shaiso/automata-triggers/internal/domain"
)

// requestData — данные, доступные в шаблонах url и headers:
//
//	{{ .Since }}            watermark в RFC3339, пусто до первого элемента
//	{{ .Watermark }}        watermark в миллисекундах
//	{{ .FlowID }} {{ .Trigger }} {{ .CallbackURL }}
//	{{ env "API_TOKEN" }}   переменная окружения процесса
type requestData struct {
	FlowID      string
	Trigger     string
	Watermark   int64
	Since       string
	CallbackURL string
}

func newRequestData(tc domain.TriggerContext) requestData {
	d := requestData{
		FlowID:      tc.FlowID.String(),
		Trigger:     tc.TriggerName,
		Watermark:   tc.LastFetchEpochMillis,
		CallbackURL: tc.CallbackURL,
	}
	if tc.LastFetchEpochMillis > 0 {
		d.Since = time.UnixMilli(tc.LastFetchEpochMillis).UTC().Format(time.RFC3339Nano)
	}
	return d
}

var templateFuncs = template.FuncMap{
	"env": os.Getenv,

	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// unix — миллисекунды в секунды
	"unix": func(ms int64) int64 { return ms / 1000 },

	"lower":   strings.ToLower,
	"upper":   strings.ToUpper,
	"trim":    strings.TrimSpace,
	"replace": strings.ReplaceAll,
}

// textTemplate — строка props, которая может содержать Go template.
// Строка без "{{" возвращается как есть.
type textTemplate struct {
	raw  string
	tmpl *template.Template
}

// compileTemplate разбирает шаблон один раз при создании коннектора.
func compileTemplate(name, s string) (*textTemplate, error) {
	t := &textTemplate{raw: s}
	if !strings.Contains(s, "{{") {
		return t, nil
	}

	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProps, name, err)
	}
	t.tmpl = tmpl
	return t, nil
}

// render подставляет данные запроса.
func (t *textTemplate) render(data requestData) (string, error) {
	if t.tmpl == nil {
		return t.raw, nil
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTemplate, t.tmpl.Name(), err)
	}
	return buf.String(), nil
}
