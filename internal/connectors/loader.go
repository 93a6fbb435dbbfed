package connectors

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// File — содержимое файла определений триггеров.
//
//	triggers:
//	  - flow_id: 6f1c...
//	    name: new_rows
//	    mode: POLLING
//	    connector: http_poll
//	    enabled: true
//	    schedule: {interval_sec: 30}
//	    props: {url: https://api.example.com/rows, items: .data, timestamp: .created_at}
//	    sample: {id: 1}
type File struct {
	Triggers []Entry `yaml:"triggers"`
}

// Entry — одно определение в файле.
type Entry struct {
	FlowID    string              `yaml:"flow_id"`
	Name      string              `yaml:"name"`
	Mode      string              `yaml:"mode"`
	Connector string              `yaml:"connector"`
	Enabled   bool                `yaml:"enabled"`
	Schedule  domain.PollSchedule `yaml:"schedule"`
	Props     map[string]any      `yaml:"props"`
	Sample    any                 `yaml:"sample"`
}

// Loaded — определение триггера вместе с желаемым состоянием.
type Loaded struct {
	Definition domain.Definition

	// Enabled — включить триггер при старте.
	Enabled bool
}

// LoadFile читает определения из файла.
func (c *Catalog) LoadFile(path string) ([]Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open triggers file: %w", err)
	}
	defer f.Close()
	return c.Load(f)
}

// Load читает определения из YAML. Ошибки всех записей собираются вместе,
// чтобы за один запуск было видно все проблемы файла.
func (c *Catalog) Load(r io.Reader) ([]Loaded, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, err)
	}

	var (
		out  = make([]Loaded, 0, len(file.Triggers))
		errs []error
	)
	for i, entry := range file.Triggers {
		def, err := c.definition(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("triggers[%d] %s: %w", i, entry.Name, err))
			continue
		}
		out = append(out, Loaded{Definition: def, Enabled: entry.Enabled})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinitions, errors.Join(errs...))
	}
	return out, nil
}

func (c *Catalog) definition(e Entry) (domain.Definition, error) {
	flowID, err := uuid.Parse(e.FlowID)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("flow_id: %w", err)
	}
	mode, err := domain.ParseMode(e.Mode)
	if err != nil {
		return domain.Definition{}, err
	}

	if mode == domain.ModePolling {
		if err := scheduler.ValidateSchedule(e.Schedule); err != nil {
			return domain.Definition{}, err
		}
	}

	conn, err := c.Build(e.Connector, e.Props)
	if err != nil {
		return domain.Definition{}, err
	}

	return domain.Definition{
		Name:       e.Name,
		FlowID:     flowID,
		Mode:       mode,
		Connector:  conn,
		Props:      e.Props,
		Schedule:   e.Schedule,
		SampleData: e.Sample,
	}, nil
}
