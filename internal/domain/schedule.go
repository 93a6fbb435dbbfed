package domain

import "time"

// DefaultPollInterval — интервал опроса, если расписание не задано.
const DefaultPollInterval = 60 * time.Second

// PollSchedule — расписание опроса polling-триггера.
//
// Расписание задаётся:
// - cron-выражением: "*/5 * * * *" (каждые 5 минут)
// - интервалом: каждые N секунд
//
// Если задан Cron, IntervalSec игнорируется.
// Пустое расписание означает DefaultPollInterval.
type PollSchedule struct {
	// Cron — cron-выражение "минуты часы дни месяцы дни_недели".
	Cron string `json:"cron,omitempty" yaml:"cron,omitempty"`

	// IntervalSec — интервал в секундах между опросами.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s PollSchedule) IsCron() bool {
	return s.Cron != ""
}

// Interval возвращает интервал опроса для расписания без cron.
func (s PollSchedule) Interval() time.Duration {
	if s.IntervalSec <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(s.IntervalSec) * time.Second
}
