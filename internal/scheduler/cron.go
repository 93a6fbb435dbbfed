package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CalculateNextDue вычисляет следующее время опроса после from.
// Для интервалов просто добавляет интервал; cron учитывает timezone расписания.
func CalculateNextDue(sched domain.PollSchedule, from time.Time) (time.Time, error) {
	if !sched.IsCron() {
		return from.Add(sched.Interval()).UTC(), nil
	}

	loc, err := loadLocation(sched.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	schedule, err := cronParser.Parse(sched.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.Cron, err)
	}
	return schedule.Next(from.In(loc)).UTC(), nil
}

// ValidateSchedule проверяет расписание polling-триггера.
func ValidateSchedule(sched domain.PollSchedule) error {
	if sched.IntervalSec < 0 {
		return fmt.Errorf("invalid interval_sec %d", sched.IntervalSec)
	}
	if _, err := loadLocation(sched.Timezone); err != nil {
		return err
	}
	if sched.IsCron() {
		if _, err := cronParser.Parse(sched.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
		}
	}
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
