package utils

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// ConvertToJobDef maps a cadence string from config onto a gocron job
// definition. Three forms are accepted: a Go duration ("3s", "1m30s"),
// a standard five-field cron expression, and a daily clock time ("04:05").
func ConvertToJobDef(interval string) (gocron.JobDefinition, error) {
	if dur, err := time.ParseDuration(interval); err == nil {
		return gocron.DurationJob(dur), nil
	}
	if _, err := cron.ParseStandard(interval); err == nil {
		return gocron.CronJob(interval, false), nil
	}
	if at, err := time.Parse("15:04", interval); err == nil {
		return gocron.DailyJob(1, gocron.NewAtTimes(
			gocron.NewAtTime(uint(at.Hour()), uint(at.Minute()), 0),
		)), nil
	}
	return nil, fmt.Errorf("unrecognized interval %q", interval)
}
