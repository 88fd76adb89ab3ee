// Package nextrun computes a Schedule's next due time for each of the
// four schedule kinds.
package nextrun

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WeekdayConfig is the {days:[0..6, Monday=0], time:"HH:MM"} shape stored
// in Schedule.WeekdayConfigJSON.
type WeekdayConfig struct {
	Days []int  `json:"days"`
	Time string `json:"time"`
}

// Cron returns the first fire time strictly after `after`, evaluated in
// the named IANA timezone and returned in UTC.
func Cron(expression, timezone string, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("nextrun: load timezone %q: %w", timezone, err)
	}
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("nextrun: parse cron expression %q: %w", expression, err)
	}
	local := after.In(loc)
	next := schedule.Next(local)
	return next.UTC(), nil
}

// Interval returns after + durationSeconds.
func Interval(intervalSeconds int64, after time.Time) time.Time {
	return after.Add(time.Duration(intervalSeconds) * time.Second).UTC()
}

// Weekday returns the next (day, time) strictly after `after` in the given
// timezone, walking forward at most 8 days (covers "today later" plus a
// full week fallback).
func Weekday(configJSON, timezone string, after time.Time) (time.Time, error) {
	var cfg WeekdayConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return time.Time{}, fmt.Errorf("nextrun: parse weekday config: %w", err)
	}
	if len(cfg.Days) == 0 {
		return time.Time{}, fmt.Errorf("nextrun: weekday config has no days")
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("nextrun: load timezone %q: %w", timezone, err)
	}
	hour, minute, err := parseHHMM(cfg.Time)
	if err != nil {
		return time.Time{}, err
	}

	days := make(map[int]bool, len(cfg.Days))
	for _, d := range cfg.Days {
		days[d%7] = true
	}

	local := after.In(loc)
	for i := 0; i <= 8; i++ {
		candidateDate := local.AddDate(0, 0, i)
		candidate := time.Date(candidateDate.Year(), candidateDate.Month(), candidateDate.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(local) {
			continue
		}
		if days[mondayZeroWeekday(candidate)] {
			return candidate.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("nextrun: no matching weekday found within 8 days")
}

// mondayZeroWeekday converts Go's Sunday=0 weekday into the spec's
// Monday=0 convention.
func mondayZeroWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func parseHHMM(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("nextrun: invalid time %q: %w", s, err)
	}
	return hour, minute, nil
}

// Once always returns no further run.
func Once() (time.Time, bool) {
	return time.Time{}, false
}
