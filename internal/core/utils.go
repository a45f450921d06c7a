package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	monthDayRegex = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relativeRegex = regexp.MustCompile(`^([dw])-(\d+)$`)
)

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// DateOnly returns a time.Time with only the date portion (midnight UTC).
// Remote archives are partitioned by UTC calendar day.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey returns the eight digit yyyyMMdd partition key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyFmt)
}

// ParseDayKey parses a yyyyMMdd key back into a day.
func ParseDayKey(s string) (time.Time, error) {
	t, err := time.Parse(DayKeyFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key '%s' (expected YYYYMMDD)", s)
	}
	return t, nil
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(APIDateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseDaySpec returns a concrete day for flexible spec strings, relative to now.
// Supports:
// 1. Exact YYYY-MM-DD or YYYYMMDD
// 2. today, yesterday
// 3. M/D or MM/DD (most recent past occurrence)
// 4. Relative forms d-N (days) and w-N (weeks)
func ParseDaySpec(spec string, now time.Time) (time.Time, error) {
	today := DateOnly(now)
	spec = strings.TrimSpace(spec)

	if t, err := time.Parse(APIDateFmt, spec); err == nil {
		return t, nil
	}
	if len(spec) == len(DayKeyFmt) {
		if t, err := time.Parse(DayKeyFmt, spec); err == nil {
			return t, nil
		}
	}

	switch strings.ToLower(spec) {
	case "", "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}

	if matches := monthDayRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(today.Year(), time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if target.After(today) {
			target = target.AddDate(-1, 0, 0)
		}
		return target, nil
	}

	if matches := relativeRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])
		if matches[1] == "w" {
			num *= 7
		}
		return today.AddDate(0, 0, -num), nil
	}

	return time.Time{}, fmt.Errorf("invalid day specification: '%s'", spec)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}
