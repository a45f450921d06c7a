// Package report fetches, parses and caches the SWPC space-weather text
// reports: the 45-day AP/F10.7 flux forecast and the geophysical alert.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// UnknownETag is stored when the server sent no ETag.
const UnknownETag = "<unknown>"

// ErrInconsistent is returned when the server reports our ETag as current
// but no cached document exists to return.
var ErrInconsistent = errors.New("not modified but no cached document")

// ContentError reports report text that could not be interpreted.
type ContentError struct {
	Field string
	Msg   string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Field, e.Msg)
}

func (e *ContentError) Unwrap() error {
	return core.ErrContent
}

// Kind identifies a report.
type Kind int

const (
	ForecastKind Kind = iota
	AlertKind
)

var kindNames = map[Kind]string{
	ForecastKind: "forecast",
	AlertKind:    "alert",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// FileName is the persisted document name.
func (k Kind) FileName() string {
	switch k {
	case ForecastKind:
		return "SWPCAPForecast.json"
	case AlertKind:
		return "SWPCGeoAlert.json"
	}
	return ""
}

// Kinds lists every report kind.
func Kinds() []Kind {
	return []Kind{ForecastKind, AlertKind}
}

// ParseKind accepts a kind name ("forecast", "alert") or one of the
// aliases "ap" and "wwv".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forecast", "ap":
		return ForecastKind, nil
	case "alert", "wwv":
		return AlertKind, nil
	}
	return 0, fmt.Errorf("unknown report kind %q (want forecast or alert)", s)
}

// Document is implemented by Forecast and Alert.
type Document interface {
	Kind() Kind
	Tag() string
	IssuedAt() time.Time
}

// Series maps a UTC day to a forecast value.
type Series map[time.Time]int

// Point is one entry of a Series.
type Point struct {
	Date  time.Time `json:"date"`
	Value int       `json:"value"`
}

// Points returns the series ordered by date.
func (s Series) Points() []Point {
	points := make([]Point, 0, len(s))
	for d, v := range s {
		points = append(points, Point{Date: d, Value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// Forecast is the 45-day AP and F10.7cm flux forecast.
type Forecast struct {
	ETag     string    `json:"etag"`
	Issued   time.Time `json:"issued"`
	Prepared string    `json:"prepared"`
	AP       Series    `json:"ap"`
	Flux     Series    `json:"flux"`
}

func (f *Forecast) Kind() Kind { return ForecastKind }

// Tag returns the ETag, or "" for a nil forecast.
func (f *Forecast) Tag() string {
	if f == nil {
		return ""
	}
	return f.ETag
}

func (f *Forecast) IssuedAt() time.Time { return f.Issued }

// Alert is the geophysical alert message.
type Alert struct {
	ETag     string    `json:"etag"`
	Issued   time.Time `json:"issued"`
	Prepared string    `json:"prepared"`
	Body     string    `json:"body"`
}

func (a *Alert) Kind() Kind { return AlertKind }

func (a *Alert) Tag() string {
	if a == nil {
		return ""
	}
	return a.ETag
}

func (a *Alert) IssuedAt() time.Time { return a.Issued }
