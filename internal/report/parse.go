package report

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	issuedLayout   = "2006 Jan 02 1504 MST"
	forecastLayout = "02Jan06"

	preparedPrefix = "# Prepared "
	apHeader       = "45-DAY AP FORECAST"
	fluxHeader     = "45-DAY F10.7 CM FLUX FORECAST"
	forecastFooter = "FORECASTER:"
)

var (
	issuedPattern = regexp.MustCompile(`:Issued:\s*(.+)`)
	alertPrepared = regexp.MustCompile(`(?m)^#\s*(Prepared.*)$`)
	forecastValue = regexp.MustCompile(`(\d{2}[A-Za-z]{3}\d{2}) (\d{3})`)
)

func decodeText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", &ContentError{Field: "text", Msg: "unable to interpret data as UTF-8"}
	}
	return string(data), nil
}

func parseIssued(text string) (time.Time, error) {
	m := issuedPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, &ContentError{Field: "issued", Msg: "unable to find match"}
	}
	raw := strings.TrimSpace(m[1])
	issued, err := time.Parse(issuedLayout, raw)
	if err != nil {
		return time.Time{}, &ContentError{Field: "issued", Msg: fmt.Sprintf("unable to interpret %q as date", raw)}
	}
	return issued.UTC(), nil
}

func indexOf(lines []string, from int, match func(string) bool) int {
	for i := from; i < len(lines); i++ {
		if match(lines[i]) {
			return i
		}
	}
	return -1
}

func hasPrefix(prefix string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, prefix) }
}

// ParseForecast parses the text of the 45-day AP forecast.
func ParseForecast(data []byte, etag string) (*Forecast, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	issued, err := parseIssued(text)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := indexOf(lines, 0, hasPrefix(preparedPrefix))
	if start < 0 {
		return nil, &ContentError{Field: "prepared", Msg: fmt.Sprintf("unable to find expected %q line", preparedPrefix)}
	}
	end := indexOf(lines, start, func(s string) bool { return s == "#" })
	if end < 0 {
		return nil, &ContentError{Field: "prepared", Msg: "unable to find end of prepared section"}
	}
	prepared := make([]string, 0, end-start)
	for _, line := range lines[start:end] {
		prepared = append(prepared, dropPrefix(line, 2))
	}

	ap := indexOf(lines, 0, hasPrefix(apHeader))
	flux := indexOf(lines, 0, hasPrefix(fluxHeader))
	footer := indexOf(lines, 0, hasPrefix(forecastFooter))
	switch {
	case ap < 0:
		return nil, &ContentError{Field: "ap", Msg: fmt.Sprintf("unable to find expected %q header", apHeader)}
	case flux < 0:
		return nil, &ContentError{Field: "flux", Msg: fmt.Sprintf("unable to find expected %q header", fluxHeader)}
	case footer < 0:
		return nil, &ContentError{Field: "flux", Msg: fmt.Sprintf("unable to find expected %q header", forecastFooter)}
	case flux < ap || footer < flux:
		return nil, &ContentError{Field: "ap", Msg: "forecast sections out of order"}
	}

	apSeries, err := parseSeries("ap", lines[ap+1:flux])
	if err != nil {
		return nil, err
	}
	fluxSeries, err := parseSeries("flux", lines[flux+1:footer])
	if err != nil {
		return nil, err
	}

	return &Forecast{
		ETag:     etag,
		Issued:   issued,
		Prepared: strings.Join(prepared, "\n"),
		AP:       apSeries,
		Flux:     fluxSeries,
	}, nil
}

// dropPrefix removes the first n characters of s.
func dropPrefix(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[i:]
		}
		n--
	}
	return ""
}

func parseSeries(field string, lines []string) (Series, error) {
	series := make(Series)
	for _, m := range forecastValue.FindAllStringSubmatch(strings.Join(lines, "\n"), -1) {
		day, err := time.Parse(forecastLayout, m[1])
		if err != nil {
			return nil, &ContentError{Field: field, Msg: fmt.Sprintf("unable to interpret %q as date", m[1])}
		}
		v, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, &ContentError{Field: field, Msg: fmt.Sprintf("unable to interpret %q as int", m[2])}
		}
		series[day] = v
	}
	return series, nil
}

// ParseAlert parses the text of the geophysical alert message.
func ParseAlert(data []byte, etag string) (*Alert, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	issued, err := parseIssued(text)
	if err != nil {
		return nil, err
	}

	m := alertPrepared.FindStringSubmatch(text)
	if m == nil {
		return nil, &ContentError{Field: "prepared", Msg: "unable to find match"}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	last := -1
	for i, line := range lines {
		if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "#") {
			last = i
		}
	}

	return &Alert{
		ETag:     etag,
		Issued:   issued,
		Prepared: strings.TrimSpace(m[1]),
		Body:     strings.Join(lines[last+1:], "\n"),
	}, nil
}
