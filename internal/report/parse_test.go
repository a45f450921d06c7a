package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/sol-cli-go/internal/core"
)

const forecastText = `:Product: 45 Day AP Forecast  45DF.txt
:Issued: 2022 Sep 17 2119 UTC
# Prepared by the U.S. Air Force.
# Retransmitted by the Dept. of Commerce, NOAA, Space Weather Prediction Center
# Please send comments and suggestions to SWPC.Webmaster@noaa.gov
#
#
#          45-Day AP and F10.7cm Flux Forecast
#-------------------------------------------------------------
45-DAY AP FORECAST
18Sep22 012 19Sep22 008 20Sep22 005 21Sep22 005 22Sep22 005
23Sep22 015 24Sep22 012 25Sep22 014 26Sep22 014 27Sep22 014
28Sep22 008 29Sep22 008 30Sep22 022 01Oct22 050 02Oct22 030
03Oct22 020 04Oct22 012 05Oct22 015 06Oct22 012 07Oct22 010
08Oct22 008 09Oct22 005 10Oct22 010 11Oct22 008 12Oct22 005
13Oct22 015 14Oct22 020 15Oct22 012 16Oct22 005 17Oct22 005
18Oct22 005 19Oct22 005 20Oct22 012 21Oct22 010 22Oct22 014
23Oct22 014 24Oct22 014 25Oct22 008 26Oct22 008 27Oct22 022
28Oct22 050 29Oct22 030 30Oct22 020 31Oct22 012 01Nov22 015
45-DAY F10.7 CM FLUX FORECAST
18Sep22 130 19Sep22 125 20Sep22 125 21Sep22 122 22Sep22 120
23Sep22 120 24Sep22 120 25Sep22 120 26Sep22 120 27Sep22 120
28Sep22 120 29Sep22 120 30Sep22 125 01Oct22 125 02Oct22 125
03Oct22 125 04Oct22 125 05Oct22 125 06Oct22 125 07Oct22 130
08Oct22 130 09Oct22 150 10Oct22 148 11Oct22 143 12Oct22 140
13Oct22 136 14Oct22 130 15Oct22 125 16Oct22 120 17Oct22 125
18Oct22 125 19Oct22 120 20Oct22 120 21Oct22 120 22Oct22 120
23Oct22 120 24Oct22 120 25Oct22 120 26Oct22 120 27Oct22 125
28Oct22 125 29Oct22 125 30Oct22 125 31Oct22 125 01Nov22 125
FORECASTER:  TROST / HOUSSEAL
99999
NNNN
`

const alertText = `:Product: Geophysical Alert Message wwv.txt
:Issued: 2022 Sep 18 1805 UTC
# Prepared by the US Dept. of Commerce, NOAA, Space Weather Prediction Center
#
#          Geophysical Alert Message
#
Solar-terrestrial indices for 17 September follow.
Solar flux 132 and estimated planetary A-index 5.
The estimated planetary K-index at 1800 UTC on 18 September was 2.

Space weather for the past 24 hours has been minor.
Radio blackouts reaching the R1 level occurred.

No space weather storms are predicted for the next 24 hours.`

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseForecast(t *testing.T) {
	f, err := ParseForecast([]byte(forecastText), "foo")
	require.NoError(t, err)

	assert.Equal(t, "foo", f.ETag)
	assert.True(t, f.Issued.Equal(time.Date(2022, 9, 17, 21, 19, 0, 0, time.UTC)), "issued %s", f.Issued)
	assert.Equal(t, strings.Join([]string{
		"Prepared by the U.S. Air Force.",
		"Retransmitted by the Dept. of Commerce, NOAA, Space Weather Prediction Center",
		"Please send comments and suggestions to SWPC.Webmaster@noaa.gov",
	}, "\n"), f.Prepared)

	require.Len(t, f.AP, 45)
	require.Len(t, f.Flux, 45)
	assert.Equal(t, 12, f.AP[day(2022, 9, 18)])
	assert.Equal(t, 50, f.AP[day(2022, 10, 1)])
	assert.Equal(t, 15, f.AP[day(2022, 11, 1)])
	assert.Equal(t, 130, f.Flux[day(2022, 9, 18)])
	assert.Equal(t, 150, f.Flux[day(2022, 10, 9)])
	assert.Equal(t, 125, f.Flux[day(2022, 11, 1)])

	points := f.AP.Points()
	assert.Equal(t, day(2022, 9, 18), points[0].Date)
	assert.Equal(t, day(2022, 11, 1), points[len(points)-1].Date)
}

func TestParseForecastErrors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"no issued line", strings.Replace(forecastText, ":Issued:", ":Released:", 1), "issued"},
		{"bad issued date", strings.Replace(forecastText, "2022 Sep 17 2119 UTC", "yesterday", 1), "issued"},
		{"no prepared line", strings.Replace(forecastText, "# Prepared", "# Written", 1), "prepared"},
		{"unterminated prepared", strings.ReplaceAll(forecastText, "#\n", "# \n"), "prepared"},
		{"no ap header", strings.Replace(forecastText, "45-DAY AP FORECAST", "AP", 1), "ap"},
		{"no flux header", strings.Replace(forecastText, "45-DAY F10.7 CM FLUX FORECAST", "FLUX", 1), "flux"},
		{"no footer", strings.Replace(forecastText, "FORECASTER:", "BY:", 1), "flux"},
		{"bad series date", strings.Replace(forecastText, "18Sep22 012", "18Xyz22 012", 1), "ap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseForecast([]byte(tt.text), "foo")
			var contentErr *ContentError
			require.ErrorAs(t, err, &contentErr)
			assert.Equal(t, tt.field, contentErr.Field)
			assert.ErrorIs(t, err, core.ErrContent)
		})
	}
}

func TestParseAlert(t *testing.T) {
	a, err := ParseAlert([]byte(alertText), "foo")
	require.NoError(t, err)

	assert.Equal(t, "foo", a.ETag)
	assert.True(t, a.Issued.Equal(time.Date(2022, 9, 18, 18, 5, 0, 0, time.UTC)), "issued %s", a.Issued)
	assert.Equal(t, "Prepared by the US Dept. of Commerce, NOAA, Space Weather Prediction Center", a.Prepared)
	assert.Equal(t, `Solar-terrestrial indices for 17 September follow.
Solar flux 132 and estimated planetary A-index 5.
The estimated planetary K-index at 1800 UTC on 18 September was 2.

Space weather for the past 24 hours has been minor.
Radio blackouts reaching the R1 level occurred.

No space weather storms are predicted for the next 24 hours.`, a.Body)
}

func TestParseAlertCRLF(t *testing.T) {
	a, err := ParseAlert([]byte(strings.ReplaceAll(alertText, "\n", "\r\n")), "foo")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Body, "Solar-terrestrial indices"))
	assert.NotContains(t, a.Body, "\r")
}

func TestParseAlertErrors(t *testing.T) {
	_, err := ParseAlert([]byte(strings.Replace(alertText, "# Prepared", "# Written", 1)), "foo")
	var contentErr *ContentError
	require.ErrorAs(t, err, &contentErr)
	assert.Equal(t, "prepared", contentErr.Field)

	_, err = ParseAlert([]byte{0xff, 0xfe, ':'}, "foo")
	require.ErrorAs(t, err, &contentErr)
	assert.Equal(t, "text", contentErr.Field)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"forecast": ForecastKind,
		"AP":       ForecastKind,
		"alert":    AlertKind,
		" wwv ":    AlertKind,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("flare")
	assert.Error(t, err)

	assert.Equal(t, "SWPCAPForecast.json", ForecastKind.FileName())
	assert.Equal(t, "SWPCGeoAlert.json", AlertKind.FileName())
	assert.Equal(t, "alert", AlertKind.String())
}
