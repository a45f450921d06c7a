package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/config"
	"github.com/colthorp/sol-cli-go/internal/fetch"
)

const (
	testImages   = "https://sdo.example.test/assets/img/browse"
	testDayDir   = testImages + "/2022/09/09/"
	testForecast = "https://swpc.example.test/text/45-day-ap-forecast.txt"
	testAlert    = "https://swpc.example.test/text/wwv.txt"
	testKeyEarly = "20220909_034258_1024_0171.jpg"
	testKeyLate  = "20220909_094634_1024_0171.jpg"
)

const testAlertText = `:Product: Geophysical Alert Message wwv.txt
:Issued: 2022 Sep 18 1805 UTC
# Prepared by the US Dept. of Commerce, NOAA, Space Weather Prediction Center
#
#          Geophysical Alert Message
#
Solar-terrestrial indices for 17 September follow.
Solar flux 132 and estimated planetary A-index 5.
`

func newTestApp(t *testing.T) (*app, *fetch.InMemoryTransport) {
	t.Helper()
	transport := fetch.NewInMemoryTransport()
	transport.SeedBody(testDayDir, []byte(`<html><body><pre>
<a href="`+testKeyEarly+`">`+testKeyEarly+`</a>
<a href="`+testKeyLate+`">`+testKeyLate+`</a>
<a href="20220909_094634_1024_0171pfss.jpg">20220909_094634_1024_0171pfss.jpg</a>
</pre></body></html>`), "")
	transport.SeedBody(testDayDir+testKeyEarly, []byte("early"), "")
	transport.SeedBody(testDayDir+testKeyLate, []byte("late"), "")
	transport.SeedBody(testAlert, []byte(testAlertText), `"a1"`)

	cfg := config.Default()
	cfg.CacheRoot = t.TempDir()
	cfg.HTTP.Retries = 0
	cfg.HTTP.RateLimit = 0
	cfg.Sources.Images = testImages
	cfg.Sources.APForecast = testForecast
	cfg.Sources.GeoAlert = testAlert
	cfg.Selection = catalog.Selection{ImageSet: catalog.Set0171, Resolution: catalog.Res1024}

	a, err := newApp(cfg, []fetch.Option{fetch.WithTransport(transport)})
	require.NoError(t, err)
	return a, transport
}

// runMCP feeds lines to a server and returns the decoded responses.
func runMCP(t *testing.T, a *app, lines ...string) []MCPResponse {
	t.Helper()
	var out bytes.Buffer
	s := newMCPServer(a, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	s.now = func() time.Time { return time.Date(2022, 9, 10, 8, 0, 0, 0, time.UTC) }
	require.NoError(t, s.run(context.Background()))

	var responses []MCPResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp MCPResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

// toolText extracts the text content and error flag from a tools/call result.
func toolText(t *testing.T, resp MCPResponse) (string, bool) {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "unexpected result %#v", resp.Result)
	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	isErr, _ := result["isError"].(bool)
	return content[0].(map[string]interface{})["text"].(string), isErr
}

func call(id int, tool, args string) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + tool + `","arguments":` + args + `}}`
}

func TestMCPHandshake(t *testing.T) {
	a, _ := newTestApp(t)
	responses := runMCP(t, a,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","method":"unknown/notification"}`,
	)
	require.Len(t, responses, 3)

	initResult := responses[0].Result.(map[string]interface{})
	assert.Equal(t, "sol-cli", initResult["serverInfo"].(map[string]interface{})["name"])

	tools := responses[1].Result.(map[string]interface{})["tools"].([]interface{})
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	assert.Equal(t, []string{"list_images", "prefetch_images", "get_report"}, names)

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, -32601, responses[2].Error.Code)
}

func TestMCPListAndPrefetch(t *testing.T) {
	a, transport := newTestApp(t)
	responses := runMCP(t, a,
		call(1, "list_images", `{"day_spec":"2022-09-09"}`),
		call(2, "prefetch_images", `{"day_spec":"yesterday"}`),
		call(3, "list_images", `{"day_spec":"20220909","pfss":true}`),
	)
	require.Len(t, responses, 3)

	text, isErr := toolText(t, responses[0])
	require.False(t, isErr, text)
	var listed struct {
		Count  int `json:"count"`
		Images []struct {
			Key    string `json:"key"`
			Stored bool   `json:"stored"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &listed))
	require.Equal(t, 2, listed.Count)
	assert.Equal(t, testKeyLate, listed.Images[0].Key)
	assert.False(t, listed.Images[0].Stored)

	text, isErr = toolText(t, responses[1])
	require.False(t, isErr, text)
	var rep catalog.PrefetchReport
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	assert.Equal(t, 2, rep.Matching)
	assert.Equal(t, 2, rep.Fetched)
	assert.Empty(t, rep.Failed)

	text, isErr = toolText(t, responses[2])
	require.False(t, isErr, text)
	require.NoError(t, json.Unmarshal([]byte(text), &listed))
	assert.Equal(t, 1, listed.Count)

	// The listing page was fetched once and then served from disk
	assert.Equal(t, 1, transport.RequestsFor("GET", testDayDir))
}

func TestMCPGetReport(t *testing.T) {
	a, transport := newTestApp(t)
	responses := runMCP(t, a,
		call(1, "get_report", `{"kind":"alert"}`),
		call(2, "get_report", `{"kind":"wwv"}`),
		call(3, "get_report", `{"kind":"sunspots"}`),
		call(4, "get_report", `{"kind":"forecast"}`),
		call(5, "no_such_tool", `{}`),
	)
	require.Len(t, responses, 5)

	text, isErr := toolText(t, responses[0])
	require.False(t, isErr, text)
	assert.Contains(t, text, "Prepared by the US Dept. of Commerce")
	assert.Contains(t, text, `\"a1\"`)

	// Second call revalidates with a HEAD only
	_, isErr = toolText(t, responses[1])
	assert.False(t, isErr)
	assert.Equal(t, 1, transport.RequestsFor("GET", testAlert))
	assert.Equal(t, 1, transport.RequestsFor("HEAD", testAlert))

	_, isErr = toolText(t, responses[2])
	assert.True(t, isErr)

	// Forecast URL is not seeded, so the transport answers 404
	text, isErr = toolText(t, responses[3])
	assert.True(t, isErr)
	assert.Contains(t, text, "transport")

	require.NotNil(t, responses[4].Error)
	assert.Equal(t, -32602, responses[4].Error.Code)
}

func TestMCPInvalidSelection(t *testing.T) {
	a, transport := newTestApp(t)
	responses := runMCP(t, a, call(1, "list_images", `{"image_set":"9999"}`))
	require.Len(t, responses, 1)
	text, isErr := toolText(t, responses[0])
	assert.True(t, isErr)
	assert.Contains(t, text, "invalid image selection")
	assert.Zero(t, transport.RequestsMade())
}
