package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/estmeter/estmeter/pkg/common"
	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/types"
)

const (
	estProdBaseURL = "https://www.e-st.lv"

	estLoginPath    = "lv/private/user-authentification/"
	estCustomerPath = "lv/private/klienta-informacija/"
	estCountersPath = "lv/private/skara/counters/smart"
	estChartsPath   = "lv/private/paterini-un-norekini/paterinu-grafiki/"

	// loginFormSelector is present on any page served to a session the
	// portal does not consider logged in.
	loginFormSelector = "form.authenticate"
)

// counterPattern splits the data-filter-string attribute of a meter row into
// address, customer number and meter ID.
var counterPattern = regexp.MustCompile(`^(.*)\s+(\d+)\s+(\d+)$`)

// EST implements the Source interface for the e-st.lv customer portal.
// There is no official API, so it scrapes the same pages a browser would see
// and keeps the session alive through cookies.
type EST struct {
	client   *http.Client
	baseURL  string
	username string
	password string
}

// NewEST returns a portal client for one account. baseURL is normally
// https://www.e-st.lv and only differs in tests.
func NewEST(baseURL, username, password string) *EST {
	client := common.BrowserHTTPClient(30*time.Second, baseURL)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		// the portal bounces between the login form and the requested
		// page, anything deeper than that is a loop
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	return &EST{
		client:   client,
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// Authenticate implements Source. It loads the customer information page,
// which forces a login when the session is stale.
func (c *EST) Authenticate(ctx context.Context) (types.Customer, error) {
	doc, err := c.fetchPage(ctx, estCustomerPath, nil)
	if err != nil {
		return types.Customer{}, err
	}

	details := doc.Find("div.customerDetails").First()
	if details.Length() == 0 {
		return types.Customer{}, fmt.Errorf("%w: customer details not found", ErrFetch)
	}

	cust := types.Customer{
		FullName: strings.TrimSpace(details.Find("h2").First().Text()),
	}
	// the EIC code is the last token of the details paragraph
	if fields := strings.Fields(details.Find("p").First().Text()); len(fields) > 0 {
		cust.EICCode = fields[len(fields)-1]
	}

	log.Ctx(ctx).DebugContext(ctx, "authenticated to portal",
		slog.String("customer", cust.FullName),
		slog.String("eic", cust.EICCode))
	return cust, nil
}

// Meters implements Source.
func (c *EST) Meters(ctx context.Context) ([]types.Meter, error) {
	doc, err := c.fetchPage(ctx, estCountersPath, nil)
	if err != nil {
		return nil, err
	}

	var meters []types.Meter
	var rowErr error
	doc.Find("tr.counter").Each(func(_ int, row *goquery.Selection) {
		if rowErr != nil {
			return
		}
		filter, ok := row.Attr("data-filter-string")
		if !ok {
			rowErr = fmt.Errorf("%w: counter row is missing data-filter-string", ErrFetch)
			return
		}
		m := counterPattern.FindStringSubmatch(filter)
		if m == nil {
			rowErr = fmt.Errorf("%w: unrecognized counter row %q", ErrFetch, filter)
			return
		}
		meters = append(meters, types.Meter{
			ID:      strings.TrimSpace(m[3]),
			Address: strings.TrimSpace(m[1]),
		})
	})
	if rowErr != nil {
		return nil, rowErr
	}
	if len(meters) == 0 {
		return nil, fmt.Errorf("%w: no meters on account", ErrFetch)
	}

	log.Ctx(ctx).DebugContext(ctx, "listed meters", slog.Int("count", len(meters)))
	return meters, nil
}

// FetchPeriod implements Source. The chart page embeds its data as JSON in a
// data-values attribute, one series per direction.
func (c *EST) FetchPeriod(ctx context.Context, meterID string, period PeriodKind, year int, month time.Month, day int, granularity Granularity) (map[types.Direction][]types.IntervalPoint, error) {
	doc, err := c.fetchPage(ctx, estChartsPath, chartParams(meterID, period, year, month, day, granularity))
	if err != nil {
		return nil, err
	}

	raw, ok := doc.Find("div.chart").First().Attr("data-values")
	if !ok {
		return nil, fmt.Errorf("%w: chart data not found", ErrFetch)
	}
	var payload chartPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode chart data: %v", ErrFetch, err)
	}

	points := map[types.Direction][]types.IntervalPoint{
		types.DirectionConsumed: payload.points("A+"),
		types.DirectionReturned: payload.points("A-"),
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched chart",
		slog.String("meterID", meterID),
		slog.String("period", string(period)),
		slog.Int("consumedPoints", len(points[types.DirectionConsumed])),
		slog.Int("returnedPoints", len(points[types.DirectionReturned])))
	return points, nil
}

// EarliestData implements Source. It reads the lower bound off the date
// picker on today's chart page. The zero time means the portal offered no
// hint, which happens on brand new meters.
func (c *EST) EarliestData(ctx context.Context, meterID string) (time.Time, error) {
	today := time.Now().In(Riga)
	doc, err := c.fetchPage(ctx, estChartsPath, chartParams(meterID, PeriodDay, today.Year(), today.Month(), today.Day(), GranularityHour))
	if err != nil {
		return time.Time{}, err
	}

	raw, ok := doc.Find("input#date").First().Attr("data-min-date")
	if !ok {
		return time.Time{}, nil
	}
	minDate, err := time.ParseInLocation("2006-01-02", raw, Riga)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad data-min-date %q: %v", ErrFetch, raw, err)
	}

	log.Ctx(ctx).DebugContext(ctx, "found earliest data hint",
		slog.String("meterID", meterID),
		slog.Time("minDate", minDate))
	return minDate, nil
}

// fetchPage GETs a portal page and parses it, transparently logging in when
// the portal serves the login form instead. The form carries a returnUrl
// field, so the login submit redirects straight back to the requested page.
func (c *EST) fetchPage(ctx context.Context, path string, params url.Values) (*goquery.Document, error) {
	req, err := c.newGetRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}
	doc, err := c.doPage(req)
	if err != nil {
		return nil, err
	}
	if doc.Find(loginFormSelector).Length() == 0 {
		return doc, nil
	}

	log.Ctx(ctx).DebugContext(ctx, "got login form, authenticating",
		slog.String("path", path),
		slog.String("username", c.username))

	data := url.Values{}
	for _, field := range []string{"_token", "returnUrl"} {
		v, ok := doc.Find(fmt.Sprintf("input[name=%q]", field)).First().Attr("value")
		if !ok {
			return nil, fmt.Errorf("%w: login form is missing the %s field", ErrFetch, field)
		}
		data.Set(field, v)
	}
	data.Set("login", c.username)
	data.Set("password", c.password)

	req, err = c.newPostFormRequest(ctx, estLoginPath, data)
	if err != nil {
		return nil, err
	}
	doc, err = c.doPage(req)
	if err != nil {
		return nil, err
	}
	// the portal re-serves the form when it rejects the credentials
	if doc.Find(loginFormSelector).Length() > 0 {
		return nil, fmt.Errorf("%w for account %s", ErrAuth, c.username)
	}
	return doc, nil
}

// doPage executes req and parses the response body as HTML.
func (c *EST) doPage(req *http.Request) (*goquery.Document, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrFetch, resp.StatusCode, req.URL.Path)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrFetch, req.URL.Path, err)
	}
	return doc, nil
}

func (c *EST) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *EST) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body := strings.NewReader(data.Encode())
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// chartParams builds the consumption-chart query. Zero year, month or day
// values anchor the window at yesterday in the portal's zone, the same
// default the portal applies itself.
func chartParams(meterID string, period PeriodKind, year int, month time.Month, day int, granularity Granularity) url.Values {
	yesterday := time.Now().In(Riga).AddDate(0, 0, -1)
	if year == 0 {
		year = yesterday.Year()
	}
	if month == 0 {
		month = yesterday.Month()
	}
	if day == 0 {
		day = yesterday.Day()
	}
	if granularity == "" {
		granularity = GranularityHour
	}

	params := url.Values{}
	params.Set("counterNumber", meterID)
	params.Set("period", string(period))
	switch period {
	case PeriodYear:
		params.Set("year", strconv.Itoa(year))
	case PeriodMonth:
		params.Set("year", strconv.Itoa(year))
		params.Set("month", strconv.Itoa(int(month)))
		params.Set("granularity", string(granularity))
	case PeriodDay:
		params.Set("date", fmt.Sprintf("%02d.%02d.%d", day, month, year))
		params.Set("granularity", string(granularity))
	}
	return params
}

// chartPayload mirrors the data-values attribute of the consumption chart.
// Timestamps are unix milliseconds marking the end of each interval.
type chartPayload struct {
	Values map[string]struct {
		Total struct {
			Data []struct {
				Timestamp int64   `json:"timestamp"`
				Value     float64 `json:"value"`
			} `json:"data"`
		} `json:"total"`
	} `json:"values"`
}

func (p chartPayload) points(key string) []types.IntervalPoint {
	series := p.Values[key].Total.Data
	out := make([]types.IntervalPoint, 0, len(series))
	for _, item := range series {
		out = append(out, types.IntervalPoint{
			TS:  time.UnixMilli(item.Timestamp).In(Riga),
			KWH: item.Value,
		})
	}
	return out
}
