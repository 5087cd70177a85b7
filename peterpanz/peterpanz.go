package peterpanz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/scorecard"
)

const BaseURL = "https://api.peterpanz.com"

// Filter narrows the area search. Deposits are in won; the list fields use
// the vendor's Korean labels verbatim.
type Filter struct {
	LatitudeMin  float64
	LatitudeMax  float64
	LongitudeMin float64
	LongitudeMax float64
	DepositMin   int64
	DepositMax   int64

	Floors            []string
	ContractTypes     []string
	AdditionalOptions []string
	BuildingTypes     []string
}

// DefaultFilter reproduces the standing search: Seoul bounds, 100M-200M won
// jeonse deposits, one/two-room listings above ground with loan support.
func DefaultFilter() Filter {
	return Filter{
		LatitudeMin:       37.4495189,
		LatitudeMax:       37.6835533,
		LongitudeMin:      126.8736678,
		LongitudeMax:      127.2746689,
		DepositMin:        100000000,
		DepositMax:        200000000,
		Floors:            []string{"2층~5층", "6층~9층", "10층 이상"},
		ContractTypes:     []string{"전세"},
		AdditionalOptions: []string{"전세자금대출"},
		BuildingTypes:     []string{"원/투룸"},
	}
}

// encode renders the filter in the vendor's query syntax: "||"-joined
// segments, ranges as min~max, list segments as name;["a","b"].
func (f Filter) encode() string {
	segments := []string{
		fmt.Sprintf("latitude:%s~%s", coord(f.LatitudeMin), coord(f.LatitudeMax)),
		fmt.Sprintf("longitude:%s~%s", coord(f.LongitudeMin), coord(f.LongitudeMax)),
		fmt.Sprintf("checkDeposit:%d~%d", f.DepositMin, f.DepositMax),
		"roomCount_etc;" + jsonList(f.Floors),
		"contractType;" + jsonList(f.ContractTypes),
		"additional_options;" + jsonList(f.AdditionalOptions),
		"buildingType;" + jsonList(f.BuildingTypes),
	}
	return strings.Join(segments, "||")
}

// Config identifies the caller to the vendor API and positions the search.
type Config struct {
	IdentifierID string
	OrderID      string
	ZoomLevel    int
	CenterLat    float64
	CenterLng    float64
	Filter       Filter
}

// Client fetches listing pages from the area-search API.
type Client struct {
	client  *http.Client
	baseURL string
	cfg     Config
}

// NewClient creates a Client with the given HTTP client.
func NewClient(client *http.Client, cfg Config) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{client: client, baseURL: BaseURL, cfg: cfg}
}

// NewClientWithBaseURL creates a Client against a non-default base URL.
func NewClientWithBaseURL(client *http.Client, baseURL string, cfg Config) *Client {
	c := NewClient(client, cfg)
	c.baseURL = baseURL
	return c
}

// FetchPage fetches one page of the area search and flattens the per-category
// listing groups into records in category order. Listings without an
// identifier are dropped with a warning.
func (c *Client) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]*listing.Record, error) {
	query := url.Values{}
	query.Set("zoomLevel", strconv.Itoa(c.cfg.ZoomLevel))
	query.Set("center", fmt.Sprintf(`{"y":%s,"_lat":%s,"x":%s,"_lng":%s}`,
		coord(c.cfg.CenterLat), coord(c.cfg.CenterLat), coord(c.cfg.CenterLng), coord(c.cfg.CenterLng)))
	query.Set("dong", "")
	query.Set("gungu", "")
	query.Set("filter", c.cfg.Filter.encode())
	query.Set("pageSize", strconv.Itoa(pageSize))
	query.Set("pageIndex", strconv.Itoa(pageIndex))
	query.Set("order_id", c.cfg.OrderID)
	query.Set("search", "")
	query.Set("filter_version", "5.1")
	query.Set("response_version", "5.2")
	query.Set("order_by", "random")

	reqURL := fmt.Sprintf("%s/houses/area?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating area request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page %d: %w", pageIndex, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page %d returned status %d", pageIndex, resp.StatusCode)
	}

	var payload struct {
		Houses map[string]struct {
			Image []map[string]any `json:"image"`
		} `json:"houses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding page %d: %w", pageIndex, err)
	}

	categories := make([]string, 0, len(payload.Houses))
	for category := range payload.Houses {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var records []*listing.Record
	for _, category := range categories {
		for _, fields := range payload.Houses[category].Image {
			id := scorecard.AsString(fields[scorecard.FieldID])
			if id == "" {
				slog.Warn("listing without identifier skipped", "category", category, "page", pageIndex)
				continue
			}
			records = append(records, listing.New(id, fields))
		}
	}

	return records, nil
}

// setHeaders applies the browser-shaped header set the vendor API expects.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("accept", "application/json, text/plain, */*")
	req.Header.Set("accept-language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("content-type", "application/json;charset=utf-8")
	req.Header.Set("origin", "https://www.peterpanz.com")
	req.Header.Set("referer", "https://www.peterpanz.com/")
	req.Header.Set("sec-ch-ua", `"Chromium";v="136", "Google Chrome";v="136", "Not.A/Brand";v="99"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"macOS"`)
	req.Header.Set("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36")
	req.Header.Set("x-identifier-id", c.cfg.IdentifierID)
	req.Header.Set("x-peterpanz-os", "web")
	req.Header.Set("x-peterpanz-page-id", "PAGE_UNKNOWN")
	req.Header.Set("x-peterpanz-uidx", "undefined")
	req.Header.Set("x-peterpanz-version", "3.52.0")
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
