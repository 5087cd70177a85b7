package peterpanz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testConfig() Config {
	return Config{
		IdentifierID: "id-123",
		OrderID:      "order-456",
		ZoomLevel:    12,
		CenterLat:    37.566628,
		CenterLng:    126.978038,
		Filter:       DefaultFilter(),
	}
}

func TestFetchPageFlattensCategories(t *testing.T) {
	var gotQuery map[string]string
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}
		gotHeaders = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"houses": {
				"recommend": {"image": [{"hidx": "a1", "price": {"deposit": 150000000}}]},
				"premium":   {"image": [{"hidx": 222}]}
			}
		}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.Client(), server.URL, testConfig())
	records, err := client.FetchPage(context.Background(), 3, 20)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}

	// Categories flatten in sorted order: premium before recommend.
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "222" {
		t.Errorf("first record ID = %q, want 222", records[0].ID)
	}
	if records[1].ID != "a1" {
		t.Errorf("second record ID = %q, want a1", records[1].ID)
	}

	if gotQuery["pageIndex"] != "3" || gotQuery["pageSize"] != "20" {
		t.Errorf("pagination params = %q/%q", gotQuery["pageIndex"], gotQuery["pageSize"])
	}
	if gotQuery["order_id"] != "order-456" {
		t.Errorf("order_id = %q", gotQuery["order_id"])
	}
	wantCenter := `{"y":37.566628,"_lat":37.566628,"x":126.978038,"_lng":126.978038}`
	if gotQuery["center"] != wantCenter {
		t.Errorf("center = %q, want %q", gotQuery["center"], wantCenter)
	}
	wantFilter := `latitude:37.4495189~37.6835533||longitude:126.8736678~127.2746689||checkDeposit:100000000~200000000||roomCount_etc;["2층~5층","6층~9층","10층 이상"]||contractType;["전세"]||additional_options;["전세자금대출"]||buildingType;["원/투룸"]`
	if gotQuery["filter"] != wantFilter {
		t.Errorf("filter = %q\nwant %q", gotQuery["filter"], wantFilter)
	}
	if gotQuery["filter_version"] != "5.1" || gotQuery["response_version"] != "5.2" || gotQuery["order_by"] != "random" {
		t.Errorf("version params = %q/%q/%q", gotQuery["filter_version"], gotQuery["response_version"], gotQuery["order_by"])
	}

	if got := gotHeaders.Get("x-identifier-id"); got != "id-123" {
		t.Errorf("x-identifier-id = %q", got)
	}
	if got := gotHeaders.Get("x-peterpanz-os"); got != "web" {
		t.Errorf("x-peterpanz-os = %q", got)
	}
}

func TestFetchPageSkipsListingsWithoutID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"houses": {"recommend": {"image": [{"price": {}}, {"hidx": "keep"}]}}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.Client(), server.URL, testConfig())
	records, err := client.FetchPage(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "keep" {
		t.Errorf("records = %v", records)
	}
}

func TestFetchPageEmptyHouses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"houses": {}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.Client(), server.URL, testConfig())
	records, err := client.FetchPage(context.Background(), 2, 20)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestFetchPageStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.Client(), server.URL, testConfig())
	if _, err := client.FetchPage(context.Background(), 1, 20); err == nil {
		t.Fatal("FetchPage() succeeded on status 403")
	}
}

func TestFetchPageMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"houses": not json`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.Client(), server.URL, testConfig())
	if _, err := client.FetchPage(context.Background(), 1, 20); err == nil {
		t.Fatal("FetchPage() succeeded on malformed JSON")
	}
}
