package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	mid "github.com/KiborgBeliash/web-service-vuz-rf/internal/server/middleware"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store/sqlite"

	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

const testAPIKey = "test-master-key"

type fakePublisher struct {
	keys   []string
	bodies [][]byte
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func newTestServer(t *testing.T, pub queue.Publisher) *echo.Echo {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	snapshot := &common.Snapshot{
		Organizations: []common.Organization{
			{ID: "O1", FullName: "Московский университет", RegionName: "Москва", FormName: "Государственная"},
			{ID: "O2", FullName: "Beta Institute", RegionName: "Kazan", FormName: "Private"},
			{ID: "O3", FullName: "Alpha College", RegionName: "Moscow oblast", FormName: "Private"},
		},
		Programs: []common.Program{
			{ID: "P1", ProgrammName: "Математика", UGSName: "Математика и механика"},
			{ID: "P2", ProgrammName: "Physics", UGSName: "Physics and astronomy"},
		},
		Associations: []common.Association{
			{OrganizationID: "O1", ProgramID: "P1"},
			{OrganizationID: "O1", ProgramID: "P2"},
			{OrganizationID: "O2", ProgramID: "P2"},
		},
	}
	if _, err := s.ReplaceSnapshot(ctx, snapshot, common.SnapshotSource{URL: "http://x/a.zip", ArchiveSHA256: "abc"}); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	app := &mid.App{Store: s, MasterAPIKey: testAPIKey}
	if pub != nil {
		app.Queue = pub
	}
	return New(app)
}

func doRequest(e *echo.Echo, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
}

type listResponse struct {
	Items      []common.Organization `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalCount int                   `json:"total_count"`
	TotalPages int                   `json:"total_pages"`
	Pages      []int                 `json:"pages"`
	Filters    store.ListParams      `json:"filters"`
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, nil)
	rec := doRequest(e, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestListOrganizations(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/organizations", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res listResponse
	decodeBody(t, rec, &res)
	if res.TotalCount != 3 || len(res.Items) != 3 {
		t.Fatalf("expected 3 organizations, got %d/%d", res.TotalCount, len(res.Items))
	}
	if res.Page != 1 || res.PageSize != store.PageSize || res.TotalPages != 1 {
		t.Fatalf("unexpected paging %+v", res)
	}
	if len(res.Pages) != 1 || res.Pages[0] != 1 {
		t.Fatalf("expected page window [1], got %v", res.Pages)
	}
	if res.Filters.Sort != store.SortFullName || res.Filters.Order != store.OrderAsc {
		t.Fatalf("expected normalized defaults, got %+v", res.Filters)
	}
}

func TestListOrganizations_Filters(t *testing.T) {
	e := newTestServer(t, nil)

	cases := []struct {
		query string
		ids   []string
	}{
		{"region=" + "%D0%BC%D0%BE%D1%81%D0%BA%D0%B2%D0%B0", []string{"O1"}},
		{"form=private&sort=full_name&order=asc", []string{"O3", "O2"}},
		{"program=physics", []string{"O2", "O1"}},
		{"program=physics&region=kazan", []string{"O2"}},
		{"name=nothing-matches", nil},
	}
	for _, c := range cases {
		t.Run(c.query, func(t *testing.T) {
			rec := doRequest(e, http.MethodGet, "/api/organizations?"+c.query, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var res listResponse
			decodeBody(t, rec, &res)
			var ids []string
			for _, o := range res.Items {
				ids = append(ids, o.ID)
			}
			if strings.Join(ids, ",") != strings.Join(c.ids, ",") {
				t.Fatalf("expected %v, got %v", c.ids, ids)
			}
			if res.TotalCount != len(c.ids) {
				t.Fatalf("expected total %d, got %d", len(c.ids), res.TotalCount)
			}
		})
	}
}

func TestListOrganizations_InvalidParams(t *testing.T) {
	e := newTestServer(t, nil)

	for _, query := range []string{"sort=ogrn", "order=sideways", "page=abc", "page=-1"} {
		t.Run(query, func(t *testing.T) {
			rec := doRequest(e, http.MethodGet, "/api/organizations?"+query, "", nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestGetOrganization(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/organizations/O1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail store.OrganizationDetail
	decodeBody(t, rec, &detail)
	if detail.Organization.ID != "O1" || len(detail.Programs) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	rec = doRequest(e, http.MethodGet, "/api/organizations/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetFiltersAndSnapshot(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/filters", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var values store.FilterValues
	decodeBody(t, rec, &values)
	if len(values.Regions) != 3 || len(values.Forms) != 2 || len(values.ProgramNames) != 2 {
		t.Fatalf("unexpected filter values %+v", values)
	}

	rec = doRequest(e, http.MethodGet, "/api/snapshot", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info common.SnapshotInfo
	decodeBody(t, rec, &info)
	if info.Generation != 1 || info.Organizations != 3 || info.ArchiveSHA256 != "abc" {
		t.Fatalf("unexpected snapshot info %+v", info)
	}
}

func TestGetSchema(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/schema/organization", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var schema struct {
		Properties map[string]any `json:"properties"`
	}
	decodeBody(t, rec, &schema)
	for _, field := range []string{"id", "full_name", "region_name"} {
		if _, ok := schema.Properties[field]; !ok {
			t.Fatalf("expected property %q in schema, got %v", field, schema.Properties)
		}
	}

	rec = doRequest(e, http.MethodGet, "/api/schema/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPostIngest(t *testing.T) {
	pub := &fakePublisher{}
	e := newTestServer(t, pub)

	rec := doRequest(e, http.MethodPost, "/api/ingest", `{"force":true}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	rec = doRequest(e, http.MethodPost, "/api/ingest", `{"force":true}`, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
	if len(pub.keys) != 0 {
		t.Fatal("expected nothing published for rejected requests")
	}

	rec = doRequest(e, http.MethodPost, "/api/ingest", `{"force":true,"requested_by":"ops"}`, map[string]string{"Authorization": "Bearer " + testAPIKey})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.keys) != 1 || pub.keys[0] != queue.IngestQueue {
		t.Fatalf("expected one publish to %s, got %v", queue.IngestQueue, pub.keys)
	}
	var msg queue.QueueIngestMsg
	if err := json.Unmarshal(pub.bodies[0], &msg); err != nil {
		t.Fatalf("invalid published body: %v", err)
	}
	if !msg.Force || msg.RequestedBy != "ops" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestPostIngest_NoQueue(t *testing.T) {
	e := newTestServer(t, nil)
	rec := doRequest(e, http.MethodPost, "/api/ingest", "", map[string]string{"Authorization": "Bearer " + testAPIKey})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
