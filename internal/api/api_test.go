package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Derkades/metrics/internal/ingest"
	"github.com/Derkades/metrics/internal/testutil"
	"github.com/Derkades/metrics/internal/view"
)

const apiDoc = `
input:
  frequency_minutes: 60
  expire_minutes: 1440
  fields:
    - name: os
      type: string
      allow_only: [linux, windows, macos]
    - name: players
      type: integer
      optional: true
show:
  title: My App
  items:
    - field: os
      title: OS
    - field: players
      title: Players
      type: summary
`

const apiUUID = "5a8b0f0d-29cd-4ac3-b95a-a294cc84f24a"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db := testutil.TestDB(t)
	registry := testutil.TestRegistry(t, map[string]string{"myapp": apiDoc})
	svc := ingest.NewService(registry, db, testutil.Logger())
	h := NewHandler(svc, view.NewEngine(registry, db), registry, db)
	srv := httptest.NewServer(NewRouter(h, false, "", nil))
	t.Cleanup(srv.Close)
	return srv
}

func submitBody(source, uuid string, fields map[string]any) *bytes.Reader {
	body, _ := json.Marshal(map[string]any{
		"source": source,
		"uuid":   uuid,
		"fields": fields,
	})
	return bytes.NewReader(body)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestSubmitOK(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/submit", "application/json",
		submitBody("myapp", apiUUID, map[string]any{"os": "linux", "players": 4}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestSubmitRejections(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			"invalid json",
			`{`,
			http.StatusBadRequest, "invalid JSON body",
		},
		{
			"missing source",
			fmt.Sprintf(`{"uuid": %q, "fields": {"os": "linux"}}`, apiUUID),
			http.StatusBadRequest, "missing source",
		},
		{
			"missing uuid",
			`{"source": "myapp", "fields": {"os": "linux"}}`,
			http.StatusBadRequest, "missing uuid",
		},
		{
			"missing fields",
			fmt.Sprintf(`{"source": "myapp", "uuid": %q}`, apiUUID),
			http.StatusBadRequest, "missing fields",
		},
		{
			"unknown source",
			fmt.Sprintf(`{"source": "nope", "uuid": %q, "fields": {"os": "linux"}}`, apiUUID),
			http.StatusBadRequest, "invalid source",
		},
		{
			"malformed uuid",
			`{"source": "myapp", "uuid": "not-a-uuid", "fields": {"os": "linux"}}`,
			http.StatusBadRequest, "invalid uuid",
		},
		{
			"missing required field",
			fmt.Sprintf(`{"source": "myapp", "uuid": %q, "fields": {"players": 4}}`, apiUUID),
			http.StatusBadRequest, "missing field 'os'",
		},
		{
			"field value not allowed",
			fmt.Sprintf(`{"source": "myapp", "uuid": %q, "fields": {"os": "beos"}}`, apiUUID),
			http.StatusBadRequest, "field value 'beos' not allowed for field 'os'",
		},
		{
			"wrong field type",
			fmt.Sprintf(`{"source": "myapp", "uuid": %q, "fields": {"os": "linux", "players": 1.5}}`, apiUUID),
			http.StatusBadRequest, "field 'players' must be an integer",
		},
	}

	srv := newTestServer(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/submit", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			var parsed struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal([]byte(readBody(t, resp)), &parsed); err != nil {
				t.Fatal(err)
			}
			if parsed.Error != tc.wantError {
				t.Errorf("error = %q, want %q", parsed.Error, tc.wantError)
			}
		})
	}
}

func TestSubmitRateLimited(t *testing.T) {
	srv := newTestServer(t)
	fields := map[string]any{"os": "linux"}

	resp, err := http.Post(srv.URL+"/submit", "application/json", submitBody("myapp", apiUUID, fields))
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first submit status = %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/submit", "application/json", submitBody("myapp", apiUUID, fields))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second submit status = %d, want 429", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Please wait") {
		t.Errorf("body = %q", body)
	}
}

func TestShow(t *testing.T) {
	srv := newTestServer(t)

	for i, os := range []string{"linux", "linux", "windows"} {
		uuid := fmt.Sprintf("5a8b0f0d-29cd-4ac3-b95a-a294cc84f2%02d", i)
		resp, err := http.Post(srv.URL+"/submit", "application/json",
			submitBody("myapp", uuid, map[string]any{"os": os, "players": 10 * (i + 1)}))
		if err != nil {
			t.Fatal(err)
		}
		readBody(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seed submit status = %d", resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/show?source=myapp")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}

	var res view.Result
	if err := json.Unmarshal([]byte(readBody(t, resp)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Title != "My App" {
		t.Errorf("title = %q", res.Title)
	}
	if res.CountClients != 3 {
		t.Errorf("count_clients = %d", res.CountClients)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d", len(res.Items))
	}
	os := res.Items[0]
	if os.Type != "breakdown" || len(os.Values) != 2 || os.Values[0].Value != "linux" {
		t.Errorf("breakdown = %+v", os)
	}
	players := res.Items[1]
	if players.Type != "summary" || players.Sum == nil || *players.Sum != 60 {
		t.Errorf("summary = %+v", players)
	}
}

func TestShowErrors(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct {
		name, path, wantError string
	}{
		{"missing source", "/show", "specify source"},
		{"unknown source", "/show?source=nope", "invalid source"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if body := readBody(t, resp); !strings.Contains(body, tc.wantError) {
				t.Errorf("body = %q, want %q", body, tc.wantError)
			}
		})
	}
}

func TestSources(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/submit", "application/json",
		submitBody("myapp", apiUUID, map[string]any{"os": "linux"}))
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)

	resp, err = http.Get(srv.URL + "/sources")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res SourcesResponse
	if err := json.Unmarshal([]byte(readBody(t, resp)), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 1 || res.Sources[0].Name != "myapp" || res.Sources[0].CountClients != 1 {
		t.Errorf("sources = %+v", res.Sources)
	}
}

func TestAuthProtectsOperatorEndpoints(t *testing.T) {
	db := testutil.TestDB(t)
	registry := testutil.TestRegistry(t, map[string]string{"myapp": apiDoc})
	svc := ingest.NewService(registry, db, testutil.Logger())
	h := NewHandler(svc, view.NewEngine(registry, db), registry, db)
	srv := httptest.NewServer(NewRouter(h, true, "secret", nil))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/show?source=myapp")
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/show?source=myapp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Submissions never require a token.
	resp, err = http.Post(srv.URL+"/submit", "application/json",
		submitBody("myapp", apiUUID, map[string]any{"os": "linux"}))
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("submit status = %d, want 200", resp.StatusCode)
	}
}
