package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/embedding/simple"
	"github.com/nimlabs/memoria/identity"
	"github.com/nimlabs/memoria/role"
	"github.com/nimlabs/memoria/store/chromem"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	ident, err := identity.New(dir)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	st, err := chromem.New(dir, simple.New(32))
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}
	cfg := &config.Config{Environment: config.EnvDevelopment}
	return New(cfg, nil, ident, role.DefaultRegistry(), st, simple.New(32))
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestHandleHealthReportsStatus(t *testing.T) {
	s := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleCreateAndGetUser(t *testing.T) {
	s := newTestServer(t)

	resp := doRequest(t, s, http.MethodPost, "/v1/users", createUserRequest{Username: "alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	userID, _ := created["user_id"].(string)
	if userID == "" {
		t.Fatal("expected a user_id in the response")
	}

	resp = doRequest(t, s, http.MethodGet, "/v1/users/"+userID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleGetUserUnknownReturns404(t *testing.T) {
	s := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/v1/users/does-not-exist", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCreateSessionAndListForUser(t *testing.T) {
	s := newTestServer(t)

	userResp := doRequest(t, s, http.MethodPost, "/v1/users", createUserRequest{Username: "bob"})
	var user map[string]interface{}
	json.NewDecoder(userResp.Body).Decode(&user)
	userID := user["user_id"].(string)

	sessResp := doRequest(t, s, http.MethodPost, "/v1/sessions", createSessionRequest{UserID: userID, RoleID: "default"})
	if sessResp.StatusCode != http.StatusCreated {
		t.Fatalf("session status = %d, want 201", sessResp.StatusCode)
	}

	listResp := doRequest(t, s, http.MethodGet, "/v1/users/"+userID+"/sessions", nil)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listResp.StatusCode)
	}
	var list map[string]interface{}
	json.NewDecoder(listResp.Body).Decode(&list)
	if int(list["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", list["count"])
	}
}

func TestHandleListMemoriesRequiresUserAndSession(t *testing.T) {
	s := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/v1/memories", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleListMemoriesEmptyScope(t *testing.T) {
	s := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/v1/memories?user_id=u1&session_id=s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if int(body["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0 for an empty scope", body["count"])
	}
}

func TestHandleListMemoriesOrdersByImportanceDescending(t *testing.T) {
	dir := t.TempDir()
	ident, err := identity.New(dir)
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	st, err := chromem.New(dir, simple.New(32))
	if err != nil {
		t.Fatalf("chromem.New: %v", err)
	}
	cfg := &config.Config{Environment: config.EnvDevelopment}
	s := New(cfg, nil, ident, role.DefaultRegistry(), st, simple.New(32))

	scope := core.Scope{UserID: "u1", SessionID: "s1", RoleID: "default"}
	for _, f := range []*core.MemoryFragment{
		{Scope: scope, Content: "low importance note", Speaker: core.SpeakerUser, Type: core.FragmentFact, Sentiment: core.SentimentNeutral, ImportanceScore: 2},
		{Scope: scope, Content: "high importance note", Speaker: core.SpeakerUser, Type: core.FragmentFact, Sentiment: core.SentimentNeutral, ImportanceScore: 9},
		{Scope: scope, Content: "mid importance note", Speaker: core.SpeakerUser, Type: core.FragmentFact, Sentiment: core.SentimentNeutral, ImportanceScore: 5},
	} {
		if err := st.Insert(context.Background(), f); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	resp := doRequest(t, s, http.MethodGet, "/v1/memories?user_id=u1&session_id=s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Memories []struct {
			ImportanceScore int
		} `json:"memories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Memories) != 3 {
		t.Fatalf("len(memories) = %d, want 3", len(body.Memories))
	}
	for i := 1; i < len(body.Memories); i++ {
		if body.Memories[i].ImportanceScore > body.Memories[i-1].ImportanceScore {
			t.Errorf("memories not sorted descending: index %d (%d) > index %d (%d)",
				i, body.Memories[i].ImportanceScore, i-1, body.Memories[i-1].ImportanceScore)
		}
	}
}

func TestAPIKeyAuthSkippedInDevelopmentWithNoKeyConfigured(t *testing.T) {
	s := newTestServer(t)
	resp := doRequest(t, s, http.MethodGet, "/v1/memories?user_id=u1&session_id=s1", nil)
	if resp.StatusCode == http.StatusUnauthorized {
		t.Error("development mode with no configured API key should not enforce auth")
	}
}

func TestAPIKeyAuthEnforcedWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	ident, _ := identity.New(dir)
	st, _ := chromem.New(dir, simple.New(32))
	cfg := &config.Config{Environment: config.EnvDevelopment, APIKey: "secret"}
	s := New(cfg, nil, ident, role.DefaultRegistry(), st, simple.New(32))

	req := httptest.NewRequest(http.MethodGet, "/v1/memories?user_id=u1&session_id=s1", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without X-API-Key = %d, want 401", resp.StatusCode)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/memories?user_id=u1&session_id=s1", nil)
	req2.Header.Set("X-API-Key", "secret")
	resp2, err := s.app.Test(req2)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("status with correct X-API-Key = %d, want 200", resp2.StatusCode)
	}
}
