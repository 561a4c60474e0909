package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dms-go/internal/auth"
	"dms-go/internal/config"
	"dms-go/internal/dms"
	"dms-go/internal/testutil"
)

type testServer struct {
	router   *gin.Engine
	harness  *testutil.Harness
	verifier *auth.Verifier
}

func newTestServer(t *testing.T, limits config.SecurityConfig) *testServer {
	t.Helper()
	v, err := auth.NewVerifier(config.AuthConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	h := testutil.NewHarness(t)
	if limits.CodeRatePerMin == 0 {
		limits = config.SecurityConfig{CodeRatePerMin: 600, CodeBurst: 100}
	}
	return &testServer{
		router:   NewRouter(h.Service, v, limits, dms.NewNopLogger()),
		harness:  h,
		verifier: v,
	}
}

func (s *testServer) token(t *testing.T, email string) string {
	t.Helper()
	tok, err := s.verifier.Issue(email, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

// do sends a request and decodes a JSON response body into out when given.
func (s *testServer) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type errorBody struct {
	Error string `json:"error"`
}

func validEmail() dms.NewEmail {
	return dms.NewEmail{
		Subject:     "Hello",
		Body:        "Goodbye",
		Recipients:  "alice@example.com",
		Code:        "1234",
		CodeConfirm: "1234",
		Interval:    "1d",
	}
}

func TestCheckConnection(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{})
	req := httptest.NewRequest(http.MethodGet, "/check_connection", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("response has no request id")
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{})

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "garbage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			if code := s.do(t, http.MethodPost, "/login", tt.token, nil, &body); code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
			if body.Error == "" {
				t.Error("401 response has no error message")
			}
		})
	}

	t.Run("account must exist", func(t *testing.T) {
		tok := s.token(t, "stranger@example.com")
		if code := s.do(t, http.MethodGet, "/get_user_names", tok, nil, nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{})
	tok := s.token(t, "owner@example.com")

	var login map[string]string
	if code := s.do(t, http.MethodPost, "/login", tok, map[string]string{"email": "ignored@example.com"}, &login); code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}
	want := map[string]string{"first_name": "FirstName", "last_name": "LastName", "email": "owner@example.com"}
	for k, v := range want {
		if login[k] != v {
			t.Errorf("login[%s] = %q, want %q", k, login[k], v)
		}
	}

	var names namesResponse
	if code := s.do(t, http.MethodPost, "/change_name", tok, changeNameRequest{NewName: "Ada Lovelace"}, &names); code != http.StatusOK {
		t.Fatalf("change_name status = %d", code)
	}
	if names.FirstName != "Ada" || names.LastName != "Lovelace" {
		t.Errorf("change_name = %+v", names)
	}

	var errBody errorBody
	if code := s.do(t, http.MethodPost, "/change_name", tok, changeNameRequest{NewName: "Ada"}, &errBody); code != http.StatusBadRequest {
		t.Errorf("change_name single word status = %d, want 400", code)
	}
	if !strings.Contains(errBody.Error, "new_name") {
		t.Errorf("change_name error = %q", errBody.Error)
	}

	names = namesResponse{}
	if code := s.do(t, http.MethodGet, "/get_user_names", tok, nil, &names); code != http.StatusOK {
		t.Fatalf("get_user_names status = %d", code)
	}
	if names.FirstName != "Ada" || names.LastName != "Lovelace" {
		t.Errorf("get_user_names = %+v", names)
	}
}

func TestEmailLifecycle(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{})
	tok := s.token(t, "owner@example.com")
	s.do(t, http.MethodPost, "/login", tok, nil, nil)

	var created dms.EmailRecord
	if code := s.do(t, http.MethodPost, "/add_email_data", tok, validEmail(), &created); code != http.StatusOK {
		t.Fatalf("add_email_data status = %d", code)
	}
	if created.ID == "" || created.Subject != "Hello" {
		t.Fatalf("add_email_data = %+v", created)
	}

	t.Run("unlock", func(t *testing.T) {
		var out struct {
			Emails []dms.EmailRecord `json:"emails"`
		}
		if code := s.do(t, http.MethodPost, "/request_emails", tok, codeRequest{Code: "1234"}, &out); code != http.StatusOK {
			t.Fatalf("request_emails status = %d", code)
		}
		if len(out.Emails) != 1 || out.Emails[0].ID != created.ID {
			t.Errorf("request_emails = %+v", out.Emails)
		}
	})

	t.Run("wrong code returns empty list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/request_emails", strings.NewReader(`{"code":"0000"}`))
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if strings.TrimSpace(rec.Body.String()) != `{"emails":[]}` {
			t.Errorf("body = %s, want empty list", rec.Body.String())
		}
	})

	t.Run("change", func(t *testing.T) {
		body := map[string]any{
			"code":    "1234",
			"changes": []map[string]string{{"id": created.ID, "interval": "2d"}},
		}
		var out struct {
			Success []dms.Confirmed `json:"success"`
		}
		if code := s.do(t, http.MethodPost, "/change_email_data", tok, body, &out); code != http.StatusOK {
			t.Fatalf("change_email_data status = %d", code)
		}
		want := created.LastCheckin.AddDate(0, 0, 2)
		if len(out.Success) != 1 || !out.Success[0].IntervalNextSend.Equal(want) {
			t.Errorf("change_email_data = %+v, want next send %v", out.Success, want)
		}
	})

	t.Run("change unknown id", func(t *testing.T) {
		body := map[string]any{
			"code":    "1234",
			"changes": []map[string]string{{"id": "nope", "subject": "x"}},
		}
		if code := s.do(t, http.MethodPost, "/change_email_data", tok, body, nil); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("checkin", func(t *testing.T) {
		var out struct {
			Amount int `json:"amount"`
		}
		if code := s.do(t, http.MethodPost, "/checkin", tok, codeRequest{Code: "1234"}, &out); code != http.StatusOK {
			t.Fatalf("checkin status = %d", code)
		}
		if out.Amount != 1 {
			t.Errorf("amount = %d, want 1", out.Amount)
		}
	})

	t.Run("delete", func(t *testing.T) {
		req := deleteEmailRequest{ID: created.ID, Code: "1234"}
		var out map[string]string
		if code := s.do(t, http.MethodPost, "/delete_email_data", tok, req, &out); code != http.StatusOK {
			t.Fatalf("delete_email_data status = %d", code)
		}
		if out["success"] == "" {
			t.Errorf("delete_email_data = %v", out)
		}
		if code := s.do(t, http.MethodPost, "/delete_email_data", tok, req, nil); code != http.StatusNotFound {
			t.Errorf("second delete status = %d, want 404", code)
		}
	})
}

func TestAddEmailData_Validation(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{})
	tok := s.token(t, "owner@example.com")
	s.do(t, http.MethodPost, "/login", tok, nil, nil)

	tests := []struct {
		name      string
		mutate    func(*dms.NewEmail)
		wantField string
	}{
		{name: "interval", mutate: func(in *dms.NewEmail) { in.Interval = "weekly" }, wantField: "interval"},
		{name: "recipients", mutate: func(in *dms.NewEmail) { in.Recipients = "a@example.com,b" }, wantField: "2nd recipient"},
		{name: "mismatch", mutate: func(in *dms.NewEmail) { in.CodeConfirm = "9" }, wantField: "code_confirm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validEmail()
			tt.mutate(&in)
			var body errorBody
			if code := s.do(t, http.MethodPost, "/add_email_data", tok, in, &body); code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", code)
			}
			if !strings.Contains(body.Error, tt.wantField) {
				t.Errorf("error = %q, want mention of %q", body.Error, tt.wantField)
			}
		})
	}

	t.Run("interval beyond year 9999 keeps the partition readable", func(t *testing.T) {
		in := validEmail()
		in.Code, in.CodeConfirm = "far", "far"
		in.Interval = "1h"
		var kept dms.EmailRecord
		if code := s.do(t, http.MethodPost, "/add_email_data", tok, in, &kept); code != http.StatusOK {
			t.Fatalf("1h status = %d, want 200", code)
		}

		in.Interval = "8000Y"
		var body errorBody
		if code := s.do(t, http.MethodPost, "/add_email_data", tok, in, &body); code != http.StatusBadRequest {
			t.Fatalf("8000Y status = %d, want 400", code)
		}
		if !strings.Contains(body.Error, "interval") {
			t.Errorf("error = %q, want mention of interval", body.Error)
		}

		var out struct {
			Emails []dms.EmailRecord `json:"emails"`
		}
		if code := s.do(t, http.MethodPost, "/request_emails", tok, codeRequest{Code: "far"}, &out); code != http.StatusOK {
			t.Fatalf("request_emails status = %d", code)
		}
		if len(out.Emails) != 1 || out.Emails[0].ID != kept.ID {
			t.Errorf("request_emails = %+v, want only %s", out.Emails, kept.ID)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if code := s.do(t, http.MethodPost, "/add_email_data", tok, "{not json", nil); code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", code)
		}
	})
}

func TestCodeRateLimit(t *testing.T) {
	s := newTestServer(t, config.SecurityConfig{CodeRatePerMin: 1, CodeBurst: 2})
	tok := s.token(t, "owner@example.com")
	other := s.token(t, "other@example.com")
	s.do(t, http.MethodPost, "/login", tok, nil, nil)
	s.do(t, http.MethodPost, "/login", other, nil, nil)

	for i := 0; i < 2; i++ {
		if code := s.do(t, http.MethodPost, "/checkin", tok, codeRequest{Code: "x"}, nil); code != http.StatusOK {
			t.Fatalf("attempt %d status = %d, want 200", i+1, code)
		}
	}
	if code := s.do(t, http.MethodPost, "/request_emails", tok, codeRequest{Code: "x"}, nil); code != http.StatusTooManyRequests {
		t.Errorf("third attempt status = %d, want 429", code)
	}
	if code := s.do(t, http.MethodPost, "/checkin", other, codeRequest{Code: "x"}, nil); code != http.StatusOK {
		t.Errorf("other account status = %d, want 200", code)
	}
}

type failingService struct {
	Service
}

func (failingService) UserByEmail(_ context.Context, email string) (*dms.User, error) {
	return &dms.User{ID: "u1", Email: email}, nil
}

func (failingService) Unlock(context.Context, string, string) ([]*dms.EmailRecord, error) {
	return nil, errors.New("database is locked")
}

func TestInternalErrorsAreHidden(t *testing.T) {
	v, err := auth.NewVerifier(config.AuthConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	router := NewRouter(failingService{}, v, config.SecurityConfig{}, dms.NewNopLogger())
	s := &testServer{router: router, verifier: v}

	var body errorBody
	code := s.do(t, http.MethodPost, "/request_emails", s.token(t, "owner@example.com"), codeRequest{Code: "1"}, &body)
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if strings.Contains(body.Error, "locked") {
		t.Errorf("error leaks internals: %q", body.Error)
	}
}
