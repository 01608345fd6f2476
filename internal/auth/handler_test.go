package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/craftmarket/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Stub service
// ---------------------------------------------------------------------------

type stubService struct {
	user     *models.User
	token    string
	err      error
	lastRole string
}

func (s *stubService) Register(_ context.Context, email, _, displayName, role string) (*models.User, error) {
	s.lastRole = role
	if s.err != nil {
		return nil, s.err
	}
	if s.user != nil {
		return s.user, nil
	}
	return &models.User{ID: uuid.New(), Email: email, DisplayName: displayName, Role: role}, nil
}

func (s *stubService) Login(context.Context, string, string) (string, error) {
	return s.token, s.err
}

func (s *stubService) ValidateToken(context.Context, string) (Identity, error) {
	return Identity{}, s.err
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHandler_Register(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"created", `{"email":"a@b.co","password":"password1","role":"seller"}`, nil, http.StatusCreated},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"missing fields", `{"email":"a@b.co"}`, nil, http.StatusBadRequest},
		{"duplicate", `{"email":"a@b.co","password":"password1","role":"seller"}`, ErrDuplicateEmail, http.StatusConflict},
		{"bad role", `{"email":"a@b.co","password":"password1","role":"root"}`, ErrInvalidRole, http.StatusUnprocessableEntity},
		{"store down", `{"email":"a@b.co","password":"password1","role":"seller"}`, errors.New("conn reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&stubService{err: tc.err}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_RegisterBodyOmitsPasswordHash(t *testing.T) {
	h := NewHandler(&stubService{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"a@b.co","password":"password1","role":"buyer","display_name":"A"}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["role"] != "buyer" || got["display_name"] != "A" {
		t.Errorf("unexpected body: %v", got)
	}
	if _, ok := got["password_hash"]; ok {
		t.Error("password hash leaked into response")
	}
}

func TestHandler_Login(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := NewHandler(&stubService{token: "tok"}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.co","password":"p"}`))
		rec := httptest.NewRecorder()
		h.Login(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token != "tok" {
			t.Errorf("unexpected body %q (err %v)", rec.Body.String(), err)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		h := NewHandler(&stubService{err: ErrInvalidCredentials}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.co","password":"p"}`))
		rec := httptest.NewRecorder()
		h.Login(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}
