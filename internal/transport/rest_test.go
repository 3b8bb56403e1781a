package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/openquant/gyconnect/errs"
)

func TestGetAttachesAuthHeaders(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewHTTPRESTClient(RESTOptions{
		BaseURL: server.URL,
		Auth:    APIKeyAuth{Key: "k", Secret: "s"},
	})

	body, err := client.Get(context.Background(), "/tx/own", nil, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotKey != "k" {
		t.Errorf("api-key header = %q, want k", gotKey)
	}
	if len(body) == 0 {
		t.Error("expected response body")
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   errs.Code
	}{
		{http.StatusServiceUnavailable, errs.CodeUnavailable},
		{http.StatusNotFound, errs.CodeNotFound},
		{http.StatusUnauthorized, errs.CodeAuth},
		{http.StatusTooManyRequests, errs.CodeRateLimited},
		{http.StatusBadRequest, errs.CodeInvalid},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("boom"))
		}))
		client := NewHTTPRESTClient(RESTOptions{BaseURL: server.URL})

		_, err := client.Get(context.Background(), "/markets", url.Values{}, false)
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		e, ok := errs.AsE(err)
		if !ok {
			t.Fatalf("status %d: expected errs envelope, got %v", tc.status, err)
		}
		if e.Code != tc.code {
			t.Errorf("status %d: code = %s, want %s", tc.status, e.Code, tc.code)
		}
		if e.HTTP != tc.status {
			t.Errorf("status %d: http = %d", tc.status, e.HTTP)
		}
		if e.RawMsg != "boom" {
			t.Errorf("status %d: raw msg = %q", tc.status, e.RawMsg)
		}
	}
}

func TestContextCancellationPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewHTTPRESTClient(RESTOptions{BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/slow", nil, false)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := errs.AsE(err); ok {
		t.Errorf("cancellation must not be wrapped into an envelope, got %v", err)
	}
}

func TestPostEncodesJSONBody(t *testing.T) {
	var gotBody string
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		gotType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTPRESTClient(RESTOptions{BaseURL: server.URL})
	_, err := client.Post(context.Background(), "/tx/order", map[string]string{"offer_token": "ADA"}, false)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
	if gotBody != `{"offer_token":"ADA"}` {
		t.Errorf("body = %q", gotBody)
	}
}
