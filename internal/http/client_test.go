package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected method POST, got %s", r.Method)
		}
		if r.URL.Path != "/rest/api/2/issue" {
			t.Errorf("Expected path /rest/api/2/issue, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %s", r.Header.Get("Content-Type"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "analyst" || pass != "token" {
			t.Errorf("Expected basic auth analyst/token, got %s/%s (%v)", user, pass, ok)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"key":"SOC-1"}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithBaseURL(server.URL+"/rest/api/2"),
		WithBasicAuth("analyst", "token"),
	)

	req := NewRequest("POST", "/issue").WithBody(map[string]string{"summary": "x"})

	resp, err := client.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Error executing request: %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status code %d, got %d", http.StatusCreated, resp.StatusCode)
	}
	if resp.BodyString() != `{"key":"SOC-1"}` {
		t.Errorf("Unexpected body %s", resp.BodyString())
	}
	if resp.ResponseTime <= 0 {
		t.Error("Expected positive response time")
	}
}

func TestClient_WithOptions(t *testing.T) {
	timeout := 10 * time.Second
	baseURL := "https://tracker.example.com"

	client := NewClient(
		WithTimeout(timeout),
		WithBaseURL(baseURL),
		WithHeader("X-Test", "test-value"),
	)

	if client.Timeout() != timeout {
		t.Errorf("Expected timeout %v, got %v", timeout, client.Timeout())
	}
	if client.BaseURL() != baseURL {
		t.Errorf("Expected baseURL %s, got %s", baseURL, client.BaseURL())
	}
	if client.headers["X-Test"] != "test-value" {
		t.Errorf("Expected header X-Test: test-value, got %s", client.headers["X-Test"])
	}
}

func TestClient_TimeoutIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithTimeout(20*time.Millisecond))

	_, err := client.Do(context.Background(), NewRequest("GET", "/slow"))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("Expected IsTimeout to be true, got error %v", err)
	}
}

func TestIsTimeout_Nil(t *testing.T) {
	if IsTimeout(nil) {
		t.Error("nil error is not a timeout")
	}
}
