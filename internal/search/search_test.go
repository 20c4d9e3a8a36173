package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/option"
)

func TestFilterByTLD(t *testing.T) {
	results := []Result{
		{URL: "https://bluebottlecoffee.com/about"},
		{URL: "https://example.de/page"},
		{URL: "https://wiki.org/Blue_Bottle"},
		{URL: "http://10.0.0.1/admin"},
		{URL: "https://shop.co.uk"},
		{URL: "https://startup.io"},
		{URL: "https://yelp.net/biz"},
		{URL: "https://extra.us"},
	}

	got := FilterByTLD(results, 5)
	if len(got) != 5 {
		t.Fatalf("Expected 5 results, got %d: %+v", len(got), got)
	}
	want := []string{
		"https://bluebottlecoffee.com/about",
		"https://wiki.org/Blue_Bottle",
		"https://shop.co.uk",
		"https://startup.io",
		"https://yelp.net/biz",
	}
	for i, w := range want {
		if got[i].URL != w {
			t.Errorf("result[%d] = %q, want %q", i, got[i].URL, w)
		}
	}
}

func TestFilterByTLD_Empty(t *testing.T) {
	if got := FilterByTLD(nil, 5); len(got) != 0 {
		t.Errorf("Expected no results, got %+v", got)
	}
	if got := FilterByTLD([]Result{{URL: "https://a.de"}}, 5); len(got) != 0 {
		t.Errorf("Expected no results, got %+v", got)
	}
}

func TestCleanSnippet(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"Visit <strong>Blue Bottle</strong> Coffee", "Visit Blue Bottle Coffee"},
		{"Tom &amp; Jerry's", "Tom & Jerry's"},
		{"  lots   of\n space ", "lots of space"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanSnippet(tt.in); got != tt.want {
			t.Errorf("CleanSnippet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBraveClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != braveSearchPath {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Subscription-Token") != "brave-key" {
			t.Error("Missing subscription token")
		}
		if q := r.URL.Query().Get("q"); q != "blue bottle company" {
			t.Errorf("q = %q", q)
		}
		if c := r.URL.Query().Get("count"); c != "10" {
			t.Errorf("count = %q", c)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]string{
					{"url": "https://bluebottlecoffee.com", "title": "<strong>Blue Bottle</strong>", "description": "Coffee roaster"},
				},
			},
		})
	}))
	defer server.Close()

	client, err := NewBraveClient("brave-key", server.URL)
	if err != nil {
		t.Fatalf("NewBraveClient failed: %v", err)
	}

	results, err := client.Search(context.Background(), "blue bottle company", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Blue Bottle" {
		t.Errorf("Title = %q, expected HTML stripped", results[0].Title)
	}
}

func TestBraveClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := NewBraveClient("k", server.URL)
	if _, err := client.Search(context.Background(), "x", 5); err == nil {
		t.Error("Expected error for 429 response")
	}
}

func TestNewBraveClient_RequiresKey(t *testing.T) {
	if _, err := NewBraveClient("", ""); err == nil {
		t.Error("Expected error without API key")
	}
}

func TestGoogleClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cx") != "engine" || q.Get("q") != "acme" || q.Get("num") != "10" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"link":"https://acme.com","title":"Acme","snippet":"Anvils &amp; more"}]}`))
	}))
	defer server.Close()

	client, err := NewGoogleClient(context.Background(), "key", "engine", option.WithEndpoint(server.URL+"/"))
	if err != nil {
		t.Fatalf("NewGoogleClient failed: %v", err)
	}

	results, err := client.Search(context.Background(), "acme", 25)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://acme.com" || results[0].Description != "Anvils & more" {
		t.Errorf("Unexpected results: %+v", results)
	}
}
