package router

import (
	"errors"
	"testing"
)

// TestRouterLongestPrefix tests that the most specific prefix wins
func TestRouterLongestPrefix(t *testing.T) {
	router := New[string]()
	router.MustAdd("/", "root")
	router.MustAdd("/api", "api")
	router.MustAdd("/api/v2", "v2")

	tests := []struct {
		path       string
		wantPrefix string
		wantH      string
	}{
		{"/api/v2/users", "/api/v2", "v2"},
		{"/api/v1/users", "/api", "api"},
		{"/api", "/api", "api"},
		{"/apiary", "/api", "api"},
		{"/index.html", "/", "root"},
		{"/", "/", "root"},
	}

	for _, tt := range tests {
		prefix, h, ok := router.Resolve(tt.path)
		if !ok {
			t.Errorf("Path %s: expected a match", tt.path)
			continue
		}
		if prefix != tt.wantPrefix || h != tt.wantH {
			t.Errorf("Path %s: expected %s/%s, got %s/%s", tt.path, tt.wantPrefix, tt.wantH, prefix, h)
		}
	}
}

// TestRouterNoMatch tests paths outside every prefix
func TestRouterNoMatch(t *testing.T) {
	router := New[string]()
	router.MustAdd("/api", "api")

	if _, _, ok := router.Resolve("/static/app.js"); ok {
		t.Error("Expected no match for /static/app.js")
	}
	if _, _, ok := router.Resolve(""); ok {
		t.Error("Expected no match for empty path")
	}
}

// TestRouterScanOrder tests descending length with lexicographic ties
func TestRouterScanOrder(t *testing.T) {
	router := New[int]()
	for i, p := range []string{"/b", "/", "/a", "/abc", "/ab"} {
		router.MustAdd(p, i)
	}

	want := []string{"/abc", "/ab", "/a", "/b", "/"}
	got := router.Prefixes()
	if len(got) != len(want) {
		t.Fatalf("Expected %d prefixes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// TestRouterDuplicate tests ambiguous registration
func TestRouterDuplicate(t *testing.T) {
	router := New[string]()
	router.MustAdd("/api", "first")

	err := router.Add("/api", "second")
	if !errors.Is(err, ErrAmbiguousMapping) {
		t.Fatalf("Expected ErrAmbiguousMapping, got %v", err)
	}
	if _, h, _ := router.Resolve("/api/x"); h != "first" {
		t.Errorf("Expected original handler to stay bound, got %s", h)
	}

	if err := router.Add("", "empty"); !errors.Is(err, ErrEmptyPrefix) {
		t.Errorf("Expected ErrEmptyPrefix, got %v", err)
	}
}

// TestRouterRemove tests unregistering a prefix
func TestRouterRemove(t *testing.T) {
	router := New[string]()
	router.MustAdd("/", "root")
	router.MustAdd("/api", "api")

	if !router.Remove("/api") {
		t.Fatal("Expected /api to be removed")
	}
	if router.Remove("/api") {
		t.Error("Expected second remove to report false")
	}
	if prefix, _, _ := router.Resolve("/api/x"); prefix != "/" {
		t.Errorf("Expected fallback to /, got %s", prefix)
	}
	if router.Len() != 1 {
		t.Errorf("Expected 1 prefix, got %d", router.Len())
	}
}

func BenchmarkRouterResolve(b *testing.B) {
	router := New[int]()
	for i, p := range []string{"/", "/api", "/api/v1", "/api/v2", "/static", "/admin", "/admin/users"} {
		router.MustAdd(p, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		router.Resolve("/api/v2/users/42")
	}
}
