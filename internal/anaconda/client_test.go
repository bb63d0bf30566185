package anaconda

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient points a Client at a test server with retries disabled
// enough to keep failures fast.
func newTestClient(ts *httptest.Server) *Client {
	return New(Options{
		BaseURL:       ts.URL,
		Timeout:       5 * time.Second,
		RetryDeadline: 100 * time.Millisecond,
	})
}

func TestAvailableVersionsFiltersAndSorts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/package/conda-forge/napari" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"versions": ["0.4.15", "0.4.17", "0.4.16", "0.4.18rc1"]}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	got, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge"}, false)
	if err != nil {
		t.Fatalf("AvailableVersions() failed: %v", err)
	}
	want := []string{"0.4.17", "0.4.16", "0.4.15"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AvailableVersions() = %v, want %v", got, want)
	}
}

func TestAvailableVersionsIncludeUnstable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"versions": ["0.4.17", "0.4.18rc1"]}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	got, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge"}, true)
	if err != nil {
		t.Fatalf("AvailableVersions() failed: %v", err)
	}
	want := []string{"0.4.18rc1", "0.4.17"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AvailableVersions() = %v, want %v", got, want)
	}
}

func TestAvailableVersionsMergesChannels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/package/conda-forge/napari":
			fmt.Fprint(w, `{"versions": ["0.4.16", "0.4.15"]}`)
		case "/package/custom/napari":
			fmt.Fprint(w, `{"versions": ["0.4.17", "0.4.16"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts)
	got, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge", "custom"}, false)
	if err != nil {
		t.Fatalf("AvailableVersions() failed: %v", err)
	}
	want := []string{"0.4.17", "0.4.16", "0.4.15"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AvailableVersions() = %v, want %v", got, want)
	}
}

func TestAvailableVersionsBuildFilter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
		  "versions": ["0.4.16", "0.4.17"],
		  "files": [
		    {"version": "0.4.16", "attrs": {"build": "py38_pyside_0"}},
		    {"version": "0.4.17", "attrs": {"build": "py38_pyqt_0"}}
		  ]
		}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	got, err := c.AvailableVersions(context.Background(), "napari", "*pyside*", []string{"conda-forge"}, false)
	if err != nil {
		t.Fatalf("AvailableVersions() failed: %v", err)
	}
	want := []string{"0.4.16"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AvailableVersions() with build filter = %v, want %v", got, want)
	}
}

func TestAvailableVersionsCachesResponses(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"versions": ["0.4.17"]}`)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	for i := 0; i < 3; i++ {
		if _, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge"}, false); err != nil {
			t.Fatalf("AvailableVersions() failed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("registry hit %d times, want 1 (cached)", hits.Load())
	}

	c.InvalidateCache()
	if _, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge"}, false); err != nil {
		t.Fatalf("AvailableVersions() after invalidation failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("registry hit %d times after invalidation, want 2", hits.Load())
	}
}

func TestAvailableVersionsRegistryFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	c := newTestClient(ts)
	if _, err := c.AvailableVersions(context.Background(), "nope", "", []string{"conda-forge"}, false); err == nil {
		t.Error("AvailableVersions() should fail when the registry returns 404")
	}
}

func TestAvailableVersionsNoChannels(t *testing.T) {
	c := New(Options{BaseURL: "http://unused.invalid"})
	if _, err := c.AvailableVersions(context.Background(), "napari", "", nil, false); err == nil {
		t.Error("AvailableVersions() should fail with no channels")
	}
}

func TestPluginsObjectAndArray(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/object":
			fmt.Fprint(w, `{"napari-svg": "0.1.6", "napari-console": "0.0.8"}`)
		case "/array":
			fmt.Fprint(w, `["napari-svg", "napari-console"]`)
		default:
			fmt.Fprint(w, `42`)
		}
	}))
	defer ts.Close()

	c := newTestClient(ts)
	want := []string{"napari-console", "napari-svg"}

	got, err := c.Plugins(context.Background(), ts.URL+"/object")
	if err != nil {
		t.Fatalf("Plugins(object) failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plugins(object) = %v, want %v", got, want)
	}

	got, err = c.Plugins(context.Background(), ts.URL+"/array")
	if err != nil {
		t.Fatalf("Plugins(array) failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plugins(array) = %v, want %v", got, want)
	}

	if _, err := c.Plugins(context.Background(), ts.URL+"/scalar"); err == nil {
		t.Error("Plugins() should reject a scalar payload")
	}

	got, err = c.Plugins(context.Background(), "")
	if err != nil || got != nil {
		t.Errorf("Plugins(\"\") = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"versions": ["0.4.17"]}`)
	}))
	defer ts.Close()

	c := New(Options{BaseURL: ts.URL, RetryDeadline: 5 * time.Second})
	got, err := c.AvailableVersions(context.Background(), "napari", "", []string{"conda-forge"}, false)
	if err != nil {
		t.Fatalf("AvailableVersions() failed after retry: %v", err)
	}
	if len(got) != 1 || got[0] != "0.4.17" {
		t.Errorf("AvailableVersions() = %v, want [0.4.17]", got)
	}
	if hits.Load() < 2 {
		t.Errorf("registry hit %d times, want at least 2 (one retry)", hits.Load())
	}
}
