package imagecache

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPrefetch_CachesBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	w := NewWarmer(time.Minute, nil)
	url := srv.URL + "/profile_photos/u1.jpg"
	w.Prefetch(url)
	w.Wait()

	body, ok := w.Get(url)
	if !ok || string(body) != "jpeg-bytes" {
		t.Fatalf("expected cached body, got %q ok=%v", body, ok)
	}

	w.Prefetch(url)
	w.Wait()
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected one download, got %d", got)
	}
}

func TestPrefetch_FailureIsSilent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	w := NewWarmer(time.Minute, nil)
	w.Prefetch(srv.URL + "/missing.jpg")
	w.Prefetch("")
	w.Wait()
	if _, ok := w.Get(srv.URL + "/missing.jpg"); ok {
		t.Fatal("failed download must not be cached")
	}
}

func TestGet_Expires(t *testing.T) {
	w := NewWarmer(time.Millisecond, nil)
	w.store["u"] = entry{body: []byte("x"), ts: time.Now().Add(-time.Second)}
	if _, ok := w.Get("u"); ok {
		t.Fatal("expected expired entry to be evicted")
	}
	if _, present := w.store["u"]; present {
		t.Fatal("expired entry still stored")
	}
}
