package shield

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/botrule/kit"
)

func TestDefaultStack_Headers(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range DefaultStack(0) {
		r.Use(mw)
	}
	var traceInCtx string
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		traceInCtx = kit.GetTraceID(r.Context())
		w.WriteHeader(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	checks := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}

	traceID := w.Header().Get("X-Trace-ID")
	if len(traceID) != 8 {
		t.Errorf("X-Trace-ID: got %q (len %d), want 8 hex chars", traceID, len(traceID))
	}
	if traceInCtx != traceID {
		t.Errorf("trace id in context %q != header %q", traceInCtx, traceID)
	}
}

func TestHeadToGet(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HeadToGet)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("HEAD", "/health", nil))
	if w.Code != 200 {
		t.Fatalf("HEAD: got %d, want 200", w.Code)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("0123456789abcdef")))

	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("read error: got %v, want *http.MaxBytesError", readErr)
	}
}

func TestMaxBody_Disabled(t *testing.T) {
	var n int
	h := MaxBody(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		n = len(b)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 4096))))
	if n != 4096 {
		t.Fatalf("read %d bytes, want 4096", n)
	}
}
