package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"doctools/internal/services"
)

type fakeBaidu struct {
	tokenCalls atomic.Int32
	ocrCalls   atomic.Int32
	rejectOnce atomic.Bool
	lastForm   atomic.Value
}

func (f *fakeBaidu) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		q := r.URL.Query()
		if q.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant_type %q", q.Get("grant_type"))
		}
		if q.Get("client_id") != "key" || q.Get("client_secret") != "secret" {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client", "error_description": "unknown client id"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 2592000})
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		f.ocrCalls.Add(1)
		if r.URL.Query().Get("access_token") != "tok-1" {
			t.Errorf("missing access token in %s", r.URL.RawQuery)
		}
		if r.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.lastForm.Store(r.PostForm)
		if f.rejectOnce.CompareAndSwap(true, false) {
			_ = json.NewEncoder(w).Encode(map[string]any{"error_code": 111, "error_msg": "Access token expired"})
			return
		}
		if r.PostForm.Get("image") == base64.StdEncoding.EncodeToString([]byte("bad")) {
			_ = json.NewEncoder(w).Encode(map[string]any{"error_code": 216201, "error_msg": "image format error"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"log_id":       1,
			"words_result": []map[string]string{{"words": "hello"}, {"words": "world"}},
		})
	})
	return mux
}

func newTestEngine(t *testing.T, creds Credentials) (*BaiduEngine, *fakeBaidu) {
	t.Helper()
	fake := &fakeBaidu{}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	engine, err := NewBaiduEngine(creds,
		WithHTTPClient(server.Client()),
		WithEndpoints(server.URL+"/oauth/2.0/token", server.URL+"/ocr"),
	)
	if err != nil {
		t.Fatalf("NewBaiduEngine failed: %v", err)
	}
	return engine, fake
}

func TestBaiduRecognizeImage(t *testing.T) {
	engine, fake := newTestEngine(t, Credentials{APIKey: "key", SecretKey: "secret"})
	data := []byte{0x89, 'P', 'N', 'G', '+', '/'}

	result, err := engine.Recognize(context.Background(), Input{ID: "a.png", Kind: KindImage, Data: data})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if result.Text != "hello\nworld" || len(result.Lines) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	form := fake.lastForm.Load().(url.Values)
	if got := form["image"]; len(got) != 1 || got[0] != base64.StdEncoding.EncodeToString(data) {
		t.Fatalf("unexpected image field %v", got)
	}

	if _, err := engine.Recognize(context.Background(), Input{ID: "b.pdf", Kind: KindPDF, Data: []byte("%PDF")}); err != nil {
		t.Fatalf("Recognize pdf failed: %v", err)
	}
	form = fake.lastForm.Load().(url.Values)
	if _, ok := form["pdf_file"]; !ok {
		t.Fatalf("expected pdf_file field, got %v", form)
	}
	if fake.tokenCalls.Load() != 1 {
		t.Fatalf("expected token to be cached, got %d exchanges", fake.tokenCalls.Load())
	}
}

func TestBaiduRecognizeURL(t *testing.T) {
	engine, fake := newTestEngine(t, Credentials{APIKey: "key", SecretKey: "secret"})
	if _, err := engine.Recognize(context.Background(), Input{Kind: KindURL, URL: "https://example.com/a.png"}); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	form := fake.lastForm.Load().(url.Values)
	if got := form["url"]; len(got) != 1 || got[0] != "https://example.com/a.png" {
		t.Fatalf("unexpected url field %v", got)
	}
}

func TestBaiduRejectedKeys(t *testing.T) {
	engine, _ := newTestEngine(t, Credentials{APIKey: "wrong", SecretKey: "secret"})
	_, err := engine.Recognize(context.Background(), Input{Kind: KindImage, Data: []byte("x")})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBaiduErrorCode(t *testing.T) {
	engine, _ := newTestEngine(t, Credentials{APIKey: "key", SecretKey: "secret"})
	_, err := engine.Recognize(context.Background(), Input{Kind: KindImage, Data: []byte("bad")})
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestBaiduRefreshesExpiredToken(t *testing.T) {
	engine, fake := newTestEngine(t, Credentials{APIKey: "key", SecretKey: "secret"})
	fake.rejectOnce.Store(true)
	if _, err := engine.Recognize(context.Background(), Input{Kind: KindImage, Data: []byte("x")}); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if fake.tokenCalls.Load() != 2 || fake.ocrCalls.Load() != 2 {
		t.Fatalf("expected one refresh and retry, got %d tokens %d requests", fake.tokenCalls.Load(), fake.ocrCalls.Load())
	}
}

func TestBaiduTokenExpiry(t *testing.T) {
	engine, fake := newTestEngine(t, Credentials{APIKey: "key", SecretKey: "secret"})
	now := time.Now()
	engine.now = func() time.Time { return now }
	in := Input{Kind: KindImage, Data: []byte("x")}
	_, _ = engine.Recognize(context.Background(), in)
	now = now.Add(31 * 24 * time.Hour)
	_, _ = engine.Recognize(context.Background(), in)
	if fake.tokenCalls.Load() != 2 {
		t.Fatalf("expected expired token to be exchanged again, got %d", fake.tokenCalls.Load())
	}
}

func TestBaiduHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	engine, _ := NewBaiduEngine(Credentials{APIKey: "k", SecretKey: "s"}, WithEndpoints(server.URL, server.URL))
	_, err := engine.Recognize(context.Background(), Input{Kind: KindImage, Data: []byte("x")})
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewBaiduEngineRequiresCredentials(t *testing.T) {
	if _, err := NewBaiduEngine(Credentials{APIKey: "only"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEncodeFormRejectsEmptyPayload(t *testing.T) {
	if _, err := encodeForm(Input{Kind: KindImage}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := encodeForm(Input{Kind: "audio", Data: []byte("x")}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
