package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{Token: "123:abc", BaseURL: srv.URL, HTTPClient: srv.Client(), Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestSendText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("chat_id") != "-100" || r.PostForm.Get("text") != "Good morning" {
			t.Fatalf("form = %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})
	if err := client.SendText(context.Background(), "-100", "Good morning"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
}

func TestSendPhotoUploadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kandinsky_20240501_080000.png")
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendPhoto" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("chat_id") != "-100" {
			t.Fatalf("chat_id = %q", r.FormValue("chat_id"))
		}
		f, header, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo missing: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "png-bytes" || header.Filename != "kandinsky_20240501_080000.png" {
			t.Fatalf("upload = %q (%s)", data, header.Filename)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if err := client.SendPhoto(context.Background(), "-100", path, ""); err != nil {
		t.Fatalf("SendPhoto returned error: %v", err)
	}
}

func TestSendVideoReportsAPIError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mp4")
	_ = os.WriteFile(path, []byte("mp4"), 0o644)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	})
	err := client.SendVideo(context.Background(), "-100", path, "")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error = %v", err)
	}
	if strings.Contains(err.Error(), "123:abc") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestOKFalseIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden"}`))
	})
	if err := client.SendText(context.Background(), "-100", "x"); err == nil {
		t.Fatalf("expected error for ok:false")
	}
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(Options{}); err != ErrMissingToken {
		t.Fatalf("error = %v, want ErrMissingToken", err)
	}
}
