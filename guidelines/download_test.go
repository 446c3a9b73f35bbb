package guidelines

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadPDFWritesFile(t *testing.T) {
	body := []byte("%PDF-1.4 fake content")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	dir := t.TempDir()
	d := NewDownloader(dir)

	res, err := d.DownloadPDF(context.Background(), ts.URL+"/guidelines/breast.pdf")
	if err != nil {
		t.Fatalf("DownloadPDF: %v", err)
	}
	if res.Skipped {
		t.Fatal("fresh download reported as skipped")
	}
	if res.Filename != "breast.pdf" {
		t.Errorf("Filename = %q, want breast.pdf", res.Filename)
	}
	got, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("downloaded content mismatch")
	}
}

func TestDownloadPDFSkipsExisting(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer ts.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "breast.pdf"), []byte("existing"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	d := NewDownloader(dir)
	res, err := d.DownloadPDF(context.Background(), ts.URL+"/breast.pdf")
	if err != nil {
		t.Fatalf("DownloadPDF: %v", err)
	}
	if !res.Skipped {
		t.Error("existing file should short-circuit the fetch")
	}
	if hits != 0 {
		t.Errorf("server hit %d times, want 0", hits)
	}
}

func TestDownloadPDFSendsBasicAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice@example.com" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer ts.Close()

	d := NewDownloader(t.TempDir(), WithCredentials("alice@example.com", "secret"))
	if !d.Authenticated() {
		t.Fatal("Authenticated should be true with credentials set")
	}
	if _, err := d.DownloadPDF(context.Background(), ts.URL+"/auth.pdf"); err != nil {
		t.Fatalf("DownloadPDF with credentials: %v", err)
	}
}

func TestDownloadPDFUnauthorized(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	d := NewDownloader(t.TempDir())
	_, err := d.DownloadPDF(context.Background(), ts.URL+"/locked.pdf")
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/guidelines/breast.pdf", "breast.pdf"},
		{"https://example.com/guidelines/breast.pdf?version=3", "breast.pdf"},
		{"https://example.com/guidelines/nsclc", "nsclc.pdf"},
	}
	for _, tc := range cases {
		got, err := filenameFromURL(tc.url)
		if err != nil {
			t.Errorf("filenameFromURL(%q): %v", tc.url, err)
			continue
		}
		if got != tc.want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}

	for _, bad := range []string{"ftp://example.com/x.pdf", "https://example.com/", "::bad::"} {
		if got, err := filenameFromURL(bad); err == nil {
			t.Errorf("filenameFromURL(%q) = %q, want error", bad, got)
		}
	}
}
