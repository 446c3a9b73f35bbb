package guidelines

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Downloader fetches guideline PDFs into a local directory. When NCCN
// credentials are configured they are sent as basic auth; anonymous fetches
// are attempted otherwise.
type Downloader struct {
	client   *http.Client
	dir      string
	username string
	password string
	log      *slog.Logger
}

// DownloadResult reports where a PDF landed.
type DownloadResult struct {
	// Path is the absolute or dir-relative path of the file on disk.
	Path string
	// Filename is the name the file was stored under.
	Filename string
	// Skipped is true when the file already existed and the fetch was
	// short-circuited.
	Skipped bool
	// Bytes is the size written (0 when skipped).
	Bytes int64
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithCredentials sets the NCCN basic-auth credentials.
func WithCredentials(username, password string) DownloaderOption {
	return func(d *Downloader) {
		d.username = username
		d.password = password
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(d *Downloader) {
		if c != nil {
			d.client = c
		}
	}
}

// WithDownloaderLogger sets the downloader's logger.
func WithDownloaderLogger(l *slog.Logger) DownloaderOption {
	return func(d *Downloader) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDownloader builds a downloader writing into dir.
func NewDownloader(dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client: &http.Client{Timeout: 2 * time.Minute},
		dir:    dir,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Authenticated reports whether credentials are configured.
func (d *Downloader) Authenticated() bool {
	return d.username != "" && d.password != ""
}

// Dir returns the download directory.
func (d *Downloader) Dir() string { return d.dir }

// DownloadPDF fetches the PDF at rawURL into the download directory. An
// existing file with the same derived name short-circuits the fetch.
func (d *Downloader) DownloadPDF(ctx context.Context, rawURL string) (*DownloadResult, error) {
	filename, err := filenameFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	dest := filepath.Join(d.dir, filename)
	if _, err := os.Stat(dest); err == nil {
		d.log.InfoContext(ctx, "guidelines.download.skip_existing", slog.String("path", dest))
		return &DownloadResult{Path: dest, Filename: filename, Skipped: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	if d.Authenticated() {
		req.SetBasicAuth(d.username, d.password)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer func() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("download %s: status %d (NCCN credentials may be required)", rawURL, resp.StatusCode)
		}
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	n, err := d.writeAtomic(dest, resp.Body)
	if err != nil {
		return nil, err
	}

	d.log.InfoContext(ctx, "guidelines.download.ok",
		slog.String("url", rawURL),
		slog.String("path", dest),
		slog.Int64("bytes", n),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return &DownloadResult{Path: dest, Filename: filename, Bytes: n}, nil
}

// writeAtomic stages the body in a temp file and renames it into place so a
// failed download never leaves a truncated PDF behind.
func (d *Downloader) writeAtomic(dest string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(d.dir, ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("write download: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("finalize download: %w", err)
	}
	return n, nil
}

// filenameFromURL derives a safe local filename from the URL path.
func filenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive filename from URL %q", rawURL)
	}
	// Strip any separators that survived path.Base on odd inputs.
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name, nil
}
