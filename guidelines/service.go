package guidelines

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/mcpservice"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// Resource URIs exposed by the service.
const (
	IndexResourceURI    = "nccn://guidelines-index"
	IndexRawResourceURI = "nccn://guidelines-index/raw"
)

// Config is the environment-driven configuration of the guidelines service.
type Config struct {
	IndexPath   string `env:"NCCN_INDEX_FILE,default=nccn_guidelines_index.yaml"`
	DownloadDir string `env:"NCCN_DOWNLOAD_DIR,default=downloads"`
	Username    string `env:"NCCN_USERNAME,default="`
	Password    string `env:"NCCN_PASSWORD,default="`
}

// Service wires the guidelines collaborator into MCP tools and resources:
// get_index, download_pdf and extract_content tools plus the index resources.
type Service struct {
	store      *Store
	downloader *Downloader
	watcher    *Watcher
	log        *slog.Logger

	tools     *mcpservice.ToolsContainer
	resources *mcpservice.ResourcesContainer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger used by the service and its parts.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService builds the guidelines service from config.
func NewService(cfg Config, opts ...ServiceOption) *Service {
	s := &Service{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.store = NewStore(cfg.IndexPath, WithStoreLogger(s.log))
	dlOpts := []DownloaderOption{WithDownloaderLogger(s.log)}
	if cfg.Username != "" && cfg.Password != "" {
		dlOpts = append(dlOpts, WithCredentials(cfg.Username, cfg.Password))
	}
	s.downloader = NewDownloader(cfg.DownloadDir, dlOpts...)
	s.watcher = NewWatcher(s.store, WithWatcherLogger(s.log))

	s.tools = mcpservice.NewToolsContainer(
		s.getIndexTool(),
		s.downloadPDFTool(),
		s.extractContentTool(),
	)
	s.resources = mcpservice.NewResourcesContainer(s.resourceDefs()...)

	return s
}

// Tools returns the tools capability.
func (s *Service) Tools() *mcpservice.ToolsContainer { return s.tools }

// Resources returns the resources capability.
func (s *Service) Resources() *mcpservice.ResourcesContainer { return s.resources }

// Store returns the index store.
func (s *Service) Store() *Store { return s.store }

// Run loads the index and watches it for changes until ctx is canceled.
// Index changes re-publish the resource set so listChanged reaches clients.
func (s *Service) Run(ctx context.Context) error {
	if err := s.store.Reload(ctx); err != nil {
		// The server still comes up without an index; tools surface the
		// failure per call.
		s.log.WarnContext(ctx, "guidelines.service.index_unavailable", slog.String("err", err.Error()))
	}
	if s.downloader.Authenticated() {
		s.log.InfoContext(ctx, "guidelines.service.auth_configured")
	} else {
		s.log.WarnContext(ctx, "guidelines.service.auth_missing")
	}

	sub := s.watcher.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				s.resources.Replace(ctx, s.resourceDefs()...)
			}
		}
	}()

	return s.watcher.Run(ctx)
}

type downloadArgs struct {
	URL string `json:"url" jsonschema:"required,description=URL of the PDF file to download"`
}

type extractArgs struct {
	PDFPath string `json:"pdf_path" jsonschema:"required,description=Path to the PDF file; relative paths resolve against the downloads directory"`
	Pages   string `json:"pages,omitempty" jsonschema:"description=Page selection such as 1;3;5-7 written with commas; negative numbers index from the end; empty extracts all pages"`
}

func (s *Service) getIndexTool() mcpservice.StaticTool {
	return mcpservice.NewTool("get_index",
		func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[struct{}]) error {
			raw, err := s.store.Raw(ctx)
			if err != nil {
				w.SetError(true)
				return w.AppendText(fmt.Sprintf("Error reading guidelines index: %v", err))
			}
			return w.AppendText(string(raw))
		},
		mcpservice.WithToolDescription("Get the raw contents of the NCCN guidelines index YAML file."),
	)
}

func (s *Service) downloadPDFTool() mcpservice.StaticTool {
	return mcpservice.NewTool("download_pdf",
		func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[downloadArgs]) error {
			res, err := s.downloader.DownloadPDF(ctx, r.Args().URL)
			if err != nil {
				msg := fmt.Sprintf("Failed to download PDF: %v", err)
				if !s.downloader.Authenticated() {
					msg += " NCCN credentials are not configured; set NCCN_USERNAME and NCCN_PASSWORD for authenticated downloads."
				}
				w.SetError(true)
				return w.AppendText(msg)
			}
			if res.Skipped {
				return w.AppendText(fmt.Sprintf("PDF already downloaded: %s (filename: %s)", res.Path, res.Filename))
			}
			return w.AppendText(fmt.Sprintf("PDF downloaded successfully: %s (filename: %s)", res.Path, res.Filename))
		},
		mcpservice.WithToolDescription("Download a PDF from a URL into the downloads directory, using NCCN credentials when configured. Existing files are not re-fetched."),
	)
}

func (s *Service) extractContentTool() mcpservice.StaticTool {
	return mcpservice.NewTool("extract_content",
		func(ctx context.Context, _ sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[extractArgs]) error {
			path, err := s.resolvePDFPath(r.Args().PDFPath)
			if err != nil {
				w.SetError(true)
				return w.AppendText(err.Error())
			}
			pages, err := ExtractPages(ctx, path, r.Args().Pages, func(done, total int) {
				_ = w.SendProgress(float64(done), float64(total))
			})
			if err != nil {
				w.SetError(true)
				return w.AppendText(fmt.Sprintf("Error extracting content from PDF: %v", err))
			}
			text := RenderPages(pages)
			if text == "" {
				w.SetError(true)
				return w.AppendText(fmt.Sprintf("No content extracted from %s", path))
			}
			return w.AppendText(text)
		},
		mcpservice.WithToolDescription("Extract text from specific pages of a downloaded PDF. Pages accepts selections like 1,3,5-7 with negative indexing from the end; omit to extract every page."),
	)
}

// resolvePDFPath resolves a tool-supplied path: absolute paths pass through,
// relative paths try the downloads directory first, then the path as given.
func (s *Service) resolvePDFPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("pdf_path is required")
	}
	if filepath.IsAbs(p) {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("PDF file not found: %s", p)
		}
		return p, nil
	}
	inDownloads := filepath.Join(s.downloader.Dir(), p)
	if _, err := os.Stat(inDownloads); err == nil {
		return inDownloads, nil
	}
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("PDF file not found: %s", p)
}

func (s *Service) resourceDefs() []mcpservice.StaticResource {
	return []mcpservice.StaticResource{
		{
			Descriptor: mcp.Resource{
				URI:         IndexResourceURI,
				Name:        "NCCN Guidelines Index",
				Description: "All available NCCN guidelines organized by category with their URLs.",
				MimeType:    "text/plain",
			},
			ReadFunc: func(ctx context.Context, _ sessions.Session, uri string) ([]mcp.ResourceContents, error) {
				digest, err := s.store.Digest(ctx)
				if err != nil {
					return []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: fmt.Sprintf("Error loading guidelines: %v", err)}}, nil
				}
				return []mcp.ResourceContents{{URI: uri, MimeType: "text/plain", Text: digest}}, nil
			},
		},
		{
			Descriptor: mcp.Resource{
				URI:         IndexRawResourceURI,
				Name:        "NCCN Guidelines Index (raw YAML)",
				MimeType:    "application/yaml",
			},
			ReadFunc: func(ctx context.Context, _ sessions.Session, uri string) ([]mcp.ResourceContents, error) {
				raw, err := s.store.Raw(ctx)
				if err != nil {
					return nil, err
				}
				return []mcp.ResourceContents{{URI: uri, MimeType: "application/yaml", Text: string(raw)}}, nil
			},
		},
	}
}
