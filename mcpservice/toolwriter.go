package mcpservice

import (
	"context"
	"errors"
	"sync"

	"github.com/oncoref/nccn-mcp-go/mcp"
)

// ToolResponseWriter lets a tool handler compose its CallToolResult
// incrementally while optionally emitting progress notifications.
//
// It is safe for concurrent use within a single request. Writes after Result
// return ErrFinalized. SendProgress delegates to the ambient ProgressReporter
// when present and is a no-op otherwise.
type ToolResponseWriter interface {
	AppendText(text string) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	SetError(isError bool)
	SendProgress(progress, total float64) error
	// Result finalizes and returns the accumulated result. Idempotent.
	Result() *mcp.CallToolResult
}

// ErrFinalized is returned when writing after Result() was called.
var ErrFinalized = errors.New("result already finalized")

type toolResponseWriter struct {
	ctx context.Context

	mu        sync.Mutex
	finalized bool
	blocks    []mcp.ContentBlock
	isError   bool
}

var _ ToolResponseWriter = (*toolResponseWriter)(nil)

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	if text == "" {
		return nil
	}
	return w.AppendBlocks(mcp.ContentBlock{Type: "text", Text: text})
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.blocks = append(w.blocks, blocks...)
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	w.isError = isError
	w.mu.Unlock()
}

func (w *toolResponseWriter) SendProgress(progress, total float64) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if pr, ok := ProgressFrom(w.ctx); ok {
		return pr.Report(w.ctx, progress, total)
	}
	return nil
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	return &mcp.CallToolResult{
		Content: append([]mcp.ContentBlock(nil), w.blocks...),
		IsError: w.isError,
	}
}
