package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/oncoref/nccn-mcp-go/mcp"
	"github.com/oncoref/nccn-mcp-go/sessions"
)

// ResourceReadFunc materializes the contents of one resource at read time.
type ResourceReadFunc func(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error)

// StaticResource pairs a resource descriptor with its reader. Contents wins
// over ReadFunc when both are set.
type StaticResource struct {
	Descriptor mcp.Resource
	Contents   []mcp.ResourceContents
	ReadFunc   ResourceReadFunc
}

// TextResource is a convenience constructor for a fixed text resource.
func TextResource(uri, name, mimeType, text string) StaticResource {
	return StaticResource{
		Descriptor: mcp.Resource{URI: uri, Name: name, MimeType: mimeType},
		Contents:   []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}},
	}
}

// ResourcesContainer owns a mutable, threadsafe set of resources. It
// implements ResourcesCapability directly and embeds a ChangeNotifier for
// listChanged support.
type ResourcesContainer struct {
	mu        sync.RWMutex
	resources []StaticResource

	notifier ChangeNotifier

	pageSize int
}

// NewResourcesContainer constructs a container with the given resources.
func NewResourcesContainer(defs ...StaticResource) *ResourcesContainer {
	rc := &ResourcesContainer{pageSize: 50}
	rc.Replace(context.Background(), defs...)
	return rc
}

// Replace atomically swaps the resource set.
func (rc *ResourcesContainer) Replace(_ context.Context, defs ...StaticResource) {
	rc.mu.Lock()
	rc.resources = append(rc.resources[:0:0], defs...)
	rc.mu.Unlock()
	go func() { _ = rc.notifier.Notify(context.Background()) }()
}

// Subscriber implements ChangeSubscriber.
func (rc *ResourcesContainer) Subscriber() <-chan struct{} {
	return rc.notifier.Subscriber()
}

// ListResources implements ResourcesCapability with offset-cursor pagination.
func (rc *ResourcesContainer) ListResources(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Resource], error) {
	rc.mu.RLock()
	all := make([]mcp.Resource, len(rc.resources))
	for i := range rc.resources {
		all[i] = rc.resources[i].Descriptor
	}
	pageSize := rc.pageSize
	rc.mu.RUnlock()

	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]mcp.Resource, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[mcp.Resource](fmt.Sprintf("%d", end))), nil
	}
	return NewPage(items), nil
}

// ReadResource implements ResourcesCapability.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, session sessions.Session, uri string) ([]mcp.ResourceContents, error) {
	rc.mu.RLock()
	var res *StaticResource
	for i := range rc.resources {
		if rc.resources[i].Descriptor.URI == uri {
			res = &rc.resources[i]
			break
		}
	}
	rc.mu.RUnlock()
	if res == nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	if res.Contents != nil {
		return append([]mcp.ResourceContents(nil), res.Contents...), nil
	}
	if res.ReadFunc != nil {
		return res.ReadFunc(ctx, session, uri)
	}
	return nil, fmt.Errorf("resource has no contents: %s", uri)
}

// GetListChangedCapability always reports support in static mode.
func (rc *ResourcesContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ResourceListChangedCapability, bool, error) {
	return resourceListChangedFromSubscriber{sub: rc}, true, nil
}

var _ ResourcesCapability = (*ResourcesContainer)(nil)

type resourceListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (r resourceListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyResourceChangeFunc) (bool, error) {
	if r.sub == nil || fn == nil {
		return false, nil
	}
	ch := r.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session, "")
			}
		}
	}()
	return true, nil
}
