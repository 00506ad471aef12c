package executable

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/model"
)

// Target is the remote location an artifact is built into.
type Target struct {
	Project string
	Folder  string
}

func (t Target) String() string {
	return t.Project + ":" + t.Folder
}

// BuildRequest describes one artifact build.
type BuildRequest struct {
	// Name is the executable name as written in the workflow definition.
	Name string
	// Source is the local path of the executable's sources.
	Source      string
	Destination Target
	DryRun      bool
}

// Builder is the external build collaborator.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (model.ArtifactID, error)
}

// Locator is implemented by builders that can check a source exists without
// building it.
type Locator interface {
	Locate(source string) error
}

// ArtifactBuildError reports a failed build of a named executable.
type ArtifactBuildError struct {
	Name       string
	Diagnostic string
	Err        error
}

func (e *ArtifactBuildError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("build executable %q: %v: %s", e.Name, e.Err, e.Diagnostic)
	}
	return fmt.Sprintf("build executable %q: %v", e.Name, e.Err)
}

func (e *ArtifactBuildError) Unwrap() error { return e.Err }

// Options configures a Resolver.
type Options struct {
	// SourceRoot is prepended to relative executable names to find sources.
	SourceRoot  string
	Destination Target
	DryRun      bool
}

// Resolver memoizes artifact builds for the lifetime of a single build.
type Resolver struct {
	builder Builder
	opts    Options
	cache   *gocache.Cache
	mu      sync.Mutex
}

// NewResolver creates a Resolver with an empty cache.
func NewResolver(b Builder, opts Options) *Resolver {
	return &Resolver{
		builder: b,
		opts:    opts,
		cache:   gocache.New(gocache.NoExpiration, 0),
	}
}

// Source returns the local source path of an executable name.
func (r *Resolver) Source(name string) string {
	if filepath.IsAbs(name) || r.opts.SourceRoot == "" {
		return name
	}
	return filepath.Join(r.opts.SourceRoot, name)
}

// Resolve returns the artifact for name, building it on first use.
func (r *Resolver) Resolve(ctx context.Context, name string) (model.ArtifactID, error) {
	logger := ctxlog.FromContext(ctx).With("executable", name)

	// Held across the build so concurrent callers never build a name twice.
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache.Get(name); ok {
		if id, ok := v.(model.ArtifactID); ok {
			logger.Debug("Executable already built, reusing artifact.", "artifact", id)
			return id, nil
		}
	}

	req := BuildRequest{
		Name:        name,
		Source:      r.Source(name),
		Destination: r.opts.Destination,
		DryRun:      r.opts.DryRun,
	}
	logger.Info("Building executable.", "source", req.Source, "destination", req.Destination.String(), "dry_run", req.DryRun)
	id, err := r.builder.Build(ctx, req)
	if err != nil {
		return "", &ArtifactBuildError{Name: name, Diagnostic: diagnostic(err), Err: err}
	}
	if id == "" {
		return "", &ArtifactBuildError{Name: name, Err: errors.New("builder returned an empty artifact id")}
	}

	r.cache.Set(name, id, gocache.NoExpiration)
	logger.Info("Executable built.", "artifact", id)
	return id, nil
}

// Locate checks that name can be built, without building it. Builders that
// cannot check report every name as locatable.
func (r *Resolver) Locate(name string) error {
	if _, ok := r.cache.Get(name); ok {
		return nil
	}
	if l, ok := r.builder.(Locator); ok {
		return l.Locate(r.Source(name))
	}
	return nil
}

// Artifacts returns a snapshot of the artifacts built so far.
func (r *Resolver) Artifacts() map[string]model.ArtifactID {
	out := make(map[string]model.ArtifactID)
	for name, item := range r.cache.Items() {
		if id, ok := item.Object.(model.ArtifactID); ok {
			out[name] = id
		}
	}
	return out
}

func diagnostic(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stderr
	}
	return ""
}
