package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/specialistvlad/stagegrid/internal/assembler"
	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/events"
	"github.com/specialistvlad/stagegrid/internal/executable"
	"github.com/specialistvlad/stagegrid/internal/graph"
	"github.com/specialistvlad/stagegrid/internal/inmemorystore"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/journal"
	"github.com/specialistvlad/stagegrid/internal/platform"
	"github.com/specialistvlad/stagegrid/internal/session"
	"github.com/specialistvlad/stagegrid/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

// ErrNoToken is returned when a run needs the platform API and no token is set.
var ErrNoToken = errors.New("api.token is not set (STAGEGRID_API_TOKEN); use --dry-run to build without the platform")

func (a *App) validate(ctx context.Context) error {
	def, err := a.loader.Load(ctx, a.config.Path)
	if err != nil {
		return err
	}
	resolver := executable.NewResolver(a.executableBuilder(nil), executable.Options{
		SourceRoot: a.sourceRoot(),
	})
	if err := graph.Validate(ctx, def, resolver); err != nil {
		return err
	}
	a.logger.Info("Workflow is valid.", "name", def.Name, "version", def.Version, "stages", len(def.Stages))
	return nil
}

func (a *App) build(ctx context.Context) error {
	def, err := a.loader.Load(ctx, a.config.Path)
	if err != nil {
		return err
	}
	appletTarget, err := a.target(config.KindApplet)
	if err != nil {
		return err
	}
	workflowTarget, err := a.target(config.KindWorkflow)
	if err != nil {
		return err
	}

	rem, err := a.remote()
	if err != nil {
		return err
	}
	defer a.closeQuietly("platform client", rem.close)

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter: a.settings.Tracing.Exporter,
		Endpoint: a.settings.Tracing.Endpoint,
		Insecure: a.settings.Tracing.Insecure,
		Output:   a.outW,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			a.logger.Warn("Failed to flush traces.", "error", err)
		}
	}()

	observers, closeObservers, err := a.observers(ctx)
	if err != nil {
		return err
	}
	defer closeObservers()

	resolver := executable.NewResolver(a.executableBuilder(rem.folders), executable.Options{
		SourceRoot:  a.sourceRoot(),
		Destination: executable.Target(appletTarget),
		DryRun:      a.config.DryRun,
	})
	sess := session.New(rem.store, session.Options{
		Project:     workflowTarget.Project,
		Folder:      workflowTarget.Folder,
		CallTimeout: a.config.CallTimeout,
		Tracer:      tp.Tracer("github.com/specialistvlad/stagegrid/internal/session"),
	})
	opts := []assembler.Option{assembler.WithTracer(tp.Tracer("github.com/specialistvlad/stagegrid/internal/assembler"))}
	for _, o := range observers {
		opts = append(opts, assembler.WithObserver(o))
	}
	asm := assembler.New(sess, resolver, inputs.NewResolver(rem.links), opts...)

	res, err := asm.Build(ctx, def)
	if err != nil {
		return err
	}
	if a.config.DryRun {
		a.logger.Info("Dry run: workflow was assembled in memory only.", "artifacts", len(resolver.Artifacts()))
	}
	a.logger.Info("Build complete.",
		"name", def.Name,
		"workflow_id", fmt.Sprintf("%s:%s", res.Workflow.Project, res.Workflow.ID),
		"build_id", res.BuildID)
	return nil
}

func (a *App) applet(ctx context.Context) error {
	target, err := a.target(config.KindApplet)
	if err != nil {
		return err
	}
	rem, err := a.remote()
	if err != nil {
		return err
	}
	defer a.closeQuietly("platform client", rem.close)

	resolver := executable.NewResolver(a.executableBuilder(rem.folders), executable.Options{
		Destination: executable.Target(target),
		DryRun:      a.config.DryRun,
	})
	id, err := resolver.Resolve(ctx, a.config.Path)
	if err != nil {
		return err
	}
	a.logger.Info("Build complete.", "source", a.config.Path, "applet_id", fmt.Sprintf("%s:%s", target.Project, id))
	return nil
}

// remote holds the collaborators that talk to the platform.
type remote struct {
	store   session.Store
	links   inputs.LinkResolver
	folders executable.FolderEnsurer
	close   func() error
}

// remote picks the platform client, the in-memory store for dry runs, or the
// collaborators injected with options.
func (a *App) remote() (*remote, error) {
	r := &remote{store: a.store, links: a.links, close: func() error { return nil }}
	if a.config.DryRun {
		if r.store == nil {
			r.store = inmemorystore.New()
		}
		if r.links == nil {
			r.links = inputs.PassthroughLinks{}
		}
		return r, nil
	}
	if r.store != nil && r.links != nil && a.builder != nil {
		return r, nil
	}
	if a.settings.API.Token == "" {
		return nil, ErrNoToken
	}

	client := platform.New(platform.Options{
		BaseURL: a.settings.API.URL,
		Token:   a.settings.API.Token,
		Timeout: a.config.CallTimeout,
	})
	if r.store == nil {
		r.store = client
	}
	if r.links == nil {
		r.links = client
	}
	r.folders = client
	r.close = client.Shutdown
	return r, nil
}

func (a *App) executableBuilder(folders executable.FolderEnsurer) executable.Builder {
	if a.builder != nil {
		return a.builder
	}
	return &executable.CommandBuilder{Command: a.settings.Builder.Command, Folders: folders}
}

// sourceRoot is builder.source_root, or the directory of the workflow file
// when unset.
func (a *App) sourceRoot() string {
	if a.settings.Builder.SourceRoot == "" {
		return filepath.Dir(a.config.Path)
	}
	return a.settingsRelative(a.settings.Builder.SourceRoot)
}

// settingsRelative resolves p against the directory of the settings file.
func (a *App) settingsRelative(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || a.settings.File == "" {
		return p
	}
	return filepath.Join(filepath.Dir(a.settings.File), p)
}

func (a *App) target(kind string) (config.Target, error) {
	t, err := a.settings.Target(a.config.Region, kind, a.config.Environment)
	if err != nil {
		return config.Target{}, err
	}
	a.logger.Debug("Build target selected.", "kind", kind, "region", a.config.Region,
		"environment", a.config.Environment, "project", t.Project, "folder", t.Folder)
	return t, nil
}

// observers opens the optional journal and event publisher. A journal that
// cannot be opened is an error; an unreachable event server is not.
func (a *App) observers(ctx context.Context) ([]assembler.Observer, func(), error) {
	var (
		out     []assembler.Observer
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			a.closeQuietly("observer", c)
		}
	}

	if p := a.settingsRelative(a.settings.Journal.Path); p != "" {
		j, err := journal.Open(ctx, p)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, j)
		closers = append(closers, j.Close)
	}

	if u := a.settings.Events.URL; u != "" {
		pub, err := events.Dial(ctx, a.eventOptions())
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Progress events disabled.", "url", u, "error", err)
		} else {
			out = append(out, pub)
			closers = append(closers, pub.Close)
		}
	}
	return out, closeAll, nil
}

func (a *App) eventOptions() events.Options {
	return events.Options{
		URL:                a.settings.Events.URL,
		Namespace:          a.settings.Events.Namespace,
		Token:              a.settings.Events.Token,
		InsecureSkipVerify: a.settings.Events.Insecure,
		ConnectTimeout:     a.settings.Events.Timeout,
	}
}

func (a *App) closeQuietly(what string, fn func() error) {
	if err := fn(); err != nil {
		a.logger.Warn("Failed to close "+what+".", "error", err)
	}
}

var (
	_ assembler.Session       = (*session.Session)(nil)
	_ assembler.InputResolver = (*inputs.Resolver)(nil)
	_ assembler.Executables   = (*executable.Resolver)(nil)
)
