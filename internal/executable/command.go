package executable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/model"
)

// ManifestFile is the applet manifest expected in every executable source.
const ManifestFile = "dxapp.json"

// DefaultCommand is the platform CLI used when CommandBuilder.Command is empty.
const DefaultCommand = "dx"

// Manifest is the part of dxapp.json the builder reads.
type Manifest struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
}

// ReadManifest parses the manifest of the executable source at dir.
func ReadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s in %s: %w", ManifestFile, dir, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%s in %s has no name", ManifestFile, dir)
	}
	return &m, nil
}

// FolderEnsurer creates a remote folder, treating an existing one as success.
type FolderEnsurer interface {
	EnsureFolder(ctx context.Context, project, folder string) error
}

// CommandError is a failed invocation of the platform CLI.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// CommandBuilder builds executables with `dx build`.
type CommandBuilder struct {
	// Command is the CLI binary; DefaultCommand when empty.
	Command string
	// Folders, when set, is asked to create the destination folder first.
	Folders FolderEnsurer
}

// Locate reports whether source holds a readable manifest.
func (b *CommandBuilder) Locate(source string) error {
	_, err := ReadManifest(source)
	return err
}

// Build runs the CLI and returns the new artifact id. In dry-run mode the CLI
// is still invoked with -n and a synthetic id is returned.
func (b *CommandBuilder) Build(ctx context.Context, req BuildRequest) (model.ArtifactID, error) {
	logger := ctxlog.FromContext(ctx)

	manifest, err := ReadManifest(req.Source)
	if err != nil {
		return "", err
	}

	if b.Folders != nil && !req.DryRun {
		if err := b.Folders.EnsureFolder(ctx, req.Destination.Project, req.Destination.Folder); err != nil {
			return "", fmt.Errorf("ensure folder %s: %w", req.Destination, err)
		}
	}

	dest := fmt.Sprintf("%s:%s", req.Destination.Project, path.Join(req.Destination.Folder, manifest.Name))
	command := b.Command
	if command == "" {
		command = DefaultCommand
	}
	args := []string{"build", req.Source, "-d=" + dest, "-f"}
	if req.DryRun {
		args = append(args, "-n")
	}
	logger.Debug("Running build command.", "command", command, "args", args)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Args:   append([]string{command}, args...),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	if req.DryRun {
		logger.Info("Dry-run build finished.", "output", strings.TrimSpace(stdout.String()))
		return model.ArtifactID("dryrun-" + manifest.Name), nil
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return "", fmt.Errorf("parse build output %q: %w", strings.TrimSpace(stdout.String()), err)
	}
	if out.ID == "" {
		return "", errors.New("build output has no id")
	}
	logger.Info("Executable build finished.", "name", manifest.Name, "artifact", out.ID)
	return model.ArtifactID(out.ID), nil
}
