package config

import (
	"context"

	"github.com/specialistvlad/stagegrid/internal/model"
)

// Loader is the interface for a workflow definition loader.
type Loader interface {
	// Load reads the workflow file at path and translates it into the
	// format-agnostic model.
	Load(ctx context.Context, path string) (*model.WorkflowDefinition, error)
}
