package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/model"
)

// Locator reports whether an executable can be found without building it.
type Locator interface {
	Locate(name string) error
}

// Validate checks def and returns nil or a joined error of *ValidationError.
// A nil loc skips the executable lookup.
func Validate(ctx context.Context, def *model.WorkflowDefinition, loc Locator) error {
	logger := ctxlog.FromContext(ctx)
	if def == nil {
		return errors.Join(&ValidationError{StageIndex: WorkflowLevel, Reason: "definition is nil"})
	}

	v := &validator{}
	v.checkWorkflow(def)
	v.checkIndices(def.Stages)
	v.checkExecutables(def.Ordered(), loc)
	for _, s := range def.Ordered() {
		v.checkLinks(s)
	}

	if len(v.errs) > 0 {
		logger.Debug("Workflow definition rejected.", "workflow", def.Name, "violations", len(v.errs))
		return errors.Join(v.errs...)
	}
	logger.Debug("Workflow definition is valid.", "workflow", def.Name, "stages", len(def.Stages))
	return nil
}

type validator struct {
	errs []error
}

func (v *validator) add(stage int, field, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{
		StageIndex: stage,
		Field:      field,
		Reason:     fmt.Sprintf(format, args...),
	})
}

func (v *validator) checkWorkflow(def *model.WorkflowDefinition) {
	if strings.TrimSpace(def.Name) == "" {
		v.add(WorkflowLevel, "name", "must not be empty")
	}
	if def.Version == "" {
		v.add(WorkflowLevel, "version", "must not be empty")
	} else if _, err := version.NewSemver(def.Version); err != nil {
		v.add(WorkflowLevel, "version", "%q is not a semantic version", def.Version)
	}
}

// checkIndices requires the declared indices to be a permutation of 0..N-1.
func (v *validator) checkIndices(stages []*model.StageDefinition) {
	n := len(stages)
	seen := make(map[int]bool, n)
	for pos, s := range stages {
		if s == nil {
			v.add(WorkflowLevel, fmt.Sprintf("stages[%d]", pos), "stage is nil")
			continue
		}
		switch {
		case s.Index < 0 || s.Index >= n:
			v.add(s.Index, "index", "out of range 0..%d", n-1)
		case seen[s.Index]:
			v.add(s.Index, "index", "declared more than once")
		}
		seen[s.Index] = true
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			v.add(i, "index", "missing; indices must be contiguous from 0")
		}
	}
}

func (v *validator) checkExecutables(stages []*model.StageDefinition, loc Locator) {
	located := make(map[string]error)
	for _, s := range stages {
		name := strings.TrimSpace(s.Executable)
		if name == "" {
			v.add(s.Index, "executable", "must not be empty")
			continue
		}
		if loc == nil {
			continue
		}
		err, done := located[name]
		if !done {
			err = loc.Locate(name)
			located[name] = err
		}
		if err != nil {
			v.add(s.Index, "executable", "cannot locate %q: %v", name, err)
		}
	}
}

func (v *validator) checkLinks(s *model.StageDefinition) {
	for _, name := range s.LinkedInputNames() {
		field := "linked_input." + name
		if _, dup := s.Inputs[name]; dup {
			v.add(s.Index, field, "also declared as a literal input")
		}

		li := s.LinkedInputs[name]
		switch li.Kind {
		case model.LinkSingle:
			if len(li.Links) != 1 {
				v.add(s.Index, field, "single link holds %d links", len(li.Links))
				continue
			}
			v.checkLink(s.Index, field, li.Links[0])
		case model.LinkList:
			for j, l := range li.Links {
				v.checkLink(s.Index, fmt.Sprintf("%s[%d]", field, j), l)
			}
		default:
			v.add(s.Index, field, "invalid shape: %s", li.Problem)
		}
	}
}

func (v *validator) checkLink(owner int, field string, l model.StageLink) {
	switch {
	case l.Stage < 0:
		v.add(owner, field, "references negative stage %d", l.Stage)
	case l.Stage == owner:
		v.add(owner, field, "references its own stage")
	case l.Stage > owner:
		v.add(owner, field, "forward reference to stage %d", l.Stage)
	}
	if strings.TrimSpace(l.Field) == "" {
		v.add(owner, field, "output field must not be empty")
	}
}
