package platform

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

type objectQuery struct {
	Project string `json:"project"`
	Folder  string `json:"folder"`
	Name    string `json:"name"`
}

type resolveBody struct {
	Objects []objectQuery `json:"objects"`
}

type resolveReply struct {
	Results [][]struct {
		Project string `json:"project"`
		ID      string `json:"id"`
	} `json:"results"`
}

// ResolveLink implements inputs.LinkResolver. References that carry an id are
// returned without an API call; project paths are looked up.
func (c *Client) ResolveLink(ctx context.Context, ref model.ObjectRef) (cty.Value, error) {
	if ref.ID != "" {
		return inputs.ObjectLinkValue(ref), nil
	}
	if ref.Project == "" || ref.Path == "" {
		return cty.NilVal, fmt.Errorf("object reference needs a project and a path")
	}

	p := path.Clean("/" + ref.Path)
	query := objectQuery{Project: ref.Project, Folder: path.Dir(p), Name: path.Base(p)}
	var out resolveReply
	if err := c.post(ctx, "/system/resolveDataObjects", resolveBody{Objects: []objectQuery{query}}, &out); err != nil {
		return cty.NilVal, err
	}

	var matches []model.ObjectRef
	if len(out.Results) > 0 {
		for _, r := range out.Results[0] {
			matches = append(matches, model.ObjectRef{ID: r.ID, Project: r.Project})
		}
	}
	switch len(matches) {
	case 0:
		return cty.NilVal, fmt.Errorf("no object at %s:%s", ref.Project, p)
	case 1:
		ctxlog.FromContext(ctx).Debug("Resolved object path.", "project", ref.Project, "path", p, "id", matches[0].ID)
		return inputs.ObjectLinkValue(matches[0]), nil
	default:
		return cty.NilVal, fmt.Errorf("%d objects at %s:%s", len(matches), ref.Project, p)
	}
}

type newFolderBody struct {
	Folder  string `json:"folder"`
	Parents bool   `json:"parents"`
}

// EnsureFolder creates folder in project, parents included. An existing folder
// is not an error.
func (c *Client) EnsureFolder(ctx context.Context, project, folder string) error {
	err := c.post(ctx, "/"+project+"/newFolder", newFolderBody{Folder: folder, Parents: true}, nil)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		ctxlog.FromContext(ctx).Info("Folder already exists.", "project", project, "folder", folder)
		return nil
	}
	return err
}
