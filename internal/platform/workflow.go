package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/specialistvlad/stagegrid/internal/session"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

type newWorkflowBody struct {
	Project    string            `json:"project"`
	Folder     string            `json:"folder,omitempty"`
	Parents    bool              `json:"parents"`
	Name       string            `json:"name"`
	Title      string            `json:"title,omitempty"`
	Details    json.RawMessage   `json:"details,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
}

type versionReply struct {
	ID          string `json:"id"`
	EditVersion int    `json:"editVersion"`
}

type describeReply struct {
	ID          string `json:"id"`
	EditVersion int    `json:"editVersion"`
	State       string `json:"state"`
	Stages      []struct {
		ID string `json:"id"`
	} `json:"stages"`
}

type addStageBody struct {
	EditVersion int    `json:"editVersion"`
	Executable  string `json:"executable"`
	Folder      string `json:"folder,omitempty"`
}

type addStageReply struct {
	EditVersion int    `json:"editVersion"`
	Stage       string `json:"stage"`
}

type stageUpdate struct {
	Input json.RawMessage `json:"input"`
}

type updateBody struct {
	EditVersion int                    `json:"editVersion"`
	Stages      map[string]stageUpdate `json:"stages"`
}

// NewWorkflow implements session.Store.
func (c *Client) NewWorkflow(ctx context.Context, req session.NewWorkflowRequest) (string, int, error) {
	details, err := marshalValue(req.Details)
	if err != nil {
		return "", 0, fmt.Errorf("encode details: %w", err)
	}
	body := newWorkflowBody{
		Project:    req.Project,
		Folder:     req.Folder,
		Parents:    req.Folder != "",
		Name:       req.Name,
		Title:      req.Title,
		Details:    details,
		Properties: req.Properties,
		Tags:       req.Tags,
	}
	var out versionReply
	if err := c.post(ctx, "/workflow/new", body, &out); err != nil {
		return "", 0, err
	}
	if out.ID == "" {
		return "", 0, fmt.Errorf("workflow/new: reply has no id")
	}
	return out.ID, out.EditVersion, nil
}

// Describe implements session.Store.
func (c *Client) Describe(ctx context.Context, id string) (session.Description, error) {
	var out describeReply
	if err := c.post(ctx, "/"+id+"/describe", nil, &out); err != nil {
		return session.Description{}, err
	}
	desc := session.Description{ID: out.ID, EditVersion: out.EditVersion, Closed: out.State == "closed"}
	for _, st := range out.Stages {
		desc.StageIDs = append(desc.StageIDs, st.ID)
	}
	return desc, nil
}

// AddStage implements session.Store.
func (c *Client) AddStage(ctx context.Context, id string, editVersion int, req session.AddStageRequest) (string, int, error) {
	var out addStageReply
	body := addStageBody{EditVersion: editVersion, Executable: string(req.Executable), Folder: req.Folder}
	if err := c.post(ctx, "/"+id+"/addStage", body, &out); err != nil {
		return "", 0, err
	}
	return out.Stage, out.EditVersion, nil
}

// UpdateStageInputs implements session.Store.
func (c *Client) UpdateStageInputs(ctx context.Context, id string, editVersion int, stageID string, inputs cty.Value) (int, error) {
	raw, err := marshalValue(inputs)
	if err != nil {
		return 0, fmt.Errorf("encode inputs of %s: %w", stageID, err)
	}
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	body := updateBody{
		EditVersion: editVersion,
		Stages:      map[string]stageUpdate{stageID: {Input: raw}},
	}
	var out versionReply
	if err := c.post(ctx, "/"+id+"/update", body, &out); err != nil {
		return 0, err
	}
	return out.EditVersion, nil
}

// Close implements session.Store.
func (c *Client) Close(ctx context.Context, id string) error {
	return c.post(ctx, "/"+id+"/close", nil, nil)
}

func marshalValue(v cty.Value) (json.RawMessage, error) {
	if v.IsNull() || !v.IsWhollyKnown() {
		return nil, nil
	}
	return ctyjson.Marshal(v, v.Type())
}
