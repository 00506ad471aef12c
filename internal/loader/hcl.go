package loader

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/stagegrid/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot is the HCL layout of a workflow file:
//
//	name    = "germline"
//	version = "1.2.0"
//
//	stage "0" {
//	  executable = "bwa_mem"
//	  folder     = "/align"
//	  input      = { reference = { "$dnanexus_link" = "file-xxxx" } }
//	}
//
//	stage "1" {
//	  executable   = "gatk"
//	  linked_input = { bam = { stage = 0, field = "bam" } }
//	}
type fileRoot struct {
	Name       string       `hcl:"name"`
	Version    string       `hcl:"version,optional"`
	Details    cty.Value    `hcl:"details,optional"`
	Properties cty.Value    `hcl:"properties,optional"`
	Tags       cty.Value    `hcl:"tags,optional"`
	Stages     []*stageBody `hcl:"stage,block"`
}

type stageBody struct {
	Index       string    `hcl:"index,label"`
	Executable  string    `hcl:"executable"`
	Folder      string    `hcl:"folder,optional"`
	Input       cty.Value `hcl:"input,optional"`
	LinkedInput cty.Value `hcl:"linked_input,optional"`
}

func loadHCL(src []byte, filename string) (*model.WorkflowDefinition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	// Content-based decoding rejects attributes and blocks outside the schema.
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	meta, err := buildMetadata(root.Details, root.Properties, root.Tags)
	if err != nil {
		return nil, err
	}
	def := &model.WorkflowDefinition{Name: root.Name, Version: root.Version, Metadata: meta}

	for _, sb := range root.Stages {
		index, err := strconv.Atoi(sb.Index)
		if err != nil {
			return nil, fmt.Errorf("stage label %q is not an integer index", sb.Index)
		}
		st, err := buildStage(index, sb.Executable, sb.Folder, sb.Input, sb.LinkedInput)
		if err != nil {
			return nil, err
		}
		def.Stages = append(def.Stages, st)
	}
	return def, nil
}
