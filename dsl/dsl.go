// Package dsl loads flow definitions from YAML files.
package dsl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/model"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// flowNamespace seeds the IDs of flows whose file omits one, so that a flow
// keeps its ID (and its watermark) across restarts.
var flowNamespace = uuid.MustParse("5b0c3d6e-7f1a-4e8b-9c2d-1a3f5e7b9d0c")

// Parse reads a YAML flow file.
func Parse(path string) (*model.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data)
}

// ParseFromString is ParseBytes for a string.
func ParseFromString(yamlStr string) (*model.Flow, error) {
	return ParseBytes([]byte(yamlStr))
}

// ParseBytes checks the document against the flow schema and decodes it.
// Step positions and the flow ID are filled in when omitted.
func ParseBytes(data []byte) (*model.Flow, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	var flow model.Flow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&flow); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	Normalize(&flow)
	return &flow, nil
}

// Normalize assigns positions 1..n when none are given and derives a stable
// flow ID from the name when the ID is missing.
func Normalize(flow *model.Flow) {
	if flow.ID == uuid.Nil {
		flow.ID = uuid.NewSHA1(flowNamespace, []byte(flow.Name))
	}
	unset := true
	for _, s := range flow.Steps {
		if s.Position != 0 {
			unset = false
			break
		}
	}
	for i := range flow.Steps {
		if unset {
			flow.Steps[i].Position = i + 1
		}
		flow.Steps[i].FlowID = flow.ID
	}
}

// Load parses a flow file and runs the semantic checks against reg.
func Load(path string, reg *app.Registry) (*model.Flow, error) {
	flow, err := Parse(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if errs := Lint(flow, reg); len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.Join(errs...))
	}
	return flow, nil
}

// LoadDir loads every .yaml and .yml file in dir, sorted by file name.
// A missing directory yields no flows.
func LoadDir(dir string, reg *app.Registry) ([]*model.Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var flows []*model.Flow
	seen := map[uuid.UUID]string{}
	for _, name := range names {
		flow, err := Load(filepath.Join(dir, name), reg)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[flow.ID]; dup {
			return nil, fmt.Errorf("%s: flow id %s already used by %s", name, flow.ID, other)
		}
		seen[flow.ID] = name
		flows = append(flows, flow)
	}
	return flows, nil
}

// FlowToYAML renders a flow back to its file form.
func FlowToYAML(flow *model.Flow) ([]byte, error) {
	return yaml.Marshal(flow)
}

// toJSONValue normalizes a YAML document into the shapes encoding/json
// produces, which is what the schema validator expects.
func toJSONValue(doc any) (any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
