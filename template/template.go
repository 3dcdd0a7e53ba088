// Package template loads parameterized job-graph templates and builds
// concrete job graphs for submission to a worker, using a
// manifest-driven, clone-then-substitute approach.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pixelgrid/forge-orchestrator/forge"
)

// GraphNode is one node in a job graph: a class tag plus an inputs map
// whose values may contain placeholders of the form {{name}}.
type GraphNode struct {
	ID     string         `yaml:"id" json:"id"`
	Class  string         `yaml:"class" json:"class"`
	Inputs map[string]any `yaml:"inputs" json:"inputs"`
}

// Graph is an ordered collection of GraphNodes plus the edges between
// them, keyed by node id, with enough structure for adapter injection to
// rewire the model-output edge.
type Graph struct {
	Nodes []GraphNode       `yaml:"nodes" json:"nodes"`
	Edges map[string]string `yaml:"edges" json:"edges"` // consumer input key -> "nodeID.outputKey"
}

// Manifest entry describes one available template.
type ManifestEntry struct {
	Name           string   `yaml:"name"`
	ModelFamilies  []string `yaml:"model_families"`
	AcceptsImg2Img bool     `yaml:"accepts_img2img"`
	AcceptsAdapters bool    `yaml:"accepts_adapters"`
	Defaults       map[string]any `yaml:"defaults"`
	Graph          Graph    `yaml:"graph"`
}

type manifestFile struct {
	Templates []ManifestEntry `yaml:"templates"`
}

// Engine holds the loaded template manifest.
type Engine struct {
	entries []ManifestEntry
}

// LoadFile reads a YAML manifest naming every template, its supported
// model families, img2img/adapter flags, and parameter defaults.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template manifest %q: %w", path, err)
	}
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing template manifest %q: %w: %v", path, forge.ErrConfigError, err)
	}
	return &Engine{entries: f.Templates}, nil
}

// LoadAll returns every manifest entry, in manifest order.
func (e *Engine) LoadAll() []ManifestEntry {
	out := make([]ManifestEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Select deterministically returns the first manifest entry matching
// modelFamily, whose accepts-img2img flag is true when needsImg2Img is
// requested, and whose accepts-adapters flag is true when needsAdapters
// is requested.
func (e *Engine) Select(modelFamily string, needsImg2Img, needsAdapters bool) (string, error) {
	for _, entry := range e.entries {
		if !containsFamily(entry.ModelFamilies, modelFamily) {
			continue
		}
		if needsImg2Img && !entry.AcceptsImg2Img {
			continue
		}
		if needsAdapters && !entry.AcceptsAdapters {
			continue
		}
		return entry.Name, nil
	}
	return "", fmt.Errorf("model family %q, img2img=%v, adapters=%v: %w", modelFamily, needsImg2Img, needsAdapters, forge.ErrNotFound)
}

func containsFamily(families []string, target string) bool {
	for _, f := range families {
		if f == target {
			return true
		}
	}
	return false
}

func (e *Engine) entry(name string) (ManifestEntry, error) {
	for _, entry := range e.entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return ManifestEntry{}, fmt.Errorf("template %q: %w", name, forge.ErrNotFound)
}

var placeholderWholeValue = regexp.MustCompile(`^\{\{([a-zA-Z0-9_.]+)\}\}$`)
var placeholderInline = regexp.MustCompile(`\{\{([a-zA-Z0-9_.]+)\}\}`)

// Build substitutes placeholders in templateName's graph with values from
// params (falling back to the manifest entry's defaults), returning a
// fresh Graph. Any placeholder left unresolved fails with
// forge.ErrMissingParameter.
func (e *Engine) Build(templateName string, params map[string]any) (Graph, error) {
	entry, err := e.entry(templateName)
	if err != nil {
		return Graph{}, err
	}

	merged := make(map[string]any, len(entry.Defaults)+len(params))
	for k, v := range entry.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	out := Graph{
		Nodes: make([]GraphNode, len(entry.Graph.Nodes)),
		Edges: cloneEdges(entry.Graph.Edges),
	}
	for i, node := range entry.Graph.Nodes {
		substituted, err := substituteInputs(node.Inputs, merged)
		if err != nil {
			return Graph{}, fmt.Errorf("node %q: %w", node.ID, err)
		}
		out.Nodes[i] = GraphNode{ID: node.ID, Class: node.Class, Inputs: substituted}
	}
	return out, nil
}

func cloneEdges(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func substituteInputs(inputs map[string]any, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for key, val := range inputs {
		resolved, err := substituteValue(val, params)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

func substituteValue(val any, params map[string]any) (any, error) {
	s, ok := val.(string)
	if !ok {
		return val, nil
	}

	if m := placeholderWholeValue.FindStringSubmatch(s); m != nil {
		v, ok := params[m[1]]
		if !ok {
			return nil, fmt.Errorf("%q: %w", m[1], forge.ErrMissingParameter)
		}
		return v, nil
	}

	missing := ""
	result := placeholderInline.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderInline.FindStringSubmatch(match)[1]
		v, ok := params[name]
		if !ok {
			missing = name
			return match
		}
		return fmt.Sprintf("%v", v)
	})
	if missing != "" {
		return nil, fmt.Errorf("%q: %w", missing, forge.ErrMissingParameter)
	}
	return result, nil
}

// InjectAdapters inserts one adapter-loader node per spec between the
// model loader and its downstream consumers, chaining adapters in the
// order given. An empty adapter list is a no-op. Returns
// forge.ErrUnsupportedAdapter if templateName's manifest entry forbids
// adapters.
func (e *Engine) InjectAdapters(templateName string, graph Graph, adapters []forge.AdapterSpec) (Graph, error) {
	if len(adapters) == 0 {
		return graph, nil
	}

	entry, err := e.entry(templateName)
	if err != nil {
		return Graph{}, err
	}
	if !entry.AcceptsAdapters {
		return Graph{}, fmt.Errorf("template %q: %w", templateName, forge.ErrUnsupportedAdapter)
	}

	modelOutputRef, ok := findModelOutput(graph)
	if !ok {
		return Graph{}, fmt.Errorf("template %q has no model-loader node: %w", templateName, forge.ErrConfigError)
	}

	out := Graph{
		Nodes: append([]GraphNode{}, graph.Nodes...),
		Edges: cloneEdges(graph.Edges),
	}

	chainRef := modelOutputRef
	for i, spec := range adapters {
		nodeID := fmt.Sprintf("adapter_%d_%s", i, sanitize(spec.Adapter))
		out.Nodes = append(out.Nodes, GraphNode{
			ID:    nodeID,
			Class: "adapter_loader",
			Inputs: map[string]any{
				"adapter":  spec.Adapter,
				"strength": spec.Strength,
				"model_in": chainRef,
			},
		})
		chainRef = nodeID + ".model_out"
	}

	for consumerKey, ref := range out.Edges {
		if ref == modelOutputRef {
			out.Edges[consumerKey] = chainRef
		}
	}
	return out, nil
}

func findModelOutput(graph Graph) (string, bool) {
	for _, n := range graph.Nodes {
		if n.Class == "model_loader" {
			return n.ID + ".model_out", true
		}
	}
	return "", false
}

func sanitize(s string) string {
	return strings.NewReplacer(" ", "_", "/", "_", ".", "_").Replace(s)
}
