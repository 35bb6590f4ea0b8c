package flow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the editable wire form of a flow, stored as JSON and
// importable from YAML.
type Definition struct {
	StartNodeID string    `json:"startNodeId,omitempty" yaml:"startNodeId,omitempty"`
	Nodes       []NodeDef `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDef `json:"edges" yaml:"edges"`
}

type NodeDef struct {
	ID        string        `json:"id" yaml:"id"`
	Blocks    []BlockDef    `json:"blocks" yaml:"blocks"`
	Condition *ConditionDef `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type BlockDef struct {
	Type     string `json:"type" yaml:"type"`
	Content  string `json:"content,omitempty" yaml:"content,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Caption  string `json:"caption,omitempty" yaml:"caption,omitempty"`
	FileName string `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Seconds  int    `json:"seconds,omitempty" yaml:"seconds,omitempty"`
}

type ConditionDef struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// EdgeDef connects two nodes. SourceHandle is empty for an unconditional
// edge, "true" or "false" for a branch of the source node's condition.
type EdgeDef struct {
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}

const (
	handleTrue  = "true"
	handleFalse = "false"
)

// ParseDefinition decodes a definition from JSON, or from YAML when the
// payload is not a JSON object.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &def); err != nil {
			return Definition{}, fmt.Errorf("decode flow json: %w", err)
		}
		return def, nil
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("decode flow yaml: %w", err)
	}
	return def, nil
}

// Compile validates def and builds its executable graph. fallbackStart is
// used when the definition names no start node.
func Compile(def Definition, fallbackStart string) (*Graph, error) {
	start := strings.TrimSpace(def.StartNodeID)
	if start == "" {
		start = strings.TrimSpace(fallbackStart)
	}
	if start == "" {
		return nil, fmt.Errorf("%w: start node id is required", ErrInvalidDefinition)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("%w: flow has no nodes", ErrInvalidDefinition)
	}

	g := &Graph{StartNodeID: start, nodes: make(map[string]*Node, len(def.Nodes))}
	for i, nd := range def.Nodes {
		node, err := compileNode(i, nd)
		if err != nil {
			return nil, err
		}
		if _, dup := g.nodes[node.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidDefinition, node.ID)
		}
		g.nodes[node.ID] = node
	}
	if _, ok := g.nodes[start]; !ok {
		return nil, fmt.Errorf("%w: start node %q not found", ErrInvalidDefinition, start)
	}

	type branches struct {
		unconditional string
		trueTarget    string
		falseTarget   string
	}
	out := make(map[string]*branches, len(g.nodes))
	for i, ed := range def.Edges {
		source := strings.TrimSpace(ed.Source)
		target := strings.TrimSpace(ed.Target)
		src, ok := g.nodes[source]
		if !ok {
			return nil, fmt.Errorf("%w: edge %d source %q not found", ErrInvalidDefinition, i, source)
		}
		if _, ok := g.nodes[target]; !ok {
			return nil, fmt.Errorf("%w: edge %d target %q not found", ErrInvalidDefinition, i, target)
		}
		b := out[source]
		if b == nil {
			b = &branches{}
			out[source] = b
		}
		switch strings.ToLower(strings.TrimSpace(ed.SourceHandle)) {
		case "":
			// first unconditional edge wins
			if b.unconditional == "" {
				b.unconditional = target
			}
		case handleTrue:
			if src.Condition == nil {
				return nil, fmt.Errorf("%w: edge %d uses a branch handle on node %q without condition", ErrInvalidDefinition, i, source)
			}
			if b.trueTarget != "" {
				return nil, fmt.Errorf("%w: node %q has more than one true branch", ErrInvalidDefinition, source)
			}
			b.trueTarget = target
		case handleFalse:
			if src.Condition == nil {
				return nil, fmt.Errorf("%w: edge %d uses a branch handle on node %q without condition", ErrInvalidDefinition, i, source)
			}
			if b.falseTarget != "" {
				return nil, fmt.Errorf("%w: node %q has more than one false branch", ErrInvalidDefinition, source)
			}
			b.falseTarget = target
		default:
			return nil, fmt.Errorf("%w: edge %d has unknown source handle %q", ErrInvalidDefinition, i, ed.SourceHandle)
		}
	}

	for id, node := range g.nodes {
		b := out[id]
		switch {
		case b != nil && b.unconditional != "":
			node.Edge = Unconditional{Target: b.unconditional}
		case node.Condition != nil:
			c := Conditional{Predicate: node.Condition}
			if b != nil {
				c.TrueTarget = b.trueTarget
				c.FalseTarget = b.falseTarget
			}
			node.Edge = c
		}
	}
	return g, nil
}

func compileNode(i int, nd NodeDef) (*Node, error) {
	id := strings.TrimSpace(nd.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: node %d has no id", ErrInvalidDefinition, i)
	}
	node := &Node{ID: id, Blocks: make([]Block, 0, len(nd.Blocks))}
	for j, bd := range nd.Blocks {
		block, err := compileBlock(bd)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q block %d: %v", ErrInvalidDefinition, id, j, err)
		}
		node.Blocks = append(node.Blocks, block)
	}
	if nd.Condition != nil {
		switch strings.ToLower(strings.TrimSpace(nd.Condition.Type)) {
		case "contains":
			if nd.Condition.Value == "" {
				return nil, fmt.Errorf("%w: node %q contains condition has no value", ErrInvalidDefinition, id)
			}
			node.Condition = Contains{Value: nd.Condition.Value}
		default:
			return nil, fmt.Errorf("%w: node %q has unknown condition type %q", ErrInvalidDefinition, id, nd.Condition.Type)
		}
	}
	return node, nil
}

func compileBlock(bd BlockDef) (Block, error) {
	block := Block{
		Type:     BlockType(strings.ToLower(strings.TrimSpace(bd.Type))),
		Content:  bd.Content,
		URL:      strings.TrimSpace(bd.URL),
		Caption:  bd.Caption,
		FileName: bd.FileName,
		MimeType: bd.MimeType,
	}
	switch block.Type {
	case BlockText:
		if strings.TrimSpace(block.Content) == "" {
			return Block{}, fmt.Errorf("text block has no content")
		}
	case BlockImage, BlockAttachment:
		if block.URL == "" {
			return Block{}, fmt.Errorf("%s block has no url", block.Type)
		}
	case BlockTimer:
		if bd.Seconds <= 0 {
			return Block{}, fmt.Errorf("timer block needs a positive duration")
		}
		block.Delay = time.Duration(bd.Seconds) * time.Second
	default:
		return Block{}, fmt.Errorf("unknown block type %q", bd.Type)
	}
	return block, nil
}
