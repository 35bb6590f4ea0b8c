// Package flow advances contacts through a sector's conversational graph,
// one edge per inbound message.
package flow

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the sector has no active flow.
	ErrNotFound = errors.New("flow not found")
	// ErrInvalidDefinition indicates a definition that cannot be compiled.
	ErrInvalidDefinition = errors.New("invalid flow definition")
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockAttachment BlockType = "attachment"
	BlockTimer      BlockType = "timer"
)

// Block is one action of a node.
type Block struct {
	Type     BlockType
	Content  string
	URL      string
	Caption  string
	FileName string
	MimeType string
	Delay    time.Duration
}

// Predicate decides a conditional branch from the inbound content.
type Predicate interface {
	Match(content string) bool
}

// Contains is a case-sensitive substring predicate.
type Contains struct {
	Value string
}

func (c Contains) Match(content string) bool {
	return strings.Contains(content, c.Value)
}

// Edge is the outgoing transition of a node: Unconditional or Conditional.
type Edge interface {
	next(content string) (string, bool)
}

type Unconditional struct {
	Target string
}

func (e Unconditional) next(string) (string, bool) {
	return e.Target, e.Target != ""
}

// Conditional routes on Predicate. A missing branch target means no transition.
type Conditional struct {
	Predicate   Predicate
	TrueTarget  string
	FalseTarget string
}

func (e Conditional) next(content string) (string, bool) {
	target := e.FalseTarget
	if e.Predicate != nil && e.Predicate.Match(content) {
		target = e.TrueTarget
	}
	return target, target != ""
}

type Node struct {
	ID        string
	Blocks    []Block
	Condition Predicate
	Edge      Edge
}

// Next returns the node to move to for the given inbound content.
func (n *Node) Next(content string) (string, bool) {
	if n == nil || n.Edge == nil {
		return "", false
	}
	return n.Edge.next(content)
}

// Graph is a compiled flow.
type Graph struct {
	StartNodeID string
	nodes       map[string]*Node
}

func (g *Graph) Node(id string) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.nodes)
}
