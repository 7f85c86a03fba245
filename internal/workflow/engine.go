// Package workflow implements the stage-ordered nudge pipeline: a small
// directed graph over named stages operating on one mutable
// domain.PipelineState per run. The graph definition is stateless and
// compiled once; per-run state lives only in the state record.
package workflow

import (
	"context"
	"log/slog"

	"github.com/guidepost-ai/guidepost/internal/core/domain"
)

// Node names a stage in the graph.
type Node string

const (
	NodeDiagnose Node = "diagnose"
	NodeCoach    Node = "coach"
	NodeDeliver  Node = "deliver"
	NodeEscalate Node = "escalate"
	// NodeEnd is the terminal node; it has no stage.
	NodeEnd Node = "end"
)

// Transition is the enumerated result of a routing decision. Edges are
// keyed by (node, transition), so routing never compares strings.
type Transition int

const (
	// TransitionStop routes to whatever the stop edge points at,
	// normally NodeEnd.
	TransitionStop Transition = iota
	// TransitionProceed routes to the next stage.
	TransitionProceed
)

// Stage is one unit of pipeline work. A stage receives the current
// state and returns a partial update; it reports internal failure by
// setting Error and Completed on the update, never by panicking or
// returning an error that could reach the stream consumer.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *domain.PipelineState) *domain.StateUpdate
}

// Router picks the transition to take after a node's stage has run.
type Router func(state *domain.PipelineState) Transition

// Engine executes the compiled graph. It is safe for reuse across runs:
// the engine itself is immutable after construction.
type Engine struct {
	entry   Node
	stages  map[Node]Stage
	routers map[Node]Router
	edges   map[Node]map[Transition]Node
	logger  *slog.Logger
}

// EngineConfig assembles an engine from nodes and edges.
type EngineConfig struct {
	Entry  Node
	Logger *slog.Logger
}

// NewEngine creates an empty engine with the given entry node.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		entry:   cfg.Entry,
		stages:  make(map[Node]Stage),
		routers: make(map[Node]Router),
		edges:   make(map[Node]map[Transition]Node),
		logger:  logger,
	}
}

// AddNode registers a stage under a node name.
func (e *Engine) AddNode(node Node, stage Stage) *Engine {
	e.stages[node] = stage
	return e
}

// AddRouter sets the routing function evaluated after a node's stage.
// Nodes without a router follow their TransitionProceed edge.
func (e *Engine) AddRouter(node Node, r Router) *Engine {
	e.routers[node] = r
	return e
}

// AddEdge wires a (node, transition) pair to the next node.
func (e *Engine) AddEdge(from Node, t Transition, to Node) *Engine {
	if e.edges[from] == nil {
		e.edges[from] = make(map[Transition]Node)
	}
	e.edges[from][t] = to
	return e
}

// Run executes the graph to a terminal state. Stage failures are
// contained: a stage that sets Error or Completed short-circuits all
// remaining routing, and Run itself never returns an error.
func (e *Engine) Run(ctx context.Context, state *domain.PipelineState) *domain.PipelineState {
	node := e.entry
	for node != NodeEnd {
		stage, ok := e.stages[node]
		if !ok {
			e.logger.Error("workflow node has no stage", slog.String("node", string(node)))
			break
		}

		update := stage.Run(ctx, state)
		state.Apply(update)

		if state.Completed || state.Error != "" {
			if state.Error != "" {
				e.logger.Warn("stage ended run",
					slog.String("stage", stage.Name()),
					slog.String("error", state.Error))
			}
			break
		}

		node = e.next(node, state)
	}

	state.Completed = true
	return state
}

func (e *Engine) next(node Node, state *domain.PipelineState) Node {
	t := TransitionProceed
	if r, ok := e.routers[node]; ok && r != nil {
		t = r(state)
	}
	to, ok := e.edges[node][t]
	if !ok {
		return NodeEnd
	}
	return to
}
