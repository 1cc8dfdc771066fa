// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package transform converts a message element tree from one platform's
// vocabulary to another's.
//
// Conversion is table driven: a [Table] maps each element [element.Kind] to
// a [Handler] for one [Direction]. Nodes whose kind has no handler are
// dropped. Handlers that fetch remote content degrade to text placeholders
// on failure, and a handler that errors or panics only loses its own node.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/relaybridge/pkg/element"
)

// Direction names a source and destination platform pair.
type Direction struct {
	From string
	To   string
}

func (d Direction) String() string {
	return d.From + "->" + d.To
}

// Handler converts one node. It returns the replacement nodes, which may be
// empty. Returned errors drop the node.
type Handler func(ctx context.Context, c *Call, node element.Element) ([]element.Element, error)

// Table is the handler set for one direction.
type Table map[element.Kind]Handler

// Options configure an Engine.
type Options struct {
	// MaxForwardDepth bounds how many nested forward bundles are expanded.
	// Deeper bundles collapse into their header placeholder.
	MaxForwardDepth int
	// Concurrency is the number of sibling nodes converted in parallel.
	// Values below 2 convert sequentially.
	Concurrency int
	// FetchTimeout bounds each content fetch. Zero means no extra timeout.
	FetchTimeout time.Duration
	Labels       Labels
}

// Engine holds the direction tables.
type Engine struct {
	log    zerolog.Logger
	opts   Options
	tables map[Direction]Table
}

const defaultMaxForwardDepth = 5

// NewEngine creates an engine with no tables registered. Use
// [NewDefaultEngine] for the built-in platform tables.
func NewEngine(log zerolog.Logger, opts Options) *Engine {
	if opts.MaxForwardDepth <= 0 {
		opts.MaxForwardDepth = defaultMaxForwardDepth
	}
	opts.Labels = opts.Labels.WithDefaults()
	return &Engine{
		log:    log.With().Str("component", "transform").Logger(),
		opts:   opts,
		tables: make(map[Direction]Table),
	}
}

// Register installs the table for a direction, replacing any previous one.
func (e *Engine) Register(dir Direction, table Table) {
	e.tables[dir] = table
}

// Supports reports whether a table is registered for dir.
func (e *Engine) Supports(dir Direction) bool {
	_, ok := e.tables[dir]
	return ok
}

// Labels returns the placeholder labels in use.
func (e *Engine) Labels() Labels {
	return e.opts.Labels
}

// Transform converts nodes for dir. Output order follows input order.
// Directions without a table produce no output.
func (e *Engine) Transform(ctx context.Context, nodes []element.Element, dir Direction, sess Session) []element.Element {
	table, ok := e.tables[dir]
	if !ok {
		e.log.Warn().Stringer("direction", dir).Msg("No transform table for direction")
		return nil
	}
	if depth := element.ForwardDepth(nodes); depth > e.opts.MaxForwardDepth {
		e.log.Debug().
			Stringer("direction", dir).
			Int("forward_depth", depth).
			Int("max_forward_depth", e.opts.MaxForwardDepth).
			Int("nodes", element.Count(nodes)).
			Msg("Forward bundles nested deeper than the limit will collapse")
	}
	c := &Call{
		engine:  e,
		table:   table,
		session: sess,
		dir:     dir,
		log:     e.log.With().Stringer("direction", dir).Logger(),
	}
	return c.Transform(ctx, nodes)
}

// Call is the state of one Transform invocation, passed to handlers.
type Call struct {
	engine  *Engine
	table   Table
	session Session
	dir     Direction
	depth   int
	log     zerolog.Logger
}

// Depth returns the forward bundle nesting level of the current node.
func (c *Call) Depth() int { return c.depth }

// Labels returns the placeholder labels.
func (c *Call) Labels() Labels { return c.engine.opts.Labels }

// Session returns the source platform session. It may be nil.
func (c *Call) Session() Session { return c.session }

// Log returns the call's logger.
func (c *Call) Log() *zerolog.Logger { return &c.log }

// Fetch retrieves remote content through the session, applying the
// engine's fetch timeout.
func (c *Call) Fetch(ctx context.Context, url string) (*Media, error) {
	if c.session == nil {
		fetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: no session", ErrFetchFailed)
	}
	if url == "" {
		fetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: empty url", ErrFetchFailed)
	}
	if timeout := c.engine.opts.FetchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	media, err := c.session.Fetch(ctx, url)
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	fetchTotal.WithLabelValues("ok").Inc()
	return media, nil
}

// Nested returns a Call one forward bundle level deeper, or false when the
// depth bound has been reached.
func (c *Call) Nested() (*Call, bool) {
	if c.depth+1 > c.engine.opts.MaxForwardDepth {
		return nil, false
	}
	nested := *c
	nested.depth++
	return &nested, true
}

// Transform converts nodes at the call's current depth.
func (c *Call) Transform(ctx context.Context, nodes []element.Element) []element.Element {
	if len(nodes) == 0 {
		return nil
	}
	results := make([][]element.Element, len(nodes))
	if workers := c.engine.opts.Concurrency; workers > 1 && len(nodes) > 1 {
		var eg errgroup.Group
		eg.SetLimit(workers)
		for i, node := range nodes {
			eg.Go(func() error {
				results[i] = c.convert(ctx, node)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		for i, node := range nodes {
			results[i] = c.convert(ctx, node)
		}
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]element.Element, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func (c *Call) convert(ctx context.Context, node element.Element) (out []element.Element) {
	if node == nil {
		return nil
	}
	var kind element.Kind
	defer func() {
		if r := recover(); r != nil {
			nodesTotal.WithLabelValues(c.dir.String(), kind.String(), "failed").Inc()
			c.log.Error().
				Stringer("kind", kind).
				Any("panic", r).
				Msg("Element handler panicked")
			out = nil
		}
	}()

	kind = node.Kind()
	handler, ok := c.table[kind]
	if !ok {
		nodesTotal.WithLabelValues(c.dir.String(), kind.String(), "dropped").Inc()
		c.log.Trace().Stringer("kind", kind).Msg("Dropping unmapped element")
		return nil
	}

	out, err := handler(ctx, c, node)
	if err != nil {
		nodesTotal.WithLabelValues(c.dir.String(), kind.String(), "failed").Inc()
		c.log.Warn().Err(err).Stringer("kind", kind).Msg("Element handler failed")
		return nil
	}
	nodesTotal.WithLabelValues(c.dir.String(), kind.String(), "mapped").Inc()
	return out
}
