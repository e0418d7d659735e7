// Package cdrengine wires the parser, classifier, pipeline, and sinks
// together into the streaming driver described in spec.md §4.11: parse
// lines as they arrive, cache legs by thread/GID, emit a call's legs to
// the configured sinks as soon as its group can be finalized, and evict
// the oldest cached group when the cache grows past a configured bound
// so a very large batch cannot exhaust memory before end-of-run drain.
package cdrengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shai-nadav/cdr-observatory/internal/cdrleg"
	"github.com/shai-nadav/cdr-observatory/internal/cdrmetrics"
	"github.com/shai-nadav/cdr-observatory/internal/cdrpipeline"
	"github.com/shai-nadav/cdr-observatory/internal/cdrrecord"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsink"
	"github.com/shai-nadav/cdr-observatory/internal/cdrsource"
)

// Options configures one Engine run.
type Options struct {
	Source cdrsource.Source
	State  *cdrpipeline.State
	Sinks  []cdrsink.Sink

	// MaxCachedLegs bounds the leg cache; once exceeded, the oldest group
	// (by earliest InLegConnectTime) is finalized and emitted early, even
	// though later-arriving records for it will no longer be folded in.
	// Zero disables bounded eviction — everything drains at end of run.
	MaxCachedLegs int

	// EarlyEmit enables completion-detection early emission (spec.md
	// §4.11): right after a record is stored, if its group's direction can
	// already be determined unambiguously — an external-caller group is
	// Incoming iff it has an internal destination and no forwarding
	// indication, otherwise it is deferred as possibly T2T — the group is
	// finalized and emitted immediately instead of waiting for eviction or
	// end-of-run drain.
	EarlyEmit bool

	Log zerolog.Logger
}

// Result summarizes one completed (or aborted) run.
type Result struct {
	LinesRead        int
	ParseErrors      int
	RecordsParsed    int
	CallsEmitted     int
	GroupsEvicted    int
	GroupsEarlyEmits int
	Aborted          bool
	Errors           []error
}

// Engine drives one batch of CDR input from Source to Sinks.
type Engine struct {
	opts    Options
	builder *cdrpipeline.Builder

	// emittedGroups records group keys already finalized via
	// completion-detection early emission, so a late-arriving record for
	// the same group (e.g. a HuntGroup supplement) is not silently folded
	// into a fresh, never-drained fragment under the same key.
	emittedGroups map[string]bool
}

// New constructs an Engine over the given options.
func New(opts Options) *Engine {
	return &Engine{
		opts:          opts,
		builder:       cdrpipeline.NewBuilder(opts.State),
		emittedGroups: make(map[string]bool),
	}
}

// Run consumes every line from Source, builds legs, evicts early when the
// cache is over budget, and drains everything remaining at end of run. It
// stops (Result.Aborted=true) on ctx cancellation or a fatal source error,
// but never on a per-line parse error — those are counted and skipped.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	log := e.opts.Log

	for {
		if err := ctx.Err(); err != nil {
			res.Aborted = true
			return res, nil
		}

		line, ok, err := e.opts.Source.Next(ctx)
		if err != nil {
			res.Aborted = true
			res.Errors = append(res.Errors, err)
			return res, fmt.Errorf("reading source: %w", err)
		}
		if !ok {
			break
		}
		res.LinesRead++
		cdrmetrics.LinesTotal.Inc()

		if line.Text == "" {
			continue
		}

		rec, parseErr, err := cdrrecord.Parse(line.Text, line.File, line.Num)
		if err != nil {
			res.Aborted = true
			res.Errors = append(res.Errors, err)
			return res, fmt.Errorf("parsing %s:%d: %w", line.File, line.Num, err)
		}
		if parseErr != nil {
			res.ParseErrors++
			cdrmetrics.ParseErrorsTotal.Inc()
			log.Warn().
				Str("source_file", parseErr.SourceFile).
				Int("source_line", parseErr.SourceLine).
				Str("reason", parseErr.Reason).
				Msg("skipping unparseable CDR line")
			continue
		}
		if rec == nil {
			continue // header/footer/unrecognized line, per spec
		}
		res.RecordsParsed++

		groupKey := cdrpipeline.GroupKeyFor(rec)
		if groupKey != "" && e.emittedGroups[groupKey] {
			log.Debug().Str("group_key", groupKey).Msg("dropping late record for an already early-emitted group")
			continue
		}

		e.builder.Handle(rec)
		cdrmetrics.LegsCached.Set(float64(e.opts.State.Cache.Count()))

		if e.opts.EarlyEmit && groupKey != "" && e.completionDetected(groupKey) {
			n, err := e.finalizeAndEmit(ctx, groupKey)
			if err != nil {
				res.Errors = append(res.Errors, err)
			}
			res.CallsEmitted += n
			res.GroupsEarlyEmits++
			e.emittedGroups[groupKey] = true
			cdrmetrics.EarlyEmitsTotal.Inc()
			cdrmetrics.LegsCached.Set(float64(e.opts.State.Cache.Count()))
		}

		if e.opts.MaxCachedLegs > 0 {
			for e.opts.State.Cache.Count() > e.opts.MaxCachedLegs {
				key, ok := e.opts.State.Cache.EarliestGroup()
				if !ok {
					break
				}
				n, err := e.finalizeAndEmit(ctx, key)
				if err != nil {
					res.Errors = append(res.Errors, err)
				}
				res.CallsEmitted += n
				res.GroupsEvicted++
				cdrmetrics.CacheEvictionsTotal.Inc()
				cdrmetrics.LegsCached.Set(float64(e.opts.State.Cache.Count()))
			}
		}
	}

	for _, key := range e.drainOrder() {
		n, err := e.finalizeAndEmit(ctx, key)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.CallsEmitted += n
	}

	if ec := e.opts.State.EndpointClassifier; ec != nil {
		cdrmetrics.UnknownEndpointsTotal.Add(float64(len(ec.UnknownEndpoints())))
	}
	cdrmetrics.LegsCached.Set(0)

	return res, nil
}

// completionDetected reports whether groupKey's current legs already
// unambiguously resolve as a finished Incoming call: every real leg is
// DirIncoming (external caller, internal destination) and not forwarded.
// Anything else — TrunkToTrunk, Outgoing, Internal, or a forwarded leg — is
// deferred, since it may still grow a transfer or T2T counterpart.
func (e *Engine) completionDetected(groupKey string) bool {
	legs := e.opts.State.Cache.Get(groupKey)
	sawReal := false
	for _, l := range legs {
		if l.IsHgOnly {
			continue
		}
		sawReal = true
		if l.CallDirection != cdrleg.DirIncoming || l.IsForwarded {
			return false
		}
	}
	return sawReal
}

// drainOrder returns the cache's group keys ordered per spec.md §5's
// end-of-run emission guarantee: (earliest-leg in_leg_connect_time,
// global_call_id) ascending, not the raw (opaque) key string.
func (e *Engine) drainOrder() []string {
	keys := e.opts.State.Cache.Keys()
	type group struct {
		key         string
		connectTime string
		gid         string
	}
	groups := make([]group, 0, len(keys))
	for _, key := range keys {
		legs := e.opts.State.Cache.Get(key)
		var connectTime, gid string
		if len(legs) > 0 {
			connectTime = legs[0].InLegConnectTime
			gid = legs[0].GlobalCallID
		}
		groups = append(groups, group{key: key, connectTime: connectTime, gid: gid})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].connectTime != groups[j].connectTime {
			return groups[i].connectTime < groups[j].connectTime
		}
		return groups[i].gid < groups[j].gid
	})
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.key
	}
	return out
}

// finalizeAndEmit runs the merge/transfer/suppress/finalize chain for one
// cached group and writes the resulting call(s) to every sink.
func (e *Engine) finalizeAndEmit(ctx context.Context, groupKey string) (int, error) {
	state := e.opts.State
	legs := state.Cache.Get(groupKey)
	state.Cache.RemoveGroup(groupKey)
	if len(legs) == 0 {
		return 0, nil
	}

	var threadID string
	nonPlaceholder := legs[:0:0]
	for _, l := range legs {
		if l.IsHgOnly {
			continue
		}
		if threadID == "" {
			threadID = l.ThreadID
		}
		nonPlaceholder = append(nonPlaceholder, l)
	}
	if len(nonPlaceholder) == 0 {
		return 0, nil // group never got a real FullCdr leg (orphaned HG/CF fragment)
	}

	merged := cdrpipeline.MergeAttempts(nonPlaceholder, state)
	cdrpipeline.ResolveTransferChain(merged)
	suppressed := cdrpipeline.SuppressRoutingLegs(merged, state)
	calls := cdrpipeline.Finalize(suppressed, threadID, state)

	if err := e.writeCalls(ctx, calls); err != nil {
		return 0, err
	}
	for _, call := range calls {
		cdrmetrics.CallsEmittedTotal.WithLabelValues(call.CallDirection.String()).Inc()
	}
	return len(calls), nil
}

// writeCalls fans calls out to every configured sink. With more than one
// sink it writes concurrently via errgroup so a slow sink (e.g. the
// database) doesn't block the others; with zero or one sink it writes
// inline via MultiSink, which degrades to a no-op or single-sink write.
func (e *Engine) writeCalls(ctx context.Context, calls []*cdrleg.Call) error {
	if len(e.opts.Sinks) <= 1 {
		sink := cdrsink.MultiSink{Sinks: e.opts.Sinks}
		for _, call := range calls {
			if err := sink.WriteCall(ctx, call); err != nil {
				return fmt.Errorf("sink write: %w", err)
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range e.opts.Sinks {
		sink := sink
		g.Go(func() error {
			for _, call := range calls {
				if err := sink.WriteCall(gctx, call); err != nil {
					return fmt.Errorf("sink write: %w", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
