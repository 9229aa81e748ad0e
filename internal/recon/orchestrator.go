package recon

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/maestro-ai/usage-engine/internal/pricing"
	"github.com/maestro-ai/usage-engine/internal/source"
	"github.com/maestro-ai/usage-engine/internal/store"
	"github.com/maestro-ai/usage-engine/internal/transcript"
)

const defaultRemoteConcurrency = 3

// Orchestrator drives one reconstruction run: scan sources, parse transcripts,
// match usage to events by time window, compute dual costs, upsert. Runs
// against the same store must be serialized by the caller; the orchestrator
// holds no cross-run state.
type Orchestrator struct {
	Store   *store.Store
	Scanner *transcript.Scanner
	Pricing *pricing.Table
	Billing *pricing.Resolver

	// LocalRoots are scanned when the run includes local files and its
	// options carry no roots of their own.
	LocalRoots []string
	// AgentType stamps events inserted from transcript entries that have no
	// store counterpart.
	AgentType string

	// RemoteConcurrency bounds how many hosts are scanned at once. Each
	// host's own pipeline stays sequential.
	RemoteConcurrency int
	CacheCapacity     int

	// OnStage, when set, observes pipeline stage transitions.
	OnStage func(Stage)

	// now is injectable for tests.
	now func() time.Time
}

func NewOrchestrator(st *store.Store, localRoots []string) *Orchestrator {
	return &Orchestrator{
		Store:      st,
		Scanner:    transcript.NewScanner(),
		Pricing:    pricing.NewTable(),
		Billing:    pricing.NewResolver(),
		LocalRoots: localRoots,
		AgentType:  "claude",
		now:        time.Now,
	}
}

// Preview runs the full pipeline with dry-run forced on.
func (o *Orchestrator) Preview(ctx context.Context, opts Options) (Result, error) {
	opts.DryRun = true
	return o.Reconstruct(ctx, opts)
}

// Reconstruct executes one run. Per-file and per-host failures are recorded
// into the result's Errors and never abort the run; the returned error is
// reserved for context cancellation and an unusable store.
func (o *Orchestrator) Reconstruct(ctx context.Context, opts Options) (Result, error) {
	started := o.clock()()
	result := Result{DryRun: opts.DryRun}

	run := &runState{
		orchestrator: o,
		opts:         opts,
		index:        transcript.NewDateIndex(),
		cache:        newFileCache(o.CacheCapacity),
		files:        make(map[string]transcript.File),
	}

	o.stage(StageScanning)
	run.scan(ctx, &result)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if len(run.files) == 0 {
		// No reachable source; the result is already well-formed with any
		// scan failures recorded.
		if len(result.Errors) == 0 {
			result.addError("", fmt.Errorf("recon: no transcript files found"))
		}
		result.Duration = o.clock()().Sub(started)
		o.stage(StageDone)
		return result, nil
	}

	o.stage(StageParsing)
	run.parse(ctx, &result)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.DateRangeCovered = run.dateRange()

	o.stage(StageMatching)
	plan, err := run.matchEvents(ctx, &result)
	if err != nil {
		return result, err
	}

	o.stage(StageCosting)
	run.cost(plan)

	o.stage(StageUpserting)
	if err := run.upsert(ctx, &result, plan); err != nil {
		return result, err
	}

	result.Duration = o.clock()().Sub(started)
	o.stage(StageDone)
	return result, nil
}

func (o *Orchestrator) stage(s Stage) {
	if o.OnStage != nil {
		o.OnStage(s)
	}
}

func (o *Orchestrator) clock() func() time.Time {
	if o.now != nil {
		return o.now
	}
	return time.Now
}

func (o *Orchestrator) remoteConcurrency() int {
	if o.RemoteConcurrency > 0 {
		return o.RemoteConcurrency
	}
	return defaultRemoteConcurrency
}

// runState is the per-run working set: discovered files, the date index, the
// bounded content cache. Discarded when the run returns.
type runState struct {
	orchestrator *Orchestrator
	opts         Options

	index *transcript.DateIndex
	cache *fileCache
	files map[string]transcript.File

	mu sync.Mutex
}

// pendingUpdate is one incomplete store event together with the usage the
// matcher attributed to its window.
type pendingUpdate struct {
	event store.UsageEvent
	match match
	patch store.EventPatch
}

// pendingInsert is a reconstructed event built from a transcript entry that
// no existing store record claims.
type pendingInsert struct {
	entry transcript.Entry
	event store.UsageEvent
}

// runPlan is everything the Upserting stage would write. Building it fully
// before any mutation is what makes dry-run a guaranteed no-op.
type runPlan struct {
	updates []pendingUpdate
	inserts []pendingInsert
}

// scan discovers transcript files from every selected source. Remote hosts
// run with bounded concurrency; a host failure is recorded and isolated.
func (r *runState) scan(ctx context.Context, result *Result) {
	if r.opts.IncludeLocal {
		roots := r.opts.LocalRoots
		if len(roots) == 0 {
			roots = r.orchestrator.LocalRoots
		}
		local := source.NewLocal()
		for _, root := range roots {
			r.discover(ctx, result, local, root)
		}
	}

	if !r.opts.IncludeRemote || len(r.opts.Remotes) == 0 {
		return
	}

	sem := make(chan struct{}, r.orchestrator.remoteConcurrency())
	var wg sync.WaitGroup
	for _, cfg := range r.opts.Remotes {
		wg.Add(1)
		go func(cfg source.SSHConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r.discover(ctx, result, source.NewSSH(cfg), cfg.Root)
		}(cfg)
	}
	wg.Wait()
}

func (r *runState) discover(ctx context.Context, result *Result, src source.Source, root string) {
	files, err := r.orchestrator.Scanner.Discover(ctx, src, root)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		result.addError(src.Label()+":"+root, err)
		return
	}
	for _, f := range files {
		r.files[f.Key()] = f
	}
}

// parse reads every discovered file once, populating the date index and
// priming the cache. A failing file is recorded and dropped from the run.
func (r *runState) parse(ctx context.Context, result *Result) {
	for key, f := range r.files {
		if ctx.Err() != nil {
			return
		}
		parsed, err := r.orchestrator.Scanner.Parse(ctx, f)
		if err != nil {
			result.addError(fmt.Sprintf("%s (%s)", key, f.Project()), err)
			delete(r.files, key)
			continue
		}
		r.index.AddAll(key, parsed.Entries)
		r.cache.put(key, parsed.Entries)
	}
}

// entriesFor serves the matcher from the cache, re-parsing on eviction.
func (r *runState) entriesFor(ctx context.Context, key string) ([]transcript.Entry, error) {
	if entries, ok := r.cache.get(key); ok {
		return entries, nil
	}
	f, ok := r.files[key]
	if !ok {
		return nil, fmt.Errorf("recon: unknown file %s", key)
	}
	parsed, err := r.orchestrator.Scanner.Parse(ctx, f)
	if err != nil {
		return nil, err
	}
	r.cache.put(key, parsed.Entries)
	return parsed.Entries, nil
}

// matchEvents walks the store's events in start-time order, attributes window
// usage to the incomplete ones, and collects transcript entries that fall
// before the first event (or into an empty store) as candidate inserts.
func (r *runState) matchEvents(ctx context.Context, result *Result) (runPlan, error) {
	events, err := r.orchestrator.Store.Query(ctx, store.QueryFilter{From: r.opts.From, To: r.opts.To})
	if err != nil {
		return runPlan{}, fmt.Errorf("recon: query events: %w", err)
	}

	var plan runPlan
	load := func(key string) ([]transcript.Entry, error) { return r.entriesFor(ctx, key) }

	result.QueriesFound = len(events)
	for _, w := range eventWindows(events) {
		if ctx.Err() != nil {
			return plan, ctx.Err()
		}
		if w.start.Complete() {
			result.QueriesSkipped++
			continue
		}
		m, reason, err := matchWindow(w, r.index, load)
		if err != nil {
			result.addError(fmt.Sprintf("event %d", w.start.ID), err)
			continue
		}
		switch reason {
		case skipNoFiles:
			result.QueriesSkipped++
			result.SkippedNoFiles++
		case skipNoUsage:
			result.QueriesSkipped++
			result.SkippedNoUsage++
		default:
			plan.updates = append(plan.updates, pendingUpdate{event: w.start, match: m})
		}
	}

	inserts, err := r.orphanEntries(ctx, result, events)
	if err != nil {
		return plan, err
	}
	plan.inserts = inserts
	result.QueriesFound += len(inserts)
	return plan, nil
}

// orphanEntries returns entries no event window can claim: everything before
// the first store event, or the whole corpus when the store is empty. Entries
// without a dedup uuid are excluded — inserting them would duplicate on every
// run.
func (r *runState) orphanEntries(ctx context.Context, result *Result, events []store.UsageEvent) ([]pendingInsert, error) {
	var cutoff time.Time
	if len(events) > 0 {
		cutoff = events[0].StartTime
	}

	seen := make(map[string]bool)
	var inserts []pendingInsert
	skippedNoUUID := 0
	for key := range r.files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entries, err := r.entriesFor(ctx, key)
		if err != nil {
			result.addError(key, err)
			continue
		}
		for _, e := range entries {
			if !cutoff.IsZero() && !e.Timestamp.Before(cutoff) {
				continue
			}
			if !r.opts.inRange(e.Timestamp) {
				continue
			}
			if e.UUID == "" {
				skippedNoUUID++
				continue
			}
			if seen[e.UUID] {
				continue
			}
			seen[e.UUID] = true
			inserts = append(inserts, pendingInsert{entry: e})
		}
	}
	if skippedNoUUID > 0 {
		log.Printf("recon: %d transcript entries lack a uuid and were not reconstructed", skippedNoUUID)
	}
	sort.Slice(inserts, func(i, j int) bool {
		return inserts[i].entry.Timestamp.Before(inserts[j].entry.Timestamp)
	})
	return inserts, nil
}

// cost fills in dual costs for every planned write.
func (r *runState) cost(plan runPlan) {
	o := r.orchestrator
	now := o.clock()()

	for i := range plan.updates {
		pu := &plan.updates[i]
		mode := o.Billing.Resolve(pu.event.AgentType, pu.match.Model)
		apiUSD, modeUSD := o.Pricing.Costs(pu.match.Tokens, pu.match.Model, mode)
		pu.patch = store.EventPatch{
			InputTokens:         &pu.match.Tokens.Input,
			OutputTokens:        &pu.match.Tokens.Output,
			CacheReadTokens:     &pu.match.Tokens.CacheRead,
			CacheCreationTokens: &pu.match.Tokens.CacheCreation,
			AnthropicCostUSD:    &apiUSD,
			MaestroCostUSD:      &modeUSD,
			ReconstructedAt:     &now,
		}
		if pu.match.Model != "" {
			pu.patch.AnthropicModel = &pu.match.Model
		}
		billing := store.BillingMode(mode)
		pu.patch.MaestroBillingMode = &billing
	}

	for i := range plan.inserts {
		pi := &plan.inserts[i]
		e := pi.entry
		mode := o.Billing.Resolve(o.AgentType, e.Model)
		apiUSD, modeUSD := o.Pricing.Costs(pricing.TokenTuple{
			Input:         e.InputTokens,
			Output:        e.OutputTokens,
			CacheRead:     e.CacheReadTokens,
			CacheCreation: e.CacheCreationTokens,
		}, e.Model, mode)
		billing := store.BillingMode(mode)
		pi.event = store.UsageEvent{
			SessionID:           e.SessionID,
			AgentType:           o.AgentType,
			Source:              store.SourceAuto,
			StartTime:           e.Timestamp,
			InputTokens:         &e.InputTokens,
			OutputTokens:        &e.OutputTokens,
			CacheReadTokens:     &e.CacheReadTokens,
			CacheCreationTokens: &e.CacheCreationTokens,
			UUID:                e.UUID,
			AnthropicCostUSD:    &apiUSD,
			MaestroCostUSD:      &modeUSD,
			MaestroBillingMode:  &billing,
			IsReconstructed:     true,
			ReconstructedAt:     &now,
		}
		if e.Model != "" {
			model := e.Model
			pi.event.AnthropicModel = &model
		}
	}
}

// upsert applies the plan. Under dry-run the counts are taken from the plan
// and classification reads, and nothing is written.
func (r *runState) upsert(ctx context.Context, result *Result, plan runPlan) error {
	st := r.orchestrator.Store

	for _, pu := range plan.updates {
		if r.opts.DryRun {
			result.QueriesUpdated++
			continue
		}
		if err := st.UpdateCoalescing(ctx, pu.event.ID, pu.patch); err != nil {
			result.addError(fmt.Sprintf("event %d", pu.event.ID), err)
			continue
		}
		result.QueriesUpdated++
	}

	for _, pi := range plan.inserts {
		existing, found, err := st.GetByUUID(ctx, pi.event.UUID)
		if err != nil {
			result.addError(pi.event.UUID, err)
			continue
		}
		switch {
		case found && existing.Complete():
			result.QueriesSkipped++
		case found:
			if !r.opts.DryRun {
				if _, _, err := st.Insert(ctx, pi.event); err != nil {
					result.addError(pi.event.UUID, err)
					continue
				}
			}
			result.QueriesUpdated++
		default:
			if !r.opts.DryRun {
				if _, _, err := st.Insert(ctx, pi.event); err != nil {
					result.addError(pi.event.UUID, err)
					continue
				}
			}
			result.QueriesInserted++
		}
	}
	return nil
}

// dateRange derives the covered span from the date index.
func (r *runState) dateRange() DateRange {
	dates := r.index.Dates()
	if len(dates) == 0 {
		return DateRange{}
	}
	sort.Strings(dates)
	return DateRange{Start: dates[0], End: dates[len(dates)-1]}
}
