// Package coord drives the corroboration pipeline: producers feed one
// channel, and a single goroutine filters, ingests and dispatches.
package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/icewatch/internal/collect"
	"github.com/abelbrown/icewatch/internal/correlation"
	"github.com/abelbrown/icewatch/internal/logging"
	"github.com/abelbrown/icewatch/internal/model"
	"github.com/abelbrown/icewatch/internal/notify"
	"github.com/abelbrown/icewatch/internal/otel"
	"github.com/abelbrown/icewatch/internal/relevance"
	"github.com/abelbrown/icewatch/internal/ui"
)

// reportBuffer is the capacity of the producer-to-engine channel.
const reportBuffer = 256

// defaultSweepInterval is how often idle incidents are closed.
const defaultSweepInterval = time.Minute

// messenger receives UI messages. *tea.Program satisfies it.
type messenger interface {
	Send(msg tea.Msg)
}

// closer records closed incidents. *store.Store satisfies it.
type closer interface {
	CloseIncident(id int64, at time.Time) error
}

// sequencer persists allocated cluster ids. *store.Store satisfies it.
type sequencer interface {
	ReserveClusterID(id int64) error
}

// Options wires a Pipeline. Filter and Engine are required.
type Options struct {
	Filter     *relevance.Filter
	Engine     *correlation.Engine
	Dispatcher *notify.Dispatcher // optional
	Journal    *otel.Logger       // optional
	Closer     closer             // optional
	Sequencer  sequencer          // optional; written before a new incident is announced
	Producers  []collect.Producer

	SweepInterval time.Duration // default 1m

	// FollowReportTime drives the engine clock from report timestamps
	// instead of the wall clock, and sweeps as report time advances. Used
	// when replaying recorded reports.
	FollowReportTime bool
}

// Result is what happened to one report.
type Result struct {
	Verdict   relevance.Verdict
	Duplicate bool
	Emitted   bool
	Event     correlation.Event
}

// Pipeline owns the engine. Process and Sweep must be called from one
// goroutine; Run provides that goroutine.
type Pipeline struct {
	filter     *relevance.Filter
	engine     *correlation.Engine
	dispatcher *notify.Dispatcher
	journal    *otel.Logger
	closer     closer
	sequencer  sequencer
	producers  []collect.Producer
	sweepEvery time.Duration

	follow    bool
	clock     time.Time // report-time clock when follow is set
	lastSweep time.Time

	program messenger
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Filter == nil || opts.Engine == nil {
		return nil, errors.New("coord: filter and engine are required")
	}
	p := &Pipeline{
		filter:     opts.Filter,
		engine:     opts.Engine,
		dispatcher: opts.Dispatcher,
		journal:    opts.Journal,
		closer:     opts.Closer,
		sequencer:  opts.Sequencer,
		producers:  append([]collect.Producer(nil), opts.Producers...),
		sweepEvery: opts.SweepInterval,
		follow:     opts.FollowReportTime,
	}
	if p.journal == nil {
		p.journal = otel.NewNullLogger()
	}
	if p.sweepEvery <= 0 {
		p.sweepEvery = defaultSweepInterval
	}
	if p.follow {
		p.engine.SetClock(func() time.Time { return p.clock })
	}
	return p, nil
}

// SetProgram attaches a UI program. Call before Run.
func (p *Pipeline) SetProgram(m messenger) {
	p.program = m
}

// Engine returns the underlying engine. Not safe to use while Run is active.
func (p *Pipeline) Engine() *correlation.Engine {
	return p.engine
}

// Run starts one runner per producer, the dispatcher worker and the engine
// loop, and blocks until ctx is cancelled. Reports already in the channel
// when ctx ends are discarded; the dispatcher drains what it has queued.
func (p *Pipeline) Run(ctx context.Context) error {
	reports := make(chan model.RawReport, reportBuffer)
	g, gctx := errgroup.WithContext(ctx)

	for _, prod := range p.producers {
		runner := collect.NewRunner(prod, reports)
		runner.OnCycle = p.onCycle
		g.Go(func() error {
			p.journal.Emit(otel.Event{Kind: otel.KindCollectStart, Comp: "collect", Source: prod.Name()})
			return runner.Run(gctx)
		})
	}
	if p.dispatcher != nil {
		g.Go(func() error { return p.dispatcher.Run(gctx) })
	}
	g.Go(func() error { return p.loop(gctx, reports) })

	logging.Info("pipeline running", "producers", len(p.producers))
	return g.Wait()
}

func (p *Pipeline) loop(ctx context.Context, reports <-chan model.RawReport) error {
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-reports:
			p.Process(r)
		case now := <-ticker.C:
			if !p.follow {
				p.Sweep(now)
			}
		}
	}
}

// Process runs one report through filter and engine, journals the decision
// and hands any emission to the dispatcher.
func (p *Pipeline) Process(r model.RawReport) Result {
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
	if p.follow {
		p.advance(r.EventTime(p.clock))
	}

	r = p.filter.Annotate(r)
	verdict := p.filter.Explain(r.Text, r.SourceType)
	res := Result{Verdict: verdict}

	if !verdict.Relevant {
		p.journal.Emit(otel.Event{
			Kind:     otel.KindReportRejected,
			Level:    otel.LevelDebug,
			Comp:     "coord",
			Source:   string(r.SourceType),
			ReportID: r.SourceID,
			Reason:   string(verdict.Reason),
		})
		p.send(ui.DecisionMsg{Report: r, Verdict: verdict})
		return res
	}

	staleBefore := p.engine.Stats().StaleReports
	ev, ok := p.engine.Ingest(r)
	if !ok {
		res.Duplicate = true
		p.journal.Emit(otel.Event{
			Kind:     otel.KindReportDuplicate,
			Level:    otel.LevelDebug,
			Comp:     "coord",
			Source:   string(r.SourceType),
			ReportID: r.SourceID,
		})
		p.send(ui.DecisionMsg{Report: r, Verdict: verdict, Duplicate: true})
		return res
	}

	res.Emitted, res.Event = true, ev
	if ev.Kind == correlation.KindNew {
		p.reserve(ev.Incident.ClusterID)
	}
	if p.engine.Stats().StaleReports > staleBefore {
		p.journal.Emit(otel.Event{
			Kind:     otel.KindReportStale,
			Level:    otel.LevelWarn,
			Comp:     "coord",
			Source:   string(r.SourceType),
			ReportID: r.SourceID,
			Cluster:  ev.Incident.ClusterID,
		})
	}
	p.journalEvent(r, ev)
	p.send(ui.DecisionMsg{Report: r, Verdict: verdict, ClusterID: ev.Incident.ClusterID})
	p.send(ui.IncidentMsg{Event: ev})
	p.send(ui.StatsMsg{Engine: p.engine.Stats(), Notify: p.dispatchStats()})

	if p.dispatcher != nil {
		if err := p.dispatcher.Enqueue(ev); err != nil {
			p.journal.Emit(otel.Event{
				Kind:    otel.KindNotifyDropped,
				Level:   otel.LevelWarn,
				Comp:    "notify",
				Cluster: ev.Incident.ClusterID,
				Err:     err.Error(),
			})
		}
	}
	return res
}

func (p *Pipeline) journalEvent(r model.RawReport, ev correlation.Event) {
	inc := ev.Incident
	if otel.TraceEnabled() {
		p.journal.Emit(otel.Event{
			Kind:     otel.KindReportAccepted,
			Level:    otel.LevelDebug,
			Comp:     "coord",
			Source:   string(r.SourceType),
			ReportID: r.SourceID,
			Location: r.Location,
			Extra:    map[string]any{"subject": r.SubjectMatches, "locations": r.LocationMatches},
		})
	}
	kind := otel.KindIncidentNew
	if ev.Kind == correlation.KindUpdate {
		kind = otel.KindIncidentUpdate
	}
	p.journal.Emit(otel.Event{
		Kind:       kind,
		Comp:       "coord",
		Cluster:    inc.ClusterID,
		Source:     string(r.SourceType),
		ReportID:   r.SourceID,
		Location:   inc.PrimaryLocation,
		Confidence: inc.ConfidenceScore,
		Count:      inc.SourceCount,
	})
}

// reserve records a newly allocated cluster id. It runs on the engine
// goroutine, not through the dispatcher, which may drop events.
func (p *Pipeline) reserve(id int64) {
	if p.sequencer == nil {
		return
	}
	if err := p.sequencer.ReserveClusterID(id); err != nil {
		logging.Error("store: reserve cluster id failed", "cluster", id, "error", err)
		p.journal.Emit(otel.Event{Kind: otel.KindStoreError, Level: otel.LevelError, Comp: "store", Cluster: id, Err: err.Error()})
	}
}

// Sweep closes idle incidents as of now.
func (p *Pipeline) Sweep(now time.Time) []correlation.Incident {
	p.lastSweep = now
	closed := p.engine.Sweep(now)
	for _, inc := range closed {
		p.journal.Emit(otel.Event{
			Kind:       otel.KindIncidentClosed,
			Comp:       "coord",
			Cluster:    inc.ClusterID,
			Location:   inc.PrimaryLocation,
			Confidence: inc.ConfidenceScore,
			Count:      inc.SourceCount,
		})
		if p.closer != nil {
			if err := p.closer.CloseIncident(inc.ClusterID, inc.ClosedAt); err != nil {
				logging.Error("store: close incident failed", "cluster", inc.ClusterID, "error", err)
				p.journal.Error(otel.KindStoreError, "store", err)
			}
		}
	}
	if len(closed) > 0 {
		logging.Info("incidents closed", "count", len(closed))
		p.send(ui.ClosedMsg{Incidents: closed})
	}
	p.send(ui.StatsMsg{Engine: p.engine.Stats(), Notify: p.dispatchStats()})
	return closed
}

// Flush sweeps at the current report-time clock. Replay calls it at the end
// of input so incidents idle by then are closed.
func (p *Pipeline) Flush() []correlation.Incident {
	return p.Sweep(p.now())
}

// advance moves the report-time clock forward and sweeps when a sweep
// interval of report time has passed.
func (p *Pipeline) advance(t time.Time) {
	if t.After(p.clock) {
		p.clock = t
	}
	if p.lastSweep.IsZero() {
		p.lastSweep = p.clock
		return
	}
	if p.clock.Sub(p.lastSweep) >= p.sweepEvery {
		p.Sweep(p.clock)
	}
}

func (p *Pipeline) now() time.Time {
	if p.follow {
		return p.clock
	}
	return time.Now()
}

func (p *Pipeline) onCycle(c collect.Cycle) {
	ev := otel.Event{
		Kind:   otel.KindCollectComplete,
		Comp:   "collect",
		Source: c.Producer,
		Dur:    c.Duration,
		Count:  c.Reports,
	}
	if c.Err != nil {
		ev.Kind = otel.KindCollectError
		ev.Level = otel.LevelWarn
		ev.Err = c.Err.Error()
		ev.Msg = fmt.Sprintf("retry in %s", c.Wait)
	}
	p.journal.Emit(ev)
	p.send(ui.CollectMsg{Cycle: c, At: time.Now()})
}

func (p *Pipeline) dispatchStats() notify.DispatchStats {
	if p.dispatcher == nil {
		return notify.DispatchStats{}
	}
	return p.dispatcher.Stats()
}

func (p *Pipeline) send(msg tea.Msg) {
	if p.program != nil {
		p.program.Send(msg)
	}
}
