// Package pipeline is the single-writer loop that ties the parent FSM, the
// child reducers and the venues together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/app/sor"
	"github.com/uhyunpark/orderflow/pkg/metrics"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// ErrInboundFull is returned to producers when the inbound bus sheds.
var ErrInboundFull = errors.New("inbound bus full")

// HardFollowUpCap bounds the follow-up chain of one inbound event whatever
// the configuration says.
const HardFollowUpCap = 8

// VenueRouter executes a child command at the venue it names.
type VenueRouter interface {
	Execute(cmd core.VenueCommand) []core.VenueEvent
}

// WAL receives one trace line per processed envelope.
type WAL interface {
	Append(line string)
}

// ParentJournal receives the final snapshot of every parent that reaches
// a terminal status.
type ParentJournal interface {
	SaveParent(s oms.State) error
}

type Config struct {
	InboundCapacity int
	ReportCapacity  int
	PollTimeout     time.Duration
	MaxFollowUps    int
	FillDedupWindow int
}

func DefaultConfig() Config {
	return Config{
		InboundCapacity: 4096,
		ReportCapacity:  4096,
		PollTimeout:     50 * time.Millisecond,
		MaxFollowUps:    HardFollowUpCap,
		FillDedupWindow: 8192,
	}
}

type Pipeline struct {
	cfg        Config
	clock      util.Clock
	apply      func(oms.State, oms.Event) oms.Result
	planner    *sor.Planner
	venues     VenueRouter
	translator *Translator

	parents  *ParentStore
	children *ChildStore
	sessions *SessionIndex
	cancels  *CancelRegistry

	inbound  *Bus[*Envelope]
	reports  *Bus[core.ExecutionReport]
	internal queue[oms.Event]
	seq      atomic.Uint64

	Logger  *zap.SugaredLogger
	Metrics *metrics.Pipeline
	WAL     WAL           // optional hop traces
	Journal ParentJournal // optional
}

// New builds a pipeline. parentIDs allocates parent ids in the translator;
// intentIDs feeds the FSM.
func New(cfg Config, planner *sor.Planner, venues VenueRouter, clock util.Clock, parentIDs, intentIDs util.IDAllocator, log *zap.SugaredLogger) (*Pipeline, error) {
	if cfg.MaxFollowUps <= 0 || cfg.MaxFollowUps > HardFollowUpCap {
		cfg.MaxFollowUps = HardFollowUpCap
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.FillDedupWindow <= 0 {
		cfg.FillDedupWindow = DefaultConfig().FillDedupWindow
	}
	log = util.OrNop(log)

	p := &Pipeline{
		cfg:      cfg,
		clock:    clock,
		apply:    oms.NewFSM(intentIDs).Apply,
		planner:  planner,
		venues:   venues,
		parents:  NewParentStore(),
		children: NewChildStore(),
		sessions: NewSessionIndex(),
		cancels:  NewCancelRegistry(),
		inbound:  NewBus[*Envelope]("inbound", cfg.InboundCapacity),
		reports:  NewBus[core.ExecutionReport]("reports", cfg.ReportCapacity),
		Logger:   log,
		Metrics:  metrics.NewPipeline(),
	}
	tr, err := NewTranslator(p.sessions, p.cancels, parentIDs, clock, cfg.FillDedupWindow, log)
	if err != nil {
		return nil, err
	}
	p.translator = tr
	return p, nil
}

func (p *Pipeline) Reports() *Bus[core.ExecutionReport] { return p.reports }
func (p *Pipeline) Parents() *ParentStore               { return p.parents }
func (p *Pipeline) Children() *ChildStore               { return p.children }
func (p *Pipeline) Sessions() *SessionIndex             { return p.sessions }

// InboundDepth is the number of envelopes waiting on the inbound bus.
func (p *Pipeline) InboundDepth() int { return p.inbound.Len() }

// Submit wraps payload in an envelope and offers it to the inbound bus.
// Safe for concurrent producers. A full bus drops the payload.
func (p *Pipeline) Submit(payload any) (uint64, error) {
	seq := p.seq.Add(1)
	env := NewEnvelope(seq, payload, p.clock.MonoNanos(), p.clock.NowMillis())
	if !p.inbound.Offer(env) {
		p.Metrics.InboundDropped.Inc()
		p.Logger.Warnw("inbound_dropped", "seq", seq, "payload", fmt.Sprintf("%T", payload), "capacity", p.cfg.InboundCapacity)
		return seq, ErrInboundFull
	}
	return seq, nil
}

// Run processes envelopes until ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Logger.Infow("pipeline_started", "max_followups", p.cfg.MaxFollowUps, "poll_timeout", p.cfg.PollTimeout)
	for {
		if _, err := p.Step(ctx); err != nil {
			p.Logger.Infow("pipeline_stopped", "reason", err)
			return err
		}
	}
}

// Step polls once and processes what it got. It reports whether an
// envelope was processed; the error is non-nil only when ctx is done.
func (p *Pipeline) Step(ctx context.Context) (bool, error) {
	env, ok := p.inbound.Poll(ctx, p.cfg.PollTimeout)
	if ok {
		_ = p.Process(env)
		return true, nil
	}
	return false, ctx.Err()
}

func (p *Pipeline) stamp(env *Envelope, stage string) {
	if !env.Stamp(stage, p.clock.MonoNanos()) {
		p.Logger.Warnw("stamp_on_sealed_envelope", "seq", env.Seq, "stage", stage)
	}
}

// Process runs one envelope to completion: translate, FSM chain, side
// effects, then every internal event those produced.
func (p *Pipeline) Process(env *Envelope) error {
	p.Metrics.Inbound.Inc()
	p.stamp(env, "dequeued")
	defer p.finish(env)

	ev, err := p.translator.Translate(env.Payload)
	if err != nil {
		p.Metrics.Malformed.Inc()
		p.Logger.Warnw("inbound_rejected", "seq", env.Seq, "err", err)
		return err
	}
	p.stamp(env, "translated")

	p.dispatch(ev)
	p.stamp(env, "applied")

	p.drain()
	p.stamp(env, "drained")
	return nil
}

func (p *Pipeline) finish(env *Envelope) {
	env.Seal()
	p.Metrics.Latency.Observe(time.Duration(env.Elapsed()).Seconds())
	if p.WAL != nil {
		p.WAL.Append(env.Trace())
	}
}

func (p *Pipeline) drain() {
	for {
		ev, ok := p.internal.pop()
		if !ok {
			return
		}
		p.dispatch(ev)
	}
}

// dispatch runs ev and its follow-ups through the FSM, then performs the
// collected actions against the final state.
func (p *Pipeline) dispatch(ev oms.Event) {
	var actions []oms.Action
	pending := []oms.Event{ev}
	for hop := 0; len(pending) > 0; hop++ {
		if hop > p.cfg.MaxFollowUps {
			p.Metrics.FollowUpCapHit.Inc()
			p.Logger.Warnw("followup_cap_hit", "parent", ev.Parent(), "dropped", len(pending), "cap", p.cfg.MaxFollowUps)
			break
		}
		cur := pending[0]
		pending = pending[1:]

		r := p.apply(p.parents.Get(cur.Parent()), cur)
		if !r.Applied {
			p.Logger.Debugw("fsm_noop", "parent", cur.Parent(), "event", fmt.Sprintf("%T", cur))
			if _, ok := cur.(oms.CancelRequest); ok {
				// no episode opened, so nothing would clear the eager mark
				p.cancels.Clear(cur.Parent())
			}
			continue
		}
		p.parents.Put(r.Next)
		if r.Next.IsDone() && p.Journal != nil {
			if err := p.Journal.SaveParent(r.Next); err != nil {
				p.Logger.Errorw("journal_parent_failed", "parent", r.Next.ParentID, "err", err)
			}
		}
		p.publish(r.Reports)
		for _, ri := range r.Intents {
			p.route(ri)
		}
		pending = append(pending, r.FollowUps...)
		actions = append(actions, r.Actions...)
	}
	for _, a := range actions {
		p.execute(a)
	}
}

func (p *Pipeline) publish(reports []core.ExecutionReport) {
	for _, r := range reports {
		p.Metrics.Reports.WithLabelValues(r.Kind.String()).Inc()
		if !p.reports.Offer(r) {
			p.Metrics.ReportsDropped.Inc()
			p.Logger.Warnw("report_dropped", "parent", r.ParentID, "kind", r.Kind)
		}
	}
}

func (p *Pipeline) route(ri core.RoutingIntent) {
	plans, err := p.planner.Plan(ri, p.children.ByParent(ri.ParentID))
	if err != nil {
		p.Logger.Warnw("route_failed", "parent", ri.ParentID, "err", err)
		p.internal.push(oms.Reject{
			Header: oms.Header{ParentID: ri.ParentID, TsNanos: p.clock.MonoNanos()},
			Reason: "no_route",
			Text:   err.Error(),
		})
		return
	}
	for _, in := range plans {
		p.register(in)
	}
	for _, in := range plans {
		p.applyIntent(in)
	}
}

// register records a planned child on its parent before any command goes
// out, so a sibling that finishes first cannot close the parent while this
// child still works at the venue.
func (p *Pipeline) register(in sor.NewChildIntent) {
	ev := oms.ChildRouted{
		Header:  oms.Header{ParentID: in.ParentID, TsNanos: in.TsNanos},
		ChildID: in.ChildID,
		VenueID: in.VenueID,
		Qty:     in.Qty,
	}
	if r := p.apply(p.parents.Get(in.ParentID), ev); r.Applied {
		p.parents.Put(r.Next)
	}
}

// applyIntent reduces a child intent and sends whatever commands result.
func (p *Pipeline) applyIntent(in sor.Intent) bool {
	r := sor.ReduceIntent(p.children.Get(in.Child()), in)
	if !r.Applied {
		p.Logger.Debugw("child_intent_noop", "child", in.Child(), "intent", fmt.Sprintf("%T", in))
		return false
	}
	p.children.Put(r.Next)
	p.internal.push(r.Events...)
	for _, cmd := range r.Commands {
		p.Metrics.VenueCommands.WithLabelValues(cmd.Venue()).Inc()
		for _, ev := range p.venues.Execute(cmd) {
			p.onVenueEvent(ev)
		}
	}
	return true
}

func (p *Pipeline) onVenueEvent(ev core.VenueEvent) {
	if f, ok := ev.(core.Fill); ok && !p.translator.AdmitVenueFill(f.ChildID, f.ExecID) {
		p.Metrics.DuplicateFills.Inc()
		p.Logger.Debugw("duplicate_fill", "child", f.ChildID, "exec_id", f.ExecID)
		return
	}
	ref := ev.Ref()
	r := sor.ReduceVenueEvent(p.children.Get(ref.ChildID), ev)
	if !r.Applied {
		p.Metrics.StaleEvents.Inc()
		p.Logger.Debugw("venue_event_noop", "child", ref.ChildID, "venue", ref.VenueID, "event", fmt.Sprintf("%T", ev))
		return
	}
	p.children.Put(r.Next)
	p.internal.push(r.Events...)
}

func (p *Pipeline) execute(a oms.Action) {
	now := p.clock.MonoNanos()
	switch a.Kind {
	case oms.MarkCancelWanted:
		p.cancels.MarkWanted(a.ParentID)
	case oms.CancelActiveChildren:
		live := p.children.Live(a.ParentID)
		if len(live) == 0 {
			p.internal.push(oms.CancelAck{Header: oms.Header{ParentID: a.ParentID, TsNanos: now}})
			return
		}
		for _, c := range live {
			if !p.cancels.MarkChild(a.ParentID, c.ChildID) {
				continue
			}
			p.applyIntent(sor.CancelChildIntent{ParentID: a.ParentID, ChildID: c.ChildID, TsNanos: now})
		}
	case oms.CancelChild:
		if p.cancels.IsWanted(a.ParentID) && p.cancels.MarkChild(a.ParentID, a.ChildID) {
			p.applyIntent(sor.CancelChildIntent{ParentID: a.ParentID, ChildID: a.ChildID, TsNanos: now})
		}
	case oms.ReplaceActiveChildren:
		p.replaceChildren(a, now)
	case oms.CancelEpisodeDone:
		p.cancels.Clear(a.ParentID)
	default:
		p.Logger.Warnw("unknown_action", "kind", a.Kind, "parent", a.ParentID)
	}
}

// replaceChildren moves the parent's quantity change onto its newest live
// child; the other children keep their size.
func (p *Pipeline) replaceChildren(a oms.Action, now int64) {
	reject := func(childID, reason, text string, st core.OrdStatus) {
		p.internal.push(oms.ChildReplaceRejected{
			Header:      oms.Header{ParentID: a.ParentID, TsNanos: now},
			ChildID:     childID,
			Reason:      reason,
			Text:        text,
			ChildStatus: st,
		})
	}
	live := p.children.Live(a.ParentID)
	if len(live) == 0 {
		reject("", "no_live_child", "", 0)
		return
	}
	parent := p.parents.Get(a.ParentID)
	c := live[len(live)-1]
	newQty := c.Qty + (a.NewQty - parent.TargetQty)
	if newQty <= 0 || newQty < c.CumQty {
		reject(c.ChildID, "replace_exceeds_child", fmt.Sprintf(
			"quantity cut of %d exceeds the %d open on child %s; cancel and resubmit instead",
			parent.TargetQty-a.NewQty, c.LeavesQty, c.ChildID), c.Status)
		return
	}
	if !p.applyIntent(sor.ReplaceChildIntent{
		ParentID: a.ParentID,
		ChildID:  c.ChildID,
		NewQty:   newQty,
		NewPx:    a.NewPx,
		TsNanos:  now,
	}) {
		reject(c.ChildID, "child_not_replaceable", "", c.Status)
	}
}
