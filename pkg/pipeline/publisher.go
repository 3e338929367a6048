package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// Sink receives every published execution report.
type Sink interface {
	Publish(r core.ExecutionReport) error
}

type SinkFunc func(r core.ExecutionReport) error

func (f SinkFunc) Publish(r core.ExecutionReport) error { return f(r) }

// Publisher drains the report bus on its own goroutine and fans reports
// out to sinks in order. A failing sink is logged and skipped.
type Publisher struct {
	bus   *Bus[core.ExecutionReport]
	sinks []Sink
	log   *zap.SugaredLogger
}

func NewPublisher(bus *Bus[core.ExecutionReport], log *zap.SugaredLogger, sinks ...Sink) *Publisher {
	return &Publisher{bus: bus, sinks: sinks, log: util.OrNop(log)}
}

func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return ctx.Err()
		case r := <-p.bus.C():
			p.deliver(r)
		}
	}
}

// flush hands over whatever was queued when the context ended.
func (p *Publisher) flush() {
	for {
		select {
		case r := <-p.bus.C():
			p.deliver(r)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(r core.ExecutionReport) {
	for _, s := range p.sinks {
		if err := s.Publish(r); err != nil {
			p.log.Warnw("sink_failed", "parent", r.ParentID, "kind", r.Kind, "err", err)
		}
	}
}

// LogSink writes each report as a structured log line.
func LogSink(log *zap.SugaredLogger) Sink {
	log = util.OrNop(log)
	return SinkFunc(func(r core.ExecutionReport) error {
		log.Infow("execution_report",
			"parent", r.ParentID, "cl_ord_id", r.ClOrdID, "kind", r.Kind, "status", r.Status,
			"cum", r.CumQty, "leaves", r.LeavesQty, "avg_px", core.FormatPrice(r.AvgPx))
		return nil
	})
}
