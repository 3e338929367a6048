package pipeline

import (
	"strconv"
	"strings"
)

// Hop is one stage an envelope passed through.
type Hop struct {
	Stage string
	Ns    int64
}

// Envelope carries one inbound payload through the pipeline. The Ns fields
// are monotonic and the only ones used for ordering or latency;
// CreatedMillis is wall time for display.
type Envelope struct {
	Seq           uint64
	CreatedNs     int64
	TouchedNs     int64
	CreatedMillis int64
	Hops          []Hop
	Payload       any

	sealed bool
}

func NewEnvelope(seq uint64, payload any, nowNs, nowMillis int64) *Envelope {
	return &Envelope{
		Seq:           seq,
		CreatedNs:     nowNs,
		TouchedNs:     nowNs,
		CreatedMillis: nowMillis,
		Hops:          []Hop{{Stage: "created", Ns: nowNs}},
		Payload:       payload,
	}
}

// Stamp records a hop. It returns false, and records nothing, once the
// envelope is sealed.
func (e *Envelope) Stamp(stage string, ns int64) bool {
	if e.sealed {
		return false
	}
	e.Hops = append(e.Hops, Hop{Stage: stage, Ns: ns})
	e.TouchedNs = ns
	return true
}

func (e *Envelope) Seal()        { e.sealed = true }
func (e *Envelope) Sealed() bool { return e.sealed }

func (e *Envelope) Elapsed() int64 { return e.TouchedNs - e.CreatedNs }

// Trace renders the hops as "seq=N stage:+ns ..." relative to creation.
func (e *Envelope) Trace() string {
	var b strings.Builder
	b.WriteString("seq=")
	b.WriteString(strconv.FormatUint(e.Seq, 10))
	for _, h := range e.Hops {
		b.WriteByte(' ')
		b.WriteString(h.Stage)
		b.WriteString(":+")
		b.WriteString(strconv.FormatInt(h.Ns-e.CreatedNs, 10))
	}
	return b.String()
}
