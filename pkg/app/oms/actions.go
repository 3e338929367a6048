package oms

// ActionKind names a parent-level side effect the pipeline performs after
// the FSM chain for an inbound event has settled.
type ActionKind int8

const (
	MarkCancelWanted ActionKind = iota + 1
	CancelActiveChildren
	CancelChild
	ReplaceActiveChildren
	CancelEpisodeDone
)

func (k ActionKind) String() string {
	switch k {
	case MarkCancelWanted:
		return "mark_cancel_wanted"
	case CancelActiveChildren:
		return "cancel_active_children"
	case CancelChild:
		return "cancel_child"
	case ReplaceActiveChildren:
		return "replace_active_children"
	case CancelEpisodeDone:
		return "cancel_episode_done"
	default:
		return "unknown"
	}
}

type Action struct {
	Kind     ActionKind
	ParentID string
	ChildID  string // CancelChild only
	NewQty   int64  // ReplaceActiveChildren only
	NewPx    int64
}
