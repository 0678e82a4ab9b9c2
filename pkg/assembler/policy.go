package assembler

// FlushPolicy is the policy used to detect the end of an access unit.
type FlushPolicy int

// flush policies.
const (
	// a slice NALU closes the access unit in progress.
	BoundaryFlush FlushPolicy = iota

	// only access unit delimiters close the access unit in progress.
	DelimiterFlush

	// like DelimiterFlush, but access units that stay open
	// for longer than Timeout are closed too.
	DelimiterFlushWithTimeout
)

var flushPolicyLabels = map[FlushPolicy]string{
	BoundaryFlush:             "boundary",
	DelimiterFlush:            "delimiter",
	DelimiterFlushWithTimeout: "delimiter+timeout",
}

// String implements fmt.Stringer.
func (p FlushPolicy) String() string {
	if l, ok := flushPolicyLabels[p]; ok {
		return l
	}
	return "unknown"
}

// SEIMode tells what to do with SEI NALUs.
type SEIMode int

// SEI modes.
const (
	SEIDiscard SEIMode = iota
	SEIRetain
)

// IDRMode tells what to do with the access unit that begins with an IDR.
type IDRMode int

// IDR modes.
const (
	// the access unit stays open and collects following NALUs.
	IDRAccumulate IDRMode = iota

	// the access unit is emitted immediately.
	IDREager
)

// State is the state of an Assembler.
type State int

// states.
const (
	StateIdle State = iota
	StateAccumulating
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	}
	return "unknown"
}
