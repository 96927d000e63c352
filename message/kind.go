// Package message implements the fixed-capacity pool slots that carry
// classified protocol messages by reference from the extractor to the
// router, and the closed MessageKind enumeration they are tagged
// with.
package message

import "fmt"

// Tag is the closed set of message kinds the extractor can produce.
type Tag uint8

const (
	// TerminalOutput is the fallback kind for any unmatched text span.
	TerminalOutput Tag = iota
	// CogMessage carries N in [0,7], the originating cog.
	CogMessage
	// P2SystemInit is the golden-sync "Cog0  INIT ..." line.
	P2SystemInit
	// DebuggerPacket carries N in [0,7], the 416-byte binary packet's
	// originating cog (its first byte).
	DebuggerPacket
	// BacktickCreate carries a window type + name pair (see Names).
	BacktickCreate
	// BacktickUpdate carries a target window-name list (see Names).
	BacktickUpdate
	// InvalidCog is a Cog-shaped line whose digit is out of range.
	InvalidCog
	// UnclassifiedText is reserved for future heuristics; currently
	// TerminalOutput covers every unmatched text span (see extract).
	UnclassifiedText
	// InternalTxEcho marks bytes the transport wrote to the wire and
	// observed looped back, so the router can suppress double-display.
	InternalTxEcho
)

func (t Tag) String() string {
	switch t {
	case TerminalOutput:
		return "TERMINAL_OUTPUT"
	case CogMessage:
		return "COG_MESSAGE"
	case P2SystemInit:
		return "P2_SYSTEM_INIT"
	case DebuggerPacket:
		return "DEBUGGER_PACKET"
	case BacktickCreate:
		return "BACKTICK_CREATE"
	case BacktickUpdate:
		return "BACKTICK_UPDATE"
	case InvalidCog:
		return "INVALID_COG"
	case UnclassifiedText:
		return "UNCLASSIFIED_TEXT"
	case InternalTxEcho:
		return "INTERNAL_TX_ECHO"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Confidence records how sure the extractor is about a classification.
type Confidence uint8

const (
	// Matched means the classification rule matched unambiguously.
	Matched Confidence = iota
	// Heuristic means the span fell through to a best-effort rule
	// (fallback terminal output, or a sync-loss recovery span).
	Heuristic
)

// Kind is a comparable value type standing in for the original's
// open-world message-kind tags: a small struct, usable as a map key
// in the routing table, carrying the cog number where relevant.
type Kind struct {
	Tag Tag
	N   int8 // cog number for CogMessage/DebuggerPacket, else -1
}

// Cog returns the kind's cog number and whether it is meaningful for
// this tag.
func (k Kind) Cog() (n int8, ok bool) {
	switch k.Tag {
	case CogMessage, DebuggerPacket:
		return k.N, true
	default:
		return -1, false
	}
}

func (k Kind) String() string {
	switch k.Tag {
	case CogMessage, DebuggerPacket:
		return fmt.Sprintf("%s(%d)", k.Tag, k.N)
	default:
		return k.Tag.String()
	}
}

// NewCogMessage builds a CogMessage kind for cog n.
func NewCogMessage(n int8) Kind { return Kind{Tag: CogMessage, N: n} }

// NewDebuggerPacket builds a DebuggerPacket kind for cog n.
func NewDebuggerPacket(n int8) Kind { return Kind{Tag: DebuggerPacket, N: n} }

// Simple builds a kind with no cog number.
func Simple(t Tag) Kind { return Kind{Tag: t, N: -1} }
