package protocol

// ReplyKind selects how the Executor reads a reply.
type ReplyKind int

const (
	ReplyNone       ReplyKind = iota // fire-and-forget
	ReplyFixed                       // exactly Length bytes
	ReplyTerminated                  // bytes up to the '#' terminator
	ReplyStatus                      // one status byte, then '#'-terminated text
)

const Terminator = '#'

// maxReplyLength bounds a terminated reply; longer input is treated as noise.
const maxReplyLength = 256

// Grammar is the expected shape of a reply.
//
// For ReplyStatus a single status byte is read first. When Lines is zero a
// '#'-terminated message follows any status other than Success (e.g.
// "1Object below horizon#" or "e5#"). When Lines is non-zero, that many
// terminated lines follow a Success status and nothing follows a failure.
type Grammar struct {
	Kind    ReplyKind
	Length  int
	Success byte
	Lines   int
}

var (
	NoReply    = Grammar{Kind: ReplyNone}
	Ack        = Grammar{Kind: ReplyFixed, Length: 1}
	Terminated = Grammar{Kind: ReplyTerminated}
)

func Fixed(n int) Grammar {
	return Grammar{Kind: ReplyFixed, Length: n}
}

func Status(success byte, lines int) Grammar {
	return Grammar{Kind: ReplyStatus, Success: success, Lines: lines}
}

// Response is a decoded reply.
type Response struct {
	Raw    string // everything read, terminators stripped
	Status byte   // first byte for ReplyFixed and ReplyStatus
	Text   string // message or terminated payload
}
