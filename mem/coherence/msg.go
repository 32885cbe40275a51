package coherence

import "fmt"

// MsgKind identifies what a message asks for or reports.
type MsgKind uint8

// Requests, evictions, snoops, forwards, and replies.
const (
	ReadReq MsgKind = iota
	WriteReq
	UpgradeReq
	FetchReq
	NonAllocatingStoreReq

	EvictClean
	EvictWritable
	EvictDirty

	Invalidate
	BackInvalidate
	Downgrade

	ReadFwd
	WriteFwd
	FetchFwd

	MissNotify
	UpgradeReply
	Data

	ReadAck
	WriteAck
	UpgradeAck
	FetchAck
	InvalidateAck
	InvUpdateAck
	DowngradeAck
	FwdNAck
	NASAck
	EvictAck
)

var msgKindNames = map[MsgKind]string{
	ReadReq:               "ReadReq",
	WriteReq:              "WriteReq",
	UpgradeReq:            "UpgradeReq",
	FetchReq:              "FetchReq",
	NonAllocatingStoreReq: "NonAllocatingStoreReq",
	EvictClean:            "EvictClean",
	EvictWritable:         "EvictWritable",
	EvictDirty:            "EvictDirty",
	Invalidate:            "Invalidate",
	BackInvalidate:        "BackInvalidate",
	Downgrade:             "Downgrade",
	ReadFwd:               "ReadFwd",
	WriteFwd:              "WriteFwd",
	FetchFwd:              "FetchFwd",
	MissNotify:            "MissNotify",
	UpgradeReply:          "UpgradeReply",
	Data:                  "Data",
	ReadAck:               "ReadAck",
	WriteAck:              "WriteAck",
	UpgradeAck:            "UpgradeAck",
	FetchAck:              "FetchAck",
	InvalidateAck:         "InvalidateAck",
	InvUpdateAck:          "InvUpdateAck",
	DowngradeAck:          "DowngradeAck",
	FwdNAck:               "FwdNAck",
	NASAck:                "NASAck",
	EvictAck:              "EvictAck",
}

func (k MsgKind) String() string {
	if name, ok := msgKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("MsgKind(%d)", uint8(k))
}

// ParseMsgKind converts a kind name back to a MsgKind.
func ParseMsgKind(name string) (MsgKind, error) {
	for k, n := range msgKindNames {
		if n == name {
			return k, nil
		}
	}

	return 0, fmt.Errorf("unknown message kind %q", name)
}

// IsRequest returns true for messages that start a transaction.
func (k MsgKind) IsRequest() bool {
	return k <= NonAllocatingStoreReq
}

// IsEvict returns true for voluntary evictions reported by a cache.
func (k MsgKind) IsEvict() bool {
	return k >= EvictClean && k <= EvictDirty
}

// IsReply returns true for acknowledgements that a directory consumes.
func (k MsgKind) IsReply() bool {
	return k >= ReadAck && k != EvictAck
}

// IsWrite returns true for requests that need exclusive access.
func (k MsgKind) IsWrite() bool {
	return k == WriteReq || k == UpgradeReq || k == NonAllocatingStoreReq
}

// IsRead returns true for requests that only need a readable copy.
func (k MsgKind) IsRead() bool {
	return k == ReadReq || k == FetchReq
}

// DestType tells the transport where a message goes.
type DestType uint8

// Destinations.
const (
	ToRequester DestType = iota
	ToSource
	ToMemory
	ToMulticast
	ToDirectory
)

func (d DestType) String() string {
	switch d {
	case ToRequester:
		return "Requester"
	case ToSource:
		return "Source"
	case ToMemory:
		return "Memory"
	case ToMulticast:
		return "Multicast"
	case ToDirectory:
		return "Directory"
	default:
		return fmt.Sprintf("DestType(%d)", uint8(d))
	}
}

// NoNode marks an unset node field.
const NoNode = -1

// Msg is a coherence control message. Data payloads are not modeled.
type Msg struct {
	// ID is an opaque tracking token used only by telemetry.
	ID string

	Kind    MsgKind
	Address uint64

	// Requester is the node whose request started the transaction.
	Requester int

	// Source is the node a forward is sent to, or the node that supplied
	// data.
	Source int

	// Other is the node acknowledging an invalidate or revoke.
	Other int

	// Locality is the sharer the requester would prefer to be served by.
	Locality int

	Dest      DestType
	Multicast []int

	// OutstandingAcks tells the requester how many acks to collect.
	OutstandingAcks int
}

// NewMsg creates a message with every node field unset.
func NewMsg(kind MsgKind, addr uint64, requester int) Msg {
	return Msg{
		Kind:      kind,
		Address:   addr,
		Requester: requester,
		Source:    NoNode,
		Other:     NoNode,
		Locality:  NoNode,
		Dest:      ToDirectory,
	}
}

// Target returns the single node the message is delivered to, or NoNode for
// memory, directory, and multicast destinations.
func (m Msg) Target() int {
	switch m.Dest {
	case ToRequester:
		return m.Requester
	case ToSource:
		return m.Source
	default:
		return NoNode
	}
}

func (m Msg) String() string {
	s := fmt.Sprintf("%s[%#x] req=%d -> %s", m.Kind, m.Address, m.Requester,
		m.Dest)

	switch m.Dest {
	case ToSource:
		s += fmt.Sprintf("(%d)", m.Source)
	case ToMulticast:
		s += fmt.Sprintf("%v", m.Multicast)
	}

	if m.Kind == MissNotify {
		s += fmt.Sprintf(" acks=%d", m.OutstandingAcks)
	}

	return s
}
