// Package meshmsg defines the sum-typed values that flow between the incoming
// packet classifier, the module dispatcher, and the outgoing queue.
package meshmsg

import "fmt"

// CommandScope restricts which channel kind (public vs. direct message) a
// module's commands may be invoked from.
type CommandScope int

const (
	ScopePublic CommandScope = iota
	ScopeDM
	ScopeBoth
)

// ParseCommandScope parses a config string, defaulting to ScopeBoth for any
// value it doesn't recognize.
func ParseCommandScope(s string) CommandScope {
	switch s {
	case "public", "Public", "PUBLIC":
		return ScopePublic
	case "dm", "DM":
		return ScopeDM
	default:
		return ScopeBoth
	}
}

// Allows reports whether a command registered with this scope may fire for a
// message received as a DM (is_dm = true) or on a public channel (false).
func (s CommandScope) Allows(isDM bool) bool {
	switch s {
	case ScopePublic:
		return !isDM
	case ScopeDM:
		return isDM
	default:
		return true
	}
}

// MessageContext carries everything a module needs to know about the incoming
// text message that triggered it.
type MessageContext struct {
	SenderID   uint32
	SenderName string
	Channel    uint32
	IsDM       bool
	RSSI       int32
	SNR        float32
	HopCount   uint32
	HopLimit   uint32
	ViaMQTT    bool
	// PacketID is the incoming mesh packet's radio-assigned ID, used for reply threading.
	PacketID uint32
}

// Destination names where a Response (or OutgoingMessage) should be routed.
type Destination struct {
	kind destKind
	node uint32
}

type destKind int

const (
	destSender destKind = iota
	destBroadcast
	destNode
)

func DestSender() Destination       { return Destination{kind: destSender} }
func DestBroadcast() Destination    { return Destination{kind: destBroadcast} }
func DestNode(id uint32) Destination { return Destination{kind: destNode, node: id} }

func (d Destination) IsSender() bool    { return d.kind == destSender }
func (d Destination) IsBroadcast() bool { return d.kind == destBroadcast }

// Node returns the explicit node ID and true if this destination names one.
func (d Destination) Node() (uint32, bool) {
	if d.kind == destNode {
		return d.node, true
	}
	return 0, false
}

func (d Destination) String() string {
	switch d.kind {
	case destSender:
		return "Sender"
	case destBroadcast:
		return "Broadcast"
	default:
		return fmt.Sprintf("Node(!%08x)", d.node)
	}
}

// Response is what a module's command/event handler produces; the dispatcher
// chunks its Text and translates it into one or more OutgoingMessages.
type Response struct {
	Text        string
	Destination Destination
	Channel     uint32
	// ReplyID, if set, threads the outgoing message to this incoming packet ID.
	ReplyID *uint32
}

// MeshEventKind discriminates the MeshEvent sum type.
type MeshEventKind int

const (
	EventNodeDiscovered MeshEventKind = iota
	EventPositionUpdate
)

// MeshEvent is fanned out to every module's HandleEvent. The incoming
// handler raises NodeDiscovered (deferred until the startup grace period
// has passed); position packets only update the store and raise no
// PositionUpdate event.
type MeshEvent struct {
	Kind      MeshEventKind
	NodeID    uint32
	LongName  string
	ShortName string
	ViaMQTT   bool
	Lat       float64
	Lon       float64
	Altitude  int32
}

func NodeDiscovered(nodeID uint32, longName, shortName string, viaMQTT bool) MeshEvent {
	return MeshEvent{Kind: EventNodeDiscovered, NodeID: nodeID, LongName: longName, ShortName: shortName, ViaMQTT: viaMQTT}
}

func PositionUpdate(nodeID uint32, lat, lon float64, altitude int32) MeshEvent {
	return MeshEvent{Kind: EventPositionUpdate, NodeID: nodeID, Lat: lat, Lon: lon, Altitude: altitude}
}
