// Package bridge defines the channel-based seam between the mesh radio and
// external chat platforms (Telegram, Discord, ...). The gateway only
// produces and consumes these channel types; the platform adapters
// themselves live outside this module.
package bridge

import "strings"

// MeshMessage is a text observed on the mesh, destined for every connected
// chat bridge.
type MeshMessage struct {
	FromNode  uint32
	FromName  string
	Text      string
	Channel   uint32
	Timestamp int64
}

// OutgoingMessage is a chat-platform message destined for the mesh, tagged
// with a marker identifying which platform it came from so a reply can be
// routed back.
type OutgoingMessage struct {
	Marker      string
	Text        string
	MeshChannel uint32
	Timestamp   int64
}

// MeshMessageSender is the mesh side's handle for broadcasting observed
// text to every bridge.
type MeshMessageSender chan<- MeshMessage

// MeshMessageReceiver is a bridge adapter's handle for receiving mesh text.
type MeshMessageReceiver <-chan MeshMessage

// OutgoingMessageSender is a bridge adapter's handle for submitting
// chat-platform text to be relayed onto the mesh.
type OutgoingMessageSender chan<- OutgoingMessage

// OutgoingMessageReceiver is the mesh side's handle for draining
// bridge-submitted text.
type OutgoingMessageReceiver <-chan OutgoingMessage

// Markers identify which chat platform an OutgoingMessage originated from,
// prefixed onto the mesh-bound text so recipients can tell where a relayed
// message came from.
const (
	MarkerTelegram = "[TG:"
	MarkerDiscord  = "[DC:"
)

// HasKnownMarker reports whether text is prefixed with a recognized bridge
// marker, used to filter out messages the gateway itself relayed onto the
// mesh from being picked back up and re-broadcast to the bridges as if
// they were fresh mesh traffic.
func HasKnownMarker(text string) bool {
	return strings.HasPrefix(text, MarkerTelegram) || strings.HasPrefix(text, MarkerDiscord)
}

// Hub owns the channel pair: one buffered channel carries mesh text toward
// bridge adapters and another funnels bridge-submitted text back toward the
// mesh. The mesh channel is a plain Go channel, not a broadcast: each
// message is received by exactly one reader of MeshMessages, so two
// adapters reading it split the traffic between them.
type Hub struct {
	meshOut     chan MeshMessage
	fromBridges chan OutgoingMessage
}

// NewHub creates a Hub with the given buffer sizes.
func NewHub(meshBuffer, outgoingBuffer int) *Hub {
	return &Hub{
		meshOut:     make(chan MeshMessage, meshBuffer),
		fromBridges: make(chan OutgoingMessage, outgoingBuffer),
	}
}

// PublishMeshMessage offers msg to the mesh channel without blocking, so a
// slow or disconnected bridge never stalls mesh processing. When the buffer
// is full, msg is dropped and false is returned.
func (h *Hub) PublishMeshMessage(msg MeshMessage) (delivered bool) {
	select {
	case h.meshOut <- msg:
		return true
	default:
		return false
	}
}

// MeshMessages returns the receive-only handle bridge adapters subscribe to.
func (h *Hub) MeshMessages() MeshMessageReceiver {
	return h.meshOut
}

// SubmitFromBridge is called by a bridge adapter to relay chat-platform
// text onto the mesh.
func (h *Hub) SubmitFromBridge(msg OutgoingMessage) {
	h.fromBridges <- msg
}

// Outgoing returns the receive-only handle the runtime drains to pick up
// bridge-submitted text for the outgoing queue.
func (h *Hub) Outgoing() OutgoingMessageReceiver {
	return h.fromBridges
}
