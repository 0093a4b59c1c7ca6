// Package incoming classifies FromRadio frames arriving from the mesh:
// logging RF metadata, updating node and position state, correlating
// traceroute request/response pairs into sessions, and handing text
// messages off to the command dispatcher and the chat bridges.
package incoming

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"

	"github.com/meshenger/gateway/internal/bridge"
	"github.com/meshenger/gateway/internal/dashboard"
	"github.com/meshenger/gateway/internal/dispatch"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/radio"
	"github.com/meshenger/gateway/internal/startup"
	"github.com/meshenger/gateway/internal/store"
)

// Handler processes FromRadio frames for one connected radio session.
type Handler struct {
	st          *store.Store
	keys        *radio.KeyRing
	startup     *startup.State
	hub         *bridge.Hub
	dispatcher  *dispatch.Dispatcher
	gracePeriod time.Duration
	logger      *log.Logger
	nowFunc     func() time.Time
	counters    *dashboard.Counters
}

// New builds a Handler. nowFunc lets tests control timestamps.
func New(st *store.Store, keys *radio.KeyRing, startupState *startup.State, hub *bridge.Hub, dispatcher *dispatch.Dispatcher, gracePeriod time.Duration, nowFunc func() time.Time) *Handler {
	return &Handler{
		st: st, keys: keys, startup: startupState, hub: hub, dispatcher: dispatcher,
		gracePeriod: gracePeriod, logger: log.With("component", "incoming"), nowFunc: nowFunc,
	}
}

// SetCounters attaches dashboard counters to increment as traceroute
// exchanges are observed; nil (the default) disables the increment.
func (h *Handler) SetCounters(counters *dashboard.Counters) {
	h.counters = counters
}

// ProcessRadioPacket routes one FromRadio frame based on its payload
// variant; only Packet and NodeInfo carry anything the gateway acts on.
func (h *Handler) ProcessRadioPacket(ctx context.Context, myNodeID uint32, msg *meshtastic.FromRadio) {
	switch v := msg.GetPayloadVariant().(type) {
	case *meshtastic.FromRadio_Packet:
		h.handleMeshPacket(ctx, myNodeID, v.Packet)
	case *meshtastic.FromRadio_NodeInfo:
		h.handleNodeInfo(ctx, myNodeID, v.NodeInfo)
	}
}

func rfMetadata(packet *meshtastic.MeshPacket) radio.Metadata {
	return radio.ExtractMetadata(packet)
}

func (h *Handler) logPacket(ctx context.Context, packet *meshtastic.MeshPacket, meta radio.Metadata, kind string) {
	if _, err := h.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: h.nowFunc().Unix(), FromNode: packet.GetFrom(), Channel: packet.GetChannel(),
		Direction: store.DirectionIn, ViaMQTT: packet.GetViaMqtt(),
		RSSI: meta.RSSI, SNR: meta.SNR, HopCount: meta.HopCount, HopStart: meta.HopStart,
		PacketType: kind,
	}); err != nil {
		h.logger.Error("failed to log incoming packet", "err", err, "kind", kind)
	}
}

func (h *Handler) handleMeshPacket(ctx context.Context, myNodeID uint32, packet *meshtastic.MeshPacket) {
	data, err := radio.TryDecode(packet, h.keys.KeyFor("LongFast"))
	if err != nil {
		return
	}
	meta := rfMetadata(packet)

	switch data.GetPortnum() {
	case meshtastic.PortNum_POSITION_APP:
		h.logPacket(ctx, packet, meta, "position")
		h.handlePosition(ctx, packet, data)
	case meshtastic.PortNum_TELEMETRY_APP:
		h.logPacket(ctx, packet, meta, "telemetry")
	case meshtastic.PortNum_TRACEROUTE_APP:
		h.handleTraceroute(ctx, myNodeID, packet, data, meta)
	case meshtastic.PortNum_NEIGHBORINFO_APP:
		h.logPacket(ctx, packet, meta, "neighborinfo")
	case meshtastic.PortNum_ROUTING_APP:
		h.handleRoutingReply(ctx, packet, data, meta)
	case meshtastic.PortNum_TEXT_MESSAGE_APP:
		h.handleTextMessage(ctx, myNodeID, packet, data, meta)
	default:
		h.logPacket(ctx, packet, meta, "other")
	}
}

func (h *Handler) handlePosition(ctx context.Context, packet *meshtastic.MeshPacket, data *meshtastic.Data) {
	var pos meshtastic.Position
	if err := proto.Unmarshal(data.GetPayload(), &pos); err != nil {
		return
	}
	lat := float64(pos.GetLatitudeI()) * 1e-7
	lon := float64(pos.GetLongitudeI()) * 1e-7
	if lat == 0 && lon == 0 {
		return
	}
	if err := h.st.UpdatePosition(ctx, packet.GetFrom(), lat, lon); err != nil {
		h.logger.Error("failed to update position", "err", err)
	}
}

// traceKey is the correlation key shared by a traceroute request and its
// matching response: "req:{src}:{dst|broadcast}:{request_mesh_id}".
func traceKey(src uint32, dst *uint32, requestMeshID uint32) string {
	if dst == nil {
		return fmt.Sprintf("req:%08x:broadcast:%d", src, requestMeshID)
	}
	return fmt.Sprintf("req:%08x:%08x:%d", src, *dst, requestMeshID)
}

// handleRoutingReply logs a Routing-app packet and, when it carries a
// non-zero request_id, correlates it to an in-flight traceroute session as
// an implicit response-side observation. This catches replies to our own or
// a third party's explicit traceroute requests that the mesh routed back as
// a plain Routing ack rather than a Traceroute app reply.
func (h *Handler) handleRoutingReply(ctx context.Context, packet *meshtastic.MeshPacket, data *meshtastic.Data, meta radio.Metadata) {
	requestID := data.GetRequestId()
	if requestID == 0 {
		h.logPacket(ctx, packet, meta, "routing")
		return
	}

	now := h.nowFunc().Unix()
	ref, err := h.st.FindTracerouteSessionByRequestMeshID(ctx, requestID, now-3600)
	if err != nil {
		h.logger.Error("failed to correlate routing reply", "err", err)
		h.logPacket(ctx, packet, meta, "routing")
		return
	}
	if ref == nil {
		h.logPacket(ctx, packet, meta, "routing")
		return
	}

	var hops []uint32
	var routing meshtastic.Routing
	if err := proto.Unmarshal(data.GetPayload(), &routing); err == nil {
		if reply := routing.GetRouteReply(); reply != nil {
			hops = make([]uint32, len(reply.GetRoute()))
			copy(hops, reply.GetRoute())
		}
	}

	meshID := packet.GetId()
	pktID, err := h.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: now, FromNode: packet.GetFrom(), Channel: packet.GetChannel(),
		Direction: store.DirectionIn, ViaMQTT: packet.GetViaMqtt(), PacketType: "routing",
		RSSI: meta.RSSI, SNR: meta.SNR, HopCount: meta.HopCount, HopStart: meta.HopStart,
		MeshPacketID: &meshID,
	})
	if err != nil {
		h.logger.Error("failed to log routing reply packet", "err", err)
		return
	}

	obs := store.TracerouteObservation{
		TraceKey: ref.TraceKey, SrcNode: ref.SrcNode, DstNode: ref.DstNode, ViaMQTT: packet.GetViaMqtt(),
		Direction: store.HopDirectionResponse, SourceKind: store.SourceKindRoutingRouteBack,
		Hops: hops, PacketID: &pktID, ObservedAt: now,
	}
	if err := h.st.LogTracerouteObservation(ctx, obs); err != nil {
		h.logger.Error("failed to log routing-sourced observation", "err", err)
		return
	}
	if h.counters != nil {
		h.counters.TraceroutesSeen.Add(1)
	}
}

func (h *Handler) handleTraceroute(ctx context.Context, myNodeID uint32, packet *meshtastic.MeshPacket, data *meshtastic.Data, meta radio.Metadata) {
	var route meshtastic.RouteDiscovery
	if err := proto.Unmarshal(data.GetPayload(), &route); err != nil {
		return
	}

	hops := route.GetRoute()
	now := h.nowFunc().Unix()

	isResponse := data.GetRequestId() != 0
	var key string
	var direction store.HopDirection
	var sourceKind store.SourceKind
	var src uint32
	var dst *uint32

	if isResponse {
		direction = store.HopDirectionResponse
		sourceKind = store.SourceKindRouteBack
		src = packet.GetTo()
		to := packet.GetFrom()
		dst = &to
		ref, err := h.st.FindTracerouteSessionByRequestMeshID(ctx, data.GetRequestId(), now-3600)
		if err != nil {
			h.logger.Error("failed to correlate traceroute response", "err", err)
			return
		}
		if ref == nil {
			// No matching request observed; nothing to correlate against,
			// so there is no session to attach this response to.
			return
		}
		key = ref.TraceKey
	} else {
		direction = store.HopDirectionRequest
		sourceKind = store.SourceKindRoute
		src = packet.GetFrom()
		if packet.GetTo() != 0 {
			to := packet.GetTo()
			dst = &to
		}
		key = traceKey(src, dst, packet.GetId())
	}

	meshID := packet.GetId()
	pktID, err := h.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: now, FromNode: packet.GetFrom(), Channel: packet.GetChannel(),
		Direction: store.DirectionIn, ViaMQTT: packet.GetViaMqtt(), PacketType: "traceroute",
		RSSI: meta.RSSI, SNR: meta.SNR, HopCount: meta.HopCount, HopStart: meta.HopStart,
		MeshPacketID: &meshID,
	})
	if err != nil {
		h.logger.Error("failed to log traceroute packet", "err", err)
		return
	}

	hopsU32 := make([]uint32, len(hops))
	copy(hopsU32, hops)

	obs := store.TracerouteObservation{
		TraceKey: key, SrcNode: src, DstNode: dst, ViaMQTT: packet.GetViaMqtt(),
		Direction: direction, SourceKind: sourceKind, Hops: hopsU32, PacketID: &pktID, ObservedAt: now,
	}
	if err := h.st.LogTracerouteObservation(ctx, obs); err != nil {
		h.logger.Error("failed to log traceroute observation", "err", err)
		return
	}
	if h.counters != nil {
		h.counters.TraceroutesSeen.Add(1)
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, myNodeID uint32, packet *meshtastic.MeshPacket, data *meshtastic.Data, meta radio.Metadata) {
	if !utf8.Valid(data.GetPayload()) {
		return
	}
	text := string(data.GetPayload())

	isDM := packet.GetTo() == myNodeID
	name, err := h.st.GetNodeName(ctx, packet.GetFrom())
	if err != nil || name == "" {
		name = fmt.Sprintf("!%08x", packet.GetFrom())
	}

	hopCount := uint32(0)
	if meta.HopCount != nil {
		hopCount = *meta.HopCount
	}

	msgCtx := meshmsg.MessageContext{
		SenderID: packet.GetFrom(), SenderName: name, Channel: packet.GetChannel(), IsDM: isDM,
		HopCount: hopCount, HopLimit: packet.GetHopLimit(), ViaMQTT: packet.GetViaMqtt(), PacketID: packet.GetId(),
	}
	if meta.RSSI != nil {
		msgCtx.RSSI = *meta.RSSI
	}
	if meta.SNR != nil {
		msgCtx.SNR = *meta.SNR
	}

	h.logger.Info("text message", "from", name, "dm", isDM, "packet_id", packet.GetId(), "text", text)

	var toNode *uint32
	if isDM {
		toNode = &myNodeID
	}
	if _, err := h.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: h.nowFunc().Unix(), FromNode: packet.GetFrom(), ToNode: toNode, Channel: packet.GetChannel(),
		Text: text, Direction: store.DirectionIn, ViaMQTT: packet.GetViaMqtt(),
		RSSI: meta.RSSI, SNR: meta.SNR, HopCount: meta.HopCount, HopStart: meta.HopStart, PacketType: "text",
	}); err != nil {
		h.logger.Error("failed to log text message", "err", err)
	}

	if !isDM && !bridge.HasKnownMarker(text) {
		h.hub.PublishMeshMessage(bridge.MeshMessage{
			FromNode: packet.GetFrom(), FromName: name, Text: text, Channel: packet.GetChannel(),
			Timestamp: h.nowFunc().Unix(),
		})
	}

	if err := h.dispatcher.DispatchCommandFromText(ctx, msgCtx, text, myNodeID); err != nil {
		h.logger.Error("command dispatch error", "err", err)
	}
}

func (h *Handler) handleNodeInfo(ctx context.Context, myNodeID uint32, node *meshtastic.NodeInfo) {
	nodeID := node.GetNum()
	user := node.GetUser()
	longName, shortName := "", ""
	if user != nil {
		longName, shortName = user.GetLongName(), user.GetShortName()
	}
	viaMQTT := node.GetViaMqtt()

	if _, err := h.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: h.nowFunc().Unix(), FromNode: nodeID, Direction: store.DirectionIn, ViaMQTT: viaMQTT, PacketType: "nodeinfo",
	}); err != nil {
		h.logger.Error("failed to log nodeinfo packet", "err", err)
	}

	if nodeID != myNodeID {
		if h.startup.InGracePeriod(h.gracePeriod) {
			h.logger.Debug("deferring event dispatch during startup grace period", "node_id", nodeID)
			h.startup.DeferEvent(meshmsg.NodeDiscovered(nodeID, longName, shortName, viaMQTT))
			return
		}
		h.dispatcher.DispatchEventToModules(ctx, meshmsg.NodeDiscovered(nodeID, longName, shortName, viaMQTT), myNodeID)
	}

	if _, err := h.st.UpsertNode(ctx, nodeID, shortName, longName, viaMQTT, h.nowFunc().Unix()); err != nil {
		h.logger.Error("failed to upsert node", "err", err)
	}

	if pos := node.GetPosition(); pos != nil {
		lat := float64(pos.GetLatitudeI()) * 1e-7
		lon := float64(pos.GetLongitudeI()) * 1e-7
		if lat != 0 || lon != 0 {
			if err := h.st.UpdatePosition(ctx, nodeID, lat, lon); err != nil {
				h.logger.Error("failed to update position from nodeinfo", "err", err)
			}
		}
	}
}

// DispatchDeferredEvents drains events buffered during the startup grace
// period and dispatches them now that it has ended.
func (h *Handler) DispatchDeferredEvents(ctx context.Context, myNodeID uint32) {
	events := h.startup.TakeDeferred()
	if len(events) == 0 {
		return
	}
	h.logger.Info("grace period ended, dispatching deferred events", "count", len(events))
	for _, event := range events {
		h.dispatcher.DispatchEventToModules(ctx, event, myNodeID)
		if err := h.st.UpsertNode(ctx, event.NodeID, event.ShortName, event.LongName, event.ViaMQTT, h.nowFunc().Unix()); err != nil {
			h.logger.Error("failed to upsert deferred node", "err", err)
		}
	}
}
