// Package bot implements the gateway's reconnect loop and cooperative event
// loop: one radio connection at a time, timer-driven housekeeping jobs
// layered over it via select, all running on a single goroutine.
package bot

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"

	"github.com/meshenger/gateway/internal/bridge"
	"github.com/meshenger/gateway/internal/config"
	"github.com/meshenger/gateway/internal/cooldown"
	"github.com/meshenger/gateway/internal/dashboard"
	"github.com/meshenger/gateway/internal/incoming"
	"github.com/meshenger/gateway/internal/probe"
	"github.com/meshenger/gateway/internal/queue"
	"github.com/meshenger/gateway/internal/startup"
	"github.com/meshenger/gateway/internal/store"
	"github.com/meshenger/gateway/internal/transport"
	"github.com/meshenger/gateway/internal/transport/serial"
)

// broadcastNodeID is Meshtastic's well-known broadcast destination.
const broadcastNodeID uint32 = 0xffffffff

// staleNodeMaxAge is how long a node may go unheard before purgeStaleNodes
// drops it.
const staleNodeMaxAge = 7 * 24 * time.Hour

// Runtime owns one radio connection's lifecycle: it dials, performs the
// config handshake, and runs the event loop until the connection drops,
// then sleeps and reconnects.
type Runtime struct {
	cfg       *config.Config
	st        *store.Store
	out       *queue.Queue
	startup   *startup.State
	hub       *bridge.Hub
	incoming  *incoming.Handler
	cooldowns *cooldown.Tracker
	counters  *dashboard.Counters
	notifier  *dashboard.Notifier
	logger    *log.Logger
	nowFunc   func() time.Time
}

// New builds a Runtime from its already-wired dependencies.
func New(cfg *config.Config, st *store.Store, out *queue.Queue, startupState *startup.State, hub *bridge.Hub, incomingHandler *incoming.Handler, counters *dashboard.Counters, notifier *dashboard.Notifier) *Runtime {
	return &Runtime{
		cfg:       cfg,
		st:        st,
		out:       out,
		startup:   startupState,
		hub:       hub,
		incoming:  incomingHandler,
		cooldowns: cooldown.New(),
		counters:  counters,
		notifier:  notifier,
		logger:    log.With("component", "bot"),
		nowFunc:   time.Now,
	}
}

// Run loops forever: connect, run the event loop until the connection ends,
// sleep for the configured backoff, repeat. It returns only when ctx is
// cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	delay := r.cfg.ReconnectDelay()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.connectAndRun(ctx); err != nil {
			r.logger.Error("connection error", "err", err)
		} else {
			r.logger.Warn("connection closed cleanly")
		}
		r.counters.ReconnectCount.Add(1)

		r.logger.Info("reconnecting", "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// dialConn opens the transport named by a connection.address string:
// "tcp://host:port", a bare "host:port" (also TCP), or "serial://<device>".
func dialConn(address string) (io.ReadWriteCloser, error) {
	switch {
	case strings.HasPrefix(address, "serial://"):
		return serial.Connect(strings.TrimPrefix(address, "serial://"))
	case strings.HasPrefix(address, "tcp://"):
		return net.Dial("tcp", strings.TrimPrefix(address, "tcp://"))
	default:
		return net.Dial("tcp", address)
	}
}

func (r *Runtime) connectAndRun(ctx context.Context) error {
	r.logger.Info("connecting to meshtastic node", "address", r.cfg.Connection.Address)

	conn, err := dialConn(r.cfg.Connection.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.cfg.Connection.Address, err)
	}

	sc, err := transport.NewClientStreamConn(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("open stream: %w", err)
	}
	client := transport.NewRadioClient(sc)
	defer client.Close()

	packetCh, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	myNodeID := client.MyNodeID()
	r.logger.Info("connected and configured", "node_id", fmt.Sprintf("!%08x", myNodeID))
	r.counters.ConnectedSince.Store(r.nowFunc().Unix())

	probeCooldown := time.Duration(r.cfg.TracerouteProbe.PerNodeCooldownSecs) * time.Second
	probeLookback := time.Duration(r.cfg.TracerouteProbe.RecentSeenWithinSecs) * time.Second
	selector := probe.NewSelector(r.st, myNodeID, r.cooldowns, probeCooldown, probeLookback)

	return r.eventLoop(ctx, myNodeID, packetCh, client, selector)
}

// eventLoop is the single cooperative scheduler: one select over the radio
// packet feed, the bridge-submitted outgoing channel, and every timer,
// until the packet feed closes.
func (r *Runtime) eventLoop(ctx context.Context, myNodeID uint32, packetCh <-chan *meshtastic.FromRadio, client *transport.RadioClient, selector *probe.Selector) error {
	r.startup.MarkConnectedAndReset()

	graceTimer := time.NewTimer(r.cfg.GracePeriod())
	defer graceTimer.Stop()
	graceDone := false

	sendDelay := time.Duration(r.cfg.Bot.SendDelayMs) * time.Millisecond
	sendTimer := time.NewTimer(sendDelay)
	defer sendTimer.Stop()

	traceEnabled := r.cfg.TracerouteProbe.Enabled
	traceInterval := tracerouteInterval(r.cfg.TracerouteProbe)
	traceTimer := time.NewTimer(traceInterval)
	defer traceTimer.Stop()

	purgeInterval := time.Duration(r.cfg.Bot.StalePurgeHours) * time.Hour
	purgeTimer := time.NewTimer(purgeInterval)
	defer purgeTimer.Stop()

	optimizeInterval := time.Duration(r.cfg.Bot.OptimizeIntervalHours) * time.Hour
	optimizeTimer := time.NewTimer(optimizeInterval)
	defer optimizeTimer.Stop()

	r.purgeStaleNodes(ctx)

	bridgeActive := true
	bridgeOut := r.hub.Outgoing()

	for {
		var sendC <-chan time.Time
		if !r.out.IsEmpty() {
			sendC = sendTimer.C
		}
		var graceC <-chan time.Time
		if !graceDone {
			graceC = graceTimer.C
		}
		var traceC <-chan time.Time
		if traceEnabled {
			traceC = traceTimer.C
		}
		var bridgeC bridge.OutgoingMessageReceiver
		if bridgeActive {
			bridgeC = bridgeOut
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-packetCh:
			if !ok {
				r.logger.Warn("packet channel closed, exiting event loop")
				return nil
			}
			r.counters.PacketsIn.Add(1)
			r.incoming.ProcessRadioPacket(ctx, myNodeID, msg)
			r.notifyDashboard()

		case bmsg, ok := <-bridgeC:
			if !ok {
				bridgeActive = false
				r.logger.Warn("bridge outgoing channel closed; disabling bridge receive path")
				continue
			}
			r.handleBridgeMessage(myNodeID, bmsg)

		case <-graceC:
			graceDone = true
			r.incoming.DispatchDeferredEvents(ctx, myNodeID)

		case <-sendC:
			r.sendNextQueuedMessage(ctx, client)
			r.notifyDashboard()
			sendTimer.Reset(sendDelay)

		case <-traceC:
			r.maybeQueueTracerouteProbe(ctx, myNodeID, selector)
			traceTimer.Reset(traceInterval)

		case <-purgeTimer.C:
			r.purgeStaleNodes(ctx)
			purgeTimer.Reset(purgeInterval)

		case <-optimizeTimer.C:
			r.optimizeStore(ctx)
			optimizeTimer.Reset(optimizeInterval)
		}
	}
}

func (r *Runtime) purgeStaleNodes(ctx context.Context) {
	cutoff := r.nowFunc().Add(-staleNodeMaxAge).Unix()
	purged, err := r.st.PurgeNodesNotSeenWithin(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to purge stale nodes", "err", err)
		return
	}
	if purged > 0 {
		r.logger.Info("purged stale nodes", "count", purged, "max_age_days", int(staleNodeMaxAge.Hours()/24))
		r.notifyDashboard()
	}
}

func (r *Runtime) optimizeStore(ctx context.Context) {
	if err := r.st.Optimize(ctx); err != nil {
		r.logger.Error("store optimize failed", "err", err)
	}
}

func (r *Runtime) maybeQueueTracerouteProbe(ctx context.Context, myNodeID uint32, selector *probe.Selector) {
	target, ok, err := selector.SelectNext(ctx, r.nowFunc())
	if err != nil {
		r.logger.Error("traceroute probe candidate query failed", "err", err)
		return
	}
	if !ok {
		return
	}

	r.out.Push(queue.Message{
		Kind:             queue.KindTraceroute,
		TracerouteTarget: target,
		Broadcast:        false,
		ToNode:           target,
		FromNode:         myNodeID,
		MeshChannel:      r.cfg.TracerouteProbe.MeshChannel,
	})
	r.logger.Info("queued traceroute probe", "target", fmt.Sprintf("!%08x", target))
}

// handleBridgeMessage wraps a chat-platform message as a broadcast text
// send on the configured bridge channel.
func (r *Runtime) handleBridgeMessage(myNodeID uint32, msg bridge.OutgoingMessage) {
	r.logger.Info("bridge message", "marker", msg.Marker, "text", msg.Text)
	r.out.Push(queue.Message{
		Kind:        queue.KindText,
		Text:        msg.Text,
		Broadcast:   true,
		FromNode:    myNodeID,
		MeshChannel: msg.MeshChannel,
	})
}

func (r *Runtime) notifyDashboard() {
	if r.notifier != nil {
		r.notifier.Notify()
	}
}

// sendNextQueuedMessage pops and sends exactly one pending message, logging
// it as an outgoing packet first so the traceroute correlator can later
// find this send's mesh_packet_id.
func (r *Runtime) sendNextQueuedMessage(ctx context.Context, client *transport.RadioClient) {
	msg, ok := r.out.Pop()
	if !ok {
		return
	}

	toNode := msg.ToNode
	if msg.Broadcast {
		toNode = broadcastNodeID
	}
	packetID := rand.Uint32()

	var kind string
	var packet *meshtastic.MeshPacket
	switch msg.Kind {
	case queue.KindTraceroute:
		kind = "traceroute"
		packet = buildTraceroutePacket(packetID, toNode, msg)
	default:
		kind = "text"
		packet = buildTextPacket(packetID, toNode, msg)
	}
	if packet == nil {
		return
	}

	r.logOutgoing(ctx, packetID, msg, kind)
	if err := client.Send(packet); err != nil {
		r.logger.Error("failed to send queued message", "kind", kind, "err", err)
		return
	}
	r.counters.PacketsOut.Add(1)
}

func buildTextPacket(packetID, toNode uint32, msg queue.Message) *meshtastic.MeshPacket {
	data := &meshtastic.Data{
		Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
		Payload: []byte(msg.Text),
	}
	if msg.ReplyID != nil {
		data.ReplyId = *msg.ReplyID
	}
	return &meshtastic.MeshPacket{
		Id:             packetID,
		From:           msg.FromNode,
		To:             toNode,
		Channel:        msg.MeshChannel,
		WantAck:        true,
		PayloadVariant: &meshtastic.MeshPacket_Decoded{Decoded: data},
	}
}

func buildTraceroutePacket(packetID, toNode uint32, msg queue.Message) *meshtastic.MeshPacket {
	routing := &meshtastic.Routing{
		Variant: &meshtastic.Routing_RouteRequest{RouteRequest: &meshtastic.RouteDiscovery{}},
	}
	payload, err := proto.Marshal(routing)
	if err != nil {
		return nil
	}
	data := &meshtastic.Data{
		Portnum:      meshtastic.PortNum_ROUTING_APP,
		Payload:      payload,
		WantResponse: true,
	}
	return &meshtastic.MeshPacket{
		Id:             packetID,
		From:           msg.FromNode,
		To:             toNode,
		Channel:        msg.MeshChannel,
		WantAck:        true,
		PayloadVariant: &meshtastic.MeshPacket_Decoded{Decoded: data},
	}
}

func (r *Runtime) logOutgoing(ctx context.Context, packetID uint32, msg queue.Message, kind string) {
	params := store.PacketParams{
		Timestamp:    r.nowFunc().Unix(),
		FromNode:     msg.FromNode,
		Channel:      msg.MeshChannel,
		Direction:    store.DirectionOut,
		PacketType:   kind,
		MeshPacketID: &packetID,
	}
	if kind == "text" {
		params.Text = msg.Text
	}
	if !msg.Broadcast {
		to := msg.ToNode
		params.ToNode = &to
	}
	if _, err := r.st.LogPacketWithMeshID(ctx, params); err != nil {
		r.logger.Error("failed to log outgoing packet", "err", err)
	}
}

// tracerouteInterval computes the probe timer's next fire delay: a base
// interval (clamped to at least 60s) plus a uniform random jitter of up to
// jitter_pct times the base, with jitter_pct taken as a fraction clamped to
// 0..1 (0.2 means up to 20%), per spec.md §4.10.
func tracerouteInterval(cfg config.TracerouteProbeConfig) time.Duration {
	base := time.Duration(cfg.IntervalSecs) * time.Second
	if base < 60*time.Second {
		base = 60 * time.Second
	}

	jitterPct := cfg.IntervalJitterPct
	if math.IsNaN(jitterPct) || jitterPct < 0 {
		jitterPct = 0
	} else if jitterPct > 1 {
		jitterPct = 1
	}

	jitter := time.Duration(rand.Float64() * jitterPct * float64(base))
	return base + jitter
}
