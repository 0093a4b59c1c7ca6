package mqttbridge

import (
	"context"
	"fmt"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
	"google.golang.org/protobuf/proto"

	"github.com/meshenger/gateway/internal/bridge"
	"github.com/meshenger/gateway/internal/radio"
	"github.com/meshenger/gateway/internal/store"
)

// Observer subscribes to one Meshtastic channel's MQTT topic and decrypts
// whatever it can. Every decoded packet is logged with via_mqtt set;
// NODEINFO upserts the node, POSITION updates its coordinates, and text
// without a bridge marker is published to the bridge hub. Unlike packets
// from the local radio, these are not passed to the incoming handler: no
// commands are dispatched, no module events are raised and no traceroute
// sessions are correlated.
type Observer struct {
	client      *Client
	keys        *radio.KeyRing
	channelName string
	st          *store.Store
	hub         *bridge.Hub
	logger      *log.Logger
	nowFunc     func() int64
}

// NewObserver builds an Observer. nowFunc lets tests control timestamps;
// pass time.Now().Unix in production.
func NewObserver(client *Client, keys *radio.KeyRing, channelName string, st *store.Store, hub *bridge.Hub, nowFunc func() int64) *Observer {
	return &Observer{
		client:      client,
		keys:        keys,
		channelName: channelName,
		st:          st,
		hub:         hub,
		logger:      log.With("component", "mqtt-observer", "channel", channelName),
		nowFunc:     nowFunc,
	}
}

// Start connects the underlying MQTT client and begins processing publishes
// on the configured channel until ctx is cancelled.
func (o *Observer) Start(ctx context.Context) error {
	if err := o.client.Connect(); err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	if err := o.client.Handle(o.channelName, o.handleMessage); err != nil {
		return fmt.Errorf("subscribe to %s: %w", o.channelName, err)
	}
	<-ctx.Done()
	o.client.Disconnect()
	return nil
}

func (o *Observer) handleMessage(msg Message) {
	if err := o.tryHandleMessage(msg); err != nil {
		o.logger.Error("failed handling mqtt message", "err", err)
	}
}

func (o *Observer) tryHandleMessage(msg Message) error {
	var env meshtastic.ServiceEnvelope
	if err := proto.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("unmarshal service envelope: %w", err)
	}
	if env.Packet == nil {
		return fmt.Errorf("service envelope missing packet")
	}

	data, err := radio.TryDecode(env.Packet, o.keys.KeyFor(o.channelName))
	if err != nil {
		return fmt.Errorf("decode packet: %w", err)
	}

	ctx := context.Background()
	now := o.nowFunc()
	meshID := env.Packet.GetId()

	packetType := "unknown"
	switch data.Portnum {
	case meshtastic.PortNum_TEXT_MESSAGE_APP:
		packetType = "text"
	case meshtastic.PortNum_NODEINFO_APP:
		packetType = "nodeinfo"
	case meshtastic.PortNum_POSITION_APP:
		packetType = "position"
	case meshtastic.PortNum_TELEMETRY_APP:
		packetType = "telemetry"
	case meshtastic.PortNum_NEIGHBORINFO_APP:
		packetType = "neighborinfo"
	case meshtastic.PortNum_TRACEROUTE_APP:
		packetType = "traceroute"
	}

	if _, err := o.st.LogPacketWithMeshID(ctx, store.PacketParams{
		Timestamp: now, FromNode: env.Packet.GetFrom(), Channel: env.Packet.GetChannel(),
		Direction: store.DirectionIn, ViaMQTT: true, MeshPacketID: &meshID, PacketType: packetType,
	}); err != nil {
		o.logger.Warn("failed to log mqtt packet", "err", err)
	}

	switch data.Portnum {
	case meshtastic.PortNum_NODEINFO_APP:
		var user meshtastic.User
		if err := proto.Unmarshal(data.Payload, &user); err != nil {
			return fmt.Errorf("unmarshal user: %w", err)
		}
		_, err := o.st.UpsertNode(ctx, env.Packet.GetFrom(), user.GetShortName(), user.GetLongName(), true, now)
		return err

	case meshtastic.PortNum_POSITION_APP:
		var pos meshtastic.Position
		if err := proto.Unmarshal(data.Payload, &pos); err != nil {
			return fmt.Errorf("unmarshal position: %w", err)
		}
		lat := float64(pos.GetLatitudeI()) / 1e7
		lon := float64(pos.GetLongitudeI()) / 1e7
		return o.st.UpdatePosition(ctx, env.Packet.GetFrom(), lat, lon)

	case meshtastic.PortNum_TEXT_MESSAGE_APP:
		text := string(data.Payload)
		if bridge.HasKnownMarker(text) {
			return nil
		}
		o.hub.PublishMeshMessage(bridge.MeshMessage{
			FromNode: env.Packet.GetFrom(), Text: text, Channel: env.Packet.GetChannel(), Timestamp: now,
		})
		return nil

	default:
		return nil
	}
}
