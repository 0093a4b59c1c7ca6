package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/charmbracelet/log"
)

// ErrHandshakeTimeout is returned when ctx is cancelled before the radio
// sends ConfigCompleteId.
var ErrHandshakeTimeout = errors.New("timeout waiting for radio config handshake")

// RadioClient drives the Meshtastic stream protocol handshake over a
// StreamConn and, once complete, forwards every subsequent FromRadio frame
// to its caller.
type RadioClient struct {
	sc     *StreamConn
	logger *log.Logger

	myNodeID uint32
}

// NewRadioClient wraps an already-dialed StreamConn.
func NewRadioClient(sc *StreamConn) *RadioClient {
	return &RadioClient{sc: sc, logger: log.With("component", "radio-client")}
}

// MyNodeID returns the local radio's node number, valid only after Connect
// has returned successfully.
func (c *RadioClient) MyNodeID() uint32 {
	return c.myNodeID
}

// Connect performs the WantConfigId handshake and returns a channel that
// streams every FromRadio frame the radio sends afterward, including the
// NodeInfo/Channel/Config dump that immediately follows ConfigCompleteId.
// The returned channel is closed when the connection's read loop exits.
func (c *RadioClient) Connect(ctx context.Context) (<-chan *meshtastic.FromRadio, error) {
	configID := rand.Uint32()
	want := &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_WantConfigId{WantConfigId: configID},
	}
	c.logger.Debug("requesting config", "config_id", configID)
	if err := c.sc.Write(want); err != nil {
		return nil, fmt.Errorf("send want_config_id: %w", err)
	}

	out := make(chan *meshtastic.FromRadio, 64)
	handshakeDone := make(chan struct{})
	readErr := make(chan error, 1)

	go func() {
		defer close(out)
		complete := false
		for {
			msg := &meshtastic.FromRadio{}
			if err := c.sc.Read(msg); err != nil {
				c.logger.Error("radio read failed", "err", err)
				if !complete {
					readErr <- err
				}
				return
			}

			switch v := msg.GetPayloadVariant().(type) {
			case *meshtastic.FromRadio_MyInfo:
				c.myNodeID = v.MyInfo.GetMyNodeNum()
				c.logger.Info("identified local node", "node_id", c.myNodeID)
			case *meshtastic.FromRadio_ConfigCompleteId:
				if v.ConfigCompleteId == configID && !complete {
					complete = true
					close(handshakeDone)
				}
				continue
			case *meshtastic.FromRadio_Rebooted:
				c.logger.Warn("radio reported reboot")
				continue
			}

			if !complete {
				// Everything in the initial NodeInfo/Channel/Config dump
				// arrives before ConfigCompleteId; none of it is forwarded.
				// Callers that need the local node's own info already have
				// it from the MyInfo case above.
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-handshakeDone:
		return out, nil
	case err := <-readErr:
		return nil, fmt.Errorf("radio handshake failed: %w", err)
	case <-ctx.Done():
		return nil, ErrHandshakeTimeout
	}
}

// Send marshals and writes a ToRadio envelope wrapping a mesh packet.
func (c *RadioClient) Send(packet *meshtastic.MeshPacket) error {
	msg := &meshtastic.ToRadio{
		PayloadVariant: &meshtastic.ToRadio_Packet{Packet: packet},
	}
	return c.sc.Write(msg)
}

// Close closes the underlying stream connection.
func (c *RadioClient) Close() error {
	return c.sc.Close()
}
