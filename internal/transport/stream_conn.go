// Package transport implements the Meshtastic stream protocol framing used
// over both a TCP connection to a local radio's network API and a direct
// USB-serial link, plus the handshake that brings a freshly opened
// connection up to a streaming FromRadio feed.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/proto"
)

// Start1 and Start2 are the two magic bytes that open every framed
// Meshtastic stream protocol packet.
const (
	Start1 = 0x94
	Start2 = 0xc3
)

// MaxFrameLen bounds how large a single frame's declared length may be,
// guarding against a corrupt length prefix turning into a multi-gigabyte
// read.
const MaxFrameLen = 1 << 16

// StreamConn frames protobuf messages over an io.ReadWriteCloser using the
// Meshtastic stream protocol: Start1, Start2, a two-byte big-endian
// length, then that many bytes of serialized protobuf.
type StreamConn struct {
	rw  io.ReadWriteCloser
	buf *bufio.Reader
}

// NewClientStreamConn wraps rw for use by the side initiating the
// connection (our gateway, talking to a radio).
func NewClientStreamConn(rw io.ReadWriteCloser) (*StreamConn, error) {
	return &StreamConn{rw: rw, buf: bufio.NewReader(rw)}, nil
}

// NewRadioStreamConn wraps rw for use by the side accepting the connection.
// The framing is symmetric; this constructor exists to name the role at
// call sites (and is what the stream protocol test harness uses to stand
// in for a physical radio).
func NewRadioStreamConn(rw io.ReadWriteCloser) *StreamConn {
	return &StreamConn{rw: rw, buf: bufio.NewReader(rw)}
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error {
	return c.rw.Close()
}

// writeStreamHeader writes the four-byte frame header for a payload of the
// given length.
func writeStreamHeader(w io.Writer, length int) error {
	if length < 0 || length > MaxFrameLen {
		return fmt.Errorf("frame length %d out of range", length)
	}
	header := []byte{Start1, Start2, byte(length >> 8), byte(length)}
	_, err := w.Write(header)
	return err
}

// Write marshals msg and writes it as one framed packet.
func (c *StreamConn) Write(msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := writeStreamHeader(c.rw, len(payload)); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.rw.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// Read blocks until one framed packet arrives and unmarshals it into msg.
// Bytes preceding a valid Start1/Start2 pair are discarded, since the radio
// may interleave plain-text debug log lines with framed protobuf frames on
// the same stream.
func (c *StreamConn) Read(msg proto.Message) error {
	if err := c.syncToHeader(); err != nil {
		return err
	}
	lenBytes := make([]byte, 2)
	if _, err := io.ReadFull(c.buf, lenBytes); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	length := int(binary.BigEndian.Uint16(lenBytes))
	if length > MaxFrameLen {
		return fmt.Errorf("frame length %d exceeds max %d", length, MaxFrameLen)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.buf, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	return nil
}

// syncToHeader consumes bytes from the stream until Start1 immediately
// followed by Start2 has been read, leaving the reader positioned right
// after those two bytes.
func (c *StreamConn) syncToHeader() error {
	for {
		b, err := c.buf.ReadByte()
		if err != nil {
			return fmt.Errorf("sync to frame header: %w", err)
		}
		if b != Start1 {
			continue
		}
		b2, err := c.buf.ReadByte()
		if err != nil {
			return fmt.Errorf("sync to frame header: %w", err)
		}
		if b2 == Start2 {
			return nil
		}
		if b2 == Start1 {
			// Could itself be the start of the real header; step back one.
			if err := c.buf.UnreadByte(); err != nil {
				return fmt.Errorf("sync to frame header: %w", err)
			}
		}
	}
}
