package gateway

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"
)

// AudioSocket unit types.
const (
	unitTerminate byte = 0x00
	unitIdentity  byte = 0x01
	unitAudio     byte = 0x10
	unitError     byte = 0xFF
)

// unitHeaderSize is the type byte plus the big-endian 16-bit length.
const unitHeaderSize = 3

// ServeFramed accepts framed-transport connections on ln until ctx is
// cancelled. Each connection is served on its own goroutine.
func (g *Gateway) ServeFramed(ctx context.Context, ln net.Listener) error {
	g.setAddr(&g.framedAddr, ln.Addr(), g.framedReady)
	slog.Info("gateway framed transport listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				g.closeTransport(TransportFramed)
				return nil
			}
			slog.Warn("gateway: framed accept failed", "err", err)
			continue
		}
		go g.handleFramed(nc)
	}
}

// framedWire writes AudioSocket audio units to a TCP connection.
type framedWire struct {
	nc net.Conn
}

func (w framedWire) writeFrame(ctx context.Context, frame []byte) error {
	deadline, _ := ctx.Deadline()
	if err := w.nc.SetWriteDeadline(deadline); err != nil {
		return err
	}
	unit := make([]byte, unitHeaderSize+len(frame))
	unit[0] = unitAudio
	binary.BigEndian.PutUint16(unit[1:3], uint16(len(frame)))
	copy(unit[unitHeaderSize:], frame)
	_, err := w.nc.Write(unit)
	return err
}

func (w framedWire) close() error { return w.nc.Close() }

// readUnit reads one complete unit, blocking until all of its payload has
// arrived.
func readUnit(r *bufio.Reader) (byte, []byte, error) {
	var hdr [unitHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[1:3]))
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return hdr[0], nil, err
	}
	return hdr[0], payload, nil
}

// parseIdentity renders an identity payload. Asterisk sends the call UUID
// as 16 raw bytes; a textual UUID is accepted as well.
func parseIdentity(payload []byte) (string, error) {
	if len(payload) == 16 {
		id, err := uuid.FromBytes(payload)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	text := strings.TrimRight(strings.TrimSpace(string(payload)), "\x00")
	id, err := uuid.Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: identity payload of %d bytes is not a uuid", ErrProtocol, len(payload))
	}
	return id.String(), nil
}

func (g *Gateway) handleFramed(nc net.Conn) {
	c := g.register(TransportFramed, nc.RemoteAddr().String(), framedWire{nc: nc})
	reason := "closed"
	defer func() { g.unregister(c, reason) }()

	log := slog.With("conn_id", c.id)
	warnedEarlyAudio := false
	r := bufio.NewReader(nc)
	for {
		typ, payload, err := readUnit(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				reason = "eof"
			case errors.Is(err, net.ErrClosed):
				reason = "closed"
			case errors.Is(err, io.ErrUnexpectedEOF):
				reason = "truncated"
				g.protocolError(c, "truncated", fmt.Errorf("%w: %v", ErrProtocol, err))
			default:
				reason = "read_error"
				log.Warn("gateway: framed read failed", "err", err)
				g.protocolError(c, "read", err)
			}
			return
		}
		c.touch(g.now())

		switch typ {
		case unitTerminate:
			log.Info("gateway: terminate received")
			reason = "terminate"
			return

		case unitIdentity:
			id, err := parseIdentity(payload)
			if err != nil {
				log.Warn("gateway: invalid identity unit", "bytes", len(payload), "err", err)
				g.protocolError(c, "identity", err)
				continue
			}
			if prev, ok := c.identityState(); ok {
				if prev == id {
					log.Debug("gateway: repeated identity ignored", "identity", id)
					continue
				}
				log.Warn("gateway: identity changed mid-stream", "old", prev, "new", id)
			}
			c.setIdentity(id)
			log.Info("gateway: handshake complete", "identity", id)
			g.emit(HandshakeEvent{ConnectionID: c.id, Transport: TransportFramed, Identity: id})

		case unitAudio:
			if _, ok := c.identityState(); !ok {
				c.countDropped()
				if !warnedEarlyAudio {
					log.Warn("gateway: dropping audio received before identity")
					warnedEarlyAudio = true
				}
				continue
			}
			g.ingest(c, payload)

		case unitError:
			log.Warn("gateway: peer reported error", "payload", fmt.Sprintf("%x", payload))
			g.protocolError(c, "peer_error", fmt.Errorf("%w: peer error unit %x", ErrProtocol, payload))

		default:
			log.Warn("gateway: unknown unit type", "type", fmt.Sprintf("0x%02x", typ), "bytes", len(payload))
			g.protocolError(c, "unknown_type", fmt.Errorf("%w: unknown unit type 0x%02x", ErrProtocol, typ))
		}
	}
}
