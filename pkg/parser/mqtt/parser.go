// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/absmach/dgate/pkg/handler"
	"github.com/absmach/dgate/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// ErrUnauthorized is returned when authorization fails.
var ErrUnauthorized = errors.New("unauthorized")

// Parser implements the parser.Parser interface for MQTT 3.1.1.
type Parser struct{}

var _ parser.Parser = (*Parser)(nil)

// Parse reads one MQTT packet from r, runs the broker hooks for it and writes
// it to w. A downstream PUBLISH rejected by AuthForward is dropped: nothing is
// written and nil is returned so the connection stays open.
func (p *Parser) Parse(ctx context.Context, r io.Reader, w io.Writer, dir parser.Direction, h handler.Handler, hctx *handler.Context) error {
	pkt, err := packets.ReadPacket(r)
	if err != nil {
		return err
	}

	forward := true
	if dir == parser.Upstream {
		if err := p.handleUpstream(ctx, pkt, h, hctx); err != nil {
			return err
		}
	} else {
		forward = p.handleDownstream(ctx, pkt, h, hctx)
	}
	if !forward {
		return nil
	}

	if err := pkt.Write(w); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}

	return nil
}

// handleUpstream processes client → broker packets.
func (p *Parser) handleUpstream(ctx context.Context, pkt packets.ControlPacket, h handler.Handler, hctx *handler.Context) error {
	switch packet := pkt.(type) {
	case *packets.ConnectPacket:
		return p.handleConnect(ctx, packet, h, hctx)

	case *packets.PublishPacket:
		return p.handlePublish(ctx, packet, h, hctx)

	case *packets.SubscribePacket:
		return p.handleSubscribe(ctx, packet, h, hctx)

	case *packets.UnsubscribePacket:
		return p.handleUnsubscribe(ctx, packet, h, hctx)

	default:
		// PINGREQ, PUBACK, PUBREC, PUBREL, PUBCOMP and DISCONNECT are forwarded as-is.
		// Disconnection is reported once by the server when the connection ends.
		return nil
	}
}

// handleDownstream processes broker → client packets and reports whether the
// packet should be forwarded.
func (p *Parser) handleDownstream(ctx context.Context, pkt packets.ControlPacket, h handler.Handler, hctx *handler.Context) bool {
	switch packet := pkt.(type) {
	case *packets.ConnackPacket:
		if packet.ReturnCode == packets.Accepted {
			// Notification errors never affect the packet.
			_ = h.OnConnect(ctx, hctx)
		}
		return true

	case *packets.PublishPacket:
		return h.AuthForward(ctx, hctx, packet.TopicName, packet.Payload) == nil

	default:
		return true
	}
}

// handleConnect processes MQTT CONNECT packets.
func (p *Parser) handleConnect(ctx context.Context, packet *packets.ConnectPacket, h handler.Handler, hctx *handler.Context) error {
	hctx.ClientID = packet.ClientIdentifier
	hctx.Username = packet.Username
	hctx.Password = packet.Password
	if hctx.Protocol == "" {
		hctx.Protocol = "mqtt"
	}

	if err := h.AuthConnect(ctx, hctx); err != nil {
		return fmt.Errorf("connection authorization failed: %w", err)
	}

	// The handler may have replaced the credentials sent to the broker.
	packet.ClientIdentifier = hctx.ClientID
	packet.Username = hctx.Username
	packet.Password = hctx.Password
	packet.UsernameFlag = hctx.Username != ""
	packet.PasswordFlag = len(hctx.Password) > 0

	return nil
}

// handlePublish processes MQTT PUBLISH packets.
func (p *Parser) handlePublish(ctx context.Context, packet *packets.PublishPacket, h handler.Handler, hctx *handler.Context) error {
	topic := packet.TopicName
	payload := packet.Payload

	if packet.Qos > 0 {
		ctx = handler.WithMessageID(ctx, packet.MessageID)
	}

	if err := h.AuthPublish(ctx, hctx, &topic, &payload); err != nil {
		return fmt.Errorf("publish authorization failed: %w", err)
	}

	packet.TopicName = topic
	packet.Payload = payload

	_ = h.OnPublish(ctx, hctx, topic, payload)

	return nil
}

// handleSubscribe processes MQTT SUBSCRIBE packets.
func (p *Parser) handleSubscribe(ctx context.Context, packet *packets.SubscribePacket, h handler.Handler, hctx *handler.Context) error {
	topics := make([]string, len(packet.Topics))
	copy(topics, packet.Topics)

	if err := h.AuthSubscribe(ctx, hctx, &topics); err != nil {
		return fmt.Errorf("subscribe authorization failed: %w", err)
	}

	// Keep the QoS list aligned with a filtered topic list.
	if len(topics) != len(packet.Topics) {
		packet.Topics = topics
		if len(packet.Qoss) < len(topics) {
			for i := len(packet.Qoss); i < len(topics); i++ {
				packet.Qoss = append(packet.Qoss, 0)
			}
		} else if len(packet.Qoss) > len(topics) {
			packet.Qoss = packet.Qoss[:len(topics)]
		}
	} else {
		packet.Topics = topics
	}

	_ = h.OnSubscribe(ctx, hctx, topics)

	return nil
}

// handleUnsubscribe processes MQTT UNSUBSCRIBE packets.
func (p *Parser) handleUnsubscribe(ctx context.Context, packet *packets.UnsubscribePacket, h handler.Handler, hctx *handler.Context) error {
	topics := make([]string, len(packet.Topics))
	copy(topics, packet.Topics)

	_ = h.OnUnsubscribe(ctx, hctx, topics)

	return nil
}
