package ws

import (
	"github.com/chanbus/chanbus/core/payload"
	"github.com/chanbus/chanbus/core/transport"
)

type frameType string

const (
	frameHello     frameType = "hello"
	frameMessage   frameType = "message"
	frameSubscribe frameType = "subscribe"
	frameCreate    frameType = "create"
	frameAck       frameType = "ack"
)

// frame is the single JSON envelope for every wire exchange. Unused fields
// are omitted, so a data message and a request ack stay compact.
type frame struct {
	Type    frameType                `json:"type"`
	ID      string                   `json:"id,omitempty"`
	Subject transport.Subject        `json:"subject,omitempty"`
	Channel string                   `json:"channel,omitempty"`
	Sender  transport.Subject        `json:"sender,omitempty"`
	Payload []payload.Value          `json:"payload,omitempty"`
	Config  *transport.ChannelConfig `json:"config,omitempty"`
	Granted bool                     `json:"granted,omitempty"`
	Reason  string                   `json:"reason,omitempty"`
}
