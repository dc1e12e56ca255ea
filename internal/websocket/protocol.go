package websocket

import (
	"github.com/tidwall/gjson"

	"mentorsync/pkg/types"
)

// msgMalformedFrame is sent when a frame cannot be read as an event envelope.
const msgMalformedFrame = "Malformed event frame"

// inbound is one client frame. Data keeps the raw JSON of the data member so the
// gateway can decode it into the payload type the event expects.
type inbound struct {
	Event string
	Ack   interface{}
	Data  []byte
}

func (f *inbound) wantsAck() bool { return f != nil && f.Ack != nil }

// parseFrame reads the {"event","ack","data"} envelope without decoding data.
// A string or numeric ack id is echoed back unchanged.
func parseFrame(raw []byte) (*inbound, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidFrame
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, ErrInvalidFrame
	}

	event := root.Get("event")
	if event.Type != gjson.String || event.Str == "" {
		return nil, ErrMissingEvent
	}

	f := &inbound{Event: event.Str}
	if ack := root.Get("ack"); ack.Exists() && ack.Type != gjson.Null {
		f.Ack = ack.Value()
	}
	if data := root.Get("data"); data.Exists() {
		f.Data = []byte(data.Raw)
	}
	return f, nil
}

type eventFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type ackFrame struct {
	Event string      `json:"event"`
	Ack   interface{} `json:"ack"`
	Data  types.Ack   `json:"data"`
}

func newAckFrame(id interface{}, ack types.Ack) ackFrame {
	return ackFrame{Event: types.EventAck, Ack: id, Data: ack}
}
