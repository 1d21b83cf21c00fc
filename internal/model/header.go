package model

// VariableHeader is one of the per-type variable header variants below.
type VariableHeader interface {
	PacketType() PacketType
}

type ConnectHeader struct {
	ProtocolName  string
	ProtocolLevel uint8
	ConnectFlags  uint8
	KeepAlive     uint16 // seconds
}

type ConnackHeader struct {
	Flags      uint8
	ReturnCode uint8
}

type PublishHeader struct {
	TopicName string
	PacketID  *uint16 // only present for QoS > 0
}

type PubackHeader struct{ PacketID uint16 }
type PubrecHeader struct{ PacketID uint16 }
type PubrelHeader struct{ PacketID uint16 }
type PubcompHeader struct{ PacketID uint16 }
type SubscribeHeader struct{ PacketID uint16 }

// Variants without structured fields at this layer.
type (
	SubackHeader      struct{}
	UnsubscribeHeader struct{}
	UnsubackHeader    struct{}
	PingreqHeader     struct{}
	PingrespHeader    struct{}
	DisconnectHeader  struct{}
)

func (*ConnectHeader) PacketType() PacketType     { return CONNECT }
func (*ConnackHeader) PacketType() PacketType     { return CONNACK }
func (*PublishHeader) PacketType() PacketType     { return PUBLISH }
func (*PubackHeader) PacketType() PacketType      { return PUBACK }
func (*PubrecHeader) PacketType() PacketType      { return PUBREC }
func (*PubrelHeader) PacketType() PacketType      { return PUBREL }
func (*PubcompHeader) PacketType() PacketType     { return PUBCOMP }
func (*SubscribeHeader) PacketType() PacketType   { return SUBSCRIBE }
func (*SubackHeader) PacketType() PacketType      { return SUBACK }
func (*UnsubscribeHeader) PacketType() PacketType { return UNSUBSCRIBE }
func (*UnsubackHeader) PacketType() PacketType    { return UNSUBACK }
func (*PingreqHeader) PacketType() PacketType     { return PINGREQ }
func (*PingrespHeader) PacketType() PacketType    { return PINGRESP }
func (*DisconnectHeader) PacketType() PacketType  { return DISCONNECT }

// CONNECT flag bits.
const (
	ConnectFlagReserved     = 0x01
	ConnectFlagCleanSession = 0x02
	ConnectFlagWill         = 0x04
	ConnectFlagWillQoS      = 0x18
	ConnectFlagWillRetain   = 0x20
	ConnectFlagPassword     = 0x40
	ConnectFlagUsername     = 0x80
)

func (h *ConnectHeader) CleanSession() bool {
	return h.ConnectFlags&ConnectFlagCleanSession > 0
}

func (h *ConnectHeader) WillQoS() uint8 {
	return (h.ConnectFlags & ConnectFlagWillQoS) >> 3
}

// Payload is the decoded payload of a packet. Only CONNECT has a decoded
// form; every other type carries its payload bytes as Raw.
type Payload interface {
	PacketType() PacketType
}

type ConnectPayload struct {
	ClientID    string
	WillTopic   *string
	WillMessage []byte // nil unless the will flag is set
	Username    *string
	Password    []byte // nil unless the password flag is set
}

func (*ConnectPayload) PacketType() PacketType { return CONNECT }

// RawPayload is the undecoded payload of a non-CONNECT packet.
type RawPayload struct {
	Type  PacketType
	Bytes []byte
}

func (p *RawPayload) PacketType() PacketType { return p.Type }
