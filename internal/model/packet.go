package model

// PacketType is an MQTT control packet type, wire codes 1 to 14.
type PacketType uint8

// Control Packets
const (
	CONNECT     PacketType = 1
	CONNACK     PacketType = 2
	PUBLISH     PacketType = 3
	PUBACK      PacketType = 4
	PUBREC      PacketType = 5
	PUBREL      PacketType = 6
	PUBCOMP     PacketType = 7
	SUBSCRIBE   PacketType = 8
	SUBACK      PacketType = 9
	UNSUBSCRIBE PacketType = 10
	UNSUBACK    PacketType = 11
	PINGREQ     PacketType = 12
	PINGRESP    PacketType = 13
	DISCONNECT  PacketType = 14
)

var packetTypeNames = [...]string{
	CONNECT:     "Connect",
	CONNACK:     "ConnectAck",
	PUBLISH:     "Publish",
	PUBACK:      "PublishAck",
	PUBREC:      "PublishReceived",
	PUBREL:      "PublishRelease",
	PUBCOMP:     "PublishComplete",
	SUBSCRIBE:   "Subscribe",
	SUBACK:      "SubscribeAck",
	UNSUBSCRIBE: "Unsubscribe",
	UNSUBACK:    "UnsubscribeAck",
	PINGREQ:     "PingRequest",
	PINGRESP:    "PingResponse",
	DISCONNECT:  "Disconnect",
}

// PacketTypeFromCode maps a wire code to its PacketType.
// 0 and 15-255 are reserved or out of range.
func PacketTypeFromCode(code uint8) (PacketType, error) {
	if code < uint8(CONNECT) || code > uint8(DISCONNECT) {
		return 0, ErrInvalidControlType
	}
	return PacketType(code), nil
}

func (t PacketType) Valid() bool {
	return t >= CONNECT && t <= DISCONNECT
}

func (t PacketType) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return packetTypeNames[t]
}

// MaxRemainingLength is the largest value a 4 byte remaining length can hold.
const MaxRemainingLength = 268435455

// FixedHeader is the first 2 to 5 bytes of every packet.
// Bit3..Bit0 are the low nibble of the first byte; for PUBLISH they are
// DUP, QoS high, QoS low and RETAIN.
type FixedHeader struct {
	Type            PacketType
	Bit0            bool
	Bit1            bool
	Bit2            bool
	Bit3            bool
	RemainingLength uint32
}

// Flags returns the low nibble of the first header byte.
func (h *FixedHeader) Flags() uint8 {
	var f uint8
	if h.Bit0 {
		f |= 0x01
	}
	if h.Bit1 {
		f |= 0x02
	}
	if h.Bit2 {
		f |= 0x04
	}
	if h.Bit3 {
		f |= 0x08
	}
	return f
}

// QoS as encoded in bits 2 and 1.
func (h *FixedHeader) QoS() uint8 {
	return (h.Flags() & 0x06) >> 1
}

// Encode appends the wire form of the header to packet.
func (h *FixedHeader) Encode(packet []byte) []byte {
	packet = append(packet, uint8(h.Type)<<4|h.Flags())
	return VariableLengthEncode(packet, int(h.RemainingLength))
}

// Packet is one decoded control packet as handed upstream.
type Packet struct {
	Header FixedHeader
	QoS    uint8

	// VariableHeader is nil until the body has been resolved.
	VariableHeader VariableHeader
	Payload        Payload

	// Body is everything after the fixed header, RemainingLength bytes.
	Body []byte
}

func (p *Packet) Type() PacketType {
	return p.Header.Type
}

func VariableLengthEncode(packet []byte, l int) []byte {
	for {
		eb := l % 128
		l /= 128
		if l > 0 {
			eb |= 128
		}
		packet = append(packet, byte(eb))
		if l <= 0 {
			break
		}
	}
	return packet
}

func LengthToNumberOfVariableLengthBytes(l int) int {
	switch {
	case l < 128:
		return 1
	case l < 16384:
		return 2
	case l < 2097152:
		return 3
	default:
		return 4
	}
}
