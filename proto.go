package pollbroke

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/RoanBrand/pollbroke/internal/model"
)

// DecodeVariableLength decodes the remaining length field at the start of b.
// It returns the value and how many bytes it took (1 to 4); b itself is not modified.
// model.NeedMoreInput{N: 1} means the encoding continues past the end of b.
func DecodeVariableLength(b []byte) (uint32, int, error) {
	var value uint32
	var lenMul uint32 = 1

	for i := 0; i < 4; i++ {
		if i == len(b) {
			return 0, 0, model.NeedMoreInput{N: 1}
		}

		value += uint32(b[i]&127) * lenMul
		if b[i]&128 == 0 {
			return value, i + 1, nil
		}
		lenMul *= 128
	}

	// a 5th byte would be needed
	return 0, 0, model.ErrInvalidRemainingLength
}

// DecodeFixedHeader decodes the control byte and remaining length at the start of b
// and returns the header and its size in bytes.
func DecodeFixedHeader(b []byte) (model.FixedHeader, int, error) {
	var fh model.FixedHeader
	if len(b) == 0 {
		return fh, 0, model.NeedMoreInput{N: 1}
	}

	t, err := model.PacketTypeFromCode(b[0] >> 4)
	if err != nil {
		return fh, 0, err
	}

	fh.Type = t
	fh.Bit0 = b[0]&0x01 > 0
	fh.Bit1 = b[0]&0x02 > 0
	fh.Bit2 = b[0]&0x04 > 0
	fh.Bit3 = b[0]&0x08 > 0

	rl, n, err := DecodeVariableLength(b[1:])
	if err != nil {
		return model.FixedHeader{}, 0, err
	}

	fh.RemainingLength = rl
	return fh, 1 + n, nil
}

// DecodeString decodes a u16 length prefixed UTF-8 string at the start of b.
func DecodeString(b []byte) (string, int, error) {
	raw, n, err := decodeBinary(b)
	if err != nil {
		return "", 0, err
	}
	if err = checkUTF8(raw); err != nil {
		return "", 0, err
	}
	return string(raw), n, nil
}

// decodeBinary decodes u16 length prefixed bytes at the start of b.
// The result aliases b.
func decodeBinary(b []byte) ([]byte, int, error) {
	if len(b) < 2 {
		return nil, 0, model.NeedMoreInput{N: 2 - len(b)}
	}

	l := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+l {
		return nil, 0, model.NeedMoreInput{N: 2 + l - len(b)}
	}
	return b[2 : 2+l], 2 + l, nil
}

func decodeUint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, model.NeedMoreInput{N: 2 - len(b)}
	}
	return binary.BigEndian.Uint16(b), nil
}

// DecodeConnectHeader decodes the CONNECT variable header: protocol name,
// protocol level, connect flags and keep alive.
func DecodeConnectHeader(b []byte) (*model.ConnectHeader, int, error) {
	name, n, err := DecodeString(b)
	if err != nil {
		return nil, 0, err
	}

	if len(b) < n+4 {
		return nil, 0, model.NeedMoreInput{N: n + 4 - len(b)}
	}

	vh := model.ConnectHeader{
		ProtocolName:  name,
		ProtocolLevel: b[n],
		ConnectFlags:  b[n+1],
		KeepAlive:     binary.BigEndian.Uint16(b[n+2:]),
	}
	return &vh, n + 4, nil
}

// DecodeConnectPayload decodes the CONNECT payload fields selected by flags.
// b must be exactly the payload.
func DecodeConnectPayload(flags uint8, b []byte) (*model.ConnectPayload, error) {
	if flags&model.ConnectFlagReserved > 0 { // [MQTT-3.1.2-3]
		return nil, model.ErrMalformedPacket
	}

	var p model.ConnectPayload
	clientID, offs, err := DecodeString(b)
	if err != nil {
		return nil, err
	}
	p.ClientID = clientID

	if flags&model.ConnectFlagWill > 0 {
		if (flags&model.ConnectFlagWillQoS)>>3 > 2 { // [MQTT-3.1.2-14]
			return nil, model.ErrMalformedPacket
		}

		topic, n, err := DecodeString(b[offs:])
		if err != nil {
			return nil, err
		}
		offs += n

		msg, n, err := decodeBinary(b[offs:])
		if err != nil {
			return nil, err
		}
		offs += n

		p.WillTopic = &topic
		p.WillMessage = append(make([]byte, 0, len(msg)), msg...)
	} else if flags&(model.ConnectFlagWillQoS|model.ConnectFlagWillRetain) > 0 { // [MQTT-3.1.2-13, 2-15]
		return nil, model.ErrMalformedPacket
	}

	if flags&model.ConnectFlagUsername > 0 {
		user, n, err := DecodeString(b[offs:])
		if err != nil {
			return nil, err
		}
		offs += n
		p.Username = &user
	}

	if flags&model.ConnectFlagPassword > 0 {
		pass, n, err := decodeBinary(b[offs:])
		if err != nil {
			return nil, err
		}
		offs += n
		p.Password = append(make([]byte, 0, len(pass)), pass...)
	}

	if offs != len(b) {
		return nil, model.ErrMalformedPacket
	}
	return &p, nil
}

// DecodeConnect decodes a complete CONNECT body (everything after the fixed header).
func DecodeConnect(body []byte) (*model.ConnectHeader, *model.ConnectPayload, error) {
	vh, n, err := DecodeConnectHeader(body)
	if err != nil {
		return nil, nil, completeBody(err)
	}

	p, err := DecodeConnectPayload(vh.ConnectFlags, body[n:])
	if err != nil {
		return nil, nil, completeBody(err)
	}
	return vh, p, nil
}

// completeBody turns a NeedMoreInput from decoding a fully received body
// into ErrMalformedPacket: no more bytes belong to that packet.
func completeBody(err error) error {
	if _, ok := model.IsNeedMoreInput(err); ok {
		return model.ErrMalformedPacket
	}
	return err
}

// DecodePacket resolves the variable header and payload of a packet whose
// body (RemainingLength bytes) has been fully received.
// Only CONNECT has a decoded payload; other payloads stay raw.
func DecodePacket(fh model.FixedHeader, body []byte) (*model.Packet, error) {
	p := model.Packet{Header: fh, Body: body}
	if fh.Type == model.PUBLISH {
		p.QoS = fh.QoS()
	}

	raw := func(offs int) {
		p.Payload = &model.RawPayload{Type: fh.Type, Bytes: body[offs:]}
	}

	switch fh.Type {
	case model.CONNECT:
		vh, payload, err := DecodeConnect(body)
		if err != nil {
			return nil, err
		}
		p.VariableHeader, p.Payload = vh, payload
	case model.CONNACK:
		if len(body) < 2 {
			return nil, model.ErrMalformedPacket
		}
		p.VariableHeader = &model.ConnackHeader{Flags: body[0], ReturnCode: body[1]}
		raw(2)
	case model.PUBLISH:
		if p.QoS == 3 { // [MQTT-3.3.1-4]
			return nil, model.ErrMalformedPacket
		}

		topic, offs, err := DecodeString(body)
		if err != nil {
			return nil, completeBody(err)
		}

		vh := model.PublishHeader{TopicName: topic}
		if p.QoS > 0 {
			pID, err := decodeUint16(body[offs:])
			if err != nil {
				return nil, completeBody(err)
			}
			vh.PacketID = &pID
			offs += 2
		}
		p.VariableHeader = &vh
		raw(offs)
	case model.PUBACK, model.PUBREC, model.PUBREL, model.PUBCOMP, model.SUBSCRIBE:
		pID, err := decodeUint16(body)
		if err != nil {
			return nil, completeBody(err)
		}

		switch fh.Type {
		case model.PUBACK:
			p.VariableHeader = &model.PubackHeader{PacketID: pID}
		case model.PUBREC:
			p.VariableHeader = &model.PubrecHeader{PacketID: pID}
		case model.PUBREL:
			p.VariableHeader = &model.PubrelHeader{PacketID: pID}
		case model.PUBCOMP:
			p.VariableHeader = &model.PubcompHeader{PacketID: pID}
		default:
			p.VariableHeader = &model.SubscribeHeader{PacketID: pID}
		}
		raw(2)
	default:
		switch fh.Type {
		case model.SUBACK:
			p.VariableHeader = &model.SubackHeader{}
		case model.UNSUBSCRIBE:
			p.VariableHeader = &model.UnsubscribeHeader{}
		case model.UNSUBACK:
			p.VariableHeader = &model.UnsubackHeader{}
		case model.PINGREQ:
			p.VariableHeader = &model.PingreqHeader{}
		case model.PINGRESP:
			p.VariableHeader = &model.PingrespHeader{}
		case model.DISCONNECT:
			p.VariableHeader = &model.DisconnectHeader{}
		}
		raw(0)
	}

	return &p, nil
}

// [MQTT-1.5.3-1] [MQTT-1.5.3-2]
func checkUTF8(str []byte) error {
	for i := 0; i < len(str); {
		if str[i] == 0 {
			return model.ErrInvalidUTF8Sequence
		}

		if str[i]&0x80 == 0 {
			i++
			continue
		}

		r, size := utf8.DecodeRune(str[i:])
		if r == utf8.RuneError && size == 1 {
			return model.ErrInvalidUTF8Sequence
		}
		i += size
	}
	return nil
}
