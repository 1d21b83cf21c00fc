package pollbroke

import (
	"testing"

	"github.com/RoanBrand/pollbroke/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectBody builds a CONNECT body: "MQTT", level 4, flags, keep alive 60, then payload.
func connectBody(flags uint8, payload ...byte) []byte {
	b := []byte{0, 4, 'M', 'Q', 'T', 'T', 4, flags, 0, 60}
	return append(b, payload...)
}

func str(s string) []byte {
	return append([]byte{byte(len(s) >> 8), byte(len(s))}, s...)
}

func TestDecodeVariableLength(t *testing.T) {
	t.Parallel()

	for _, l := range []int{0, 127, 128, 16383, 16384, 2097151, 2097152, model.MaxRemainingLength} {
		enc := model.VariableLengthEncode(nil, l)
		v, n, err := DecodeVariableLength(enc)
		require.NoError(t, err, l)
		assert.EqualValues(t, l, v)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, model.LengthToNumberOfVariableLengthBytes(l), n)

		// trailing bytes are not consumed
		v, n, err = DecodeVariableLength(append(enc, 0xAA, 0xBB))
		require.NoError(t, err)
		assert.EqualValues(t, l, v)
		assert.Equal(t, len(enc), n)
	}

	v, n, err := DecodeVariableLength([]byte{0xC1, 0x02})
	require.NoError(t, err)
	assert.EqualValues(t, 321, v)
	assert.Equal(t, 2, n)

	v, n, err = DecodeVariableLength([]byte{0xFF, 0xFF, 0xFF, 0x7F})
	require.NoError(t, err)
	assert.EqualValues(t, 268435455, v)
	assert.Equal(t, 4, n)

	_, _, err = DecodeVariableLength([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, model.ErrInvalidRemainingLength)
	_, _, err = DecodeVariableLength([]byte{0x80, 0x80, 0x80, 0x80})
	assert.ErrorIs(t, err, model.ErrInvalidRemainingLength)

	for _, b := range [][]byte{nil, {0x80}, {0xFF, 0xFF, 0xFF}} {
		_, _, err = DecodeVariableLength(b)
		n, ok := model.IsNeedMoreInput(err)
		assert.True(t, ok, b)
		assert.Equal(t, 1, n)
	}
}

func TestDecodeFixedHeader(t *testing.T) {
	t.Parallel()

	fh, n, err := DecodeFixedHeader([]byte{0x10, 0x1E})
	require.NoError(t, err)
	assert.Equal(t, model.CONNECT, fh.Type)
	assert.EqualValues(t, 30, fh.RemainingLength)
	assert.Equal(t, 2, n)
	assert.Zero(t, fh.Flags())

	fh, n, err = DecodeFixedHeader([]byte{0x3B, 0xC1, 0x02, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, model.PUBLISH, fh.Type)
	assert.True(t, fh.Bit0, "retain")
	assert.True(t, fh.Bit1)
	assert.False(t, fh.Bit2)
	assert.True(t, fh.Bit3, "dup")
	assert.EqualValues(t, 1, fh.QoS())
	assert.EqualValues(t, 321, fh.RemainingLength)
	assert.Equal(t, 3, n)

	for _, b := range [][]byte{{0x00, 0x00}, {0xF0, 0x00}} {
		_, _, err = DecodeFixedHeader(b)
		assert.ErrorIs(t, err, model.ErrInvalidControlType)
	}

	for _, b := range [][]byte{nil, {0xC0}, {0x30, 0x80}} {
		_, _, err = DecodeFixedHeader(b)
		n, ok := model.IsNeedMoreInput(err)
		assert.True(t, ok, b)
		assert.Equal(t, 1, n)
	}

	_, _, err = DecodeFixedHeader([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	assert.ErrorIs(t, err, model.ErrInvalidRemainingLength)
}

func TestDecodeString(t *testing.T) {
	t.Parallel()

	s, n, err := DecodeString([]byte{0, 1, 'A', 'x'})
	require.NoError(t, err)
	assert.Equal(t, "A", s)
	assert.Equal(t, 3, n)

	s, n, err = DecodeString(str("héllo wörld"))
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", s)
	assert.Equal(t, 2+len("héllo wörld"), n)

	s, n, err = DecodeString([]byte{0, 0})
	require.NoError(t, err)
	assert.Empty(t, s)
	assert.Equal(t, 2, n)

	for _, b := range [][]byte{{0, 2, 0xDF, 0xFF}, {0, 1, 0x00}, {0, 1, 0xFF}} {
		_, _, err = DecodeString(b)
		assert.ErrorIs(t, err, model.ErrInvalidUTF8Sequence, b)
	}

	_, _, err = DecodeString([]byte{0})
	n, ok := model.IsNeedMoreInput(err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	_, _, err = DecodeString([]byte{0, 5, 'a', 'b'})
	n, ok = model.IsNeedMoreInput(err)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestDecodeConnectHeader(t *testing.T) {
	t.Parallel()

	vh, n, err := DecodeConnectHeader(connectBody(0))
	require.NoError(t, err)
	assert.Equal(t, "MQTT", vh.ProtocolName)
	assert.EqualValues(t, 4, vh.ProtocolLevel)
	assert.EqualValues(t, 0, vh.ConnectFlags)
	assert.EqualValues(t, 60, vh.KeepAlive)
	assert.Equal(t, 10, n)

	_, _, err = DecodeConnectHeader(connectBody(0)[:8])
	n, ok := model.IsNeedMoreInput(err)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
}

func TestDecodeConnectPayload(t *testing.T) {
	t.Parallel()

	p, err := DecodeConnectPayload(model.ConnectFlagCleanSession, str("client-1"))
	require.NoError(t, err)
	assert.Equal(t, "client-1", p.ClientID)
	assert.Nil(t, p.WillTopic)
	assert.Nil(t, p.Username)
	assert.Nil(t, p.Password)

	flags := uint8(model.ConnectFlagWill | 0x08 | model.ConnectFlagUsername | model.ConnectFlagPassword)
	b := append(str("c"), str("will/topic")...)
	b = append(b, 0, 3, 1, 2, 3)
	b = append(b, str("user")...)
	b = append(b, 0, 2, 0xFF, 0x00)

	p, err = DecodeConnectPayload(flags, b)
	require.NoError(t, err)
	assert.Equal(t, "c", p.ClientID)
	require.NotNil(t, p.WillTopic)
	assert.Equal(t, "will/topic", *p.WillTopic)
	assert.Equal(t, []byte{1, 2, 3}, p.WillMessage)
	require.NotNil(t, p.Username)
	assert.Equal(t, "user", *p.Username)
	assert.Equal(t, []byte{0xFF, 0x00}, p.Password)

	// decoded fields do not alias the input
	b[len(b)-1] = 0x55
	assert.Equal(t, []byte{0xFF, 0x00}, p.Password)

	tests := []struct {
		name    string
		flags   uint8
		payload []byte
	}{
		{"reserved flag", model.ConnectFlagReserved, str("c")},
		{"will qos 3", model.ConnectFlagWill | model.ConnectFlagWillQoS, append(str("c"), append(str("t"), 0, 0)...)},
		{"will qos without will", 0x08, str("c")},
		{"will retain without will", model.ConnectFlagWillRetain, str("c")},
		{"trailing bytes", 0, append(str("c"), 0)},
	}
	for _, tt := range tests {
		_, err := DecodeConnectPayload(tt.flags, tt.payload)
		assert.ErrorIs(t, err, model.ErrMalformedPacket, tt.name)
	}

	_, err = DecodeConnectPayload(model.ConnectFlagUsername, str("c"))
	_, ok := model.IsNeedMoreInput(err)
	assert.True(t, ok, "missing username")
}

func TestDecodeConnect(t *testing.T) {
	t.Parallel()

	vh, p, err := DecodeConnect(connectBody(model.ConnectFlagCleanSession, str("id")...))
	require.NoError(t, err)
	assert.True(t, vh.CleanSession())
	assert.Equal(t, "id", p.ClientID)

	_, _, err = DecodeConnect(connectBody(model.ConnectFlagUsername, str("id")...))
	assert.ErrorIs(t, err, model.ErrMalformedPacket)

	_, _, err = DecodeConnect([]byte{0, 4, 'M'})
	assert.ErrorIs(t, err, model.ErrMalformedPacket)
}

func TestDecodePacket(t *testing.T) {
	t.Parallel()

	pID := uint16(0x0102)
	tests := []struct {
		name    string
		first   byte
		body    []byte
		qos     uint8
		vh      model.VariableHeader
		payload []byte
	}{
		{"connack", 0x20, []byte{1, 0}, 0, &model.ConnackHeader{Flags: 1}, []byte{}},
		{"publish qos0", 0x31, append(str("a/b"), "hi"...), 0, &model.PublishHeader{TopicName: "a/b"}, []byte("hi")},
		{"publish qos1", 0x32, append(str("a"), 1, 2, 'x'), 1, &model.PublishHeader{TopicName: "a", PacketID: &pID}, []byte("x")},
		{"puback", 0x40, []byte{1, 2}, 0, &model.PubackHeader{PacketID: pID}, []byte{}},
		{"pubrec", 0x50, []byte{1, 2}, 0, &model.PubrecHeader{PacketID: pID}, []byte{}},
		{"pubrel", 0x62, []byte{1, 2}, 0, &model.PubrelHeader{PacketID: pID}, []byte{}},
		{"pubcomp", 0x70, []byte{1, 2}, 0, &model.PubcompHeader{PacketID: pID}, []byte{}},
		{"subscribe", 0x82, append([]byte{1, 2}, append(str("t"), 1)...), 0, &model.SubscribeHeader{PacketID: pID}, append(str("t"), 1)},
		{"suback", 0x90, []byte{1, 2, 0}, 0, &model.SubackHeader{}, []byte{1, 2, 0}},
		{"unsubscribe", 0xA2, []byte{1, 2}, 0, &model.UnsubscribeHeader{}, []byte{1, 2}},
		{"unsuback", 0xB0, []byte{1, 2}, 0, &model.UnsubackHeader{}, []byte{1, 2}},
		{"pingreq", 0xC0, []byte{}, 0, &model.PingreqHeader{}, []byte{}},
		{"pingresp", 0xD0, []byte{}, 0, &model.PingrespHeader{}, []byte{}},
		{"disconnect", 0xE0, []byte{}, 0, &model.DisconnectHeader{}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := model.VariableLengthEncode([]byte{tt.first}, len(tt.body))
			fh, n, err := DecodeFixedHeader(append(frame, tt.body...))
			require.NoError(t, err)
			require.Equal(t, len(frame), n)

			p, err := DecodePacket(fh, tt.body)
			require.NoError(t, err)
			assert.Equal(t, fh.Type, p.Type())
			assert.Equal(t, tt.qos, p.QoS)
			assert.Equal(t, tt.vh, p.VariableHeader)
			assert.Equal(t, tt.body, p.Body)

			raw, ok := p.Payload.(*model.RawPayload)
			require.True(t, ok)
			assert.Equal(t, fh.Type, raw.Type)
			assert.Equal(t, tt.payload, raw.Bytes)
		})
	}
}

func TestDecodePacketConnect(t *testing.T) {
	t.Parallel()

	body := connectBody(model.ConnectFlagCleanSession, str("abc")...)
	p, err := DecodePacket(model.FixedHeader{Type: model.CONNECT, RemainingLength: uint32(len(body))}, body)
	require.NoError(t, err)

	vh, ok := p.VariableHeader.(*model.ConnectHeader)
	require.True(t, ok)
	assert.Equal(t, "MQTT", vh.ProtocolName)

	cp, ok := p.Payload.(*model.ConnectPayload)
	require.True(t, ok)
	assert.Equal(t, "abc", cp.ClientID)
}

func TestDecodePacketMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		first byte
		body  []byte
	}{
		{"publish qos 3", 0x36, str("a")},
		{"publish short topic", 0x30, []byte{0, 9, 'a'}},
		{"publish missing packet id", 0x32, append(str("a"), 1)},
		{"connack short", 0x20, []byte{0}},
		{"puback short", 0x40, []byte{1}},
	}

	for _, tt := range tests {
		fh, _, err := DecodeFixedHeader(model.VariableLengthEncode([]byte{tt.first}, len(tt.body)))
		require.NoError(t, err, tt.name)

		_, err = DecodePacket(fh, tt.body)
		assert.ErrorIs(t, err, model.ErrMalformedPacket, tt.name)
	}
}
