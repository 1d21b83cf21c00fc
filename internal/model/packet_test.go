package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketTypeFromCode(t *testing.T) {
	t.Parallel()

	names := []string{"Connect", "ConnectAck", "Publish", "PublishAck", "PublishReceived",
		"PublishRelease", "PublishComplete", "Subscribe", "SubscribeAck", "Unsubscribe",
		"UnsubscribeAck", "PingRequest", "PingResponse", "Disconnect"}

	for code := uint8(1); code <= 14; code++ {
		pt, err := PacketTypeFromCode(code)
		require.NoError(t, err, code)
		assert.EqualValues(t, code, pt)
		assert.True(t, pt.Valid())
		assert.Equal(t, names[code-1], pt.String())
	}

	for _, code := range []uint8{0, 15, 16, 255} {
		_, err := PacketTypeFromCode(code)
		assert.ErrorIs(t, err, ErrInvalidControlType, code)
		assert.Equal(t, "Unknown", PacketType(code).String())
	}
}

func TestVariableLengthEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		l    int
		want []byte
	}{
		{0, []byte{0}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{MaxRemainingLength, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	var ve []byte
	for _, tt := range tests {
		ve = VariableLengthEncode(ve[:0], tt.l)
		assert.Equal(t, tt.want, ve, tt.l)
		assert.Equal(t, len(tt.want), LengthToNumberOfVariableLengthBytes(tt.l), tt.l)
	}
}

func TestFixedHeaderFlags(t *testing.T) {
	t.Parallel()

	fh := FixedHeader{Type: PUBLISH, Bit0: true, Bit2: true, Bit3: true, RemainingLength: 321}
	assert.EqualValues(t, 0x0D, fh.Flags())
	assert.EqualValues(t, 2, fh.QoS())
	assert.Equal(t, []byte{0x3D, 0xC1, 0x02}, fh.Encode(nil))

	fh = FixedHeader{Type: PUBREL, Bit1: true}
	assert.EqualValues(t, 1, fh.QoS())
	assert.Equal(t, []byte{0x62, 0x00}, fh.Encode(nil))
}

func TestConnectFlags(t *testing.T) {
	t.Parallel()

	h := ConnectHeader{ConnectFlags: ConnectFlagCleanSession | ConnectFlagWill | 0x10}
	assert.True(t, h.CleanSession())
	assert.EqualValues(t, 2, h.WillQoS())

	h.ConnectFlags = 0
	assert.False(t, h.CleanSession())
	assert.EqualValues(t, 0, h.WillQoS())
}

func TestNeedMoreInput(t *testing.T) {
	t.Parallel()

	n, ok := IsNeedMoreInput(NeedMoreInput{N: 3})
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = IsNeedMoreInput(ErrMalformedPacket)
	assert.False(t, ok)
}
