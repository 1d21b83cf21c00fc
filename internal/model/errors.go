package model

import (
	"errors"
	"strconv"
)

// Decode errors. All of them are fatal for the connection they occur on.
var (
	ErrInvalidControlType     = errors.New("invalid control packet type")
	ErrInvalidRemainingLength = errors.New("invalid remaining length")
	ErrInvalidUTF8Sequence    = errors.New("invalid UTF-8 sequence")
	ErrMalformedPacket        = errors.New("malformed packet")
	ErrPacketTooLarge         = errors.New("packet exceeds maximum size")
)

// NeedMoreInput reports that decoding stopped because the input ran out.
// It is not a failure: retry once at least N more bytes are available.
type NeedMoreInput struct {
	N int
}

func (e NeedMoreInput) Error() string {
	return "need " + strconv.Itoa(e.N) + " more byte(s)"
}

// IsNeedMoreInput reports whether err is a NeedMoreInput and how many bytes it asks for.
func IsNeedMoreInput(err error) (int, bool) {
	var nm NeedMoreInput
	if errors.As(err, &nm) {
		return nm.N, true
	}
	return 0, false
}
