// Package rtltcp implements the wire-level constants and frame codecs of
// the rtl_tcp protocol: the 12-byte greeting and the 5-byte command
// frame. It has no knowledge of sockets, drivers, or client sessions —
// those live in internal/server and internal/driver.
package rtltcp

import (
	"encoding/binary"
	"fmt"

	"github.com/rjboer/rtltcpd/internal/driver"
)

// GreetingSize and CommandSize are the two fixed frame sizes the wire
// protocol ever uses; there is no length-prefixed framing anywhere.
const (
	GreetingSize = 12
	CommandSize  = 5
)

// magic is the 4-byte ASCII marker every reference rtl_tcp client checks
// before trusting the rest of the greeting.
var magic = [4]byte{'R', 'T', 'L', '0'}

// Greeting is the fixed 12-byte message the server sends once per
// accepted connection, before any sample byte.
type Greeting struct {
	Tuner     driver.Tuner
	GainCount uint32
}

// Encode renders the greeting in its wire layout: "RTL0" followed by the
// tuner code and gain count, both big-endian uint32.
func (g Greeting) Encode() [GreetingSize]byte {
	var out [GreetingSize]byte
	copy(out[0:4], magic[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(g.Tuner))
	binary.BigEndian.PutUint32(out[8:12], g.GainCount)
	return out
}

// DecodeGreeting parses a received greeting, used only by test tooling
// and cmd/rtltcpprobe — the server never decodes its own greeting.
func DecodeGreeting(b []byte) (Greeting, error) {
	if len(b) != GreetingSize {
		return Greeting{}, fmt.Errorf("rtltcp: greeting must be %d bytes, got %d", GreetingSize, len(b))
	}
	if string(b[0:4]) != string(magic[:]) {
		return Greeting{}, fmt.Errorf("rtltcp: bad magic %q", b[0:4])
	}
	return Greeting{
		Tuner:     driver.Tuner(binary.BigEndian.Uint32(b[4:8])),
		GainCount: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}

// Command codes, identical to the ones rtl_tcp.c defines and every
// reference client in the wild encodes.
const (
	CmdSetCenterFreq      uint8 = 0x01
	CmdSetSampleRate      uint8 = 0x02
	CmdSetGainMode        uint8 = 0x03
	CmdSetGain            uint8 = 0x04
	CmdSetFreqCorrection  uint8 = 0x05
	CmdSetIFGain          uint8 = 0x06
	CmdSetTestMode        uint8 = 0x07
	CmdSetAGCMode         uint8 = 0x08
	CmdSetDirectSampling  uint8 = 0x09
	CmdSetOffsetTuning    uint8 = 0x0A
	CmdSetRTLXtalFreq     uint8 = 0x0B
	CmdSetGainByIndex     uint8 = 0x0D
	CmdSetBiasTee         uint8 = 0x0E
)

// Frame is one decoded 5-byte command: a code plus a big-endian uint32
// parameter. The protocol carries no framing metadata beyond this fixed
// size, so a Frame is always exactly CommandSize bytes on the wire.
type Frame struct {
	Code  uint8
	Param uint32
}

// DecodeFrame parses exactly CommandSize bytes into a Frame.
func DecodeFrame(b [CommandSize]byte) Frame {
	return Frame{
		Code:  b[0],
		Param: binary.BigEndian.Uint32(b[1:5]),
	}
}

// Encode renders a Frame back to wire bytes, used by cmd/rtltcpprobe to
// issue commands against a running server.
func (f Frame) Encode() [CommandSize]byte {
	var out [CommandSize]byte
	out[0] = f.Code
	binary.BigEndian.PutUint32(out[1:5], f.Param)
	return out
}

// ParamAsInt32 reinterprets the frame's unsigned parameter as a signed
// value, used by commands whose parameter is "signed-meaningful"
// (frequency correction, manual gain).
func (f Frame) ParamAsInt32() int32 { return int32(f.Param) }

// SplitIFGainParam decodes the packed IF-gain-stage parameter: high 16
// bits are the stage index, low 16 bits are the signed gain in tenths of
// a dB.
func SplitIFGainParam(param uint32) (stage int, tenthDB int32) {
	stage = int(param >> 16)
	tenthDB = int32(int16(param & 0xFFFF))
	return stage, tenthDB
}
