// Package driver defines the typed boundary between rtltcpd and a vendor
// SDR library. It never links against a native library itself; real
// hardware support is registered by a build-tag-gated backend via
// Register, matching the "driver as external collaborator" split
// described for the system's device adapter.
package driver

import (
	"errors"
	"fmt"
)

// Tuner identifies the analog RF front-end chip of an opened device.
// The numeric values are the wire codes sent in the rtl_tcp greeting.
type Tuner uint32

const (
	TunerUnknown Tuner = 0
	TunerE4000   Tuner = 1
	TunerFC0012  Tuner = 2
	TunerFC0013  Tuner = 3
	TunerFC2580  Tuner = 4
	TunerR820T   Tuner = 5
	TunerR828D   Tuner = 6
)

func (t Tuner) String() string {
	switch t {
	case TunerE4000:
		return "E4000"
	case TunerFC0012:
		return "FC0012"
	case TunerFC0013:
		return "FC0013"
	case TunerFC2580:
		return "FC2580"
	case TunerR820T:
		return "R820T"
	case TunerR828D:
		return "R828D"
	default:
		return "Unknown"
	}
}

// offsetTuningCapable reports whether a tuner kind honors an offset
// tuning request. R820T/R828D silently accept and ignore it.
func (t Tuner) offsetTuningCapable() bool {
	return t != TunerR820T && t != TunerR828D
}

// DirectSamplingMode selects between the tuner path and the two direct
// sampling branches used for sub-tuner-range reception.
type DirectSamplingMode uint32

const (
	DirectSamplingOff     DirectSamplingMode = 0
	DirectSamplingIBranch DirectSamplingMode = 1
	DirectSamplingQBranch DirectSamplingMode = 2
)

// GainMode selects automatic or manual tuner gain control.
type GainMode uint8

const (
	GainAutomatic GainMode = 0
	GainManual    GainMode = 1
)

// Parameters is the full set of mutable radio parameters, mirrored 1:1
// onto the rtl_tcp command set. Only the Radio Controller mutates these;
// every other component sees them through Controller.Snapshot.
type Parameters struct {
	CenterFreqHz    uint64
	SampleRateHz    uint32
	GainMode        GainMode
	ManualGainTenth int32 // nearest supported-gains entry, tenths of dB
	FreqCorrection  int32 // ppm
	RTLAGC          bool
	DirectSampling  DirectSamplingMode
	OffsetTuning    bool
	BiasTee         bool
	IFGainTenth     map[int]int32 // stage index -> gain tenths of dB
	TunerBandwidth  uint32        // Hz, 0 = driver default
}

// Clone returns a deep copy safe to hand to callers outside the control
// executor.
func (p Parameters) Clone() Parameters {
	out := p
	out.IFGainTenth = make(map[int]int32, len(p.IFGainTenth))
	for k, v := range p.IFGainTenth {
		out.IFGainTenth[k] = v
	}
	return out
}

// DefaultParameters is the initial state applied at device open, per the
// controller's initialization sequence.
func DefaultParameters() Parameters {
	return Parameters{
		CenterFreqHz:   100_000_000,
		SampleRateHz:   2_048_000,
		GainMode:       GainAutomatic,
		RTLAGC:         false,
		DirectSampling: DirectSamplingOff,
		BiasTee:        false,
		IFGainTenth:    map[int]int32{},
	}
}

// Sentinel fatal startup errors, surfaced by cmd/rtltcpd as distinct
// process exit codes before any client is accepted.
var (
	ErrNoDeviceFound        = errors.New("driver: no device found")
	ErrSerialNotFound       = errors.New("driver: specified serial not found")
	ErrOpenFailed           = errors.New("driver: device open failed")
	ErrNativeLibraryMissing = errors.New("driver: native library missing")
	ErrArchMismatch         = errors.New("driver: native library built for wrong architecture")
)

// ErrAlreadyAtValue is the benign driver sentinel: a setter reports it
// because the requested value already matches the live value. The
// controller normalizes this to success rather than surfacing an error.
var ErrAlreadyAtValue = errors.New("driver: already at requested value")

// ErrInvalidArgument is returned by setters given an out-of-range value,
// e.g. a manual gain index outside the supported-gains table.
var ErrInvalidArgument = errors.New("driver: invalid argument")

// Handle identifies an opened device for the lifetime of one Driver
// session. It carries no meaning beyond identity and logging.
type Handle struct {
	Index  int
	Serial string
}

func (h Handle) String() string {
	if h.Serial != "" {
		return fmt.Sprintf("device#%d(%s)", h.Index, h.Serial)
	}
	return fmt.Sprintf("device#%d", h.Index)
}

// Driver is the minimal surface the Radio Controller needs from a vendor
// SDR library: enumeration, lifecycle, parameter access, and a blocking
// producer call that delivers sample buffers to a caller-supplied sink
// until Cancel unblocks it from another goroutine.
type Driver interface {
	Enumerate() (int, error)
	NameOf(index int) (string, error)
	IndexBySerial(serial string) (int, error)
	Open(index int) (Handle, error)
	Close(h Handle) error

	TunerType(h Handle) Tuner
	SupportedGains(h Handle) []int32 // ordered, tenths of dB

	SetCenterFreq(h Handle, hz uint64) error
	SetSampleRate(h Handle, hz uint32) error
	SetGainMode(h Handle, mode GainMode) error
	SetGainByIndex(h Handle, idx int) error
	SetManualGain(h Handle, tenthDB int32) error
	SetFreqCorrection(h Handle, ppm int32) error
	SetIFGain(h Handle, stage int, tenthDB int32) error
	SetRTLAGC(h Handle, on bool) error
	SetDirectSampling(h Handle, mode DirectSamplingMode) error
	SetOffsetTuning(h Handle, on bool) error
	SetBiasTee(h Handle, on bool) error
	SetTunerBandwidth(h Handle, hz uint32) error

	ResetBuffer(h Handle) error
	// ReadUntilCancelled blocks, invoking sink with each delivered sample
	// buffer, until Cancel is called for the same handle from another
	// goroutine. It returns when cancelled or on a fatal device error.
	ReadUntilCancelled(h Handle, sink func([]byte)) error
	Cancel(h Handle)
}

// NearestGainIndex returns the index into an ordered ascending
// tenths-of-dB gain table closest to target, per the "nearest supported
// entry selected" rule for the manual-gain command (0x04).
func NearestGainIndex(table []int32, target int32) int {
	if len(table) == 0 {
		return -1
	}
	best := 0
	bestDelta := abs32(table[0] - target)
	for i := 1; i < len(table); i++ {
		if d := abs32(table[i] - target); d < bestDelta {
			best, bestDelta = i, d
		}
	}
	return best
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// OffsetTuningCapable reports whether the tuner honors offset tuning
// requests rather than silently accepting and ignoring them.
func OffsetTuningCapable(t Tuner) bool { return t.offsetTuningCapable() }

// backend registry, used by build-tag-gated native implementations to
// plug themselves in without internal/radio importing cgo code.
var backends = map[string]func() Driver{}

// Register makes a named Driver factory available to configuration-driven
// backend selection (see internal/config). Intended to be called from an
// init() in a build-tag-gated file that links the real vendor library.
func Register(name string, factory func() Driver) {
	backends[name] = factory
}

// Lookup returns the registered factory for name, or false if no backend
// with that name has been linked into the binary.
func Lookup(name string) (func() Driver, bool) {
	f, ok := backends[name]
	return f, ok
}
