package driver

// RTLSDR is a structural placeholder for the real librtlsdr-backed
// driver. Native code is an external collaborator (spec §1): this type
// exists so internal/radio and cmd/rtltcpd can compile and exercise the
// fatal-startup-error path without linking against the vendor library.
// A build-tag-gated file with a real cgo binding would call Register
// with a factory producing a fully functional Driver instead.
type RTLSDR struct{}

// NewRTLSDR returns an RTLSDR adapter. Every call fails with
// ErrNativeLibraryMissing until a real backend is registered under the
// "rtlsdr" name and selected via internal/config.
func NewRTLSDR() *RTLSDR { return &RTLSDR{} }

func (r *RTLSDR) Enumerate() (int, error)             { return 0, ErrNativeLibraryMissing }
func (r *RTLSDR) NameOf(int) (string, error)          { return "", ErrNativeLibraryMissing }
func (r *RTLSDR) IndexBySerial(string) (int, error)   { return -1, ErrNativeLibraryMissing }
func (r *RTLSDR) Open(int) (Handle, error)            { return Handle{}, ErrNativeLibraryMissing }
func (r *RTLSDR) Close(Handle) error                  { return ErrNativeLibraryMissing }
func (r *RTLSDR) TunerType(Handle) Tuner              { return TunerUnknown }
func (r *RTLSDR) SupportedGains(Handle) []int32       { return nil }
func (r *RTLSDR) SetCenterFreq(Handle, uint64) error  { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetSampleRate(Handle, uint32) error  { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetGainMode(Handle, GainMode) error  { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetGainByIndex(Handle, int) error    { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetManualGain(Handle, int32) error   { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetFreqCorrection(Handle, int32) error { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetIFGain(Handle, int, int32) error  { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetRTLAGC(Handle, bool) error        { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetDirectSampling(Handle, DirectSamplingMode) error {
	return ErrNativeLibraryMissing
}
func (r *RTLSDR) SetOffsetTuning(Handle, bool) error     { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetBiasTee(Handle, bool) error          { return ErrNativeLibraryMissing }
func (r *RTLSDR) SetTunerBandwidth(Handle, uint32) error { return ErrNativeLibraryMissing }
func (r *RTLSDR) ResetBuffer(Handle) error               { return ErrNativeLibraryMissing }
func (r *RTLSDR) ReadUntilCancelled(Handle, func([]byte)) error {
	return ErrNativeLibraryMissing
}
func (r *RTLSDR) Cancel(Handle) {}

func init() {
	Register("rtlsdr", func() Driver { return NewRTLSDR() })
}
