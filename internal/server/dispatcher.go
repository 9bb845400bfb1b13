package server

import (
	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

// Controller is the subset of *radio.Controller the dispatcher needs,
// kept narrow so tests can exercise dispatch against a recording fake
// instead of a fully initialized controller.
type Controller interface {
	SetCenterFreq(hz uint64) error
	SetSampleRate(hz uint32) error
	SetGainMode(mode driver.GainMode) error
	SetGainByIndex(idx int) error
	SetManualGain(tenthDB int32) error
	SetFreqCorrection(ppm int32) error
	SetIFGain(stage int, tenthDB int32) error
	SetRTLAGC(on bool) error
	SetDirectSampling(mode driver.DirectSamplingMode) error
	SetOffsetTuning(on bool) error
	SetBiasTee(on bool) error
	SetTunerBandwidth(hz uint32) error
}

// Dispatcher validates and routes command frames into the Radio
// Controller's serialized control path. It never returns an error to its
// caller: controller failures are logged and swallowed per spec §4.6/§7.
type Dispatcher struct {
	ctl Controller
	log logging.Logger
}

// NewDispatcher builds a Dispatcher over ctl.
func NewDispatcher(ctl Controller, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	return &Dispatcher{ctl: ctl, log: logging.Named(log, "dispatcher")}
}

// Dispatch translates one decoded command frame into a single Radio
// Controller mutation. Unknown codes are silently ignored, matching the
// bug-compatible behavior of the reference server. Commands are expected
// to be dispatched in arrival order per connection by the caller (the
// session's RX loop processes frames sequentially).
func (d *Dispatcher) Dispatch(f rtltcp.Frame) {
	var err error
	switch f.Code {
	case rtltcp.CmdSetCenterFreq:
		err = d.ctl.SetCenterFreq(uint64(f.Param))
	case rtltcp.CmdSetSampleRate:
		err = d.ctl.SetSampleRate(f.Param)
	case rtltcp.CmdSetGainMode:
		mode := driver.GainAutomatic
		if f.Param != 0 {
			mode = driver.GainManual
		}
		err = d.ctl.SetGainMode(mode)
	case rtltcp.CmdSetGain:
		err = d.ctl.SetManualGain(f.ParamAsInt32())
	case rtltcp.CmdSetFreqCorrection:
		err = d.ctl.SetFreqCorrection(f.ParamAsInt32())
	case rtltcp.CmdSetIFGain:
		stage, tenthDB := rtltcp.SplitIFGainParam(f.Param)
		err = d.ctl.SetIFGain(stage, tenthDB)
	case rtltcp.CmdSetTestMode:
		// Accepted, logged, no defined driver-side behavior per the
		// open question in spec §9 — do not guess vendor intent.
		d.log.Debug("test mode command received, no-op", logging.Field{Key: "param", Value: f.Param})
		return
	case rtltcp.CmdSetAGCMode:
		err = d.ctl.SetRTLAGC(f.Param != 0)
	case rtltcp.CmdSetDirectSampling:
		err = d.ctl.SetDirectSampling(driver.DirectSamplingMode(f.Param))
	case rtltcp.CmdSetOffsetTuning:
		err = d.ctl.SetOffsetTuning(f.Param != 0)
	case rtltcp.CmdSetRTLXtalFreq:
		// Accepted, logged, no defined driver-side behavior, same as
		// test mode above.
		d.log.Debug("crystal frequency command received, no-op", logging.Field{Key: "param", Value: f.Param})
		return
	case rtltcp.CmdSetGainByIndex:
		err = d.ctl.SetGainByIndex(int(f.Param))
	case rtltcp.CmdSetBiasTee:
		err = d.ctl.SetBiasTee(f.Param != 0)
	default:
		d.log.Debug("unknown command code ignored", logging.Field{Key: "code", Value: f.Code})
		return
	}
	if err != nil {
		d.log.Error("command failed", logging.Field{Key: "code", Value: f.Code},
			logging.Field{Key: "param", Value: f.Param}, logging.Field{Key: "err", Value: err})
	}
}
