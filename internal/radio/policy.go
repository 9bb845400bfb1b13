package radio

import (
	"errors"

	"github.com/rjboer/rtltcpd/internal/driver"
)

// applied normalizes the driver's "already at this value" sentinel to
// success, per spec §4.2/§7, and otherwise passes the error through.
func applied(err error) error {
	if errors.Is(err, driver.ErrAlreadyAtValue) {
		return nil
	}
	return err
}

// SetCenterFreq sets the center frequency in Hz.
func (c *Controller) SetCenterFreq(hz uint64) error {
	return c.do(func() error {
		err := applied(c.drv.SetCenterFreq(c.handle, hz))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.CenterFreqHz = hz })
		}
		return err
	})
}

// SetSampleRate sets the sample rate in Hz and resizes the hub's
// per-client queue depth so it still represents ~1s of buffering.
func (c *Controller) SetSampleRate(hz uint32) error {
	return c.do(func() error {
		err := applied(c.drv.SetSampleRate(c.handle, hz))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.SampleRateHz = hz })
			c.hub.SetQueueDepth(queueDepthFor(hz, sampleBufferHint))
		}
		return err
	})
}

// SetGainMode switches between automatic and manual tuner gain control.
func (c *Controller) SetGainMode(mode driver.GainMode) error {
	return c.do(func() error {
		err := applied(c.drv.SetGainMode(c.handle, mode))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.GainMode = mode })
		}
		return err
	})
}

// SetGainByIndex sets manual gain by index into the supported-gains
// table. Out-of-range indices are rejected before reaching the driver.
func (c *Controller) SetGainByIndex(idx int) error {
	return c.do(func() error {
		if idx < 0 || idx >= len(c.gains) {
			return driver.ErrInvalidArgument
		}
		err := applied(c.drv.SetGainByIndex(c.handle, idx))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.ManualGainTenth = c.gains[idx] })
		}
		return err
	})
}

// SetManualGain sets gain by nearest match in tenths of dB, clamped to
// the supported-gains table (spec §4.2: "clamped... out-of-range →
// invalid argument" applies to the index form; the nearest-match form
// always resolves to a valid entry as long as the table is non-empty).
func (c *Controller) SetManualGain(tenthDB int32) error {
	return c.do(func() error {
		idx := driver.NearestGainIndex(c.gains, tenthDB)
		if idx < 0 {
			return driver.ErrInvalidArgument
		}
		err := applied(c.drv.SetManualGain(c.handle, tenthDB))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.ManualGainTenth = c.gains[idx] })
		}
		return err
	})
}

// SetFreqCorrection sets the frequency correction in ppm.
func (c *Controller) SetFreqCorrection(ppm int32) error {
	return c.do(func() error {
		err := applied(c.drv.SetFreqCorrection(c.handle, ppm))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.FreqCorrection = ppm })
		}
		return err
	})
}

// SetIFGain sets one tuner IF gain stage, in tenths of dB.
func (c *Controller) SetIFGain(stage int, tenthDB int32) error {
	return c.do(func() error {
		err := applied(c.drv.SetIFGain(c.handle, stage, tenthDB))
		if err == nil {
			c.setParam(func(p *driver.Parameters) {
				if p.IFGainTenth == nil {
					p.IFGainTenth = map[int]int32{}
				}
				p.IFGainTenth[stage] = tenthDB
			})
		}
		return err
	})
}

// SetRTLAGC toggles the RTL2832's internal AGC.
func (c *Controller) SetRTLAGC(on bool) error {
	return c.do(func() error {
		err := applied(c.drv.SetRTLAGC(c.handle, on))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.RTLAGC = on })
		}
		return err
	})
}

// SetDirectSampling selects off/I-branch/Q-branch direct sampling.
func (c *Controller) SetDirectSampling(mode driver.DirectSamplingMode) error {
	return c.do(func() error {
		err := applied(c.drv.SetDirectSampling(c.handle, mode))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.DirectSampling = mode })
		}
		return err
	})
}

// SetOffsetTuning applies the vendor policy from spec §4.2: on
// R820T/R828D the request is accepted and silently ignored without ever
// reaching the driver, reporting success; every other tuner kind applies
// it normally. This is the tuner-kind dispatch table the design notes
// call for, kept as a single branch since only one axis varies today.
func (c *Controller) SetOffsetTuning(on bool) error {
	return c.do(func() error {
		if !driver.OffsetTuningCapable(c.tuner) {
			c.setParam(func(p *driver.Parameters) { p.OffsetTuning = on })
			return nil
		}
		err := applied(c.drv.SetOffsetTuning(c.handle, on))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.OffsetTuning = on })
		}
		return err
	})
}

// SetBiasTee toggles DC bias on the antenna port.
func (c *Controller) SetBiasTee(on bool) error {
	return c.do(func() error {
		err := applied(c.drv.SetBiasTee(c.handle, on))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.BiasTee = on })
		}
		return err
	})
}

// SetTunerBandwidth sets the tuner's analog bandwidth in Hz.
func (c *Controller) SetTunerBandwidth(hz uint32) error {
	return c.do(func() error {
		err := applied(c.drv.SetTunerBandwidth(c.handle, hz))
		if err == nil {
			c.setParam(func(p *driver.Parameters) { p.TunerBandwidth = hz })
		}
		return err
	})
}
