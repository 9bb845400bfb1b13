package server

import (
	"io"
	"testing"

	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

type fakeController struct {
	calls map[string]any
}

func newFakeController() *fakeController { return &fakeController{calls: map[string]any{}} }

func (f *fakeController) SetCenterFreq(hz uint64) error                       { f.calls["SetCenterFreq"] = hz; return nil }
func (f *fakeController) SetSampleRate(hz uint32) error                       { f.calls["SetSampleRate"] = hz; return nil }
func (f *fakeController) SetGainMode(mode driver.GainMode) error              { f.calls["SetGainMode"] = mode; return nil }
func (f *fakeController) SetGainByIndex(idx int) error                        { f.calls["SetGainByIndex"] = idx; return nil }
func (f *fakeController) SetManualGain(tenthDB int32) error                   { f.calls["SetManualGain"] = tenthDB; return nil }
func (f *fakeController) SetFreqCorrection(ppm int32) error                   { f.calls["SetFreqCorrection"] = ppm; return nil }
func (f *fakeController) SetIFGain(stage int, tenthDB int32) error {
	f.calls["SetIFGain"] = [2]int32{int32(stage), tenthDB}
	return nil
}
func (f *fakeController) SetRTLAGC(on bool) error                             { f.calls["SetRTLAGC"] = on; return nil }
func (f *fakeController) SetDirectSampling(mode driver.DirectSamplingMode) error {
	f.calls["SetDirectSampling"] = mode
	return nil
}
func (f *fakeController) SetOffsetTuning(on bool) error { f.calls["SetOffsetTuning"] = on; return nil }
func (f *fakeController) SetBiasTee(on bool) error      { f.calls["SetBiasTee"] = on; return nil }
func (f *fakeController) SetTunerBandwidth(hz uint32) error {
	f.calls["SetTunerBandwidth"] = hz
	return nil
}

func silentLogger() logging.Logger { return logging.New(logging.Debug, logging.Text, io.Discard) }

func TestDispatchEveryKnownCommandCode(t *testing.T) {
	ctl := newFakeController()
	d := NewDispatcher(ctl, silentLogger())

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetCenterFreq, Param: 100_000_000})
	if ctl.calls["SetCenterFreq"] != uint64(100_000_000) {
		t.Fatalf("SetCenterFreq not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetSampleRate, Param: 2_048_000})
	if ctl.calls["SetSampleRate"] != uint32(2_048_000) {
		t.Fatalf("SetSampleRate not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetGainMode, Param: 1})
	if ctl.calls["SetGainMode"] != driver.GainManual {
		t.Fatalf("expected manual gain mode, got %+v", ctl.calls["SetGainMode"])
	}

	manualGain := int32(-30)
	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetGain, Param: uint32(manualGain)})
	if ctl.calls["SetManualGain"] != int32(-30) {
		t.Fatalf("SetManualGain not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetFreqCorrection, Param: uint32(int32(5))})
	if ctl.calls["SetFreqCorrection"] != int32(5) {
		t.Fatalf("SetFreqCorrection not recorded: %+v", ctl.calls)
	}

	ifGainTenthDB := int16(-10)
	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetIFGain, Param: uint32(1)<<16 | uint32(uint16(ifGainTenthDB))})
	if ctl.calls["SetIFGain"] != [2]int32{1, -10} {
		t.Fatalf("SetIFGain not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetTestMode, Param: 1})
	if _, ok := ctl.calls["SetTestMode"]; ok {
		t.Fatal("test mode must never reach the controller")
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetAGCMode, Param: 1})
	if ctl.calls["SetRTLAGC"] != true {
		t.Fatalf("SetRTLAGC not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetDirectSampling, Param: 2})
	if ctl.calls["SetDirectSampling"] != driver.DirectSamplingQBranch {
		t.Fatalf("SetDirectSampling not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetOffsetTuning, Param: 1})
	if ctl.calls["SetOffsetTuning"] != true {
		t.Fatalf("SetOffsetTuning not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetRTLXtalFreq, Param: 1})
	if _, ok := ctl.calls["SetRTLXtalFreq"]; ok {
		t.Fatal("crystal frequency command must never reach the controller")
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetGainByIndex, Param: 3})
	if ctl.calls["SetGainByIndex"] != 3 {
		t.Fatalf("SetGainByIndex not recorded: %+v", ctl.calls)
	}

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetBiasTee, Param: 1})
	if ctl.calls["SetBiasTee"] != true {
		t.Fatalf("SetBiasTee not recorded: %+v", ctl.calls)
	}
}

func TestDispatchUnknownCommandCodeIsSilentlyIgnored(t *testing.T) {
	ctl := newFakeController()
	d := NewDispatcher(ctl, silentLogger())

	d.Dispatch(rtltcp.Frame{Code: 0xFF, Param: 0})

	if len(ctl.calls) != 0 {
		t.Fatalf("expected no controller mutation for unknown command, got %+v", ctl.calls)
	}
}

func TestDispatchGainModeAutomaticOnZero(t *testing.T) {
	ctl := newFakeController()
	d := NewDispatcher(ctl, silentLogger())

	d.Dispatch(rtltcp.Frame{Code: rtltcp.CmdSetGainMode, Param: 0})
	if ctl.calls["SetGainMode"] != driver.GainAutomatic {
		t.Fatalf("expected automatic gain mode, got %+v", ctl.calls["SetGainMode"])
	}
}
