// Package radio implements the Radio Controller: it owns exactly one
// opened device, serializes every parameter mutation through a single
// control executor goroutine, and forwards every buffer the producer
// goroutine receives to the Broadcast Hub without taking the control
// lock. The serialization pattern — a small job channel drained by one
// goroutine — generalizes the mutex-guarded command manager the
// retrieval pack uses for its own device-control path.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/logging"
)

// Publisher is the subset of *hub.Hub the controller depends on, kept
// narrow so tests can substitute a recording fake.
type Publisher interface {
	Publish(buf []byte)
	SetQueueDepth(depth int)
}

// StartConfig selects and initializes the device to open. CenterFreqHz
// and SampleRateHz override driver.DefaultParameters when non-zero,
// letting the caller seed the initial tune from persisted configuration.
type StartConfig struct {
	Serial       string // optional; empty selects index 0
	CenterFreqHz uint64
	SampleRateHz uint32
}

// Controller owns one opened device end to end: initialization,
// serialized parameter mutation, the producer goroutine, and shutdown.
type Controller struct {
	drv driver.Driver
	hub Publisher
	log logging.Logger

	handle driver.Handle
	tuner  driver.Tuner
	gains  []int32

	jobs chan job

	paramsMu sync.RWMutex
	params   driver.Parameters

	producedBuffers atomic.Int64
	producedBytes   atomic.Int64

	lifecycleMu  sync.Mutex
	started      bool
	stopped      bool
	producerDone chan struct{}
}

type job struct {
	run    func() error
	result chan error
}

// New builds a Controller over drv, publishing produced buffers to h.
func New(drv driver.Driver, h Publisher, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Default()
	}
	return &Controller{
		drv:    drv,
		hub:    h,
		log:    logging.Named(log, "radio"),
		jobs:   make(chan job),
		params: driver.DefaultParameters(),
	}
}

// Start runs the initialization sequence from spec §4.2: enumerate,
// select device, open, query tuner type and supported gains, apply the
// initial parameter state, then spawn the control executor and the
// producer goroutine. A Controller starts at most once: any later call
// to Start, including one after Stop, returns an error.
func (c *Controller) Start(cfg StartConfig) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return fmt.Errorf("radio: controller already started")
	}

	count, err := c.drv.Enumerate()
	if err != nil {
		return fmt.Errorf("radio: enumerate: %w", err)
	}
	if count == 0 {
		return driver.ErrNoDeviceFound
	}

	index := 0
	if cfg.Serial != "" {
		index, err = c.drv.IndexBySerial(cfg.Serial)
		if err != nil {
			return fmt.Errorf("radio: %w", driver.ErrSerialNotFound)
		}
	}

	handle, err := c.drv.Open(index)
	if err != nil {
		return fmt.Errorf("radio: %w: %v", driver.ErrOpenFailed, err)
	}
	c.handle = handle
	c.tuner = c.drv.TunerType(handle)
	c.gains = c.drv.SupportedGains(handle)

	if err := c.applyInitialState(cfg); err != nil {
		_ = c.drv.Close(handle)
		return fmt.Errorf("radio: initial parameter state: %w", err)
	}

	go c.runControlExecutor()
	c.producerDone = make(chan struct{})
	go c.runProducer()

	c.started = true
	c.log.Info("controller started", logging.Field{Key: "device", Value: handle.String()},
		logging.Field{Key: "tuner", Value: c.tuner.String()},
		logging.Field{Key: "gain_count", Value: len(c.gains)})
	return nil
}

func (c *Controller) applyInitialState(cfg StartConfig) error {
	defaults := driver.DefaultParameters()
	if cfg.CenterFreqHz != 0 {
		defaults.CenterFreqHz = cfg.CenterFreqHz
	}
	if cfg.SampleRateHz != 0 {
		defaults.SampleRateHz = cfg.SampleRateHz
	}
	if err := c.drv.SetCenterFreq(c.handle, defaults.CenterFreqHz); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	if err := c.drv.SetSampleRate(c.handle, defaults.SampleRateHz); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	if err := c.drv.SetGainMode(c.handle, driver.GainAutomatic); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	if err := c.drv.SetRTLAGC(c.handle, false); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	if err := c.drv.SetBiasTee(c.handle, false); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	if err := c.drv.SetDirectSampling(c.handle, driver.DirectSamplingOff); err != nil && !errors.Is(err, driver.ErrAlreadyAtValue) {
		return err
	}
	c.paramsMu.Lock()
	c.params = defaults
	c.paramsMu.Unlock()
	c.hub.SetQueueDepth(queueDepthFor(defaults.SampleRateHz, sampleBufferHint))
	return nil
}

// sampleBufferHint is the assumed per-buffer byte size used only to size
// the default queue depth before the first real buffer has been seen;
// it is not a protocol constant.
const sampleBufferHint = 64 * 1024

// queueDepthFor returns a buffer count covering ~1 second of samples at
// rateHz given bufSize bytes per delivered buffer (2 bytes/sample, I+Q).
func queueDepthFor(rateHz uint32, bufSize int) int {
	if rateHz == 0 || bufSize == 0 {
		return 4
	}
	bytesPerSecond := int(rateHz) * 2
	depth := bytesPerSecond / bufSize
	if depth < 4 {
		depth = 4
	}
	return depth
}

func (c *Controller) runControlExecutor() {
	for j := range c.jobs {
		err := j.run()
		if j.result != nil {
			j.result <- err
		}
	}
}

func (c *Controller) runProducer() {
	defer close(c.producerDone)
	if err := c.drv.ResetBuffer(c.handle); err != nil {
		c.log.Error("reset buffer failed", logging.Field{Key: "err", Value: err})
	}
	err := c.drv.ReadUntilCancelled(c.handle, func(buf []byte) {
		c.producedBuffers.Add(1)
		c.producedBytes.Add(int64(len(buf)))
		c.hub.Publish(buf)
	})
	if err != nil {
		c.log.Error("producer exited with error", logging.Field{Key: "err", Value: err})
	}
}

// do submits fn to the control executor and blocks for its result,
// serializing it with respect to every other mutation but not with
// respect to sample delivery (a buffer may straddle the change).
func (c *Controller) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.jobs <- job{run: fn, result: result}:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("radio: control executor unavailable")
	}
	return <-result
}

// Snapshot returns a point-in-time copy of the current parameters plus
// producer throughput counters, safe to read from any goroutine.
type Snapshot struct {
	Parameters      driver.Parameters
	Tuner           driver.Tuner
	SupportedGains  []int32
	BuffersProduced int64
	BytesProduced   int64
}

func (c *Controller) Snapshot() Snapshot {
	c.paramsMu.RLock()
	params := c.params.Clone()
	c.paramsMu.RUnlock()
	return Snapshot{
		Parameters:      params,
		Tuner:           c.tuner,
		SupportedGains:  append([]int32(nil), c.gains...),
		BuffersProduced: c.producedBuffers.Load(),
		BytesProduced:   c.producedBytes.Load(),
	}
}

func (c *Controller) setParam(mutate func(*driver.Parameters)) {
	c.paramsMu.Lock()
	mutate(&c.params)
	c.paramsMu.Unlock()
}

// Stop cancels the producer, joins it with a bounded timeout, stops the
// control executor, and closes the device. Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if !c.started || c.stopped {
		return nil
	}
	c.stopped = true

	c.drv.Cancel(c.handle)

	select {
	case <-c.producerDone:
	case <-ctx.Done():
		c.log.Warn("producer join timed out during shutdown")
	}

	close(c.jobs)

	if err := c.drv.Close(c.handle); err != nil {
		c.log.Error("device close failed", logging.Field{Key: "err", Value: err})
		return err
	}
	c.log.Info("controller stopped")
	return nil
}
