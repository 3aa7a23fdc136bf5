/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package hal

import (
	"fmt"
	"io"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/loqalabs/loqa-audio-hal/internal/param"
	"go.uber.org/zap"
)

// InputState is the lifecycle of an input stream.
type InputState int32

const (
	InputClosed InputState = iota
	InputOpened
	InputStarted
)

func (s InputState) String() string {
	switch s {
	case InputClosed:
		return "closed"
	case InputOpened:
		return "opened"
	case InputStarted:
		return "started"
	}
	return fmt.Sprintf("input_state(%d)", int32(s))
}

const defaultInputSampleRate = 8000

var inputSampleRates = []uint32{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000}

// NearestInputSampleRate returns the supported capture rate closest to rate.
// The scan stops at the first rate that is not closer than the previous one,
// so a tie resolves to the lower rate.
func NearestInputSampleRate(rate uint32) uint32 {
	best := inputSampleRates[0]
	bestDelta := absDiff(rate, best)
	for _, r := range inputSampleRates[1:] {
		delta := absDiff(rate, r)
		if delta >= bestDelta {
			break
		}
		best, bestDelta = r, delta
	}
	return best
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// InputStream captures from one of the input device files. It is opened by
// AudioHardware.OpenInputStream, started by the first Read and closed again
// by Standby.
type InputStream struct {
	hw     *AudioHardware
	logger *zap.SugaredLogger

	mu         sync.Mutex
	dev        driver.Device
	capture    capture
	cfg        StreamConfig
	bufferSize int
	rs         readState

	state            atomic.Int32
	closed           atomic.Bool
	devices          atomic.Uint32
	recordingEnabled atomic.Bool
	retryCount       atomic.Uint64
}

func newInputStream(hw *AudioHardware, devices uint32) *InputStream {
	s := &InputStream{
		hw:     hw,
		logger: hw.logger.With("stream", "in"),
	}
	s.devices.Store(devices)
	s.rs = readState{retries: &s.retryCount, logger: s.logger}
	return s
}

// set validates cfg and opens the driver. Rejected values are written back.
func (s *InputStream) set(cfg *StreamConfig) error {
	if cfg.Format == 0 {
		cfg.Format = FormatPCM16
	}
	if cfg.Channels == 0 {
		cfg.Channels = ChannelInMono
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultInputSampleRate
	}

	c, err := newCapture(cfg.Format)
	if err != nil {
		cfg.Format = FormatPCM16
		return err
	}
	if rate := NearestInputSampleRate(cfg.SampleRate); rate != cfg.SampleRate {
		requested := cfg.SampleRate
		cfg.SampleRate = rate
		return fmt.Errorf("%w: unsupported sample rate %d", ErrBadValue, requested)
	}
	if cfg.Channels&(ChannelInMono|ChannelInStereo) == 0 {
		requested := cfg.Channels
		cfg.Channels = ChannelInMono
		return fmt.Errorf("%w: unsupported channel mask 0x%X", ErrBadValue, requested)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(c, cfg)
}

// openLocked opens and configures the variant's device. s.mu must be held.
func (s *InputStream) openLocked(c capture, cfg *StreamConfig) error {
	if s.dev != nil {
		return ErrAlreadyOpen
	}

	dev, err := s.hw.drv.Open(c.device())
	if err != nil {
		return fmt.Errorf("cannot open %s driver: %w", c.device(), err)
	}

	if s.devices.Load() == InputVoiceCall {
		mode := voiceRecMode(cfg.Channels)
		if err := dev.Ioctl(driver.AudioSetInCall, driver.Uint32Arg(mode)); err != nil {
			dev.Close()
			return fmt.Errorf("cannot set voice call record mode: %w", err)
		}
		s.logger.Debugw("voice call tap", "rec_mode", mode)
	}

	params, err := c.configure(dev, cfg)
	if err != nil {
		dev.Close()
		return err
	}

	s.dev = dev
	s.capture = c
	s.cfg = *cfg
	s.cfg.SampleRate = params.sampleRate
	s.bufferSize = params.bufferSize
	s.rs.primed = false
	s.recordingEnabled.Store(true)
	s.state.Store(int32(InputOpened))

	s.logger.Infow("input stream opened",
		"device", c.device(),
		"format", FormatName(s.cfg.Format),
		"sample_rate", s.cfg.SampleRate,
		"buffer_size", s.bufferSize)
	return nil
}

// Read captures into p. The first Read after an open starts the driver and
// routes to this stream's input device. A stream in standby is reopened with
// its last configuration.
func (s *InputStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, errStreamClosed
	}
	if err := s.hw.disableDualMicIfNeeded(); err != nil {
		s.logger.Warnw("dual-mic disable failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, errStreamClosed
	}
	if s.State() == InputClosed {
		if s.capture == nil {
			return 0, ErrNotInitialized
		}
		cfg := s.cfg
		if err := s.openLocked(s.capture, &cfg); err != nil {
			return 0, err
		}
	}

	if s.State() < InputStarted {
		if err := s.hw.claimCapture(s); err != nil {
			return 0, err
		}

		s.recordingEnabled.Store(true)
		if err := s.hw.forceRouting(s.routeInfo(true)); err != nil {
			s.logger.Warnw("routing for capture failed", "error", err)
		}

		if err := s.dev.Ioctl(driver.AudioStart, nil); err != nil {
			s.logger.Errorw("error starting record", "error", err)
			s.standbyLocked()
			return 0, fmt.Errorf("cannot start capture: %w", err)
		}
		s.state.Store(int32(InputStarted))
	}

	return s.capture.read(s.dev, p, &s.rs)
}

// Standby closes the driver and restores output routing.
func (s *InputStream) Standby() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil
	}
	s.standbyLocked()
	return nil
}

// close puts the stream in standby for good. Called by the HAL once the
// stream is no longer tracked.
func (s *InputStream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	s.standbyLocked()
	return nil
}

func (s *InputStream) standbyLocked() {
	if s.dev != nil {
		if s.State() == InputOpened {
			// the driver expects open, start, close
			if err := s.dev.Ioctl(driver.AudioStart, nil); err != nil {
				s.logger.Warnw("start before close failed", "error", err)
			}
		}
		if err := s.dev.Close(); err != nil {
			s.logger.Warnw("close failed", "error", err)
		}
		s.dev = nil
	}
	s.state.Store(int32(InputClosed))
	s.recordingEnabled.Store(false)
	s.hw.releaseCapture(s)

	if err := s.hw.forceRouting(s.routeInfo(false)); err != nil {
		s.logger.Warnw("restoring output routing failed", "error", err)
	}
}

func (s *InputStream) routeInfo(routing bool) *InputRoute {
	return &InputRoute{
		Device:           s.devices.Load(),
		Routing:          routing,
		RecordingEnabled: s.recordingEnabled.Load(),
	}
}

// SetParameters accepts routing=<single input device> and re-routes.
func (s *InputStream) SetParameters(kv string) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	p := param.Parse(kv)

	var err error
	if devices, gerr := p.GetInt(param.KeyRouting); gerr == nil {
		if bits.OnesCount32(uint32(devices)) > 1 {
			err = fmt.Errorf("%w: input routing 0x%X names several devices", ErrBadValue, devices)
		} else {
			s.devices.Store(uint32(devices))
			err = s.hw.doRouting(s.routeInfo(true))
		}
		p.Remove(param.KeyRouting)
	}

	if p.Size() > 0 {
		return fmt.Errorf("%w: unsupported input parameters %q", ErrBadValue, p.String())
	}
	return err
}

// GetParameters answers the routing key.
func (s *InputStream) GetParameters(keys string) string {
	req := param.Parse(keys)
	reply := param.New()
	if req.Has(param.KeyRouting) {
		reply.AddInt(param.KeyRouting, int(s.devices.Load()))
	}
	return reply.String()
}

func (s *InputStream) State() InputState      { return InputState(s.state.Load()) }
func (s *InputStream) Devices() uint32        { return s.devices.Load() }
func (s *InputStream) RecordingEnabled() bool { return s.recordingEnabled.Load() }
func (s *InputStream) RetryCount() uint64     { return s.retryCount.Load() }

// Config returns the negotiated format, channel mask and sample rate.
func (s *InputStream) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// BufferSize is the driver buffer size negotiated at open.
func (s *InputStream) BufferSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferSize
}

// Dump writes the stream state to w.
func (s *InputStream) Dump(w io.Writer) error {
	s.mu.Lock()
	cfg, bufferSize := s.cfg, s.bufferSize
	handle := handleState("", false)
	if s.dev != nil {
		handle = handleState(s.capture.device(), true)
	}
	s.mu.Unlock()

	_, err := fmt.Fprintf(w, "input stream:\n"+
		"\tdriver handle: %s\n"+
		"\tsample rate: %d\n"+
		"\tbuffer size: %d\n"+
		"\tchannels: 0x%X\n"+
		"\tformat: %s\n"+
		"\tdevices: 0x%X\n"+
		"\tstate: %s\n"+
		"\trecording enabled: %t\n"+
		"\tretry count: %d\n",
		handle, cfg.SampleRate, bufferSize, cfg.Channels, FormatName(cfg.Format),
		s.Devices(), s.State(), s.RecordingEnabled(), s.RetryCount())
	return err
}
