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
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"github.com/loqalabs/loqa-audio-hal/internal/param"
	"go.uber.org/zap"
)

// Output capability is fixed by the DSP.
const (
	outputSampleRate  = 44100
	outputChannels    = ChannelOutStereo
	outputFormat      = FormatPCM16
	outputBufferSize  = 4096
	outputBufferCount = 2
	outputFrameSize   = 4 // 16 bit stereo
)

// StreamConfig carries the format, channel mask and sample rate of a stream.
// Zero fields select the stream's default. When a request is rejected the
// supported values are written back so the caller can retry with them.
type StreamConfig struct {
	Format     uint32
	Channels   uint32
	SampleRate uint32
}

// OutputStream is the single PCM playback stream. It opens the driver lazily
// and drops back to standby on request.
type OutputStream struct {
	hw     *AudioHardware
	logger *zap.SugaredLogger
	sleep  func(time.Duration)

	mu  sync.Mutex
	dev driver.Device

	devices    atomic.Uint32
	standby    atomic.Bool
	closed     atomic.Bool
	retryCount atomic.Uint64
}

func newOutputStream(hw *AudioHardware, devices uint32) *OutputStream {
	s := &OutputStream{
		hw:     hw,
		logger: hw.logger.With("stream", "out"),
		sleep:  hw.sleep,
	}
	s.devices.Store(devices)
	s.standby.Store(true)
	return s
}

// set validates cfg against the fixed capability and opens the driver.
func (s *OutputStream) set(cfg *StreamConfig) error {
	if cfg.Format == 0 {
		cfg.Format = outputFormat
	}
	if cfg.Channels == 0 {
		cfg.Channels = outputChannels
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = outputSampleRate
	}

	if cfg.Format != outputFormat || cfg.Channels != outputChannels || cfg.SampleRate != outputSampleRate {
		requested := *cfg
		cfg.Format = outputFormat
		cfg.Channels = outputChannels
		cfg.SampleRate = outputSampleRate
		return fmt.Errorf("%w: requested %s/0x%X/%d", ErrValuesAdjusted,
			FormatName(requested.Format), requested.Channels, requested.SampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openDriver(); err != nil {
		// the first Write retries the open
		s.logger.Warnw("output driver open deferred", "error", err)
	}
	return nil
}

// openDriver must be called with s.mu held.
func (s *OutputStream) openDriver() error {
	if !s.standby.Load() {
		return nil
	}

	dev, err := s.hw.drv.Open(driver.PCMOutDevice)
	if err != nil {
		return fmt.Errorf("cannot open pcm_out driver: %w", err)
	}

	reply := make([]byte, driver.AudioConfigSize)
	if err := dev.Ioctl(driver.AudioGetConfig, reply); err != nil {
		dev.Close()
		return fmt.Errorf("cannot read pcm_out config: %w", err)
	}
	conf, err := driver.UnmarshalAudioConfig(reply)
	if err != nil {
		dev.Close()
		return err
	}

	conf.ChannelCount = uint32(ChannelCount(outputChannels))
	conf.SampleRate = outputSampleRate
	conf.BufferSize = outputBufferSize
	conf.BufferCount = outputBufferCount
	conf.Type = driver.CodecTypePCM
	if err := dev.Ioctl(driver.AudioSetConfig, conf.Marshal()); err != nil {
		dev.Close()
		return fmt.Errorf("cannot set pcm_out config: %w", err)
	}

	if err := dev.Ioctl(driver.AudioStart, nil); err != nil {
		dev.Close()
		return fmt.Errorf("cannot start pcm_out driver: %w", err)
	}

	s.dev = dev
	s.standby.Store(false)
	s.logger.Debugw("pcm_out driver started",
		"buffer_size", conf.BufferSize, "buffer_count", conf.BufferCount)
	return nil
}

// Write plays p, reopening the driver if the stream is in standby. It
// returns how many bytes were accepted before a hard error.
func (s *OutputStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, errStreamClosed
	}

	if err := s.openDriver(); err != nil {
		s.logger.Errorw("write failed", "error", err)
		// simulate audio output timing in case of error
		s.sleep(time.Duration(len(p)) * time.Second / (outputFrameSize * outputSampleRate))
		return 0, err
	}

	written := 0
	for written < len(p) {
		n, err := s.dev.Write(p[written:])
		if err != nil {
			if errors.Is(err, driver.ErrTryAgain) {
				s.retryCount.Add(1)
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

// Standby closes the driver handle. The next Write reopens it.
func (s *OutputStream) Standby() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			s.logger.Warnw("close failed", "error", err)
		}
		s.dev = nil
	}
	s.standby.Store(true)
	return nil
}

// close puts the stream in standby for good. Called by the HAL once the
// stream is no longer tracked.
func (s *OutputStream) close() error {
	s.mu.Lock()
	s.closed.Store(true)
	s.mu.Unlock()
	return s.Standby()
}

// SetParameters accepts routing=<output mask> and re-routes.
func (s *OutputStream) SetParameters(kv string) error {
	if s.closed.Load() {
		return errStreamClosed
	}
	p := param.Parse(kv)

	var err error
	if devices, gerr := p.GetInt(param.KeyRouting); gerr == nil {
		s.devices.Store(uint32(devices))
		s.logger.Debugw("set output routing", "devices", fmt.Sprintf("0x%X", devices))
		err = s.hw.doRouting(nil)
		p.Remove(param.KeyRouting)
	}

	if p.Size() > 0 {
		return fmt.Errorf("%w: unsupported output parameters %q", ErrBadValue, p.String())
	}
	return err
}

// GetParameters answers the routing key.
func (s *OutputStream) GetParameters(keys string) string {
	req := param.Parse(keys)
	reply := param.New()
	if req.Has(param.KeyRouting) {
		reply.AddInt(param.KeyRouting, int(s.devices.Load()))
	}
	return reply.String()
}

func (s *OutputStream) SampleRate() uint32 { return outputSampleRate }
func (s *OutputStream) Channels() uint32   { return outputChannels }
func (s *OutputStream) Format() uint32     { return outputFormat }
func (s *OutputStream) BufferSize() int    { return outputBufferSize }
func (s *OutputStream) Devices() uint32    { return s.devices.Load() }
func (s *OutputStream) InStandby() bool    { return s.standby.Load() }
func (s *OutputStream) RetryCount() uint64 { return s.retryCount.Load() }

// Latency is the time the driver's buffers hold.
func (s *OutputStream) Latency() time.Duration {
	frames := outputBufferCount * outputBufferSize / outputFrameSize
	return time.Duration(frames) * time.Second / outputSampleRate
}

// RenderPosition is not reported by the driver.
func (s *OutputStream) RenderPosition() (uint32, error) {
	return 0, ErrNotSupported
}

// Dump writes the stream state to w.
func (s *OutputStream) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w, "output stream:\n"+
		"\tdriver handle: %s\n"+
		"\tsample rate: %d\n"+
		"\tbuffer size: %d\n"+
		"\tchannels: 0x%X\n"+
		"\tformat: %s\n"+
		"\tdevices: %s\n"+
		"\tlatency: %s\n"+
		"\tretry count: %d\n"+
		"\tstandby: %t\n",
		handleState(driver.PCMOutDevice, !s.InStandby()),
		s.SampleRate(), s.BufferSize(), s.Channels(), FormatName(s.Format()),
		OutputDevicesString(s.Devices()), s.Latency(), s.RetryCount(), s.InStandby())
	return err
}

func handleState(device string, open bool) string {
	if open {
		return device + " open"
	}
	return "closed"
}
