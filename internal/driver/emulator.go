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

package driver

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// EmulatorDriver emulates the msm device files on a desktop using PortAudio.
// Control commands are accepted and logged, pcm_out plays through the default
// output device and pcm_in captures from the default input device. The
// compressed capture devices have no emulation.
type EmulatorDriver struct {
	mu          sync.Mutex
	logger      *zap.SugaredLogger
	initialized bool
}

// NewEmulatorDriver creates a new PortAudio backed driver
func NewEmulatorDriver(logger *zap.SugaredLogger) *EmulatorDriver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &EmulatorDriver{logger: logger}
}

// Initialize initializes the PortAudio subsystem
func (e *EmulatorDriver) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	e.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (e *EmulatorDriver) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	err := portaudio.Terminate()
	e.initialized = false
	return err
}

// Open opens an emulated device file
func (e *EmulatorDriver) Open(name string) (Device, error) {
	e.mu.Lock()
	initialized := e.initialized
	e.mu.Unlock()

	switch name {
	case ControlDevice:
		return &emulatedControl{logger: e.logger}, nil
	case PCMOutDevice, PCMInDevice:
		if !initialized {
			return nil, fmt.Errorf("failed to open %s: PortAudio not initialized", name)
		}
		cfg := AudioConfig{BufferSize: 4096, BufferCount: 2, ChannelCount: 2, SampleRate: 44100}
		if name == PCMInDevice {
			cfg = AudioConfig{BufferSize: 256, BufferCount: 2, ChannelCount: 1, SampleRate: 8000}
		}
		return &emulatedPCM{
			logger:  e.logger,
			name:    name,
			isInput: name == PCMInDevice,
			config:  cfg,
		}, nil
	}
	return nil, fmt.Errorf("failed to open %s: %w", name, ErrUnsupported)
}

// emulatedControl stands in for msm_audio_ctl. There is no routing on a desktop.
type emulatedControl struct {
	logger *zap.SugaredLogger
}

func (c *emulatedControl) Ioctl(req uint, arg []byte) error {
	switch req {
	case AudioSwitchDevice:
		ids, err := DecodeSwitchDeviceArg(arg)
		if err != nil {
			return err
		}
		c.logger.Debugw("emulated device switch", "ids", fmt.Sprintf("0x%02X,0x%02X", ids[0], ids[1]))
	case AudioSetVolume, AudioSetMute:
		v, err := DecodeUint32Arg(arg)
		if err != nil {
			return err
		}
		c.logger.Debugw("emulated control command", "command", CommandName(req), "value", v)
	default:
		c.logger.Debugw("emulated control command", "command", CommandName(req))
	}
	return nil
}

func (c *emulatedControl) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (c *emulatedControl) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (c *emulatedControl) Close() error                { return nil }

// emulatedPCM maps a pcm device file onto a blocking PortAudio stream. The
// stream is opened on AUDIO_START using the last SET_CONFIG.
type emulatedPCM struct {
	mu      sync.Mutex
	logger  *zap.SugaredLogger
	name    string
	isInput bool
	config  AudioConfig
	stream  *portaudio.Stream
	buffer  []int16
	closed  bool
}

func (p *emulatedPCM) Ioctl(req uint, arg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	switch req {
	case AudioGetConfig:
		copy(arg, p.config.Marshal())
	case AudioSetConfig:
		cfg, err := UnmarshalAudioConfig(arg)
		if err != nil {
			return err
		}
		if cfg.ChannelCount < 1 || cfg.ChannelCount > 2 || cfg.BufferSize == 0 {
			return fmt.Errorf("%s: invalid config %+v", p.name, cfg)
		}
		p.config = cfg
	case AudioStart:
		return p.start()
	case AudioStop:
		return p.stop()
	case AudioSetInCall:
		return fmt.Errorf("%s: voice call capture: %w", p.name, ErrUnsupported)
	default:
		p.logger.Debugw("ignoring pcm command", "device", p.name, "command", CommandName(req))
	}
	return nil
}

// start must be called with p.mu held
func (p *emulatedPCM) start() error {
	if p.stream != nil {
		return nil
	}

	channels := int(p.config.ChannelCount)
	frames := int(p.config.BufferSize) / (2 * channels)
	p.buffer = make([]int16, frames*channels)

	var (
		stream *portaudio.Stream
		err    error
	)
	if p.isInput {
		stream, err = portaudio.OpenDefaultStream(channels, 0, float64(p.config.SampleRate), frames, p.buffer)
	} else {
		stream, err = portaudio.OpenDefaultStream(0, channels, float64(p.config.SampleRate), frames, p.buffer)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s stream: %w", p.name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start %s stream: %w", p.name, err)
	}

	p.logger.Infow("emulated pcm stream started",
		"device", p.name,
		"rate", p.config.SampleRate,
		"channels", channels,
		"frames_per_buffer", frames)
	p.stream = stream
	return nil
}

// stop must be called with p.mu held
func (p *emulatedPCM) stop() error {
	if p.stream == nil {
		return nil
	}
	err := p.stream.Stop()
	if cerr := p.stream.Close(); err == nil {
		err = cerr
	}
	p.stream = nil
	return err
}

// Write plays whole PortAudio buffers. A trailing partial buffer is zero padded.
func (p *emulatedPCM) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.isInput {
		return 0, fmt.Errorf("cannot write to %s: %w", p.name, ErrUnsupported)
	}
	if p.stream == nil {
		return 0, fmt.Errorf("%s: write before AUDIO_START", p.name)
	}

	written := 0
	for written < len(b) {
		n := decodeSamples(p.buffer, b[written:])
		if n == 0 {
			// odd trailing byte, not a whole sample
			return len(b), nil
		}
		if err := p.stream.Write(); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", p.name, err)
		}
		written += n
	}
	return written, nil
}

// Read captures one PortAudio buffer, or less when b is smaller.
func (p *emulatedPCM) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if !p.isInput {
		return 0, fmt.Errorf("cannot read from %s: %w", p.name, ErrUnsupported)
	}
	if p.stream == nil {
		return 0, fmt.Errorf("%s: read before AUDIO_START", p.name)
	}

	if err := p.stream.Read(); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", p.name, err)
	}
	return encodeSamples(b, p.buffer), nil
}

func (p *emulatedPCM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.stop()
}

// decodeSamples fills dst from little endian pcm bytes, zero padding the
// rest of dst. It returns the number of bytes consumed.
func decodeSamples(dst []int16, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	clear(dst[n:])
	return 2 * n
}

// encodeSamples writes samples as little endian pcm bytes and returns the
// number of bytes written.
func encodeSamples(dst []byte, src []int16) int {
	n := min(len(dst)/2, len(src))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(src[i]))
	}
	return 2 * n
}
