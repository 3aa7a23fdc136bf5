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
	"fmt"
	"sync"
)

// IoctlCall is one command recorded by the MockDriver.
type IoctlCall struct {
	Device  string
	Request uint
	Arg     []byte
}

type ioctlKey struct {
	device  string
	request uint
}

// MockDriver implements Driver for testing without the msm kernel drivers.
// It records every ioctl and supports error injection per device and command.
type MockDriver struct {
	mu sync.Mutex

	calls       []IoctlCall
	opens       map[string]int
	openHandles map[string]int
	openErrors  map[string]error
	ioctlErrors map[ioctlKey]error

	configs    map[string]AudioConfig
	amrConfigs map[string]AMRNBEncConfig
	cdmaConfig map[string]CDMAEncConfig
	aacConfigs map[string]AACEncConfig
	streamCfg  StreamConfig

	writeTryAgain int
	writeError    error
	writeChunk    int
	written       map[string][]byte

	readTryAgain int
	readError    error
	readChunk    int
	generator    func(device string, p []byte) int
}

// NewMockDriver creates a new mock driver with driver-like default replies
func NewMockDriver() *MockDriver {
	return &MockDriver{
		opens:       make(map[string]int),
		openHandles: make(map[string]int),
		openErrors:  make(map[string]error),
		ioctlErrors: make(map[ioctlKey]error),
		configs: map[string]AudioConfig{
			PCMOutDevice: {BufferSize: 4800, BufferCount: 2, ChannelCount: 2, SampleRate: 44100},
			PCMInDevice:  {BufferSize: 2048, BufferCount: 2, ChannelCount: 1, SampleRate: 8000},
		},
		amrConfigs: make(map[string]AMRNBEncConfig),
		cdmaConfig: make(map[string]CDMAEncConfig),
		aacConfigs: make(map[string]AACEncConfig),
		streamCfg:  StreamConfig{BufferSize: 1536, BufferCount: 5},
		written:    make(map[string][]byte),
	}
}

// SetOpenError configures Open to fail for the named device
func (m *MockDriver) SetOpenError(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.openErrors, name)
		return
	}
	m.openErrors[name] = err
}

// SetIoctlError configures a command on the named device to fail. A nil err clears it.
func (m *MockDriver) SetIoctlError(name string, req uint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ioctlKey{device: name, request: req}
	if err == nil {
		delete(m.ioctlErrors, k)
		return
	}
	m.ioctlErrors[k] = err
}

// SetConfigReply sets what AUDIO_GET_CONFIG returns on the named device
func (m *MockDriver) SetConfigReply(name string, cfg AudioConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = cfg
}

// SetWriteTryAgain makes the next n writes fail with ErrTryAgain
func (m *MockDriver) SetWriteTryAgain(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeTryAgain = n
}

// SetWriteError makes every write fail with err
func (m *MockDriver) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// SetWriteChunk limits how many bytes a single write accepts (0 = unlimited)
func (m *MockDriver) SetWriteChunk(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeChunk = n
}

// SetReadTryAgain makes the next n reads fail with ErrTryAgain
func (m *MockDriver) SetReadTryAgain(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readTryAgain = n
}

// SetReadError makes every read fail with err
func (m *MockDriver) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// SetReadChunk limits how many bytes a single read returns (0 = unlimited)
func (m *MockDriver) SetReadChunk(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readChunk = n
}

// SetCaptureGenerator sets a function producing captured data. It returns the
// number of bytes it filled.
func (m *MockDriver) SetCaptureGenerator(fn func(device string, p []byte) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generator = fn
}

// Calls returns a copy of every recorded ioctl
func (m *MockDriver) Calls() []IoctlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]IoctlCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallsFor returns the recorded calls of one command on one device
func (m *MockDriver) CallsFor(name string, req uint) []IoctlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []IoctlCall
	for _, c := range m.calls {
		if c.Device == name && c.Request == req {
			result = append(result, c)
		}
	}
	return result
}

// CountCalls returns how often a command was issued on a device
func (m *MockDriver) CountCalls(name string, req uint) int {
	return len(m.CallsFor(name, req))
}

// ResetCalls forgets recorded ioctls
func (m *MockDriver) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Written returns everything written to the named device
func (m *MockDriver) Written(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]byte, len(m.written[name]))
	copy(result, m.written[name])
	return result
}

// OpenCount returns how often the named device was opened
func (m *MockDriver) OpenCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[name]
}

// IsOpen reports whether a handle on the named device is still open
func (m *MockDriver) IsOpen(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openHandles[name] > 0
}

// Open opens a mock device
func (m *MockDriver) Open(name string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.openErrors[name]; err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	m.opens[name]++
	m.openHandles[name]++
	return &mockDevice{driver: m, name: name}, nil
}

type mockDevice struct {
	driver *MockDriver
	name   string
	closed bool
}

func (d *mockDevice) Ioctl(req uint, arg []byte) error {
	m := d.driver
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	argCopy := make([]byte, len(arg))
	copy(argCopy, arg)
	m.calls = append(m.calls, IoctlCall{Device: d.name, Request: req, Arg: argCopy})

	if err := m.ioctlErrors[ioctlKey{device: d.name, request: req}]; err != nil {
		return err
	}

	switch {
	case req == AudioGetConfig:
		copy(arg, m.configs[d.name].Marshal())
	case req == AudioSetConfig:
		cfg, err := UnmarshalAudioConfig(arg)
		if err != nil {
			return err
		}
		m.configs[d.name] = cfg
	case req == AudioGetStreamConfig:
		copy(arg, m.streamCfg.Marshal())
	case d.name == AMRNBInDevice && req == AudioGetAMRNBEncConfig:
		copy(arg, m.amrConfigs[d.name].Marshal())
	case d.name == AMRNBInDevice && req == AudioSetAMRNBEncConfig:
		cfg, err := UnmarshalAMRNBEncConfig(arg)
		if err != nil {
			return err
		}
		m.amrConfigs[d.name] = cfg
	case d.name == EVRCInDevice && req == AudioGetEVRCEncConfig,
		d.name == QCELPInDevice && req == AudioGetQCELPEncConfig:
		copy(arg, m.cdmaConfig[d.name].Marshal())
	case d.name == EVRCInDevice && req == AudioSetEVRCEncConfig,
		d.name == QCELPInDevice && req == AudioSetQCELPEncConfig:
		cfg, err := UnmarshalCDMAEncConfig(arg)
		if err != nil {
			return err
		}
		m.cdmaConfig[d.name] = cfg
	case d.name == AACInDevice && req == AudioGetAACEncConfig:
		copy(arg, m.aacConfigs[d.name].Marshal())
	case d.name == AACInDevice && req == AudioSetAACEncConfig:
		cfg, err := UnmarshalAACEncConfig(arg)
		if err != nil {
			return err
		}
		m.aacConfigs[d.name] = cfg
	}
	return nil
}

// AACEncConfigFor returns the last AAC encoder config set on the AAC device
func (m *MockDriver) AACEncConfigFor() AACEncConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aacConfigs[AACInDevice]
}

// AMRNBEncConfigFor returns the last AMR-NB encoder config set
func (m *MockDriver) AMRNBEncConfigFor() AMRNBEncConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.amrConfigs[AMRNBInDevice]
}

// CDMAEncConfigFor returns the last EVRC or QCELP encoder config set on name
func (m *MockDriver) CDMAEncConfigFor(name string) CDMAEncConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cdmaConfig[name]
}

func (d *mockDevice) Read(p []byte) (int, error) {
	m := d.driver
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if m.readError != nil {
		return 0, m.readError
	}
	if m.readTryAgain > 0 {
		m.readTryAgain--
		return 0, ErrTryAgain
	}

	buf := p
	if m.readChunk > 0 && len(buf) > m.readChunk {
		buf = buf[:m.readChunk]
	}
	if m.generator != nil {
		return m.generator(d.name, buf), nil
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	return len(buf), nil
}

func (d *mockDevice) Write(p []byte) (int, error) {
	m := d.driver
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if m.writeError != nil {
		return 0, m.writeError
	}
	if m.writeTryAgain > 0 {
		m.writeTryAgain--
		return 0, ErrTryAgain
	}

	n := len(p)
	if m.writeChunk > 0 && n > m.writeChunk {
		n = m.writeChunk
	}
	m.written[d.name] = append(m.written[d.name], p[:n]...)
	return n, nil
}

func (d *mockDevice) Close() error {
	m := d.driver
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	m.openHandles[d.name]--
	return nil
}
