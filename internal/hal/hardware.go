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
	"math"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"go.uber.org/zap"
)

// BluetoothProfile holds the acoustic parameter ids of a known headset.
type BluetoothProfile struct {
	Name string
	TX   uint32
	RX   uint32
}

// RouteEvent describes a route the hardware has just switched to.
type RouteEvent struct {
	// Device is the selector sent to the driver. It differs from Requested
	// when BT echo cancellation is off.
	Device    SoundDevice
	Requested SoundDevice
	Route     Route
	Mode      CallMode
	TTY       TTYMode
	DualMic   bool
}

// RouteObserver is called with the HAL lock held after every applied route.
// It must not call back into AudioHardware.
type RouteObserver func(RouteEvent)

// Option configures an AudioHardware.
type Option func(*AudioHardware)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(hw *AudioHardware) {
		if logger != nil {
			hw.logger = logger
		}
	}
}

// WithProductDevice sets the product name used to pick product specific routes.
func WithProductDevice(name string) Option {
	return func(hw *AudioHardware) { hw.productDevice = name }
}

// WithDualMicControlFile overrides where the dual-mic placement flag is read from.
func WithDualMicControlFile(path string) Option {
	return func(hw *AudioHardware) { hw.dualMicFile = path }
}

// WithBluetoothProfiles sets the headsets known by bt_headset_name.
func WithBluetoothProfiles(profiles []BluetoothProfile) Option {
	return func(hw *AudioHardware) {
		for _, p := range profiles {
			hw.btProfiles[strings.ToLower(p.Name)] = p
		}
	}
}

// WithRouteObserver registers a callback for applied routes.
func WithRouteObserver(observer RouteObserver) Option {
	return func(hw *AudioHardware) { hw.observer = observer }
}

// WithSleep replaces time.Sleep, used by output streams to pace failed writes.
func WithSleep(sleep func(time.Duration)) Option {
	return func(hw *AudioHardware) {
		if sleep != nil {
			hw.sleep = sleep
		}
	}
}

// AudioHardware owns the routing state shared by all streams and the control
// port that applies it. Every routing decision goes through doRoutingLocked.
type AudioHardware struct {
	drv           driver.Driver
	logger        *zap.SugaredLogger
	sleep         func(time.Duration)
	productDevice string
	dualMicFile   string
	btProfiles    map[string]BluetoothProfile
	observer      RouteObserver

	mu           sync.Mutex
	port         *ControlPort
	initialized  bool
	mode         CallMode
	ttyMode      TTYMode
	dualMic      bool
	micMute      bool
	btNrec       bool
	btIDTx       uint32
	btIDRx       uint32
	voiceVolume  int
	curSndDevice SoundDevice
	output       *OutputStream
	inputs       []*InputStream
	capturing    *InputStream
}

// New creates the HAL on top of drv. Voice is stopped in case a previous
// process died during a call, and the dual-mic calibration is loaded.
// Neither failure is fatal.
func New(drv driver.Driver, opts ...Option) (*AudioHardware, error) {
	if drv == nil {
		return nil, errors.New("audio driver is required")
	}

	hw := &AudioHardware{
		drv:          drv,
		logger:       zap.NewNop().Sugar(),
		sleep:        time.Sleep,
		dualMicFile:  DefaultDualMicControlFile,
		btProfiles:   make(map[string]BluetoothProfile),
		micMute:      true,
		btNrec:       true,
		voiceVolume:  maxVoiceVolume,
		curSndDevice: SoundDeviceNone,
	}
	for _, opt := range opts {
		opt(hw)
	}

	table := NewDeviceTable(hw.productDevice)
	if err := table.LoadDualMicCalibration(hw.dualMicFile); err != nil {
		hw.logger.Warnw("using default dual-mic placement", "error", err)
	}
	hw.port = NewControlPort(drv, table, hw.logger.With("component", "control"))

	if err := hw.port.ResetVoice(); err != nil {
		hw.logger.Warnw("cannot stop voice at start-up", "error", err)
	}

	hw.initialized = true
	hw.logger.Infow("audio hardware initialized",
		"product", hw.productDevice,
		"handset_dual_mic", fmt.Sprintf("0x%02X", table.HandsetMicID),
		"speaker_dual_mic", fmt.Sprintf("0x%02X", table.SpeakerMicID))
	return hw, nil
}

// InitCheck returns nil once the HAL is usable.
func (hw *AudioHardware) InitCheck() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if !hw.initialized {
		return ErrNotInitialized
	}
	return nil
}

// doRoutingLocked computes the sound device and applies it if it differs from
// the current one, or unconditionally when force is set. in is the input
// stream taking part, or nil. hw.mu must be held.
func (hw *AudioHardware) doRoutingLocked(in *InputRoute, force bool) error {
	var outputDevices uint32
	if hw.output != nil {
		outputDevices = hw.output.Devices()
	}

	sel, ok := SelectSoundDevice(RoutingRequest{
		OutputDevices: outputDevices,
		Input:         in,
		Mode:          hw.mode,
		TTY:           hw.ttyMode,
		DualMic:       hw.dualMic,
	})
	if !ok {
		return nil
	}
	if approximateRoute(outputDevices) {
		hw.logger.Warnw("output devices cannot be driven together, using closest route",
			"devices", OutputDevicesString(outputDevices), "sound_device", sel.String())
	}
	if sel == hw.curSndDevice && !force {
		return nil
	}

	applied, route, err := hw.port.ApplyRouting(sel, hw.btNrec)
	if err != nil {
		hw.logger.Errorw("routing failed", "sound_device", sel.String(), "error", err)
		return fmt.Errorf("%w: %v", ErrRoutingFailed, err)
	}

	if err := hw.port.SetVoiceActive(hw.mode == ModeInCall); err != nil {
		hw.logger.Errorw("voice state change failed", "error", err)
	}

	hw.logger.Infow("routing applied",
		"sound_device", sel.String(),
		"applied", applied.String(),
		"mode", hw.mode.String())
	hw.curSndDevice = sel

	switch hw.mode {
	case ModeInCall:
		if err := hw.port.ApplyVolume(hw.voiceVolume); err != nil {
			hw.logger.Warnw("cannot restore voice volume", "error", err)
		}
	case ModeRingtone:
		if err := hw.port.ApplyVolume(0); err != nil {
			hw.logger.Warnw("cannot mute voice for ringtone", "error", err)
		}
	}

	if hw.observer != nil {
		hw.observer(RouteEvent{
			Device:    applied,
			Requested: sel,
			Route:     route,
			Mode:      hw.mode,
			TTY:       hw.ttyMode,
			DualMic:   hw.dualMic,
		})
	}
	return nil
}

func (hw *AudioHardware) doRouting(in *InputRoute) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.doRoutingLocked(in, false)
}

// forceRouting re-applies the route even when the selector is unchanged.
func (hw *AudioHardware) forceRouting(in *InputRoute) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.doRoutingLocked(in, true)
}

// disableDualMicIfNeeded drops a dual-mic route before capture.
func (hw *AudioHardware) disableDualMicIfNeeded() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	sel, err := hw.port.DisableDualMicIfNeeded()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoutingFailed, err)
	}
	if sel != SoundDeviceNone {
		hw.curSndDevice = sel
	}
	return nil
}

func (hw *AudioHardware) claimCapture(s *InputStream) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.capturing != nil && hw.capturing != s {
		return ErrCaptureBusy
	}
	hw.capturing = s
	return nil
}

func (hw *AudioHardware) releaseCapture(s *InputStream) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.capturing == s {
		hw.capturing = nil
	}
}

// SetMode changes the call mode and re-routes. Entering or leaving a call
// always re-applies the route so voice is started or stopped.
func (hw *AudioHardware) SetMode(mode CallMode) error {
	if mode < ModeNormal || mode > ModeCallScreen {
		return fmt.Errorf("%w: call mode %d", ErrBadValue, int(mode))
	}

	hw.mu.Lock()
	defer hw.mu.Unlock()

	prev := hw.mode
	hw.mode = mode
	if (prev == ModeInCall) != (mode == ModeInCall) {
		hw.curSndDevice = SoundDeviceNone
	}
	hw.logger.Infow("call mode", "from", prev.String(), "to", mode.String())

	if mode == ModeRingtone {
		if err := hw.port.ApplyVolume(0); err != nil {
			hw.logger.Warnw("cannot mute voice for ringtone", "error", err)
		}
	}
	return hw.doRoutingLocked(nil, false)
}

// Mode returns the current call mode.
func (hw *AudioHardware) Mode() CallMode {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.mode
}

// SetMicMute mutes the uplink. The driver is only told about changes.
func (hw *AudioHardware) SetMicMute(mute bool) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.setMicMuteLocked(mute)
}

func (hw *AudioHardware) setMicMuteLocked(mute bool) error {
	if hw.micMute == mute {
		return nil
	}
	if err := hw.port.ApplyMicMute(mute); err != nil {
		return err
	}
	hw.micMute = mute
	return nil
}

func (hw *AudioHardware) MicMute() bool {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.micMute
}

// CheckMicMute forces the mic muted while no call is active.
func (hw *AudioHardware) CheckMicMute() error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.mode != ModeInCall {
		return hw.setMicMuteLocked(true)
	}
	return nil
}

// SetVoiceVolume sets the in-call volume from v in [0, 1]. It has no effect
// outside a call.
func (hw *AudioHardware) SetVoiceVolume(v float64) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	if hw.mode != ModeInCall {
		hw.logger.Debugw("ignoring voice volume outside a call", "volume", v)
		return nil
	}

	switch {
	case math.IsNaN(v) || v < 0:
		hw.logger.Warnw("voice volume clamped", "volume", v)
		v = 0
	case v > 1:
		hw.logger.Warnw("voice volume clamped", "volume", v)
		v = 1
	}

	level := int(math.RoundToEven(v * maxVoiceVolume))
	if err := hw.port.ApplyVolume(level); err != nil {
		return err
	}
	hw.voiceVolume = level
	return nil
}

// VoiceVolume returns the stored in-call volume level, 0..5.
func (hw *AudioHardware) VoiceVolume() int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.voiceVolume
}

// SetMasterVolume is left to the software mixer.
func (hw *AudioHardware) SetMasterVolume(float64) error {
	return ErrNotSupported
}

// CurrentSoundDevice returns the last applied sound device.
func (hw *AudioHardware) CurrentSoundDevice() SoundDevice {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.curSndDevice
}

// InputBufferSize returns the read size for a capture configuration, or 0
// when the configuration is not supported.
func (hw *AudioHardware) InputBufferSize(sampleRate, format uint32, channelCount int) int {
	if channelCount < 1 || channelCount > 2 {
		return 0
	}
	if sampleRate < 8000 || sampleRate > 48000 {
		return 0
	}

	switch format {
	case FormatPCM16:
		return inputBufferSizePerChannel * channelCount
	case FormatAMRNB:
		return amrnbBufferSize * channelCount
	case FormatEVRC:
		return evrcBufferSize * channelCount
	case FormatQCELP:
		return qcelpBufferSize * channelCount
	case FormatAAC:
		return aacBufferSize
	}
	return 0
}

// OpenOutputStream opens the single playback stream. When cfg does not match
// the hardware the supported values are written back and ErrValuesAdjusted
// is returned.
func (hw *AudioHardware) OpenOutputStream(devices uint32, cfg *StreamConfig) (*OutputStream, error) {
	if cfg == nil {
		cfg = &StreamConfig{}
	}

	hw.mu.Lock()
	if hw.output != nil {
		hw.mu.Unlock()
		return nil, ErrStreamExists
	}
	s := newOutputStream(hw, devices)
	hw.mu.Unlock()

	if err := s.set(cfg); err != nil {
		return nil, err
	}

	hw.mu.Lock()
	if hw.output != nil {
		hw.mu.Unlock()
		s.close()
		return nil, ErrStreamExists
	}
	hw.output = s
	hw.mu.Unlock()

	hw.logger.Infow("output stream opened", "devices", OutputDevicesString(devices))
	return s, nil
}

// CloseOutputStream releases the playback stream.
func (hw *AudioHardware) CloseOutputStream(s *OutputStream) error {
	hw.mu.Lock()
	if s == nil || hw.output != s {
		hw.mu.Unlock()
		return ErrUnknownStream
	}
	hw.output = nil
	hw.mu.Unlock()

	return s.close()
}

// OpenInputStream opens a capture stream on a single input device.
func (hw *AudioHardware) OpenInputStream(devices uint32, cfg *StreamConfig) (*InputStream, error) {
	if !IsInputDevice(devices) {
		return nil, fmt.Errorf("%w: not an input device: 0x%X", ErrBadValue, devices)
	}
	if cfg == nil {
		cfg = &StreamConfig{}
	}

	s := newInputStream(hw, devices)
	if err := s.set(cfg); err != nil {
		return nil, err
	}

	hw.mu.Lock()
	hw.inputs = append(hw.inputs, s)
	hw.mu.Unlock()
	return s, nil
}

// CloseInputStream removes s and puts it in standby, restoring output routing.
func (hw *AudioHardware) CloseInputStream(s *InputStream) error {
	hw.mu.Lock()
	idx := -1
	for i, in := range hw.inputs {
		if in == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		hw.mu.Unlock()
		return ErrUnknownStream
	}
	hw.inputs = append(hw.inputs[:idx], hw.inputs[idx+1:]...)
	hw.mu.Unlock()

	return s.close()
}

// activeInputLocked returns the first input stream that is not closed.
func (hw *AudioHardware) activeInputLocked() *InputStream {
	for _, in := range hw.inputs {
		if in.State() > InputClosed {
			return in
		}
	}
	return nil
}

// Close closes every stream and stops voice.
func (hw *AudioHardware) Close() error {
	hw.mu.Lock()
	out := hw.output
	inputs := hw.inputs
	hw.output = nil
	hw.inputs = nil
	hw.mu.Unlock()

	var errs []error
	for _, in := range inputs {
		errs = append(errs, in.close())
	}
	if out != nil {
		errs = append(errs, out.close())
	}

	hw.mu.Lock()
	if hw.port.VoiceStarted() {
		errs = append(errs, hw.port.SetVoiceActive(false))
	}
	hw.initialized = false
	hw.mu.Unlock()

	return errors.Join(errs...)
}
