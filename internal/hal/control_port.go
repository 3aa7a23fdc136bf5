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

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"go.uber.org/zap"
)

// maxVoiceVolume is the top of the in-call volume scale.
const maxVoiceVolume = 5

// ControlPort issues routing, volume, mute and voice commands on the audio
// control device. It remembers the last applied device ids and whether voice
// has been started. It is not safe for concurrent use; AudioHardware
// serializes all calls under its mutex.
type ControlPort struct {
	drv    driver.Driver
	table  DeviceTable
	logger *zap.SugaredLogger

	current      Route
	applied      bool
	voiceStarted bool
}

// NewControlPort creates a control port that opens the control device on
// each command, the way the driver expects short lived handles.
func NewControlPort(drv driver.Driver, table DeviceTable, logger *zap.SugaredLogger) *ControlPort {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ControlPort{drv: drv, table: table, logger: logger}
}

func (c *ControlPort) withControl(fn func(dev driver.Device) error) error {
	dev, err := c.drv.Open(driver.ControlDevice)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", driver.ControlDevice, err)
	}
	defer dev.Close()
	return fn(dev)
}

// switchDevices issues the output switch, then the mic switch.
func (c *ControlPort) switchDevices(route Route) error {
	return c.withControl(func(dev driver.Device) error {
		if err := dev.Ioctl(driver.AudioSwitchDevice, driver.SwitchDeviceArg(route.Output)); err != nil {
			return fmt.Errorf("cannot switch audio device: %w", err)
		}
		if err := dev.Ioctl(driver.AudioSwitchDevice, driver.SwitchDeviceArg(route.Mic)); err != nil {
			return fmt.Errorf("cannot switch mic device: %w", err)
		}
		return nil
	})
}

// ApplyRouting switches the output and mic paths to sel. BT and carkit
// routes use the echo-cancellation-off variant when echoCancel is false.
// On failure the previously applied ids are kept.
func (c *ControlPort) ApplyRouting(sel SoundDevice, echoCancel bool) (SoundDevice, Route, error) {
	if (sel == SoundDeviceBT || sel == SoundDeviceCarkit) && !echoCancel {
		sel = SoundDeviceBTECOff
	}

	route, err := c.table.Lookup(sel)
	if err != nil {
		return sel, Route{}, err
	}

	err = c.switchDevices(route)
	if err != nil {
		return sel, Route{}, err
	}

	c.current = route
	c.applied = true
	c.logger.Debugw("switched audio device",
		"sound_device", sel.String(),
		"output", fmt.Sprintf("0x%02X", route.Output[0]),
		"mic", fmt.Sprintf("0x%02X,0x%02X", route.Mic[0], route.Mic[1]))
	return sel, route, nil
}

// SetVoiceActive starts or stops voice call signalling. Each command is
// issued once per transition.
func (c *ControlPort) SetVoiceActive(active bool) error {
	if active == c.voiceStarted {
		return nil
	}

	req, verb := driver.AudioStopVoice, "stop"
	if active {
		req, verb = driver.AudioStartVoice, "start"
	}
	err := c.withControl(func(dev driver.Device) error {
		return dev.Ioctl(req, nil)
	})
	if err != nil {
		return fmt.Errorf("cannot %s voice: %w", verb, err)
	}

	c.voiceStarted = active
	c.logger.Infow("voice state changed", "started", active)
	return nil
}

// ResetVoice stops voice unconditionally. Used at start-up in case a previous
// process died during a call.
func (c *ControlPort) ResetVoice() error {
	err := c.withControl(func(dev driver.Device) error {
		return dev.Ioctl(driver.AudioStopVoice, nil)
	})
	c.voiceStarted = false
	return err
}

// ApplyVolume sets the in-call volume, level 0..5.
func (c *ControlPort) ApplyVolume(level int) error {
	percent := uint32(level * 20)
	c.logger.Debugw("setting in-call volume", "percent", percent)
	return c.withControl(func(dev driver.Device) error {
		if err := dev.Ioctl(driver.AudioSetVolume, driver.Uint32Arg(percent)); err != nil {
			return fmt.Errorf("cannot set volume on current device: %w", err)
		}
		return nil
	})
}

// ApplyMicMute mutes or unmutes the current tx device.
func (c *ControlPort) ApplyMicMute(mute bool) error {
	var v uint32
	if mute {
		v = 1
	}
	c.logger.Debugw("setting mic mute", "mute", mute)
	return c.withControl(func(dev driver.Device) error {
		if err := dev.Ioctl(driver.AudioSetMute, driver.Uint32Arg(v)); err != nil {
			return fmt.Errorf("cannot set mic mute on current device: %w", err)
		}
		return nil
	})
}

// DisableDualMicIfNeeded drops a stale dual-mic route back to the single
// mic route on the same output. It returns the single-mic selector when it
// switched, or SoundDeviceNone when nothing needed to change.
func (c *ControlPort) DisableDualMicIfNeeded() (SoundDevice, error) {
	if !c.applied {
		return SoundDeviceNone, nil
	}

	next := c.current
	var sel SoundDevice
	switch {
	case c.current.Output[0] == driver.HandsetSpkr && c.current.Mic[0] == driver.HandsetDualMic:
		next.Mic = [2]uint32{driver.HandsetMic, 0}
		sel = SoundDeviceHandset
	case c.current.Output[0] == driver.SpkrPhoneMono && c.current.Mic[0] == driver.SpkrDualMic:
		next.Mic = [2]uint32{driver.SpkrPhoneMic, 0}
		sel = SoundDeviceSpeaker
	default:
		return SoundDeviceNone, nil
	}

	err := c.switchDevices(next)
	if err != nil {
		return SoundDeviceNone, err
	}

	c.current = next
	c.logger.Infow("dual-mic disabled", "sound_device", sel.String())
	return sel, nil
}

// Current returns the last applied route and whether any route was applied.
func (c *ControlPort) Current() (Route, bool) {
	return c.current, c.applied
}

// VoiceStarted reports whether voice call signalling is active.
func (c *ControlPort) VoiceStarted() bool {
	return c.voiceStarted
}
