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
	"strings"
)

// Snapshot is a point in time copy of the routing state.
type Snapshot struct {
	Initialized   bool
	Mode          CallMode
	TTY           TTYMode
	DualMic       bool
	MicMute       bool
	BTNrec        bool
	BTIDTx        uint32
	BTIDRx        uint32
	VoiceVolume   int
	SoundDevice   SoundDevice
	Route         Route
	RouteApplied  bool
	VoiceStarted  bool
	OutputDevices uint32
	HasOutput     bool
	InputCount    int
	ActiveInput   uint32
}

// Snapshot returns the current routing state.
func (hw *AudioHardware) Snapshot() Snapshot {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.snapshotLocked()
}

func (hw *AudioHardware) snapshotLocked() Snapshot {
	route, applied := hw.port.Current()
	snap := Snapshot{
		Initialized:  hw.initialized,
		Mode:         hw.mode,
		TTY:          hw.ttyMode,
		DualMic:      hw.dualMic,
		MicMute:      hw.micMute,
		BTNrec:       hw.btNrec,
		BTIDTx:       hw.btIDTx,
		BTIDRx:       hw.btIDRx,
		VoiceVolume:  hw.voiceVolume,
		SoundDevice:  hw.curSndDevice,
		Route:        route,
		RouteApplied: applied,
		VoiceStarted: hw.port.VoiceStarted(),
		InputCount:   len(hw.inputs),
	}
	if hw.output != nil {
		snap.HasOutput = true
		snap.OutputDevices = hw.output.Devices()
	}
	if in := hw.activeInputLocked(); in != nil {
		snap.ActiveInput = in.Devices()
	}
	return snap
}

// Dump writes the routing state followed by every stream to w. Streams are
// dumped after the HAL lock is released.
func (hw *AudioHardware) Dump(w io.Writer) error {
	hw.mu.Lock()
	snap := hw.snapshotLocked()
	out := hw.output
	inputs := append([]*InputStream(nil), hw.inputs...)
	hw.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "audio hardware:\n")
	fmt.Fprintf(&b, "\tinitialized: %t\n", snap.Initialized)
	fmt.Fprintf(&b, "\tmode: %s\n", snap.Mode)
	fmt.Fprintf(&b, "\ttty mode: %s\n", snap.TTY)
	fmt.Fprintf(&b, "\tdual-mic enabled: %t\n", snap.DualMic)
	fmt.Fprintf(&b, "\tmic mute: %t\n", snap.MicMute)
	fmt.Fprintf(&b, "\tbt nrec: %t\n", snap.BTNrec)
	fmt.Fprintf(&b, "\tbt id tx: %d\n", snap.BTIDTx)
	fmt.Fprintf(&b, "\tbt id rx: %d\n", snap.BTIDRx)
	fmt.Fprintf(&b, "\tvoice volume: %d\n", snap.VoiceVolume)
	fmt.Fprintf(&b, "\tsound device: %s\n", snap.SoundDevice)
	if snap.RouteApplied {
		fmt.Fprintf(&b, "\tout device: 0x%02X\n", snap.Route.Output[0])
		fmt.Fprintf(&b, "\tmic device: 0x%02X,0x%02X\n", snap.Route.Mic[0], snap.Route.Mic[1])
	}
	fmt.Fprintf(&b, "\tvoice started: %t\n", snap.VoiceStarted)
	fmt.Fprintf(&b, "\tinput streams: %d\n", snap.InputCount)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	if out != nil {
		if err := out.Dump(w); err != nil {
			return err
		}
	}
	for _, in := range inputs {
		if err := in.Dump(w); err != nil {
			return err
		}
	}
	return nil
}
