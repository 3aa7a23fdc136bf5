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
	"strings"

	"github.com/loqalabs/loqa-audio-hal/internal/param"
)

const (
	btNrecOn  = "on"
	boolTrue  = "true"
	boolFalse = "false"
)

// SetParameters applies HAL wide key/value settings:
//
//	bt_headset_nrec=on|off
//	bt_headset_name=<name>
//	dualmic_enabled=true|false
//	tty_mode=full|hco|vco|off
//
// Unknown keys are ignored. Routing errors from several keys are joined.
func (hw *AudioHardware) SetParameters(kv string) error {
	if kv == "" {
		return fmt.Errorf("%w: empty parameter string", ErrBadValue)
	}
	p := param.Parse(kv)

	hw.mu.Lock()
	defer hw.mu.Unlock()

	var errs []error

	if v, err := p.Get(param.KeyBTHeadsetNrec); err == nil {
		hw.btNrec = v == btNrecOn
		if !hw.btNrec {
			hw.logger.Info("turning noise reduction and echo cancellation off for BT headset")
		}
	}

	if v, err := p.Get(param.KeyBTHeadsetName); err == nil {
		hw.btIDTx, hw.btIDRx = 0, 0
		if profile, ok := hw.btProfiles[strings.ToLower(v)]; ok {
			hw.btIDTx, hw.btIDRx = profile.TX, profile.RX
			hw.logger.Infow("using custom acoustic parameters", "headset", v)
		} else {
			hw.logger.Infow("using default acoustic parameters, headset not in acoustic database", "headset", v)
		}
		errs = append(errs, hw.doRoutingLocked(nil, false))
	}

	if v, err := p.Get(param.KeyDualMic); err == nil {
		hw.dualMic = v == boolTrue
		hw.logger.Infow("dual-mic", "enabled", hw.dualMic)
		errs = append(errs, hw.doRoutingLocked(nil, false))
	}

	if v, err := p.Get(param.KeyTTYMode); err == nil {
		hw.ttyMode = ParseTTYMode(v)
		hw.logger.Infow("tty mode", "mode", hw.ttyMode.String())
		errs = append(errs, hw.doRoutingLocked(nil, false))
	}

	return errors.Join(errs...)
}

// GetParameters answers dualmic_enabled and tty_mode. Other keys are left out
// of the reply.
func (hw *AudioHardware) GetParameters(keys string) string {
	req := param.Parse(keys)
	reply := param.New()

	hw.mu.Lock()
	defer hw.mu.Unlock()

	if req.Has(param.KeyDualMic) {
		v := boolFalse
		if hw.dualMic {
			v = boolTrue
		}
		reply.Add(param.KeyDualMic, v)
	}
	if req.Has(param.KeyTTYMode) {
		reply.Add(param.KeyTTYMode, hw.ttyMode.String())
	}
	return reply.String()
}

// BluetoothIDs returns the acoustic ids of the selected headset, zero when
// the default parameters are in use.
func (hw *AudioHardware) BluetoothIDs() (tx, rx uint32) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.btIDTx, hw.btIDRx
}

// BluetoothNrec reports whether BT echo cancellation is on.
func (hw *AudioHardware) BluetoothNrec() bool {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.btNrec
}
