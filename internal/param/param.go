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

// Package param implements the "key=value;key=value" parameter strings used to
// pass routing and tuning changes to the HAL and its streams.
package param

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Well known keys.
const (
	KeyRouting       = "routing"
	KeyBTHeadsetNrec = "bt_headset_nrec"
	KeyBTHeadsetName = "bt_headset_name"
	KeyDualMic       = "dualmic_enabled"
	KeyTTYMode       = "tty_mode"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("parameter not found")

// Set is a parsed parameter string. The zero value is an empty set.
type Set struct {
	values map[string]string
}

// Parse splits s on ';' then on the first '='. A pair without '=' is kept
// as a key with an empty value so it can be used as a query. Empty keys are
// dropped.
func Parse(s string) *Set {
	p := &Set{values: make(map[string]string)}
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}
		p.values[key] = value
	}
	return p
}

// New returns an empty set.
func New() *Set {
	return &Set{values: make(map[string]string)}
}

func (p *Set) Get(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Has reports whether key is present, with or without a value.
func (p *Set) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// GetInt parses the value with base prefix detection, so both "4" and "0x4"
// are accepted.
func (p *Set) GetInt(key string) (int, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *Set) Add(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[key] = value
}

func (p *Set) AddInt(key string, value int) {
	p.Add(key, strconv.Itoa(value))
}

func (p *Set) Remove(key string) {
	delete(p.values, key)
}

func (p *Set) Size() int {
	return len(p.values)
}

// Keys returns the keys in sorted order.
func (p *Set) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String encodes the set with keys in sorted order.
func (p *Set) String() string {
	var b strings.Builder
	for i, k := range p.Keys() {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.values[k])
	}
	return b.String()
}
