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

package control

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the slice of a NATS connection the control plane needs. It lets
// tests run without a server.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// NATSConnAdapter adapts *nats.Conn to Conn.
type NATSConnAdapter struct {
	conn *nats.Conn
}

func NewNATSConnAdapter(conn *nats.Conn) *NATSConnAdapter {
	return &NATSConnAdapter{conn: conn}
}

func (a *NATSConnAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *NATSConnAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *NATSConnAdapter) Close() {
	a.conn.Close()
}

// DefaultRetryDelay is the pause between connection attempts.
const DefaultRetryDelay = 2 * time.Second

// Connect dials url, trying up to attempts times.
func Connect(url, name string, attempts int, retryDelay time.Duration, logger *zap.SugaredLogger) (*NATSConnAdapter, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if attempts < 1 {
		attempts = 1
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < attempts; i++ {
		nc, err = nats.Connect(url, nats.Name(name))
		if err == nil {
			break
		}
		logger.Warnw("failed to connect to NATS", "attempt", i+1, "of", attempts, "error", err)
		if i < attempts-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
	}

	logger.Infow("connected to NATS", "url", url)
	return NewNATSConnAdapter(nc), nil
}
