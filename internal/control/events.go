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
	"encoding/json"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"go.uber.org/zap"
)

// RouteMessage is published on <prefix>.routing for every applied route.
type RouteMessage struct {
	HALID       string    `json:"hal_id"`
	SoundDevice string    `json:"sound_device"`
	Requested   string    `json:"requested_device"`
	Output      [2]uint32 `json:"output"`
	Mic         [2]uint32 `json:"mic"`
	Mode        string    `json:"mode"`
	TTYMode     string    `json:"tty_mode"`
	DualMic     bool      `json:"dual_mic"`
	Timestamp   int64     `json:"timestamp"`
}

// RoutePublisher turns hal route events into NATS messages.
type RoutePublisher struct {
	conn    Conn
	halID   string
	subject string
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewRoutePublisher(conn Conn, halID string, logger *zap.SugaredLogger) *RoutePublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RoutePublisher{
		conn:    conn,
		halID:   halID,
		subject: subjectFor(halID, SubjectRouting),
		logger:  logger,
		now:     time.Now,
	}
}

// Observe is a hal.RouteObserver. It runs under the HAL lock, so it only
// queues the message on the connection.
func (p *RoutePublisher) Observe(ev hal.RouteEvent) {
	msg := RouteMessage{
		HALID:       p.halID,
		SoundDevice: ev.Device.String(),
		Requested:   ev.Requested.String(),
		Output:      ev.Route.Output,
		Mic:         ev.Route.Mic,
		Mode:        ev.Mode.String(),
		TTYMode:     ev.TTY.String(),
		DualMic:     ev.DualMic,
		Timestamp:   p.now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Errorw("failed to marshal route event", "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warnw("failed to publish route event", "subject", p.subject, "error", err)
	}
}

// Subject returns the subject route events go to.
func (p *RoutePublisher) Subject() string {
	return p.subject
}

func subjectFor(halID, suffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectRoot, halID, suffix)
}
