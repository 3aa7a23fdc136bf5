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

// Package control exposes the audio HAL on NATS: remote parameter, mode, mute,
// voice volume and dump requests, plus routing events.
package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-audio-hal/internal/hal"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects live under audiohal.<hal id>.
const (
	SubjectRoot        = "audiohal"
	SubjectParamsSet   = "params.set"
	SubjectParamsGet   = "params.get"
	SubjectMode        = "mode"
	SubjectMicMute     = "mic_mute"
	SubjectVoiceVolume = "voice_volume"
	SubjectDump        = "dump"
	SubjectRouting     = "routing"
)

const (
	replyOK     = "OK"
	replyErrFmt = "ERR %s"
)

// Hardware is the part of hal.AudioHardware driven remotely.
type Hardware interface {
	SetParameters(kv string) error
	GetParameters(keys string) string
	SetMode(mode hal.CallMode) error
	SetMicMute(mute bool) error
	SetVoiceVolume(v float64) error
	Dump(w io.Writer) error
}

// Server answers control requests for a single HAL instance.
type Server struct {
	conn   Conn
	hw     Hardware
	halID  string
	logger *zap.SugaredLogger
	subs   []*nats.Subscription
}

func NewServer(conn Conn, halID string, hw Hardware, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		conn:   conn,
		hw:     hw,
		halID:  halID,
		logger: logger,
	}
}

// Subject returns the full subject for suffix.
func (s *Server) Subject(suffix string) string {
	return subjectFor(s.halID, suffix)
}

// Start subscribes to every request subject.
func (s *Server) Start() error {
	handlers := []struct {
		suffix string
		handle func(data string) (string, error)
	}{
		{SubjectParamsSet, s.handleParamsSet},
		{SubjectParamsGet, s.handleParamsGet},
		{SubjectMode, s.handleMode},
		{SubjectMicMute, s.handleMicMute},
		{SubjectVoiceVolume, s.handleVoiceVolume},
		{SubjectDump, s.handleDump},
	}

	for _, h := range handlers {
		subject := s.Subject(h.suffix)
		sub, err := s.conn.Subscribe(subject, s.wrap(subject, h.handle))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Infow("control plane listening", "prefix", s.Subject(">"))
	return nil
}

// wrap runs handle for every message and sends its result to the reply
// subject, if any.
func (s *Server) wrap(subject string, handle func(string) (string, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		payload := strings.TrimSpace(string(msg.Data))
		reply, err := handle(payload)
		if err != nil {
			s.logger.Warnw("control request failed", "subject", subject, "payload", payload, "error", err)
			reply = fmt.Sprintf(replyErrFmt, err)
		} else {
			s.logger.Debugw("control request", "subject", subject, "payload", payload)
		}

		if msg.Reply == "" {
			return
		}
		if err := s.conn.Publish(msg.Reply, []byte(reply)); err != nil {
			s.logger.Warnw("failed to send reply", "subject", subject, "error", err)
		}
	}
}

func (s *Server) handleParamsSet(data string) (string, error) {
	if err := s.hw.SetParameters(data); err != nil {
		return "", err
	}
	return replyOK, nil
}

func (s *Server) handleParamsGet(data string) (string, error) {
	return s.hw.GetParameters(data), nil
}

func (s *Server) handleMode(data string) (string, error) {
	mode, err := hal.ParseCallMode(data)
	if err != nil {
		return "", err
	}
	if err := s.hw.SetMode(mode); err != nil {
		return "", err
	}
	return replyOK, nil
}

func (s *Server) handleMicMute(data string) (string, error) {
	mute, err := strconv.ParseBool(data)
	if err != nil {
		return "", fmt.Errorf("%w: mic_mute expects true or false, got %q", hal.ErrBadValue, data)
	}
	if err := s.hw.SetMicMute(mute); err != nil {
		return "", err
	}
	return replyOK, nil
}

func (s *Server) handleVoiceVolume(data string) (string, error) {
	v, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return "", fmt.Errorf("%w: voice_volume expects a number, got %q", hal.ErrBadValue, data)
	}
	if err := s.hw.SetVoiceVolume(v); err != nil {
		return "", err
	}
	return replyOK, nil
}

func (s *Server) handleDump(string) (string, error) {
	var buf bytes.Buffer
	if err := s.hw.Dump(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Close drops the subscriptions and the connection.
func (s *Server) Close() error {
	var errs []error
	for _, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	if s.conn != nil {
		s.conn.Close()
	}
	return errors.Join(errs...)
}
