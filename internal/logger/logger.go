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

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process wide logger, set by InitLogger. It discards everything
// until then.
var Log = zap.NewNop().Sugar()

// ParseLevel returns the level for levelStr, defaulting to info when it is
// empty or invalid.
func ParseLevel(levelStr string) zapcore.Level {
	if levelStr == "" {
		return zap.InfoLevel
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		return zap.InfoLevel
	}
	return level
}

// New builds a console logger writing to w.
func New(levelStr string, w zapcore.WriteSyncer) *zap.SugaredLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), w, ParseLevel(levelStr))
	return zap.New(core, zap.AddCaller()).Sugar()
}

// InitLogger sets Log to a console logger on stderr. stdout is left to audio
// data piped by the record command.
func InitLogger(levelStr string) *zap.SugaredLogger {
	Log = New(levelStr, zapcore.Lock(os.Stderr))
	Log.Debugf("Logger initialized at level: %s", ParseLevel(levelStr).String())
	return Log
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}
