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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/loqalabs/loqa-audio-hal/internal/driver"
	"go.uber.org/zap"
)

// PCM capture buffer size per channel.
const inputBufferSizePerChannel = 256

// Speech codec frame and buffer sizes.
const (
	amrnbFrameSize  = 32
	amrnbBufferSize = 320
	evrcFrameSize   = 23
	evrcBufferSize  = 230
	qcelpFrameSize  = 35
	qcelpBufferSize = 350

	aacBufferSize = 2048

	speechSampleRate = 8000

	amrnbBandMode = 7
	cdmaFullRate  = 4
)

// captureParams is what the driver settled on during configuration.
type captureParams struct {
	sampleRate uint32
	bufferSize int
}

// readState is the per-open read bookkeeping shared by every variant.
type readState struct {
	// primed is set after the first driver read following an open. That
	// read returns early so the caller sees data as soon as capture starts.
	primed  bool
	retries *atomic.Uint64
	logger  *zap.SugaredLogger
}

func (rs *readState) tryAgain() {
	rs.retries.Add(1)
	rs.logger.Warn("EAGAIN - retrying")
}

// capture is one input format: its device file, codec configuration and
// read loop.
type capture interface {
	device() string
	configure(dev driver.Device, cfg *StreamConfig) (captureParams, error)
	read(dev driver.Device, p []byte, rs *readState) (int, error)
}

func newCapture(format uint32) (capture, error) {
	switch format {
	case FormatPCM16:
		return pcmCapture{}, nil
	case FormatAMRNB:
		return speechCapture{format: FormatAMRNB, name: driver.AMRNBInDevice, frameSize: amrnbFrameSize, bufferSize: amrnbBufferSize}, nil
	case FormatEVRC:
		return speechCapture{format: FormatEVRC, name: driver.EVRCInDevice, frameSize: evrcFrameSize, bufferSize: evrcBufferSize}, nil
	case FormatQCELP:
		return speechCapture{format: FormatQCELP, name: driver.QCELPInDevice, frameSize: qcelpFrameSize, bufferSize: qcelpBufferSize}, nil
	case FormatAAC:
		return aacCapture{}, nil
	}
	return nil, fmt.Errorf("%w: unsupported input format %s", ErrBadValue, FormatName(format))
}

// voiceRecMode derives the voice call tap direction from a channel mask.
func voiceRecMode(channels uint32) uint32 {
	up := channels&ChannelInVoiceUplink != 0
	down := channels&ChannelInVoiceDnlink != 0
	switch {
	case up && down:
		return driver.VocRecBoth
	case down:
		return driver.VocRecDownlink
	}
	return driver.VocRecUplink
}

func channelCountFor(channels uint32) uint32 {
	if channels&ChannelInMono != 0 {
		return 1
	}
	return 2
}

// pcmCapture reads raw 16 bit PCM from msm_pcm_in.
type pcmCapture struct{}

func (pcmCapture) device() string { return driver.PCMInDevice }

func (pcmCapture) configure(dev driver.Device, cfg *StreamConfig) (captureParams, error) {
	reply := make([]byte, driver.AudioConfigSize)
	if err := dev.Ioctl(driver.AudioGetConfig, reply); err != nil {
		return captureParams{}, fmt.Errorf("cannot read config: %w", err)
	}
	conf, err := driver.UnmarshalAudioConfig(reply)
	if err != nil {
		return captureParams{}, err
	}

	conf.ChannelCount = channelCountFor(cfg.Channels)
	conf.SampleRate = cfg.SampleRate
	conf.BufferSize = uint32(inputBufferSizePerChannel * ChannelCount(cfg.Channels))
	conf.BufferCount = 2
	conf.Type = driver.CodecTypePCM
	if err := dev.Ioctl(driver.AudioSetConfig, conf.Marshal()); err != nil {
		// report what the driver would accept
		if dev.Ioctl(driver.AudioGetConfig, reply) == nil {
			if actual, uerr := driver.UnmarshalAudioConfig(reply); uerr == nil {
				cfg.Channels = ChannelInStereo
				if actual.ChannelCount == 1 {
					cfg.Channels = ChannelInMono
				}
				cfg.SampleRate = actual.SampleRate
			}
		}
		return captureParams{}, fmt.Errorf("cannot set config: %w", err)
	}

	if err := dev.Ioctl(driver.AudioGetConfig, reply); err != nil {
		return captureParams{}, fmt.Errorf("cannot read config: %w", err)
	}
	conf, err = driver.UnmarshalAudioConfig(reply)
	if err != nil {
		return captureParams{}, err
	}
	return captureParams{sampleRate: conf.SampleRate, bufferSize: int(conf.BufferSize)}, nil
}

// read loops on short reads until p is full.
func (pcmCapture) read(dev driver.Device, p []byte, rs *readState) (int, error) {
	total := 0
	for total < len(p) {
		n, err := dev.Read(p[total:])
		if err != nil {
			if errors.Is(err, driver.ErrTryAgain) {
				rs.tryAgain()
				continue
			}
			return total, err
		}
		if n == 0 {
			break
		}
		// a short frame keeps its slot so later frames stay aligned
		clear(p[total+n : total+c.frameSize])
		total += c.frameSize
		if !rs.primed {
			rs.primed = true
			break
		}
	}
	return total, nil
}

// speechCapture reads fixed size AMR-NB, EVRC or QCELP frames.
type speechCapture struct {
	format     uint32
	name       string
	frameSize  int
	bufferSize int
}

func (c speechCapture) device() string { return c.name }

func (c speechCapture) configure(dev driver.Device, cfg *StreamConfig) (captureParams, error) {
	params := captureParams{sampleRate: speechSampleRate, bufferSize: c.bufferSize}

	if c.format == FormatAMRNB {
		reply := make([]byte, driver.AMRNBEncConfigSize)
		if err := dev.Ioctl(driver.AudioGetAMRNBEncConfig, reply); err != nil {
			return params, fmt.Errorf("AUDIO_GET_AMRNB_ENC_CONFIG failed: %w", err)
		}
		enc, err := driver.UnmarshalAMRNBEncConfig(reply)
		if err != nil {
			return params, err
		}
		enc.BandMode = amrnbBandMode
		enc.DTXEnable = 0
		if err := dev.Ioctl(driver.AudioSetAMRNBEncConfig, enc.Marshal()); err != nil {
			return params, fmt.Errorf("AUDIO_SET_AMRNB_ENC_CONFIG failed: %w", err)
		}
		return params, nil
	}

	getReq, setReq := driver.AudioGetEVRCEncConfig, driver.AudioSetEVRCEncConfig
	if c.format == FormatQCELP {
		getReq, setReq = driver.AudioGetQCELPEncConfig, driver.AudioSetQCELPEncConfig
	}
	reply := make([]byte, driver.CDMAEncConfigSize)
	if err := dev.Ioctl(getReq, reply); err != nil {
		return params, fmt.Errorf("%s: get encoder config failed: %w", FormatName(c.format), err)
	}
	enc, err := driver.UnmarshalCDMAEncConfig(reply)
	if err != nil {
		return params, err
	}
	enc.MinBitRate = cdmaFullRate
	enc.MaxBitRate = cdmaFullRate
	if err := dev.Ioctl(setReq, enc.Marshal()); err != nil {
		return params, fmt.Errorf("%s: set encoder config failed: %w", FormatName(c.format), err)
	}
	return params, nil
}

// read reads whole frames. Space for a partial trailing frame is left unused
// and a short driver read is zero padded to a full frame.
func (c speechCapture) read(dev driver.Device, p []byte, rs *readState) (int, error) {
	if len(p) < c.frameSize {
		return 0, fmt.Errorf("%w: buffer of %d bytes cannot hold a %d byte %s frame",
			ErrBadValue, len(p), c.frameSize, FormatName(c.format))
	}

	total := 0
	for len(p)-total >= c.frameSize {
		n, err := dev.Read(p[total : total+c.frameSize])
		if err != nil {
			if errors.Is(err, driver.ErrTryAgain) {
				rs.tryAgain()
				continue
			}
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		if !rs.primed {
			rs.primed = true
			break
		}
	}
	return total, nil
}

// aacCapture reads AAC frames into the framed buffer layout of framing.go.
type aacCapture struct{}

func (aacCapture) device() string { return driver.AACInDevice }

func (aacCapture) configure(dev driver.Device, cfg *StreamConfig) (captureParams, error) {
	params := captureParams{sampleRate: cfg.SampleRate, bufferSize: aacBufferSize}

	reply := make([]byte, driver.StreamConfigSize)
	if err := dev.Ioctl(driver.AudioGetStreamConfig, reply); err != nil {
		return params, fmt.Errorf("error getting buf config param AUDIO_GET_STREAM_CONFIG: %w", err)
	}

	encReply := make([]byte, driver.AACEncConfigSize)
	if err := dev.Ioctl(driver.AudioGetAACEncConfig, encReply); err != nil {
		return params, fmt.Errorf("error getting AUDIO_GET_AAC_ENC_CONFIG: %w", err)
	}
	enc, err := driver.UnmarshalAACEncConfig(encReply)
	if err != nil {
		return params, err
	}

	enc.Channels = channelCountFor(cfg.Channels)
	enc.SampleRate = cfg.SampleRate
	enc.StreamFormat = driver.AACFormatRaw
	if err := dev.Ioctl(driver.AudioSetAACEncConfig, enc.Marshal()); err != nil {
		return params, fmt.Errorf("error setting AUDIO_SET_AAC_ENC_CONFIG: %w", err)
	}
	return params, nil
}

// read fills p with a header and as many size prefixed frames as fit while
// at least AACMinReadSize bytes remain per frame. Each frame is read in at
// most aacBufferSize bytes so its size fits the uint16 prefix. It returns
// len(p) once any frame was read.
func (aacCapture) read(dev driver.Device, p []byte, rs *readState) (int, error) {
	if len(p) < AACMinReadSize {
		return 0, fmt.Errorf("%w: aac read buffer of %d bytes (min %d)", ErrBadValue, len(p), AACMinReadSize)
	}

	var frames uint16
	putAACHeader(p, frames)
	pos := AACHeaderSize

	for frames < math.MaxUint16 {
		sizePos := pos
		remaining := len(p) - pos - AACFrameSizePrefix
		if remaining < AACMinReadSize {
			break
		}
		pos += AACFrameSizePrefix

		n, err := dev.Read(p[pos : pos+min(remaining, aacBufferSize)])
		if err != nil {
			if errors.Is(err, driver.ErrTryAgain) {
				rs.tryAgain()
				pos = sizePos
				continue
			}
			if frames == 0 {
				return 0, err
			}
			rs.logger.Errorw("error received from driver", "error", err)
			break
		}
		if n <= 0 {
			break
		}

		binary.LittleEndian.PutUint16(p[sizePos:], uint16(n))
		frames++
		putAACHeader(p, frames)
		pos += n

		if !rs.primed {
			rs.primed = true
			break
		}
	}
	return len(p), nil
}
