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

package driver

import (
	"encoding/binary"
	"fmt"
)

// Linux _IOC encoding (asm-generic/ioctl.h).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint) uint {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func iow(nr, size uint) uint { return ioc(iocWrite, audioIoctlMagic, nr, size) }
func ior(nr, size uint) uint { return ioc(iocRead, audioIoctlMagic, nr, size) }

const (
	audioIoctlMagic        = 'a'
	audioMaxCommonIoctlNum = 100
	sizeofUnsigned         = 4
)

// Command codes of linux/msm_audio.h and the codec headers. Most commands are
// declared with an "unsigned" payload size regardless of the struct passed.
var (
	AudioStart           = iow(0, sizeofUnsigned)
	AudioStop            = iow(1, sizeofUnsigned)
	AudioGetConfig       = ior(3, sizeofUnsigned)
	AudioSetConfig       = iow(4, sizeofUnsigned)
	AudioSetVolume       = iow(10, sizeofUnsigned)
	AudioSetInCall       = iow(19, VoiceRecModeSize)
	AudioSwitchDevice    = iow(32, sizeofUnsigned)
	AudioSetMute         = iow(33, sizeofUnsigned)
	AudioStartVoice      = iow(35, sizeofUnsigned)
	AudioStopVoice       = iow(36, sizeofUnsigned)
	AudioGetStreamConfig = ior(80, StreamConfigSize)
	AudioSetStreamConfig = iow(81, StreamConfigSize)

	AudioGetAMRNBEncConfig = iow(audioMaxCommonIoctlNum+0, sizeofUnsigned)
	AudioSetAMRNBEncConfig = ior(audioMaxCommonIoctlNum+1, sizeofUnsigned)

	AudioSetQCELPEncConfig = iow(audioMaxCommonIoctlNum+0, CDMAEncConfigSize)
	AudioGetQCELPEncConfig = ior(audioMaxCommonIoctlNum+1, CDMAEncConfigSize)
	AudioSetEVRCEncConfig  = iow(audioMaxCommonIoctlNum+2, CDMAEncConfigSize)
	AudioGetEVRCEncConfig  = ior(audioMaxCommonIoctlNum+3, CDMAEncConfigSize)

	AudioGetAACEncConfig = ior(audioMaxCommonIoctlNum+3, AACEncConfigSize)
	AudioSetAACEncConfig = iow(audioMaxCommonIoctlNum+4, AACEncConfigSize)
)

// CommandName returns a readable name for a command code, used in logs and
// by the mock driver. Codec commands share numbers across device files, so
// the name is only unambiguous together with the device.
func CommandName(req uint) string {
	switch req {
	case AudioStart:
		return "AUDIO_START"
	case AudioStop:
		return "AUDIO_STOP"
	case AudioGetConfig:
		return "AUDIO_GET_CONFIG"
	case AudioSetConfig:
		return "AUDIO_SET_CONFIG"
	case AudioSetVolume:
		return "AUDIO_SET_VOLUME"
	case AudioSetInCall:
		return "AUDIO_SET_INCALL"
	case AudioSwitchDevice:
		return "AUDIO_SWITCH_DEVICE"
	case AudioSetMute:
		return "AUDIO_SET_MUTE"
	case AudioStartVoice:
		return "AUDIO_START_VOICE"
	case AudioStopVoice:
		return "AUDIO_STOP_VOICE"
	case AudioGetStreamConfig:
		return "AUDIO_GET_STREAM_CONFIG"
	case AudioSetStreamConfig:
		return "AUDIO_SET_STREAM_CONFIG"
	}
	return fmt.Sprintf("ioctl(0x%08X)", req)
}

// CodecTypePCM is msm_audio_config.type for raw PCM.
const CodecTypePCM = 0

// Voice call recording modes (msm_voicerec_mode.rec_mode).
const (
	VocRecUplink   = 0
	VocRecDownlink = 1
	VocRecBoth     = 2
)

// AACFormatRaw is msm_audio_aac_enc_config.stream_format for raw AAC.
const AACFormatRaw = 0x0000FFFF

// Physical device ids understood by AUDIO_SWITCH_DEVICE (CAD_HW_DEVICE_ID_*).
const (
	HandsetMic               = 0x01
	HandsetSpkr              = 0x02
	HeadsetMic               = 0x03
	HeadsetSpkrMono          = 0x04
	HeadsetSpkrStereo        = 0x05
	SpkrPhoneMic             = 0x06
	SpkrPhoneMono            = 0x07
	SpkrPhoneStereo          = 0x08
	BTSCOMic                 = 0x09
	BTSCOSpkr                = 0x0A
	BTA2DPSpkr               = 0x0B
	TTYHeadsetMic            = 0x0C
	TTYHeadsetSpkr           = 0x0D
	SpkrPhoneHeadsetStereo   = 0x0F
	FMHeadset                = 0x10
	FMSpkr                   = 0x11
	HandsetDualMic           = 0x12
	SpkrDualMic              = 0x13
	SpkrDualMicBroadside     = 0x2B
	HandsetDualMicBroadside  = 0x2C
	SpkrDualMicEndfire       = 0x2D
	HandsetDualMicEndfire    = 0x2E
)

// Struct sizes of the driver ABI.
const (
	AudioConfigSize    = 32
	VoiceRecModeSize   = 4
	StreamConfigSize   = 8
	AMRNBEncConfigSize = 12
	CDMAEncConfigSize  = 12
	AACEncConfigSize   = 16
	SwitchDeviceSize   = 8
	Uint32ArgSize      = 4
)

var order = binary.NativeEndian

// AudioConfig is struct msm_audio_config.
type AudioConfig struct {
	BufferSize   uint32
	BufferCount  uint32
	ChannelCount uint32
	SampleRate   uint32
	Type         uint32
	Unused       [3]uint32
}

// Marshal encodes the struct in driver layout.
func (c AudioConfig) Marshal() []byte {
	b := make([]byte, AudioConfigSize)
	order.PutUint32(b[0:], c.BufferSize)
	order.PutUint32(b[4:], c.BufferCount)
	order.PutUint32(b[8:], c.ChannelCount)
	order.PutUint32(b[12:], c.SampleRate)
	order.PutUint32(b[16:], c.Type)
	for i, u := range c.Unused {
		order.PutUint32(b[20+4*i:], u)
	}
	return b
}

// UnmarshalAudioConfig decodes a driver reply.
func UnmarshalAudioConfig(b []byte) (AudioConfig, error) {
	if len(b) < AudioConfigSize {
		return AudioConfig{}, fmt.Errorf("audio config too small: %d bytes (min %d)", len(b), AudioConfigSize)
	}
	c := AudioConfig{
		BufferSize:   order.Uint32(b[0:]),
		BufferCount:  order.Uint32(b[4:]),
		ChannelCount: order.Uint32(b[8:]),
		SampleRate:   order.Uint32(b[12:]),
		Type:         order.Uint32(b[16:]),
	}
	for i := range c.Unused {
		c.Unused[i] = order.Uint32(b[20+4*i:])
	}
	return c, nil
}

// StreamConfig is struct msm_audio_stream_config.
type StreamConfig struct {
	BufferSize  uint32
	BufferCount uint32
}

func (c StreamConfig) Marshal() []byte {
	b := make([]byte, StreamConfigSize)
	order.PutUint32(b[0:], c.BufferSize)
	order.PutUint32(b[4:], c.BufferCount)
	return b
}

func UnmarshalStreamConfig(b []byte) (StreamConfig, error) {
	if len(b) < StreamConfigSize {
		return StreamConfig{}, fmt.Errorf("stream config too small: %d bytes", len(b))
	}
	return StreamConfig{BufferSize: order.Uint32(b[0:]), BufferCount: order.Uint32(b[4:])}, nil
}

// AMRNBEncConfig is struct msm_audio_amrnb_enc_config_v2.
type AMRNBEncConfig struct {
	BandMode    uint32
	DTXEnable   uint32
	FrameFormat uint32
}

func (c AMRNBEncConfig) Marshal() []byte {
	b := make([]byte, AMRNBEncConfigSize)
	order.PutUint32(b[0:], c.BandMode)
	order.PutUint32(b[4:], c.DTXEnable)
	order.PutUint32(b[8:], c.FrameFormat)
	return b
}

func UnmarshalAMRNBEncConfig(b []byte) (AMRNBEncConfig, error) {
	if len(b) < AMRNBEncConfigSize {
		return AMRNBEncConfig{}, fmt.Errorf("amrnb config too small: %d bytes", len(b))
	}
	return AMRNBEncConfig{
		BandMode:    order.Uint32(b[0:]),
		DTXEnable:   order.Uint32(b[4:]),
		FrameFormat: order.Uint32(b[8:]),
	}, nil
}

// CDMAEncConfig is struct msm_audio_evrc_enc_config / msm_audio_qcelp_enc_config.
type CDMAEncConfig struct {
	CDMARate   uint32
	MinBitRate uint32
	MaxBitRate uint32
}

func (c CDMAEncConfig) Marshal() []byte {
	b := make([]byte, CDMAEncConfigSize)
	order.PutUint32(b[0:], c.CDMARate)
	order.PutUint32(b[4:], c.MinBitRate)
	order.PutUint32(b[8:], c.MaxBitRate)
	return b
}

func UnmarshalCDMAEncConfig(b []byte) (CDMAEncConfig, error) {
	if len(b) < CDMAEncConfigSize {
		return CDMAEncConfig{}, fmt.Errorf("cdma config too small: %d bytes", len(b))
	}
	return CDMAEncConfig{
		CDMARate:   order.Uint32(b[0:]),
		MinBitRate: order.Uint32(b[4:]),
		MaxBitRate: order.Uint32(b[8:]),
	}, nil
}

// AACEncConfig is struct msm_audio_aac_enc_config.
type AACEncConfig struct {
	Channels     uint32
	SampleRate   uint32
	BitRate      uint32
	StreamFormat uint32
}

func (c AACEncConfig) Marshal() []byte {
	b := make([]byte, AACEncConfigSize)
	order.PutUint32(b[0:], c.Channels)
	order.PutUint32(b[4:], c.SampleRate)
	order.PutUint32(b[8:], c.BitRate)
	order.PutUint32(b[12:], c.StreamFormat)
	return b
}

func UnmarshalAACEncConfig(b []byte) (AACEncConfig, error) {
	if len(b) < AACEncConfigSize {
		return AACEncConfig{}, fmt.Errorf("aac config too small: %d bytes", len(b))
	}
	return AACEncConfig{
		Channels:     order.Uint32(b[0:]),
		SampleRate:   order.Uint32(b[4:]),
		BitRate:      order.Uint32(b[8:]),
		StreamFormat: order.Uint32(b[12:]),
	}, nil
}

// SwitchDeviceArg encodes the uint32[2] array passed to AUDIO_SWITCH_DEVICE:
// {output, 0} for the rx path, {mic, secondary mic} for the tx path.
func SwitchDeviceArg(ids [2]uint32) []byte {
	b := make([]byte, SwitchDeviceSize)
	order.PutUint32(b[0:], ids[0])
	order.PutUint32(b[4:], ids[1])
	return b
}

// DecodeSwitchDeviceArg is the inverse of SwitchDeviceArg.
func DecodeSwitchDeviceArg(b []byte) ([2]uint32, error) {
	if len(b) < SwitchDeviceSize {
		return [2]uint32{}, fmt.Errorf("switch device arg too small: %d bytes", len(b))
	}
	return [2]uint32{order.Uint32(b[0:]), order.Uint32(b[4:])}, nil
}

// Uint32Arg encodes a single uint32 argument (volume, mute, rec mode).
func Uint32Arg(v uint32) []byte {
	b := make([]byte, Uint32ArgSize)
	order.PutUint32(b, v)
	return b
}

// DecodeUint32Arg is the inverse of Uint32Arg.
func DecodeUint32Arg(b []byte) (uint32, error) {
	if len(b) < Uint32ArgSize {
		return 0, fmt.Errorf("uint32 arg too small: %d bytes", len(b))
	}
	return order.Uint32(b), nil
}
