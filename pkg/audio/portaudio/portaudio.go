// Package portaudio implements [audio.Device] on top of PortAudio.
//
// [Init] must be called once before opening streams and [Terminate] once at
// shutdown. Streams use the callback API: PortAudio invokes the callback on
// its own thread with one buffer of FramesPerBuffer frames per call.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/sflow/pkg/audio"
)

// ErrDeviceNotFound is returned when a named input device does not exist.
var ErrDeviceNotFound = errors.New("portaudio: input device not found")

// Init initialises the PortAudio library.
func Init() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio library.
func Terminate() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// DeviceInfo describes an input-capable device.
type DeviceInfo struct {
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists every device with at least one input channel.
func Devices() ([]DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	var defName string
	if def, err := pa.DefaultInputDevice(); err == nil && def != nil {
		defName = def.Name
	}

	var out []DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		info := DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           d.Name == defName,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Option configures a [Device].
type Option func(*Device)

// WithDeviceName selects an input device by case-insensitive substring match
// on its name. The default input device is used when empty.
func WithDeviceName(name string) Option {
	return func(d *Device) {
		d.name = name
	}
}

// Device opens PortAudio input streams.
type Device struct {
	name string
}

var _ audio.Device = (*Device)(nil)

// New returns a Device.
func New(opts ...Option) *Device {
	d := &Device{}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device].
func (d *Device) Open(f audio.Format, onChunk func([]int16)) (audio.Stream, error) {
	s := &stream{}
	cb := func(in []int16, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
		if flags&pa.InputOverflow != 0 {
			s.overflows.Add(1)
		}
		onChunk(in)
	}

	var err error
	if d.name == "" {
		s.s, err = pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), f.FramesPerBuffer, cb)
	} else {
		var dev *pa.DeviceInfo
		dev, err = findInput(d.name)
		if err != nil {
			return nil, err
		}
		params := pa.StreamParameters{
			Input: pa.StreamDeviceParameters{
				Device:   dev,
				Channels: f.Channels,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      float64(f.SampleRate),
			FramesPerBuffer: f.FramesPerBuffer,
		}
		s.s, err = pa.OpenStream(params, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	return s, nil
}

func findInput(name string) (*pa.DeviceInfo, error) {
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devs {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// stream adapts *pa.Stream to [audio.Stream] and reports input overflows
// when it is stopped.
type stream struct {
	s         *pa.Stream
	overflows atomic.Int64
}

func (s *stream) Start() error { return s.s.Start() }

func (s *stream) Stop() error {
	err := s.s.Stop()
	if n := s.overflows.Swap(0); n > 0 {
		slog.Warn("portaudio: input overflowed, frames were dropped", "buffers", n)
	}
	return err
}

func (s *stream) Close() error { return s.s.Close() }
