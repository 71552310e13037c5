package audio

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"withvoice/internal/ports"
)

// MalgoCapture records from the default input through miniaudio.
type MalgoCapture struct{}

func NewMalgoCapture() *MalgoCapture {
	return &MalgoCapture{}
}

func (c *MalgoCapture) RequestStream(ctx context.Context, constraints ports.CaptureConstraints) (ports.AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := streamFormat(constraints)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	freeContext := func() error {
		err := mctx.Uninit()
		mctx.Free()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	b := newBroadcaster()
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			b.Publish(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = freeContext()
		return nil, classifyMalgoError("failed to initialize capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = freeContext()
		return nil, classifyMalgoError("failed to start capture device", err)
	}

	stop := func() error {
		stopErr := device.Stop()
		device.Uninit()
		if err := freeContext(); err != nil && stopErr == nil {
			stopErr = err
		}
		return stopErr
	}
	return newPCMStream(format, b, stop), nil
}

func classifyMalgoError(action string, err error) error {
	if sentinel := classifyCaptureFailure(err.Error()); sentinel != nil {
		return fmt.Errorf("%s: %w: %v", action, sentinel, err)
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "failed to open backend device") {
		return fmt.Errorf("%s: %w: %v", action, ports.ErrDeviceNotFound, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
