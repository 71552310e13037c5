package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"withvoice/internal/ports"
)

const (
	captureStartupWait = 250 * time.Millisecond
	processStopTimeout = 1200 * time.Millisecond
)

type FFMPEGCaptureConfig struct {
	Command     string
	InputFormat string
	InputDevice string
}

// FFMPEGCapture streams microphone PCM audio using ffmpeg.
type FFMPEGCapture struct {
	command     string
	inputFormat string
	inputDevice string
}

func NewFFMPEGCapture(cfg FFMPEGCaptureConfig) *FFMPEGCapture {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return &FFMPEGCapture{
		command:     cfg.Command,
		inputFormat: cfg.InputFormat,
		inputDevice: cfg.InputDevice,
	}
}

// RequestStream starts ffmpeg and waits briefly for it to fail. The stream
// outlives ctx, which only bounds the startup.
func (c *FFMPEGCapture) RequestStream(ctx context.Context, constraints ports.CaptureConstraints) (ports.AudioStream, error) {
	format := streamFormat(constraints)

	cmd := exec.Command(c.command, c.args(format, constraints)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := stringsTrimSpaceSafe(stderr.String())
		if classified := classifyCaptureFailure(detail); classified != nil {
			return nil, fmt.Errorf("%w: %s", classified, detail)
		}
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(captureStartupWait):
	}

	session := &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}
	b := newBroadcaster()
	go b.pump(stdout)
	return newPCMStream(format, b, session.Stop), nil
}

func (c *FFMPEGCapture) args(format ports.StreamFormat, constraints ports.CaptureConstraints) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.inputFormat,
		"-i", c.inputDevice,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
	}
	if constraints.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return append(args, "-f", "s16le", "-")
}

func streamFormat(constraints ports.CaptureConstraints) ports.StreamFormat {
	format := ports.StreamFormat{SampleRate: constraints.SampleRate, Channels: constraints.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = 44100
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	return format
}

// classifyCaptureFailure maps device error text to the port sentinels.
func classifyCaptureFailure(detail string) error {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "access denied"),
		strings.Contains(lower, "not authorized"):
		return ports.ErrPermissionDenied
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such entity"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "no device"):
		return ports.ErrDeviceNotFound
	default:
		return nil
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(processStopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
