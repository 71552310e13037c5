package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"withvoice/internal/ports"
)

const (
	encoderKillTimeout = 5 * time.Second
	encoderInputBuffer = 256
)

type containerFormat struct {
	muxer     string
	codec     string
	extension string
	extra     []string
}

var containers = map[string]containerFormat{
	"audio/webm": {muxer: "webm", codec: "libopus", extension: "webm"},
	"audio/ogg":  {muxer: "ogg", codec: "libopus", extension: "ogg"},
	"audio/mp4": {
		muxer:     "mp4",
		codec:     "aac",
		extension: "m4a",
		extra:     []string{"-movflags", "frag_keyframe+empty_moov"},
	},
}

func lookupContainer(mimeType string) (containerFormat, bool) {
	base := strings.TrimSpace(strings.ToLower(mimeType))
	codecs := ""
	if idx := strings.Index(base, ";"); idx >= 0 {
		codecs = strings.TrimSpace(base[idx+1:])
		base = strings.TrimSpace(base[:idx])
	}
	container, ok := containers[base]
	if !ok {
		return containerFormat{}, false
	}
	if codecs != "" && codecs != "codecs=opus" {
		return containerFormat{}, false
	}
	if codecs == "codecs=opus" && container.codec != "libopus" {
		return containerFormat{}, false
	}
	return container, true
}

// Extension returns the file extension used for a container MIME type.
func Extension(mimeType string) string {
	container, ok := lookupContainer(mimeType)
	if !ok {
		return "bin"
	}
	return container.extension
}

// FFMPEGEncoders builds ffmpeg encoder processes. Format support is probed
// from the ffmpeg binary once.
type FFMPEGEncoders struct {
	command string

	probeOnce sync.Once
	muxers    map[string]bool
	codecs    map[string]bool
	probeErr  error
}

func NewFFMPEGEncoders(command string) *FFMPEGEncoders {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGEncoders{command: command}
}

func (f *FFMPEGEncoders) FormatSupported(mimeType string) bool {
	container, ok := lookupContainer(mimeType)
	if !ok {
		return false
	}
	f.probeOnce.Do(f.probe)
	if f.probeErr != nil {
		return false
	}
	return f.muxers[container.muxer] && f.codecs[container.codec]
}

// ProbeError returns why probing the ffmpeg binary failed, if it did.
func (f *FFMPEGEncoders) ProbeError() error {
	f.probeOnce.Do(f.probe)
	return f.probeErr
}

func (f *FFMPEGEncoders) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	muxers, err := exec.CommandContext(ctx, f.command, "-hide_banner", "-muxers").Output()
	if err != nil {
		f.probeErr = fmt.Errorf("failed to list ffmpeg muxers: %w", err)
		return
	}
	codecs, err := exec.CommandContext(ctx, f.command, "-hide_banner", "-encoders").Output()
	if err != nil {
		f.probeErr = fmt.Errorf("failed to list ffmpeg encoders: %w", err)
		return
	}
	f.muxers = parseCapabilityList(muxers, 'E')
	f.codecs = parseCapabilityList(codecs, 'A')
}

// parseCapabilityList reads `ffmpeg -muxers` / `-encoders` output, keeping
// names whose flag column starts with flag.
func parseCapabilityList(output []byte, flag byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	listing := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "--") {
			listing = true
			continue
		}
		if !listing {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		if !strings.Contains(fields[0], string(flag)) {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			names[name] = true
		}
	}
	return names
}

func (f *FFMPEGEncoders) NewEncoder(stream ports.AudioStream, mimeType string, events ports.EncoderEvents) (ports.Encoder, error) {
	container, ok := lookupContainer(mimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported container %q", mimeType)
	}
	if events.OnFragment == nil {
		events.OnFragment = func([]byte) {}
	}
	if events.OnStopped == nil {
		events.OnStopped = func(error) {}
	}
	return &ffmpegEncoder{
		command:   f.command,
		container: container,
		stream:    stream,
		events:    events,
		stopping:  make(chan struct{}),
		finished:  make(chan struct{}),
	}, nil
}

type ffmpegEncoder struct {
	command   string
	container containerFormat
	stream    ports.AudioStream
	events    ports.EncoderEvents

	mu      sync.Mutex
	pending bytes.Buffer
	started bool
	cmd     *exec.Cmd

	paused   atomic.Bool
	stopOnce sync.Once
	stopping chan struct{}
	finished chan struct{}
}

func (e *ffmpegEncoder) args() []string {
	format := e.stream.Format()
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-c:a", e.container.codec,
	}
	args = append(args, e.container.extra...)
	return append(args, "-f", e.container.muxer, "pipe:1")
}

func (e *ffmpegEncoder) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("encoder already started")
	}

	cmd := exec.Command(e.command, e.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}
	e.cmd = cmd
	e.started = true

	pcm, unsubscribe := e.stream.Subscribe(encoderInputBuffer)
	drained := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer unsubscribe()
		return e.feed(pcm, stdin, drained)
	})
	g.Go(func() error {
		defer close(drained)
		return e.drain(stdout)
	})
	g.Go(func() error {
		e.flushEvery(interval, drained)
		return nil
	})

	go func() {
		groupErr := g.Wait()
		waitErr := cmd.Wait()
		e.flush()

		var err error
		switch {
		case waitErr != nil:
			err = fmt.Errorf("ffmpeg encoder exited: %w: %s", waitErr, stringsTrimSpaceSafe(stderr.String()))
		case groupErr != nil:
			err = groupErr
		}
		close(e.finished)
		e.events.OnStopped(err)
	}()
	return nil
}

// feed copies PCM into ffmpeg until the stream ends, a stop is requested
// or ffmpeg stops producing output.
func (e *ffmpegEncoder) feed(pcm <-chan []byte, stdin io.WriteCloser, drained <-chan struct{}) error {
	for {
		select {
		case <-e.stopping:
			return closeQuietly(stdin)
		case <-drained:
			return closeQuietly(stdin)
		case chunk, ok := <-pcm:
			if !ok {
				return closeQuietly(stdin)
			}
			if e.paused.Load() {
				continue
			}
			if _, err := stdin.Write(chunk); err != nil {
				_ = stdin.Close()
				return fmt.Errorf("failed to write pcm to encoder: %w", err)
			}
		}
	}
}

func (e *ffmpegEncoder) drain(stdout io.Reader) error {
	buf := make([]byte, 16*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending.Write(buf[:n])
			e.mu.Unlock()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read encoder output: %w", err)
		}
	}
}

func (e *ffmpegEncoder) flushEvery(interval time.Duration, drained <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-drained:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *ffmpegEncoder) flush() {
	e.mu.Lock()
	if e.pending.Len() == 0 {
		e.mu.Unlock()
		return
	}
	fragment := append([]byte(nil), e.pending.Bytes()...)
	e.pending.Reset()
	e.mu.Unlock()

	e.events.OnFragment(fragment)
}

// Pause drops incoming PCM so the paused span is absent from the output.
func (e *ffmpegEncoder) Pause() error {
	e.paused.Store(true)
	return nil
}

func (e *ffmpegEncoder) Resume() error {
	e.paused.Store(false)
	return nil
}

// Stop closes ffmpeg's input and returns; OnStopped follows once the
// output is drained. A stuck process is killed after encoderKillTimeout.
func (e *ffmpegEncoder) Stop() error {
	e.stopOnce.Do(func() {
		close(e.stopping)

		e.mu.Lock()
		started := e.started
		cmd := e.cmd
		e.mu.Unlock()
		if !started {
			return
		}

		go func() {
			select {
			case <-e.finished:
			case <-time.After(encoderKillTimeout):
				_ = cmd.Process.Kill()
			}
		}()
	})
	return nil
}

func closeQuietly(c io.Closer) error {
	if err := c.Close(); err != nil && !strings.Contains(err.Error(), "file already closed") {
		return err
	}
	return nil
}
