package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// FFmpegDecoder runs ffmpeg as a subprocess to decode an arbitrary input
// url to raw PCM (os/exec.CommandContext, stdout piped, stderr drained to
// the log) but
// targeting a fixed PCM sink format instead of an MP3 HTTP stream.
type FFmpegDecoder struct {
	Format       Format
	PositionTick time.Duration
	log          *slog.Logger
}

// NewFFmpegDecoder creates a decoder for the given PCM format; real Snapcast
// sinks are configured to match it. Only SampleRate and Channels are passed
// to ffmpeg: samples are always written as signed 16-bit little-endian, and
// format.BitDepth is reported through onFormat without changing the output.
func NewFFmpegDecoder(format Format, log *slog.Logger) *FFmpegDecoder {
	if log == nil {
		log = slog.Default()
	}
	if format.SampleRate == 0 {
		format.SampleRate = 48000
	}
	if format.BitDepth == 0 {
		format.BitDepth = 16
	}
	if format.Channels == 0 {
		format.Channels = 2
	}
	return &FFmpegDecoder{Format: format, PositionTick: 200 * time.Millisecond, log: log}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, url string, startOffset time.Duration, sink SinkWriter, onFormat func(Format), onPosition func(time.Duration)) error {
	args := []string{}
	if startOffset > 0 {
		// -ss before -i seeks the demuxer directly, which is fast but only
		// accurate for sources with a keyframe-indexed container.
		args = append(args, "-ss", fmt.Sprintf("%.3f", startOffset.Seconds()))
	}
	args = append(args,
		"-re",
		"-i", url,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", d.Format.SampleRate),
		"-ac", fmt.Sprintf("%d", d.Format.Channels),
		"-vn",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	go d.drainStderr(stderr)

	onFormat(d.Format)

	copyErr := d.copyWithPositionTicks(ctx, sink, stdout, onPosition)
	waitErr := cmd.Wait()

	if copyErr != nil && ctx.Err() == nil {
		return fmt.Errorf("pipeline sink copy: %w", copyErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil
}

func (d *FFmpegDecoder) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		d.log.Debug("ffmpeg", "output", scanner.Text())
	}
}

// copyWithPositionTicks copies decoded PCM to sink, computing elapsed
// playback time from bytes written against the known frame size and
// emitting onPosition no more often than PositionTick.
func (d *FFmpegDecoder) copyWithPositionTicks(ctx context.Context, sink SinkWriter, src io.Reader, onPosition func(time.Duration)) error {
	frameSize := d.Format.Channels * (d.Format.BitDepth / 8)
	if frameSize <= 0 {
		frameSize = 4
	}
	bytesPerSecond := frameSize * d.Format.SampleRate

	buf := make([]byte, 32*1024)
	var totalBytes int64
	lastTick := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return werr
			}
			totalBytes += int64(n)
			if time.Since(lastTick) >= d.PositionTick && bytesPerSecond > 0 {
				lastTick = time.Now()
				seconds := float64(totalBytes) / float64(bytesPerSecond)
				onPosition(time.Duration(seconds * float64(time.Second)))
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
