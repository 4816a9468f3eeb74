package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"lingopipe/internal/domain/usecase"
)

// ErrBinaryNotFound means ffmpeg/ffprobe is not installed on this host.
// Callers treat it as an operator problem, not a bad job.
var ErrBinaryNotFound = errors.New("ffmpeg binary not found in PATH")

// FFmpeg shells out to ffmpeg and ffprobe. Probe accepts both local paths
// and http(s) URLs, which lets dispatch price a job without downloading it.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func New() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (f *FFmpeg) Probe(ctx context.Context, source string) (usecase.MediaInfo, error) {
	if _, err := exec.LookPath(f.FFprobePath); err != nil {
		return usecase.MediaInfo{}, ErrBinaryNotFound
	}

	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		source,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return usecase.MediaInfo{}, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return usecase.MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return usecase.MediaInfo{}, fmt.Errorf("parse duration %q: %w", out.Format.Duration, err)
	}

	info := usecase.MediaInfo{
		DurationSeconds: duration,
		Format:          out.Format.FormatName,
	}
	for _, s := range out.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
		}
	}
	return info, nil
}

// ExtractAudio writes a 16kHz mono wav, the input format the speech models
// expect.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	return f.run(ctx,
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y",
		audioPath,
	)
}

// Merge replaces the video's audio track with the dubbed one. The video
// stream is copied, not re-encoded; -shortest trims whichever track runs
// longer.
func (f *FFmpeg) Merge(ctx context.Context, videoPath, audioPath, outputPath string) error {
	return f.run(ctx,
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		"-y",
		outputPath,
	)
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	if _, err := exec.LookPath(f.FFmpegPath); err != nil {
		return ErrBinaryNotFound
	}

	cmd := exec.CommandContext(ctx, f.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	return nil
}
