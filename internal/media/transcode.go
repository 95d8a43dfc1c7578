package media

import (
	"context"
	"path/filepath"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

// transcoder normalizes a downloaded source file into an H.264/AAC MP4 and
// extracts a thumbnail frame, shelling out to ffmpeg for both.
type transcoder struct {
	runner     commandRunner
	ffmpegPath string
}

func newTranscoder(runner commandRunner) *transcoder {
	return &transcoder{runner: runner, ffmpegPath: "ffmpeg"}
}

// Transcode produces a faststart H.264 baseline + AAC MP4 at outDir. When
// probe reports no video stream, the audio is muxed against a generated
// black still frame so every published artifact is a playable video file.
func (t *transcoder) Transcode(ctx context.Context, srcPath, outDir string, probe probeResult) (string, error) {
	outPath := filepath.Join(outDir, "processed.mp4")

	var args []string
	if probe.HasVideo {
		args = []string{
			"-hide_banner", "-nostdin", "-y",
			"-i", srcPath,
			"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-movflags", "+faststart",
			outPath,
		}
	} else {
		args = []string{
			"-hide_banner", "-nostdin", "-y",
			"-f", "lavfi", "-i", "color=c=black:s=640x360:r=1",
			"-i", srcPath,
			"-shortest",
			"-c:v", "libx264", "-profile:v", "baseline", "-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-movflags", "+faststart",
			outPath,
		}
	}

	if _, err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
		return "", pipeline.Wrap(pipeline.KindInternalError, "transcode media", err)
	}
	return outPath, nil
}

const thumbnailOffsetSeconds = "2"

// Thumbnail extracts a single frame at thumbnailOffsetSeconds. Failures here
// are never fatal to the job: callers fall back to a source-provided
// thumbnail URL instead of failing the whole media job.
func (t *transcoder) Thumbnail(ctx context.Context, srcPath, outDir string) (string, error) {
	outPath := filepath.Join(outDir, "thumbnail.jpg")
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", thumbnailOffsetSeconds,
		"-i", srcPath,
		"-frames:v", "1",
		outPath,
	}
	if _, err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
		return "", pipeline.Wrap(pipeline.KindInternalError, "extract thumbnail", err)
	}
	return outPath, nil
}
