package media

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ingestlane/pipeline/internal/pipeline"
)

type probeResult struct {
	DurationSeconds int
	HasVideo        bool
	HasAudio        bool
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// prober runs ffprobe to learn whether the downloaded file carries a video
// and/or audio stream and how long it runs, deciding the transcode strategy.
type prober struct {
	runner      commandRunner
	ffprobePath string
}

func newProber(runner commandRunner) *prober {
	return &prober{runner: runner, ffprobePath: "ffprobe"}
}

func (p *prober) Probe(ctx context.Context, path string) (probeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	res, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return probeResult{}, pipeline.Wrap(pipeline.KindInvalidData, "probe downloaded media", err)
	}

	var out ffprobeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return probeResult{}, pipeline.Wrap(pipeline.KindInvalidData, "parse ffprobe output", err)
	}

	var result probeResult
	if out.Format.Duration != "" {
		if f, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			result.DurationSeconds = int(f)
		}
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			result.HasVideo = true
		case "audio":
			result.HasAudio = true
		}
	}
	if !result.HasVideo && !result.HasAudio {
		return probeResult{}, pipeline.New(pipeline.KindInvalidData, "downloaded media has no audio or video stream")
	}
	return result, nil
}
