package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult is the subset of ffprobe output used for frame sampling.
type ProbeResult struct {
	DurationSecs float64
	Width        int
	Height       int
	VideoCodec   string
	FrameCount   int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		NbFrames  string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a media file with ffprobe.
func Probe(ctx context.Context, binary, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*ProbeResult, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if parsed.Format.Duration != "" {
		result.DurationSecs, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" || result.VideoCodec != "" {
			continue
		}
		result.VideoCodec = s.CodecName
		result.Width = s.Width
		result.Height = s.Height
		result.FrameCount, _ = strconv.Atoi(s.NbFrames)
	}
	if result.VideoCodec == "" {
		return nil, fmt.Errorf("no video stream")
	}
	return result, nil
}
