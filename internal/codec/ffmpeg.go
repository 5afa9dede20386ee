package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
)

// Codec produces intermediate artifacts and combined outputs. Both calls
// write to a destination chosen by the caller (normally a temp path that
// is atomically renamed after success).
type Codec interface {
	// Transform crops the given side's half of the source frame and
	// encodes it with the intermediate codec.
	Transform(ctx context.Context, src, dst string, side ledger.Side) error
	// Combine stacks a left and right intermediate side by side.
	Combine(ctx context.Context, left, right, dst string) error
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	// Binary is the ffmpeg executable, "ffmpeg" when empty.
	Binary string
	// IntermediateCodec is the intra-only video codec for stage one,
	// "png" when empty. Intra-only matters: stage two decodes each
	// intermediate many times, and inter-frame codecs make every seek
	// pay for a whole GOP.
	IntermediateCodec string
}

func (f *FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

func (f *FFmpeg) intermediateCodec() string {
	if f.IntermediateCodec == "" {
		return "png"
	}
	return f.IntermediateCodec
}

// TransformArgs builds the stage-one argument list. Exposed for tests.
func (f *FFmpeg) TransformArgs(src, dst string, side ledger.Side) []string {
	crop := "crop=iw/2:ih:0:0"
	if side == ledger.SideRight {
		crop = "crop=iw/2:ih:iw/2:0"
	}
	return []string{
		"-i", src,
		"-vf", crop,
		"-c:v", f.intermediateCodec(), "-pix_fmt", "rgb24",
		"-y", dst,
	}
}

// CombineArgs builds the stage-two argument list. Exposed for tests.
func (f *FFmpeg) CombineArgs(left, right, dst string) []string {
	return []string{
		"-i", left,
		"-i", right,
		"-filter_complex", "hstack=inputs=2",
		"-y", dst,
	}
}

func (f *FFmpeg) Transform(ctx context.Context, src, dst string, side ledger.Side) error {
	logging.Debug("Transforming %s side of %s -> %s", side, src, dst)
	return f.run(ctx, fmt.Sprintf("transform %s", src), f.TransformArgs(src, dst, side))
}

func (f *FFmpeg) Combine(ctx context.Context, left, right, dst string) error {
	logging.Debug("Combining %s + %s -> %s", left, right, dst)
	return f.run(ctx, fmt.Sprintf("combine %s", dst), f.CombineArgs(left, right, dst))
}

// run executes ffmpeg with stderr captured for failure classification.
func (f *FFmpeg) run(ctx context.Context, stage string, args []string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", stage, ctx.Err())
		}
		return classify(stage, err, stderr.String())
	}
	return nil
}
