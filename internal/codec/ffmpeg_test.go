package codec

import (
	"errors"
	"strings"
	"testing"

	"crossjoin/internal/ledger"
)

func TestTransformArgsCropBySide(t *testing.T) {
	f := &FFmpeg{}

	tests := []struct {
		side ledger.Side
		crop string
	}{
		{ledger.SideLeft, "crop=iw/2:ih:0:0"},
		{ledger.SideRight, "crop=iw/2:ih:iw/2:0"},
	}
	for _, tt := range tests {
		args := f.TransformArgs("in.mp4", "out.mkv", tt.side)
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "-vf "+tt.crop) {
			t.Errorf("%s args = %q, want crop %q", tt.side, joined, tt.crop)
		}
		if !strings.Contains(joined, "-c:v png") {
			t.Errorf("%s args missing intra codec: %q", tt.side, joined)
		}
		if !strings.Contains(joined, "-pix_fmt rgb24") {
			t.Errorf("%s args missing pixel format: %q", tt.side, joined)
		}
	}
}

func TestTransformArgsCodecOverride(t *testing.T) {
	f := &FFmpeg{IntermediateCodec: "ffv1"}
	joined := strings.Join(f.TransformArgs("a", "b", ledger.SideLeft), " ")
	if !strings.Contains(joined, "-c:v ffv1") {
		t.Errorf("args = %q, want codec ffv1", joined)
	}
}

func TestCombineArgs(t *testing.T) {
	f := &FFmpeg{}
	args := f.CombineArgs("l.mkv", "r.mkv", "out.mp4")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i l.mkv -i r.mkv") {
		t.Errorf("args = %q, want both inputs in order", joined)
	}
	if !strings.Contains(joined, "-filter_complex hstack=inputs=2") {
		t.Errorf("args = %q, want hstack filter", joined)
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestClassifyInputErrors(t *testing.T) {
	samples := []string{
		"[mov,mp4,m4a] moov atom not found",
		"Invalid data found when processing input",
		"input.mp4: does not contain any stream",
	}
	for _, s := range samples {
		err := classify("transform x", errors.New("exit status 1"), s)
		if !errors.Is(err, ErrInput) {
			t.Errorf("classify(%q) = %v, want ErrInput", s, err)
		}
	}
}

func TestClassifyTransientErrors(t *testing.T) {
	samples := []string{
		"av_interleaved_write_frame(): Input/output error",
		"Cannot allocate memory",
		"read error: Stale file handle",
		"something ffmpeg never printed before", // unmatched defaults to transient
	}
	for _, s := range samples {
		err := classify("combine y", errors.New("exit status 1"), s)
		if !errors.Is(err, ErrTransient) {
			t.Errorf("classify(%q) = %v, want ErrTransient", s, err)
		}
	}
}

func TestStderrTailTruncates(t *testing.T) {
	long := strings.Repeat("x", 4096) + "the actual error"
	tail := stderrTail(long)
	if len(tail) > stderrTailLimit+3 {
		t.Errorf("tail length = %d, want <= %d", len(tail), stderrTailLimit+3)
	}
	if !strings.HasSuffix(tail, "the actual error") {
		t.Error("tail lost the trailing error text")
	}
}
