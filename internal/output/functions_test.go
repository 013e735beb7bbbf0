package output

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", FormatBytes(512))
	require.Equal(t, "1.00 KB", FormatBytes(1024))
	require.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	require.Equal(t, "4.77 MB", FormatBytes(5_000_000))
}

func TestFormatSpeed(t *testing.T) {
	require.Equal(t, "0 B/s", FormatSpeed(100, 0))
	require.Equal(t, "1.00 KB/s", FormatSpeed(2048, 2))
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	RenderSummary(&buf, []Line{
		{URL: "https://a/x", OutputPath: "x", Method: "sliced", Bytes: 2048, Slices: 3, FromCache: 1, Elapsed: time.Second},
		{URL: "https://a/y", Err: errors.New("boom")},
	})
	out := buf.String()
	require.Contains(t, out, "x")
	require.Contains(t, out, "3 slices")
	require.Contains(t, out, "(1 cached)")
	require.Contains(t, out, "boom")
	require.Contains(t, out, "1 completed, 1 failed, 2.00 KB total")
}
