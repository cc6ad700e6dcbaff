package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/go-kit/log/level"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		level string
		want  []string
		drop  []string
	}{
		{level: "debug", want: []string{"debug", "info", "warn", "error"}},
		{level: "info", want: []string{"info", "warn", "error"}, drop: []string{"debug"}},
		{level: "warn", want: []string{"warn", "error"}, drop: []string{"debug", "info"}},
		{level: "error", want: []string{"error"}, drop: []string{"debug", "info", "warn"}},
		{level: "bogus", want: []string{"debug", "info", "warn", "error"}},
	} {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(&buf, tc.level)
			level.Debug(l).Log("msg", "debug")
			level.Info(l).Log("msg", "info")
			level.Warn(l).Log("msg", "warn")
			level.Error(l).Log("msg", "error")

			for _, w := range tc.want {
				testutil.Assert(t, strings.Contains(buf.String(), "msg="+w), "expected %s in %q", w, buf.String())
			}
			for _, d := range tc.drop {
				testutil.Assert(t, !strings.Contains(buf.String(), "msg="+d), "unexpected %s in %q", d, buf.String())
			}
			testutil.Assert(t, strings.Contains(buf.String(), "caller=logger_test.go"), "expected caller in %q", buf.String())
		})
	}
}
