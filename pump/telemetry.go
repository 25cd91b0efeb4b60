package pump

import (
	"context"
	"log/slog"
	"time"

	"github.com/hidemune/understeer-go/linux/input"
)

// telemetryGateInterval bounds how often a quiescent axis value is
// logged at debug level.
const telemetryGateInterval = 500 * time.Millisecond

// telemetryGateThreshold is the minimum value delta that bypasses the
// rate limit, so a fast-moving axis still logs every real step.
const telemetryGateThreshold = 256

// telemetryGate ports the original console tool's rate-limited axis
// logger: it logs at most once per interval per code unless the value
// has moved past the threshold since the last logged value. Its zero
// value is ready to use, and maybeLog returns immediately when the
// logger has debug level disabled, which is how debug logging stays
// off the hot path when disabled.
type telemetryGate struct {
	last map[uint16]telemetryState
}

type telemetryState struct {
	value int32
	at    time.Time
}

func (g *telemetryGate) maybeLog(log *slog.Logger, code uint16, value int32) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	if g.last == nil {
		g.last = make(map[uint16]telemetryState)
	}

	prev, ok := g.last[code]
	if ok && time.Since(prev.at) < telemetryGateInterval && absInt32(value-prev.value) < telemetryGateThreshold {
		return
	}

	g.last[code] = telemetryState{value: value, at: time.Now()}
	log.Debug("pump: axis telemetry", "code", input.CodeName(code), "value", value)
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}

	return v
}
