// Package version carries build metadata set via ldflags:
//
//	go build -ldflags "-X github.com/zhaofei0923/quant-platform-HF-sub001/internal/version.Version=1.2.0 \
//	                   -X github.com/zhaofei0923/quant-platform-HF-sub001/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/zhaofei0923/quant-platform-HF-sub001/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"strconv"

	"github.com/zhaofei0923/quant-platform-HF-sub001/internal/bridge"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string including the bridge protocol.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime + ", bridge protocol v" + strconv.Itoa(bridge.ProtocolVersion)
}

// Attrs returns the build metadata as slog key/value pairs.
func Attrs() []any {
	return []any{
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"bridge_protocol", bridge.ProtocolVersion,
	}
}
