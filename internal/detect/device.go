package detect

import (
	"strings"

	"gocv.io/x/gocv"

	"peoplecounter/internal/logger"
)

// applyDevice configures the network backend and target for the requested
// device. Unavailable devices fall back to CPU with a warning instead of
// failing the run.
func applyDevice(net *gocv.Net, device string, log *logger.Logger) string {
	dev := strings.ToLower(strings.TrimSpace(device))
	switch {
	case dev == "" || dev == "cpu":
		// default
	case dev == "cuda" || strings.HasPrefix(dev, "cuda:"):
		// OpenCV exposes a single CUDA target; device ordinals are ignored.
		errBackend := net.SetPreferableBackend(gocv.NetBackendCUDA)
		errTarget := net.SetPreferableTarget(gocv.NetTargetCUDA)
		if errBackend == nil && errTarget == nil {
			return "cuda"
		}
		if log != nil {
			log.Warning("CUDA backend unavailable, falling back to CPU")
		}
	default:
		if log != nil {
			log.Warning("Device %q not supported by the DNN backend, falling back to CPU", device)
		}
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	return "cpu"
}
