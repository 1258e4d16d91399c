//go:build !darwin

package native

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// preferredBackends lists the HAL backends tried by Open, in order.
var preferredBackends = []gputypes.Backend{gputypes.BackendVulkan}

func backendName(b gputypes.Backend) string {
	if b == gputypes.BackendVulkan {
		return "vulkan"
	}
	return "unknown"
}
