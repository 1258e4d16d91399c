//go:build darwin

package native

import (
	"github.com/gogpu/gputypes"

	_ "github.com/gogpu/wgpu/hal/metal"
)

// preferredBackends lists the HAL backends tried by Open, in order.
var preferredBackends = []gputypes.Backend{gputypes.BackendMetal}

func backendName(b gputypes.Backend) string {
	if b == gputypes.BackendMetal {
		return "metal"
	}
	return "unknown"
}
