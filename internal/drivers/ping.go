// internal/drivers/ping.go
package drivers

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

var errNoAddress = errors.New("no IP address configured")

// Ping sends one ICMP echo with the system ping binary. Latency is taken
// by the health monitor around Validate, so only reachability is reported.
func Ping(ctx context.Context, target string, timeout time.Duration) error {
	if target == "" {
		return errNoAddress
	}

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(secs), target)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ping %s failed: %w", target, err)
	}
	return nil
}
