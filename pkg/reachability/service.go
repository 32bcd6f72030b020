package reachability

import (
	"context"
	"errors"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

var (
	ErrNoResponse = errors.New("no response")
	ErrNoHost     = errors.New("no host to probe")
)

const pingTimeout = 2 * time.Second

// Ping sends a single echo request to host and returns the round trip time.
func Ping(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}

	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return stats.AvgRtt, nil
	}
	return 0, ErrNoResponse
}

// Pinger probes one fixed host.
type Pinger struct {
	Host string
}

func (p Pinger) Probe(ctx context.Context) error {
	if p.Host == "" {
		return ErrNoHost
	}
	_, err := Ping(ctx, p.Host)
	return err
}
