package executor

import (
	"context"
	"fmt"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/go-ping/ping"
)

// PingStats summarises one ping run
type PingStats struct {
	PacketsSent int
	PacketsRecv int
	PacketLoss  float64
	MinRttMs    float64
	AvgRttMs    float64
	MaxRttMs    float64
}

// Pinger sends echo requests to host
type Pinger func(ctx context.Context, host string, cfg model.PingConfig) (PingStats, error)

// PingExecutor checks ICMP reachability of the check's host
type PingExecutor struct {
	ping Pinger
}

// NewPingExecutor creates a ping executor; a nil pinger uses go-ping
func NewPingExecutor(p Pinger) *PingExecutor {
	if p == nil {
		p = GoPing
	}
	return &PingExecutor{ping: p}
}

// Execute executes a ping check
func (e *PingExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParsePingConfig(check.Data)
	if err != nil {
		return configError(check, err)
	}
	host := model.HostFromURL(check.URL)
	if host == "" {
		return configError(check, fmt.Errorf("host is required"))
	}

	stats, err := e.ping(ctx, host, cfg)
	if err != nil {
		return model.NewErrorResult(check.CheckID, model.ErrTypeExecution, err.Error())
	}

	data := map[string]any{
		"host":         host,
		"packets_sent": stats.PacketsSent,
		"packets_recv": stats.PacketsRecv,
		"packet_loss":  stats.PacketLoss,
	}

	if stats.PacketsRecv == 0 {
		data["error_type"] = model.ErrTypeNoReply
		data["error_msg"] = fmt.Sprintf("no echo replies from %s", host)
		return model.NewResult(check.CheckID, model.ResultStatusError, data)
	}

	data["min_rtt_ms"] = stats.MinRttMs
	data["avg_rtt_ms"] = stats.AvgRttMs
	data["max_rtt_ms"] = stats.MaxRttMs

	if stats.PacketLoss > cfg.MaxPacketLoss {
		data["error_type"] = model.ErrTypePacketLoss
		data["error_msg"] = fmt.Sprintf("packet loss %.1f%% exceeds %.1f%%", stats.PacketLoss, cfg.MaxPacketLoss)
		return model.NewResult(check.CheckID, model.ResultStatusWarning, data)
	}
	return model.NewResult(check.CheckID, model.ResultStatusOK, data)
}

// Close is a no-op
func (e *PingExecutor) Close() error { return nil }

// GoPing pings host with github.com/go-ping/ping, stopping early when ctx ends
func GoPing(ctx context.Context, host string, cfg model.PingConfig) (PingStats, error) {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return PingStats{}, fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = cfg.Count
	pinger.Interval = cfg.IntervalDuration()
	pinger.Timeout = cfg.TimeoutDuration()
	pinger.SetPrivileged(cfg.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return PingStats{}, fmt.Errorf("ping failed: %w", err)
	}

	s := pinger.Statistics()
	return PingStats{
		PacketsSent: s.PacketsSent,
		PacketsRecv: s.PacketsRecv,
		PacketLoss:  s.PacketLoss,
		MinRttMs:    float64(s.MinRtt.Microseconds()) / 1000.0,
		AvgRttMs:    float64(s.AvgRtt.Microseconds()) / 1000.0,
		MaxRttMs:    float64(s.MaxRtt.Microseconds()) / 1000.0,
	}, nil
}
