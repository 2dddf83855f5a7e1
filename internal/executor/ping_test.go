package executor

import (
	"context"
	"testing"

	"github.com/dandantas/nyxmon/internal/model"
)

func TestPingExecutor(t *testing.T) {
	tests := []struct {
		name      string
		stats     PingStats
		status    model.ResultStatus
		errorType string
	}{
		{"all replies", PingStats{PacketsSent: 3, PacketsRecv: 3, AvgRttMs: 1.2}, model.ResultStatusOK, ""},
		{"loss within budget", PingStats{PacketsSent: 10, PacketsRecv: 9, PacketLoss: 10}, model.ResultStatusOK, ""},
		{"loss above budget", PingStats{PacketsSent: 3, PacketsRecv: 1, PacketLoss: 66.7}, model.ResultStatusWarning, model.ErrTypePacketLoss},
		{"no replies", PingStats{PacketsSent: 3, PacketLoss: 100}, model.ResultStatusError, model.ErrTypeNoReply},
	}

	for _, tt := range tests {
		var pinged string
		exec := NewPingExecutor(func(ctx context.Context, host string, cfg model.PingConfig) (PingStats, error) {
			pinged = host
			return tt.stats, nil
		})
		r := exec.Execute(context.Background(), model.Check{CheckID: 41, URL: "https://gw.example.com", Data: map[string]any{}})
		if r.Status != tt.status || r.ErrorType() != tt.errorType {
			t.Errorf("%s: got %s/%q, want %s/%q", tt.name, r.Status, r.ErrorType(), tt.status, tt.errorType)
		}
		if pinged != "gw.example.com" {
			t.Errorf("%s: pinged %q", tt.name, pinged)
		}
	}
}
