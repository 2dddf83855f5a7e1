package executor

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dandantas/nyxmon/internal/model"
)

func listenerPort(t *testing.T, addr net.Addr) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return port
}

func tcpCheck(data map[string]any) model.Check {
	return model.Check{CheckID: 5, CheckType: model.CheckTypeTCP, URL: "127.0.0.1", Data: data}
}

func TestTCPExecutorPlainConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{"port": listenerPort(t, ln.Addr())}))
	if r.Status != model.ResultStatusOK {
		t.Fatalf("expected ok, got %+v", r)
	}
	if r.Data["host"] != "127.0.0.1" || r.Data["attempt"] != 1 || r.Data["attempts"] != 2 {
		t.Errorf("unexpected data: %+v", r.Data)
	}
}

func TestTCPExecutorConnectionRefusedIsRetried(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listenerPort(t, ln.Addr())
	ln.Close()

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":        port,
		"retries":     2,
		"retry_delay": 0,
	}))
	if r.ErrorType() != model.ErrTypeConnection {
		t.Fatalf("expected connection_error, got %+v", r)
	}
	if r.Data["attempt"] != 3 || r.Data["attempts"] != 3 {
		t.Fatalf("expected all attempts used, got %+v", r.Data)
	}
}

func TestTCPExecutorImplicitTLSCertExpiry(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()
	port := listenerPort(t, srv.Listener.Addr())

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":              port,
		"tls_mode":          "implicit",
		"verify":            false,
		"check_cert_expiry": true,
	}))
	if r.Status != model.ResultStatusOK {
		t.Fatalf("expected ok, got %+v", r)
	}
	if _, ok := r.Data["cert_days_remaining"].(int); !ok {
		t.Fatalf("expected cert_days_remaining, got %+v", r.Data)
	}

	r = NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":              port,
		"tls_mode":          "implicit",
		"verify":            false,
		"check_cert_expiry": true,
		"min_cert_days":     1000000,
		"retries":           3,
	}))
	if r.ErrorType() != model.ErrTypeCertExpiry || r.Data["severity"] != "warning" {
		t.Fatalf("expected cert_expiry warning, got %+v", r)
	}
	if r.Data["attempt"] != 1 {
		t.Fatalf("cert_expiry must not be retried, got attempt %v", r.Data["attempt"])
	}
}

func TestTCPExecutorTLSVerifyFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":     listenerPort(t, srv.Listener.Addr()),
		"tls_mode": "implicit",
		"retries":  0,
	}))
	if r.ErrorType() != model.ErrTypeTLS {
		t.Fatalf("expected tls_error for untrusted certificate, got %+v", r)
	}
}

// startTLSServer replies to the STARTTLS command and upgrades when reply is positive
func startTLSServer(t *testing.T, reply string) (int, func()) {
	t.Helper()
	certSrv := httptest.NewUnstartedServer(http.NotFoundHandler())
	certSrv.StartTLS()
	cert := certSrv.TLS.Certificates[0]
	certSrv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
					return
				}
				if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
					return
				}
				if reply[0] != '2' {
					return
				}
				tlsConn := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
				_ = tlsConn.Handshake()
				tlsConn.Close()
			}(conn)
		}
	}()
	return listenerPort(t, ln.Addr()), func() { ln.Close() }
}

func TestTCPExecutorStartTLS(t *testing.T) {
	port, stop := startTLSServer(t, "220 Ready to start TLS")
	defer stop()

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":     port,
		"tls_mode": "starttls",
		"verify":   false,
	}))
	if r.Status != model.ResultStatusOK {
		t.Fatalf("expected ok, got %+v", r)
	}
	if _, ok := r.Data["tls_handshake_ms"]; !ok {
		t.Errorf("expected tls_handshake_ms, got %+v", r.Data)
	}
}

func TestTCPExecutorStartTLSRejected(t *testing.T) {
	port, stop := startTLSServer(t, "454 TLS not available")
	defer stop()

	r := NewTCPExecutor().Execute(context.Background(), tcpCheck(map[string]any{
		"port":     port,
		"tls_mode": "starttls",
		"verify":   false,
		"retries":  3,
	}))
	if r.ErrorType() != model.ErrTypeStartTLSRejected {
		t.Fatalf("expected starttls_rejected, got %+v", r)
	}
	if r.Data["attempt"] != 1 {
		t.Fatalf("starttls_rejected must not be retried")
	}
}

func TestIsPositiveStartTLSResponse(t *testing.T) {
	tests := map[string]bool{
		"220 Ready":         true,
		"220":               true,
		"454 not available": false,
		"500 unknown":       false,
		"OK begin TLS":      true,
		"+OK":               true,
		"2.0.0 go ahead":    true,
		"":                  false,
		"BAD command":       false,
	}
	for in, want := range tests {
		if got := IsPositiveStartTLSResponse(in); got != want {
			t.Errorf("IsPositiveStartTLSResponse(%q) = %v, want %v", in, got, want)
		}
	}
}
