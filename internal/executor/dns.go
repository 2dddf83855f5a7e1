package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/miekg/dns"
)

var (
	ErrNXDomain = errors.New("domain does not exist")
	ErrNoAnswer = errors.New("no answer")
)

// DNSAnswer is the structured outcome of one DNS query
type DNSAnswer struct {
	Records  []string
	Metadata map[string]any
}

// Resolver resolves a domain according to a dns check configuration
type Resolver interface {
	Query(ctx context.Context, domain string, cfg model.DNSConfig) (DNSAnswer, error)
}

// MiekgResolver resolves through github.com/miekg/dns
type MiekgResolver struct {
	// ResolvConf is read when a check names no dns_server
	ResolvConf string
}

// Query sends one query, falling back to TCP when the UDP answer is truncated
func (r *MiekgResolver) Query(ctx context.Context, domain string, cfg model.DNSConfig) (DNSAnswer, error) {
	qtype, ok := dns.StringToType[cfg.QueryType]
	if !ok {
		return DNSAnswer{}, fmt.Errorf("unsupported query type: %s", cfg.QueryType)
	}

	server, err := r.server(cfg)
	if err != nil {
		return DNSAnswer{}, err
	}

	client := &dns.Client{Timeout: cfg.TimeoutDuration()}
	if cfg.SourceIP != "" {
		client.Dialer = &net.Dialer{
			Timeout:   cfg.TimeoutDuration(),
			LocalAddr: &net.UDPAddr{IP: net.ParseIP(cfg.SourceIP)},
		}
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	in, _, err := client.ExchangeContext(ctx, msg, server)
	if err == nil && in.Truncated {
		client.Net = "tcp"
		if cfg.SourceIP != "" {
			client.Dialer.LocalAddr = &net.TCPAddr{IP: net.ParseIP(cfg.SourceIP)}
		}
		in, _, err = client.ExchangeContext(ctx, msg, server)
	}
	if err != nil {
		return DNSAnswer{}, err
	}

	if in.Rcode == dns.RcodeNameError {
		return DNSAnswer{}, ErrNXDomain
	}
	if in.Rcode != dns.RcodeSuccess {
		return DNSAnswer{}, fmt.Errorf("query failed with rcode %s", dns.RcodeToString[in.Rcode])
	}

	var records []string
	for _, rr := range in.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		records = append(records, recordText(rr))
	}
	if len(records) == 0 {
		return DNSAnswer{}, ErrNoAnswer
	}

	dnsServer := cfg.DNSServer
	if dnsServer == "" {
		dnsServer = "system"
	}
	metadata := map[string]any{
		"response_code": dns.RcodeToString[in.Rcode],
		"questions":     []string{fmt.Sprintf("%s IN %s", dns.Fqdn(domain), cfg.QueryType)},
		"rrset":         append([]string(nil), records...),
		"dns_server":    dnsServer,
	}
	if cfg.SourceIP != "" {
		metadata["source_address"] = cfg.SourceIP
	}
	return DNSAnswer{Records: records, Metadata: metadata}, nil
}

func (r *MiekgResolver) server(cfg model.DNSConfig) (string, error) {
	if cfg.DNSServer != "" {
		return net.JoinHostPort(cfg.DNSServer, "53"), nil
	}
	path := r.ResolvConf
	if path == "" {
		path = "/etc/resolv.conf"
	}
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read resolver configuration: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("no nameservers configured")
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

func recordText(rr dns.RR) string {
	switch v := rr.(type) {
	case *dns.A:
		return v.A.String()
	case *dns.AAAA:
		return v.AAAA.String()
	case *dns.MX:
		return v.Mx
	case *dns.TXT:
		return strings.Join(v.Txt, " ")
	case *dns.CNAME:
		return v.Target
	case *dns.NS:
		return v.Ns
	case *dns.PTR:
		return v.Ptr
	case *dns.SOA:
		return v.Ns + " " + v.Mbox + " " + strconv.FormatUint(uint64(v.Serial), 10)
	default:
		return strings.TrimPrefix(rr.String(), rr.Header().String())
	}
}

// DNSExecutor checks that a domain resolves to one of the expected addresses
type DNSExecutor struct {
	resolver Resolver
}

// NewDNSExecutor creates a DNS executor; a nil resolver uses MiekgResolver
func NewDNSExecutor(resolver Resolver) *DNSExecutor {
	if resolver == nil {
		resolver = &MiekgResolver{}
	}
	return &DNSExecutor{resolver: resolver}
}

// Execute executes a dns check
func (e *DNSExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseDNSConfig(check.Data)
	if err != nil {
		return configError(check, err)
	}

	start := time.Now()
	answer, err := e.resolver.Query(ctx, check.URL, cfg)
	if err != nil {
		switch {
		case errors.Is(err, ErrNXDomain):
			return model.NewErrorResult(check.CheckID, model.ErrTypeNXDomain, fmt.Sprintf("Domain %s does not exist", check.URL))
		case errors.Is(err, ErrNoAnswer):
			return model.NewErrorResult(check.CheckID, model.ErrTypeNoAnswer, fmt.Sprintf("No answer received for %s", check.URL))
		case isTimeout(err):
			return model.NewErrorResult(check.CheckID, model.ErrTypeTimeout, fmt.Sprintf("DNS query timed out for %s", check.URL))
		default:
			return model.NewErrorResult(check.CheckID, model.ErrTypeUnexpected, err.Error())
		}
	}
	queryTimeMs := time.Since(start).Milliseconds()

	data := map[string]any{"query_time_ms": queryTimeMs}
	for k, v := range answer.Metadata {
		data[k] = v
	}

	if !anyMatch(answer.Records, cfg.ExpectedIPs) {
		data["error_type"] = model.ErrTypeResolutionMismatch
		data["error_msg"] = fmt.Sprintf("%s resolved to none of the expected addresses", check.URL)
		data["expected"] = cfg.ExpectedIPs
		data["actual"] = answer.Records
		return model.NewResult(check.CheckID, model.ResultStatusError, data)
	}

	data["resolved_ips"] = answer.Records
	return model.NewResult(check.CheckID, model.ResultStatusOK, data)
}

// Close is a no-op; the executor holds no resources
func (e *DNSExecutor) Close() error { return nil }

func anyMatch(resolved, expected []string) bool {
	want := make(map[string]bool, len(expected))
	for _, ip := range expected {
		want[ip] = true
	}
	for _, ip := range resolved {
		if want[ip] {
			return true
		}
	}
	return false
}
