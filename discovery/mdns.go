package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_gomint._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Config controls how the gateway advertises itself on the local network.
type Config struct {
	Service string
	Domain  string
	Version int

	InstanceName string
	Port         int
	WSPath       string
	TCPPort      int

	Logger *zap.Logger

	registerFn registerFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

func (c Config) txtRecords() []string {
	txt := []string{"version=" + strconv.Itoa(c.Version)}
	if c.WSPath != "" {
		txt = append(txt, "ws_path="+c.WSPath)
	}
	if c.TCPPort > 0 {
		txt = append(txt, "tcp_port="+strconv.Itoa(c.TCPPort))
	}
	return txt
}

// Advertiser publishes the gateway endpoint via mDNS.
type Advertiser struct {
	server *zeroconf.Server
	logger *zap.Logger
}

// StartAdvertiser registers the gateway service record.
func StartAdvertiser(config Config) (*Advertiser, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	server, err := cfg.registerFn(cfg.InstanceName, cfg.Service, cfg.Domain, cfg.Port, cfg.txtRecords(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	cfg.Logger.Info("advertising gateway",
		zap.String("instance", cfg.InstanceName),
		zap.String("service", cfg.Service),
		zap.Int("port", cfg.Port),
	)
	return &Advertiser{server: server, logger: cfg.Logger}, nil
}

// Stop stops advertising.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("stopped advertising gateway")
}

// PortFromAddress extracts the numeric port from a listen address.
func PortFromAddress(address string) (int, error) {
	_, portText, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("split listen address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", portText, err)
	}
	return port, nil
}
