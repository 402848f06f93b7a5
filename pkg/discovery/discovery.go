// Package discovery announces this node's control surface on the
// local network via mDNS/DNS-SD, so a companion CLI/mobile/web UI can
// find a running node without the operator typing in an address,
// using github.com/brutella/dnssd and a hostname-derived default
// service name.
package discovery

import (
	"context"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type this stack's control surface
// is announced under.
const ServiceType = "_meshnode-ctl._tcp"

// DefaultServiceName returns "<node> on <hostname>", or just "<node>"
// if the hostname can't be read, mirroring dns_sd_common.go's
// dns_sd_default_service_name.
func DefaultServiceName(node string) string {
	hostname, err := os.Hostname()
	if err != nil {
		return node
	}
	hostname, _, _ = strings.Cut(hostname, ".")
	return node + " on " + hostname
}

// Announce publishes the control surface at port under name (falling
// back to DefaultServiceName if name is empty) and returns a stop
// function. The responder runs in a background goroutine until ctx is
// canceled or stop is called.
func Announce(ctx context.Context, name string, port int, logger *log.Logger) (stop func(), err error) {
	if name == "" {
		name = DefaultServiceName("meshnoded")
	}

	cfg := dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, err
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, err
	}

	if _, err := responder.Add(service); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger.Info("dns-sd announcing control surface", "name", name, "type", ServiceType, "port", port)

	go func() {
		if err := responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("dns-sd responder error", "err", err)
		}
	}()

	return cancel, nil
}
