// Package discovery advertises a host's data and heartbeat ports over mDNS
// and lets readers find them without knowing the address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/hongjun500/neurostream/pkg/logger"
)

// Service is one discovered host.
type Service struct {
	Instance      string
	Address       string
	DataPort      int
	HeartbeatPort int
	Revision      string
}

// Advertiser answers mDNS queries until shut down.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces instance under service. The heartbeat port and the
// protocol revision travel as TXT records.
func Advertise(instance, service string, dataPort, heartbeatPort int, revision string) (*Advertiser, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = host
	}
	txt := []string{
		"heartbeat=" + strconv.Itoa(heartbeatPort),
		"revision=" + revision,
	}
	zone, err := mdns.NewMDNSService(instance, service, "", "", dataPort, nil, txt)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	logger.L().Sugar().Infow("mdns_advertising", "instance", instance, "service", service, "port", dataPort)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error { return a.server.Shutdown() }

// Lookup queries service for timeout and returns every host that answered.
func Lookup(ctx context.Context, service string, timeout time.Duration) ([]Service, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(service)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		defer close(entries)
		errCh <- mdns.Query(params)
	}()

	var found []Service
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return found, <-errCh
			}
			svc, ok := fromEntry(e)
			if !ok || seen[svc.Instance] {
				continue
			}
			seen[svc.Instance] = true
			logger.L().Sugar().Debugw("mdns_discovered", "instance", svc.Instance, "address", svc.Address, "port", svc.DataPort)
			found = append(found, svc)
		}
	}
}

// First returns the first host answering for service.
func First(ctx context.Context, service string, timeout time.Duration) (Service, error) {
	found, err := Lookup(ctx, service, timeout)
	if len(found) > 0 {
		return found[0], nil
	}
	if err == nil {
		err = fmt.Errorf("discovery: no %s host answered", service)
	}
	return Service{}, err
}

func fromEntry(e *mdns.ServiceEntry) (Service, bool) {
	if e == nil {
		return Service{}, false
	}
	var addr net.IP
	switch {
	case e.AddrV4 != nil:
		addr = e.AddrV4
	case e.AddrV6 != nil:
		addr = e.AddrV6
	default:
		return Service{}, false
	}
	svc := Service{
		Instance:      e.Name,
		Address:       addr.String(),
		DataPort:      e.Port,
		HeartbeatPort: e.Port + 1,
		Revision:      "stream",
	}
	for _, field := range e.InfoFields {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "heartbeat":
			if p, err := strconv.Atoi(v); err == nil {
				svc.HeartbeatPort = p
			}
		case "revision":
			svc.Revision = v
		}
	}
	return svc, true
}
