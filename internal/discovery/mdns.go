package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// ServiceName is the mDNS service type JP2P nodes advertise.
const ServiceName = "_jp2p._tcp"

const (
	domain   = "local."
	txtName  = "name="
	settle   = 2 * time.Second
	interval = 100 * time.Millisecond
)

// Service is a node found on the local network.
type Service struct {
	Name    string
	Address string
	Port    int
}

// MDNSDiscovery advertises this node and browses for others over mDNS.
type MDNSDiscovery struct {
	serviceName string
	logger      *zap.Logger
	server      *zeroconf.Server
	mutex       sync.Mutex
	isRunning   bool
}

// NewMDNSDiscovery creates a discovery service for serviceName.
func NewMDNSDiscovery(serviceName string, logger *zap.Logger) *MDNSDiscovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MDNSDiscovery{
		serviceName: serviceName,
		logger:      logger,
	}
}

// StartAdvertising announces this node under its peer name.
func (d *MDNSDiscovery) StartAdvertising(peerName string, port int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isRunning {
		return nil
	}

	server, err := zeroconf.Register(
		"jp2p-"+peerName,
		d.serviceName,
		domain,
		port,
		[]string{"txtv=1", txtName + peerName},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	d.server = server
	d.isRunning = true
	d.logger.Info("mDNS advertisement started", zap.String("service", d.serviceName), zap.Int("port", port))
	return nil
}

// StopAdvertising withdraws the announcement.
func (d *MDNSDiscovery) StopAdvertising() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.server != nil {
		d.server.Shutdown()
		d.server = nil
		d.isRunning = false
		d.logger.Info("mDNS advertisement stopped")
	}
}

// DiscoverPeers browses for other nodes, skipping the one named self. It
// stops when ctx is done or a short while after the first node shows up.
func (d *MDNSDiscovery) DiscoverPeers(ctx context.Context, self string) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, d.serviceName, domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	var (
		services  []Service
		seen      = make(map[string]bool)
		firstSeen time.Time
		ticker    = time.NewTicker(interval)
	)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return services, nil
			}
			svc, ok := toService(entry)
			if !ok || svc.Name == self || seen[svc.Name] {
				continue
			}
			seen[svc.Name] = true
			services = append(services, svc)
			d.logger.Debug("found peer", zap.String("peer", svc.Name), zap.String("addr", svc.Address), zap.Int("port", svc.Port))

			if firstSeen.IsZero() {
				firstSeen = time.Now()
			}

		case <-ticker.C:
			if !firstSeen.IsZero() && time.Since(firstSeen) > settle {
				return services, nil
			}

		case <-ctx.Done():
			return services, nil
		}
	}
}

func toService(entry *zeroconf.ServiceEntry) (Service, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return Service{}, false
	}
	name := PeerNameFromTXT(entry.Text)
	if name == "" {
		return Service{}, false
	}
	return Service{
		Name:    name,
		Address: entry.AddrIPv4[0].String(),
		Port:    entry.Port,
	}, true
}

// PeerNameFromTXT extracts the peer name from a service's TXT records.
func PeerNameFromTXT(records []string) string {
	for _, r := range records {
		if strings.HasPrefix(r, txtName) {
			return strings.TrimPrefix(r, txtName)
		}
	}
	return ""
}
