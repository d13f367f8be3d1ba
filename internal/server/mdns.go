package server

import (
	"fmt"
	"log"
	"os"

	"github.com/enbility/zeroconf/v3"
)

const (
	mdnsService = "_hc06ctl._tcp"
	mdnsDomain  = "local."
)

// advertise registers the control server on every interface.
func advertise(instance string, port int, txt []string) (*zeroconf.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "hc06ctl"
		}
		instance = host
	}
	server, err := zeroconf.Register(instance, mdnsService, mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: register %s: %w", mdnsService, err)
	}
	log.Printf("[mdns] advertising %q as %s on port %d", instance, mdnsService, port)
	return server, nil
}

func (s *Server) txtRecords() []string {
	s.cfg.mu.RLock()
	defer s.cfg.mu.RUnlock()
	return []string{
		"path=/ws",
		"api=/api",
		"transport=" + s.cfg.Transport.Type,
	}
}
