package alpaca

import (
	"context"
	"fmt"

	"github.com/enbility/zeroconf/v3"
	log "github.com/sirupsen/logrus"
)

const (
	mdnsService = "_ascomalpaca._tcp"
	mdnsDomain  = "local."
)

// Advertiser publishes the Alpaca API over mDNS so clients that browse
// instead of broadcasting can find it.
type Advertiser struct {
	instance string
	port     int
	devices  []Device
	logger   log.FieldLogger
}

func NewAdvertiser(instance string, port int, devices []Device, logger log.FieldLogger) *Advertiser {
	return &Advertiser{
		instance: instance,
		port:     port,
		devices:  devices,
		logger:   logger.WithField("component", "mdns"),
	}
}

func (a *Advertiser) txt() []string {
	txt := []string{"apiversion=1"}
	for _, dev := range a.devices {
		info := dev.DeviceInfo()
		txt = append(txt, fmt.Sprintf("%s%d=%s", info.Type, info.Number, info.Name))
	}
	return txt
}

// Run advertises until ctx is done.
func (a *Advertiser) Run(ctx context.Context) error {
	server, err := zeroconf.Register(a.instance, mdnsService, mdnsDomain, a.port, a.txt(), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.logger.Infof("Advertising %s on port %d", mdnsService, a.port)

	<-ctx.Done()
	server.Shutdown()
	return nil
}
