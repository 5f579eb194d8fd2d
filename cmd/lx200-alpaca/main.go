package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"lx200/pkg/alpaca"
	"lx200/pkg/bus"
	"lx200/pkg/config"
	"lx200/pkg/drivers/lx200"
	"lx200/pkg/drivers/mount_simulator"
	"lx200/pkg/protocol"
	"lx200/templates"
)

// simulatorEndpoint selects the built-in mount simulator.
const simulatorEndpoint = "simulator"

type devices struct {
	mount   *lx200.Mount
	guider  *lx200.Guider
	focuser *lx200.Focuser
	aux     *lx200.Aux
}

func (d devices) alpacaDevices() []alpaca.Device {
	return []alpaca.Device{d.mount, d.focuser, d.aux}
}

func (d devices) busDevices() []bus.Device {
	return []bus.Device{d.mount, d.guider, d.focuser, d.aux}
}

func newDevices(hub *lx200.Hub, store *config.Store, tmpl *template.Template) (devices, error) {
	var (
		d   devices
		err error
	)
	if d.mount, err = lx200.NewMount(0, hub, store, tmpl, log.WithField("device", "mount")); err != nil {
		return d, err
	}
	if d.guider, err = lx200.NewGuider(hub, store, log.WithField("device", "guider")); err != nil {
		return d, err
	}
	if d.focuser, err = lx200.NewFocuser(0, hub, store, log.WithField("device", "focuser")); err != nil {
		return d, err
	}
	if d.aux, err = lx200.NewAux(0, hub, store, log.WithField("device", "aux")); err != nil {
		return d, err
	}
	return d, nil
}

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	log.Info(cfg.Server.Name)

	db, err := bolt.Open(cfg.Database, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	store, err := config.NewStore(db, cfg.Mount)
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// the stored settings win over the file once the setup page saved them
	mountCfg, err := store.GetMountConfig()
	if err != nil {
		return fmt.Errorf("failed to get mount config: %v", err)
	}
	if c.IsSet("endpoint") {
		mountCfg.Endpoint = c.String("endpoint")
		if err := store.SetMountConfig(mountCfg); err != nil {
			return err
		}
	}

	hub := lx200.NewHub(store, log.WithField("component", "hub"))
	if mountCfg.Endpoint == simulatorEndpoint {
		sim, err := newSimulator(db)
		if err != nil {
			return err
		}
		hub.SetDialer(func(int) protocol.Dialer { return sim.Dialer() }, []int{0})

		if addr := c.String("simulator-listen"); addr != "" {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen for simulator clients: %v", err)
			}
			log.Infof("Mount simulator listening on %s", ln.Addr())
			g.Go(func() error { return sim.Serve(ctx, ln) })
		}
	}

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	devs, err := newDevices(hub, store, tmpl)
	if err != nil {
		return fmt.Errorf("failed to create devices: %v", err)
	}

	wsHub := bus.NewWebsocketHub(log.StandardLogger())
	fanout := bus.NewFanout(wsHub)

	var mqttPub *bus.MQTTPublisher
	if cfg.MQTT.Enabled {
		client, err := bus.ConnectMQTT(bus.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		mqttPub = bus.NewMQTTPublisher(client, cfg.MQTT.TopicRoot, log.StandardLogger())
		fanout.Add(mqttPub)
	}

	for _, dev := range devs.busDevices() {
		if err := dev.Attach(fanout); err != nil {
			return err
		}
		wsHub.Serve(dev)
		if mqttPub != nil {
			if err := mqttPub.Serve(dev); err != nil {
				return err
			}
		}
	}
	defer func() {
		for _, dev := range devs.busDevices() {
			if mqttPub != nil {
				mqttPub.Unserve(dev)
			}
			if err := dev.Detach(); err != nil {
				log.Warnf("Failed to detach %s: %v", dev.Name(), err)
			}
		}
	}()

	serverDesc := alpaca.ServerDescription{
		Name:                cfg.Server.Name,
		Manufacturer:        "LX200 Alpaca",
		ManufacturerVersion: "1.0",
		Location:            cfg.Server.Location,
	}
	server := alpaca.NewServer(serverDesc, devs.alpacaDevices(), tmpl)
	server.Handle("/ws", wsHub)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.AddRoutes(),
	}

	g.Go(func() error {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %v", srv.Addr, err)
		}
		return nil
	})

	if cfg.Server.Discovery {
		dr := alpaca.NewDiscoveryResponder("0.0.0.0", cfg.Server.Port, log.WithField("component", "discovery"))
		g.Go(func() error { return dr.Run(ctx) })
	}
	if cfg.Server.MDNS {
		adv := alpaca.NewAdvertiser(cfg.Server.Name, cfg.Server.Port, devs.alpacaDevices(), log.StandardLogger())
		g.Go(func() error {
			if err := adv.Run(ctx); err != nil {
				log.Warnf("mDNS disabled: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("Server stopped")
	return err
}

func newSimulator(db *bolt.DB) (*mount_simulator.Controller, error) {
	simStore, err := mount_simulator.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator store: %v", err)
	}
	simCfg, err := simStore.GetSimulatorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get simulator config: %v", err)
	}
	log.Infof("Using mount simulator (%s %s)", simCfg.Product, simCfg.Firmware)
	return mount_simulator.NewController(simCfg, log.StandardLogger()), nil
}

func main() {
	app := cli.App{
		Name:  "lx200-alpaca",
		Usage: "ASCOM Alpaca server for LX200 family telescope mounts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"LX200_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8090,
				EnvVars: []string{"ALPACA_PORT"},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Aliases: []string{"e"},
				Usage:   "Serial device, host[:port] or \"simulator\"",
				EnvVars: []string{"LX200_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:  "simulator-listen",
				Usage: "Also serve the simulator over TCP on this address",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
