package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/ChristianF88/heimdall/command"
	"github.com/ChristianF88/heimdall/config"
	"github.com/ChristianF88/heimdall/jail"
	"github.com/ChristianF88/heimdall/logging"
	"github.com/ChristianF88/heimdall/observer"
	"github.com/ChristianF88/heimdall/shipper"
	"github.com/ChristianF88/heimdall/version"
)

// parseDate attempts to parse the build date
func parseDate(d string) time.Time {
	t, err := time.Parse(time.RFC3339, d)
	if err != nil {
		return time.Now()
	}
	return t
}

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the configuration file",
	}
	allFlag = &cli.BoolFlag{
		Name:    "all",
		Aliases: []string{"a"},
		Usage:   "Read observed files from the beginning",
	}
	simulateFlag = &cli.BoolFlag{
		Name:    "simulate",
		Aliases: []string{"s"},
		Usage:   "Log jail/unjail commands instead of executing them",
	}
)

var App = &cli.App{
	Name:     "heimdall",
	Usage:    "Watch log files and jail IPs that trip attack signatures",
	Version:  version.Version,
	Compiled: parseDate(version.Date),
	Flags: []cli.Flag{
		configFlag,
		allFlag,
		simulateFlag,
	},
	Action: runDaemon,
}

func runDaemon(c *cli.Context) error {
	configPath := c.String("config")
	if configPath == "" {
		path, found := config.FindDefault()
		if !found {
			return cli.Exit("Error: Could find no configuration file.", 1)
		}
		configPath = path
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	log, err := logging.Init(cfg.LogFile)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	defer log.Sync()

	log.Infof("Initialized successfully.")

	readFromStart := c.Bool("all")
	simulate := c.Bool("simulate")
	if readFromStart {
		log.Infof("Reading files from start.")
	}
	if simulate {
		log.Infof("Simulation mode activated.")
	}

	registry := jail.NewRegistry(
		command.NewExecutor(log, simulate),
		cfg.CommandJail,
		cfg.CommandUnjail,
		cfg.JailTime,
		log,
	)

	if cfg.EventSink != "" {
		log.Infof("Forwarding jail events to %s.", cfg.EventSink)
		sink := shipper.New(cfg.EventSink, log)
		defer sink.Close()
		registry.SetNotifier(sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hits := make(chan observer.Hit, 1024)
	var tailers sync.WaitGroup
	for _, obs := range cfg.Observers {
		log.Infof("Starting observer %s.", obs.Name)
		if err := obs.Start(ctx, &tailers, hits, log, readFromStart, observer.DefaultPollInterval); err != nil {
			stop()
			log.Errorf("%v", err)
			return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
		}
	}

	// Once every tailer has exited the hit channel closes and the registry
	// drains whatever is left before returning.
	go func() {
		tailers.Wait()
		close(hits)
	}()

	registry.Run(ctx, hits)
	log.Infof("Shutting down.")
	return nil
}
