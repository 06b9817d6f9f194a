package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
	"github.com/vinted/ilo-monitor/internal/collector"
	"github.com/vinted/ilo-monitor/internal/command"
	"github.com/vinted/ilo-monitor/internal/config"
	"github.com/vinted/ilo-monitor/internal/metric"
	"github.com/vinted/ilo-monitor/internal/normalize"
	"github.com/vinted/ilo-monitor/internal/output"
	"github.com/vinted/ilo-monitor/internal/source"
	"github.com/vinted/ilo-monitor/pkg/redis"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Separate kingpin instance, node exporter registers its own flags on
	// kingpin.CommandLine.
	kp := kingpin.New("ilo-monitor", "Collects HP iLO and local hardware health for telegraf")

	var (
		configPath   = kp.Flag("config", "Target configuration file (.json, .jsonc, .yaml, .toml).").Short('c').Default("ilo_config.json").String()
		host         = kp.Flag("host", "Single iLO hostname to monitor.").String()
		username     = kp.Flag("username", "iLO username.").Short('u').String()
		password     = kp.Flag("password", "iLO password.").Short('p').Envar("ILO_MONITOR_PASSWORD").String()
		iloVersion   = kp.Flag("version", "iLO generation of --host.").Short('v').Default(config.DefaultVersion).Enum("4", "5")
		local        = kp.Flag("local", "Monitor the local host directly, bypassing iLO.").Bool()
		outputFormat = kp.Flag("output", "Output format.").Short('o').Default(output.FormatTelegraf).Enum(output.Formats...)
		verbose      = kp.Flag("verbose", "Tag records with the sources they shadowed.").Bool()
		selfMetrics  = kp.Flag("collector.self-metrics", "Emit per-category collection statistics.").Bool()
		parallelism  = kp.Flag("parallelism", "Targets collected concurrently (default ILO_MONITOR_PARALLELISM or 4).").Int()
		redisChannel = kp.Flag("redis.channel", "Publish every block on this Redis channel, address from REDIS_ADDRESS.").String()
		redisTTL     = kp.Flag("redis.latest-ttl", "Also keep the latest block of each host in Redis for this long, 0 disables.").Default("0s").Duration()
		natsURL      = kp.Flag("nats.url", "Publish every block to this NATS server.").String()
		natsSubject  = kp.Flag("nats.subject", "NATS subject prefix, the host is appended (default ILO_MONITOR_NATS_SUBJECT or ilo.metrics).").String()
		sysPath      = kp.Flag("path.sysfs", "sysfs mountpoint.").Default(sysfs.DefaultMountPoint).String()
		procPath     = kp.Flag("path.procfs", "procfs mountpoint.").Default(procfs.DefaultMountPoint).String()
		debug        = kp.Flag("debug", "Shortcut for --log.level=debug.").Bool()
	)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(kp, promslogConfig)
	kp.HelpFlag.Short('h')
	kp.UsageWriter(os.Stdout)
	kingpin.MustParse(kp.Parse(os.Args[1:]))

	if *debug {
		if err := promslogConfig.Level.Set("debug"); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	logger := promslog.New(promslogConfig)
	settings := config.LoadSettings(logger)

	file, targets, err := config.Resolve(logger, config.Flags{
		ConfigPath: *configPath,
		Host:       *host,
		Username:   *username,
		Password:   *password,
		Version:    *iloVersion,
		Local:      *local,
	})
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		return 1
	}

	vocabulary, err := file.Vocabulary()
	if err != nil {
		logger.Error("Invalid status aliases", "error", err)
		return 1
	}
	priority, err := file.PriorityOverrides()
	if err != nil {
		logger.Error("Invalid priority", "error", err)
		return 1
	}

	formatter, err := output.NewFormatter(*outputFormat)
	if err != nil {
		logger.Error("Invalid output format", "error", err)
		return 1
	}

	withSelfMetrics := *selfMetrics || config.SelfMetricsEnabled(logger)
	c := collector.New(logger, normalize.New(vocabulary, logger), collector.Config{
		Verbose:       *verbose,
		SelfMetrics:   withSelfMetrics,
		SourceTimeout: settings.SourceTimeout,
	})
	if prometheusFormatter, ok := formatter.(output.PrometheusFormatter); ok && withSelfMetrics {
		prometheusFormatter.Collectors = append(prometheusFormatter.Collectors, c.Stats())
		formatter = prometheusFormatter
	}

	if *redisChannel == "" {
		*redisChannel = settings.RedisChannel
	}
	if *natsSubject == "" {
		*natsSubject = settings.NATSSubject
	}
	sinks := openSinks(logger, *redisChannel, *redisTTL, *natsURL, *natsSubject)
	defer func() {
		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				logger.Warn("Failed to close sink", "sink", sink.Name(), "error", err)
			}
		}
	}()

	limit := settings.Parallelism
	if *parallelism > 0 {
		limit = *parallelism
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var localReaders []source.Reader
	for _, target := range targets {
		if target.LocalMode {
			localReaders = collector.LocalReaders(logger, localOptions(logger, settings, *sysPath, *procPath))
			break
		}
	}

	stream := output.NewStream(os.Stdout)
	batch, batched := formatter.(output.BatchFormatter)
	sets := make([]*metric.Set, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, target := range targets {
		g.Go(func() error {
			set := c.Collect(ctx, buildTarget(logger, target, localReaders, priority, file.DisabledSources))
			sets[i] = set

			block, err := formatter.Format(set)
			if err != nil {
				logger.Error("Failed to format metrics", "target", target.Name(), "error", err)
				return nil
			}
			_ = output.PublishAll(ctx, logger, sinks, target.Name(), block)

			if batched {
				return nil
			}
			if err := stream.WriteBlock(block); err != nil {
				logger.Error("Failed to write metrics", "target", target.Name(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if batched {
		block, err := batch.FormatBatch(sets)
		if err != nil {
			logger.Error("Failed to format metrics", "error", err)
			return 0
		}
		if err := stream.WriteBlock(block); err != nil {
			logger.Error("Failed to write metrics", "error", err)
		}
	}

	return 0
}

func buildTarget(logger *slog.Logger, target config.Target, localReaders []source.Reader, priority map[metric.Category][]string, disabled []string) collector.Target {
	version := string(target.Version)
	if target.LocalMode {
		return collector.Target{
			Host:    target.Name(),
			Version: version,
			Readers: localReaders,
			Plan:    collector.DefaultLocalPlan().WithOverrides(priority, disabled),
		}
	}

	// priority lists local tools, a remote target only honours disabled sources
	return collector.Target{
		Host:    target.Name(),
		Version: version,
		Readers: collector.RemoteReaders(logger.With("target", target.Name()), version, target.Remote()),
		Plan:    collector.DefaultRemotePlan(version).WithOverrides(nil, disabled),
	}
}

func localOptions(logger *slog.Logger, settings config.Settings, sysPath, procPath string) collector.LocalOptions {
	options := collector.LocalOptions{
		Runner: command.NewExecRunner(logger, command.Config{
			Timeout:        settings.CommandTimeout,
			MaxOutputBytes: settings.CommandMaxOutputBytes,
		}),
		ProcPath: procPath,
		SysPath:  sysPath,
		NVML:     nvml.New(),
	}

	// node exporter collectors are configured through global kingpin flags
	if _, err := kingpin.CommandLine.Parse([]string{
		"--collector.disable-defaults",
		"--collector.hwmon",
		"--path.sysfs=" + sysPath,
		"--path.procfs=" + procPath,
	}); err != nil {
		logger.Warn("Failed to configure node exporter hwmon collector", "error", err)
		return options
	}

	gatherer, err := source.NewNodeHwmonGatherer(logger)
	if err != nil {
		logger.Warn("Failed to create hwmon collector", "error", err)
		return options
	}
	options.Hwmon = gatherer
	return options
}

func openSinks(logger *slog.Logger, redisChannel string, redisTTL time.Duration, natsURL, natsSubject string) []output.Sink {
	var sinks []output.Sink

	if redisChannel != "" {
		client, err := redis.NewClient()
		if err != nil {
			logger.Warn("Redis sink disabled", "error", err)
		} else {
			sinks = append(sinks, output.NewRedisSink(client, redisChannel, redisTTL))
		}
	}

	if natsURL != "" {
		sink, err := output.NewNATSSink(natsURL, natsSubject)
		if err != nil {
			logger.Warn("NATS sink disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}

	return sinks
}
