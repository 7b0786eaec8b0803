// Command collector runs the Collector daemon: it accepts line-protocol
// samples over TCP/Unix, optionally pre-aggregates them through one or
// more rollups, writes them to per-key append logs, and fans them out
// to configured sinks.
//
// Grounded on skvoz/util/service.py's AbstractService.run (the
// listen/serve/shutdown lifecycle and SIGHUP/SIGINT/SIGTERM dispatch),
// reworked from Python's signal.signal handlers onto os/signal.Notify.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Songmu/replaceablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/archive"
	"github.com/skvoz/skvoz-go/internal/cfg"
	"github.com/skvoz/skvoz-go/internal/collectqueue"
	"github.com/skvoz/skvoz-go/internal/collectserver"
	"github.com/skvoz/skvoz-go/internal/rollup"
	"github.com/skvoz/skvoz-go/internal/sink"
	"github.com/skvoz/skvoz-go/internal/tsfile"
)

func main() {
	configPath := flag.String("config", "/etc/skvoz/collector.toml", "path to the collector's TOML config file")
	flag.Parse()

	conf, err := cfg.LoadCollectorConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logWriter := setupLogging(conf.LogLevel, conf.LogFile)

	store := tsfile.NewStore(conf.DataDir...)
	if conf.ArchiveS3 != nil && conf.ArchiveS3.Bucket != "" {
		up, err := archive.NewS3Uploader(conf.ArchiveS3.Bucket, conf.ArchiveS3.Prefix, conf.DataDir[0])
		if err != nil {
			log.WithError(err).Fatal("failed to set up S3 archive uploader")
		}
		store.ArchiveUploader = up.Upload
	}
	sinks := sink.NewRegistry(conf.SinkConf)
	queue := collectqueue.New(store, sinks)

	for _, rs := range conf.Rollups {
		r, err := rollup.New(rs.Name, rs.Function, rs.Regex, rs.OutFmt, rs.Interval, rs.Wait, rs.Cache,
			func(key string, tsMillis int64, value string) {
				queue.Put(collectqueue.Sample{Key: key, TSMillis: tsMillis, Value: value})
			})
		if err != nil {
			log.WithError(err).WithField("rollup", rs.Name).Fatal("failed to start rollup")
		}
		queue.AddRollup(r)
	}

	go queue.Run()

	servers := make([]*collectserver.Server, 0, len(conf.Listen))
	for _, addr := range conf.Listen {
		srv := collectserver.New(addr.Network, addr.Value, queue)
		servers = append(servers, srv)
		go func(s *collectserver.Server, addr cfg.Address) {
			log.WithField("address", addr.String()).Info("collector listening")
			if err := s.ListenAndServe(); err != nil {
				log.WithError(err).WithField("address", addr.String()).Error("listener exited")
			}
		}(srv, addr)
	}

	shutdown := func() {
		log.Info("collector stopping")
		for _, s := range servers {
			s.Stop()
		}
		queue.Stop()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigc {
		switch sig {
		case syscall.SIGHUP:
			log.Info("collector reloading sinks")
			sinks.Reload()
			sinks.Sinks()
			reopenLog(logWriter, conf.LogFile)
		case syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return
		}
	}
}

// setupLogging points logrus at a replaceablewriter.Writer wrapping
// stderr (or, if configured, a log file), so a later SIGHUP can swap
// the underlying file without restarting the daemon or losing writes
// in flight -- the same trick the teacher uses its own log writer for.
func setupLogging(level, file string) *replaceablewriter.Writer {
	if lvl, err := log.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	w := replaceablewriter.New(os.Stderr)
	log.SetOutput(w)
	reopenLog(w, file)
	return w
}

func reopenLog(w *replaceablewriter.Writer, file string) {
	if file == "" {
		return
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.WithError(err).Warn("failed to open log file, keeping previous output")
		return
	}
	w.Replace(f)
}
