// Command aggregator runs the Aggregator daemon: it serves TDQL
// queries over HTTP, reading and reducing samples out of a tsfile
// Store (and, for ad-hoc file-glob sources, plain archive files).
//
// Grounded on skvoz/aggregation/server/service.py's AggregatorServer
// startup and skvoz/util/service.py's SIGHUP/SIGINT/SIGTERM dispatch,
// reworked onto net/http.Server and os/signal.Notify.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Songmu/replaceablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/skvoz/skvoz-go/internal/aggregator"
	"github.com/skvoz/skvoz-go/internal/aggregator/httpapi"
	"github.com/skvoz/skvoz-go/internal/cfg"
	"github.com/skvoz/skvoz-go/internal/tsfile"
)

func main() {
	configPath := flag.String("config", "/etc/skvoz/aggregator.toml", "path to the aggregator's TOML config file")
	flag.Parse()

	conf, err := cfg.LoadAggregatorConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	logWriter := setupLogging(conf.LogLevel, conf.LogFile)

	store := tsfile.NewStore(conf.DataDir)
	engine := aggregator.NewEngine()
	engine.AddSource("tsfile", aggregator.NewTSFileSource(store))
	engine.AddSource("file", aggregator.NewFileSource())

	srv := &http.Server{Handler: httpapi.NewRouter(engine)}

	listener, err := net.Listen(conf.Listen.Network, conf.Listen.Value)
	if err != nil {
		log.WithError(err).Fatal("failed to bind aggregator listener")
	}

	go func() {
		log.WithField("address", conf.Listen.String()).Info("aggregator listening")
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("aggregator listener failed")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigc {
		switch sig {
		case syscall.SIGHUP:
			log.Info("aggregator reopening log file")
			reopenLog(logWriter, conf.LogFile)
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("aggregator stopping")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.WithError(err).Warn("graceful shutdown failed")
			}
			return
		}
	}
}

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
