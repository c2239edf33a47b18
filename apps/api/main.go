package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"sync"

	"github.com/trezcool/fieldops/appfs"
	echoapi "github.com/trezcool/fieldops/apps/api/echo"
	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/user"
)

func main() {
	di := flag.String("di", "dig", "how dependencies are wired: dig | manual")
	flag.Parse()

	switch *di {
	case "dig":
		startWithDig()
	case "manual":
		startManual()
	default:
		log.Fatalf("unknown -di %q", *di)
	}
}

// app is what both wirings hand over to run.
type app struct {
	conf       *core.Config
	logger     core.Logger
	server     *echoapi.Server
	dispatcher *schedule.Dispatcher
	resetter   *schedule.UsageResetter
}

func run(a app) {
	conf, logger := a.conf, a.logger

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(conf, appfs.FS, logger)
	user.LoadCommonPasswords(appfs.FS, logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Workers

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	if conf.Scheduler.Embedded {
		workers.Add(2)
		go func() {
			defer workers.Done()
			a.dispatcher.Run(workersCtx)
		}()
		go func() {
			defer workers.Done()
			a.resetter.Run(workersCtx)
		}()
	}

	// =========================================================================
	// Start API Service

	go func() {
		a.server.Start()
	}()

	// =========================================================================
	// Shutdown

	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	select {
	case err := <-a.server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-a.server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shut down and shed load
		if err := a.server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = a.server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
