package start

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/fia-cloud/fia/api"
	"github.com/fia-cloud/fia/cmd/cli"
	"github.com/fia-cloud/fia/internal/tracing"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/spf13/cobra"
)

const (
	usage   = "start"
	short   = "Start a fia admission service"
	long    = "This command starts the admission API, the expiry sweeper and the anomaly rollup schedule"
	example = "fia start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "serve"},
		Example:    example,
		RunE:       start,
	}
)

var cancel context.CancelFunc

func start(cmd *cobra.Command, args []string) error {
	signalChan := make(chan os.Signal, 1)

	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("gracefully shutting down", "signal", s.String())
				shutdown()
			}
		}
	}()

	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancelFunc := context.WithCancel(context.Background())
	cancel = cancelFunc
	defer shutdown()

	log.Info("migrating database")
	eng, err := cli.Engine()
	if err != nil {
		log.Fatal("engine startup failure", "error", err)
	}

	vars := env.Variables()
	stopTracing, err := tracing.Init(ctx, tracing.Options{
		Service:  "fia",
		Exporter: vars.TraceExporter,
		Endpoint: vars.TraceEndpoint,
		Ratio:    vars.TraceSampleRatio,
	})
	if err != nil {
		log.Fatal("tracing configuration failure", "error", err)
	}
	defer func() {
		if err := stopTracing(context.Background()); err != nil {
			log.Error("tracing shutdown failure", "error", err)
		}
	}()

	errs := make(chan error, 2)

	go func() {
		log.Info("spinning up api")
		errs <- api.Start(ctx, eng)
	}()

	go func() {
		log.Info("launching background loops")
		errs <- eng.Run(ctx)
	}()

	// the first loop to stop takes the other one down with it
	err = <-errs
	shutdown()
	if second := <-errs; err == nil {
		err = second
	}
	return err
}

func shutdown() {
	if cancel != nil {
		cancel()
	}
	if err := api.Shutdown(); err != nil {
		log.Error("api shutdown failure", "error", err)
	}
}
