package main

import (
	"context"

	"github.com/sablelabs/sable/internal/logging"
	"github.com/sablelabs/sable/internal/metrics"
	"github.com/sablelabs/sable/internal/sable"
	"go.uber.org/zap"
)

func main() {
	go metrics.Run()

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := sable.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create sable app", zap.String("error", err.Error()))
		}

		err = app.Run(ctx)
		if err != nil {
			panic(err)
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
