package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/cashier/internal/bootstrap"
	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/domain/payment"
	"github.com/cassiomorais/cashier/internal/eventbus"
	"github.com/cassiomorais/cashier/internal/infrastructure/config"
	"github.com/cassiomorais/cashier/internal/invoker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("cashier", pflag.ContinueOnError)
	channel := flags.String("channel", "mock", "payment channel: wechat, alipay, stripe or mock")
	orderID := flags.String("order-id", "", "merchant order id (generated when empty)")
	amount := flags.Float64("amount", 0.01, "amount in major currency units")
	currency := flags.String("currency", "", "ISO 4217 currency")
	description := flags.String("description", "", "order description")
	noPoll := flags.Bool("no-poll", false, "return after the first result instead of polling")
	flags.String("gateway.base_url", "", "merchant backend base URL")
	flags.String("invoker.type", "", "force an invoker: uniapp, alipay-mini, wechat-mini, bridge, web")
	flags.String("observability.log_level", "", "trace, debug, info, warn, error or disabled")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "cashier-cli",
		bootstrap.WithEnvironment(invoker.Environment{Browser: consoleBrowser{out: os.Stdout}}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		return 1
	}
	defer app.Close(context.Background())

	eventbus.On(app.Cashier.Bus(), eventbus.StatusChange, func(e eventbus.StatusChangeEvent) {
		app.Logger.Debug().Str("status", string(e.Status)).Msg("Status changed")
	})

	params := payment.PayParams{
		OrderID:     *orderID,
		Amount:      payment.MinorFromMajor(*amount),
		Currency:    *currency,
		Description: *description,
	}
	if params.OrderID == "" {
		params.OrderID = fmt.Sprintf("CLI-%d", time.Now().UnixNano())
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if cfg.Observability.EnableMetrics {
		srv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})}
		g.Go(func() error {
			app.Logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var final payment.PayResult
	g.Go(func() error {
		defer close(done)
		res, err := pay(gctx, app, payment.Channel(*channel), params, !*noPoll)
		final = res
		return err
	})

	if err := g.Wait(); err != nil && !domainErrors.IsSilent(err) {
		app.Logger.Error().Err(err).Msg("Payment failed")
	}

	fmt.Printf("order %s: %s", params.OrderID, final.Status)
	if final.TransactionID != "" {
		fmt.Printf(" (transaction %s)", final.TransactionID)
	}
	if final.Message != "" {
		fmt.Printf(": %s", final.Message)
	}
	fmt.Println()

	if final.Status == payment.StatusSuccess || (*noPoll && !final.Status.IsTerminal() && final.Status != "") {
		return 0
	}
	return 1
}

func pay(ctx context.Context, app *bootstrap.App, channel payment.Channel, params payment.PayParams, poll bool) (payment.PayResult, error) {
	res, err := app.Cashier.Execute(ctx, channel, params)
	if err != nil {
		return res, err
	}
	if res.Action != nil {
		switch res.Action.Type {
		case payment.ActionQRCode:
			fmt.Printf("scan to pay: %s\n", res.Action.Value)
		case payment.ActionURLJump:
			fmt.Printf("continue at: %s\n", res.Action.Value)
		}
	}
	if res.Status.IsTerminal() || !poll {
		return res, nil
	}

	sess, err := app.Cashier.StartPolling(ctx, channel, params.OrderID)
	if err != nil {
		return res, err
	}
	return sess.Wait(ctx)
}
