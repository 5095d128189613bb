package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

type loadMode string

const (
	// modeRedeem: толпа разных пользователей забирает один купон.
	modeRedeem             loadMode = "redeem"
	modeCheckout           loadMode = "checkout"
	modeCheckoutPay        loadMode = "checkout-pay"
	modeCheckoutPayFulfill loadMode = "checkout-pay-fulfill"
	modeCheckoutPayCancel  loadMode = "checkout-pay-cancel"
)

var loadModes = []loadMode{modeRedeem, modeCheckout, modeCheckoutPay, modeCheckoutPayFulfill, modeCheckoutPayCancel}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	amountMinor int64
	userTag     string
	userID      string
	jwtSecret   string
	jwtIssuer   string
	couponCode  string
	provision   int64
	discount    int64
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to run; with -duration an explicit value caps the run")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 8, "gRPC client connections shared by workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeRedeem), "load mode: "+joinModes(" | "))
	fs.Int64Var(&cfg.amountMinor, "amount-minor", 1000, "order amount in minor units")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "prefix of synthetic user ids (jwt mode)")
	fs.StringVar(&cfg.userID, "user-id", "", "registered user sent as x-user-id when no jwt secret is given")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HS256 secret shared with the service; every scenario gets its own user")
	fs.StringVar(&cfg.jwtIssuer, "jwt-issuer", "flashsale", "issuer of generated tokens")
	fs.StringVar(&cfg.couponCode, "coupon", "FLASH50", "coupon code for redeem mode")
	fs.Int64Var(&cfg.provision, "provision-capacity", 0, "provision the coupon with this capacity first (0 keeps the existing one)")
	fs.Int64Var(&cfg.discount, "provision-discount", 50, "discount of a provisioned coupon")
	fs.StringVar(&cfg.outputPath, "output", "", "write a JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.userID = strings.TrimSpace(cfg.userID)
	cfg.couponCode = strings.TrimSpace(cfg.couponCode)

	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.duration >= 0, "duration must be >= 0")
	switch {
	case c.duration == 0:
		check(c.total > 0, "total must be > 0 when duration is not set")
	case c.totalSet:
		check(c.total > 0, "total must be > 0 when explicitly set with duration")
	}
	check(c.concurrency > 0, "concurrency must be > 0")
	check(c.connections > 0, "connections must be > 0")
	check(c.timeout > 0, "timeout must be > 0")
	check(c.amountMinor >= 0, "amount-minor must be >= 0")
	check(c.provision >= 0, "provision-capacity must be >= 0")
	check(strings.TrimSpace(c.userTag) != "", "user-tag is required")

	if c.mode == modeRedeem {
		check(c.couponCode != "", "coupon is required in redeem mode")
		check(c.jwtSecret != "", "jwt-secret is required in redeem mode: every scenario needs its own user")
	} else {
		check(c.jwtSecret != "" || c.userID != "", "either jwt-secret or user-id is required")
	}
	return errors.Join(errs...)
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	for _, known := range loadModes {
		if mode == known {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unsupported mode %q, want one of %s", value, joinModes(", "))
}

func joinModes(sep string) string {
	names := make([]string, len(loadModes))
	for i, mode := range loadModes {
		names[i] = string(mode)
	}
	return strings.Join(names, sep)
}
