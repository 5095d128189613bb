package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/flashsale/internal/domain"
	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
)

func noEnv(string) string { return "" }

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(""))
	require.Empty(t, parseBrokers(" , "))
}

func TestReadConfig(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=b1:9092,b2:9092", "-limit=5", "-execute", "-event= coupon.granted ", "-aggregate=coupon",
	}, noEnv)
	require.NoError(t, err)
	require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Empty(t, cfg.targetTopic)
	require.Equal(t, "coupon.granted", cfg.eventType)
	require.Equal(t, domain.AggregateCoupon, cfg.aggregate)
	require.Equal(t, 5, cfg.limit)
	require.Equal(t, "execute", cfg.mode())

	cfg, err = readConfig(nil, func(key string) string {
		if key == envKafkaBrokers {
			return "env:9092"
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, []string{"env:9092"}, cfg.brokers)
	require.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
	require.Equal(t, defaultReplayLimit, cfg.limit)
	require.Equal(t, "dry-run", cfg.mode())
}

func TestReadConfig_Rejects(t *testing.T) {
	cases := map[string]struct {
		args    []string
		wantErr string
	}{
		"no brokers":   {wantErr: "kafka brokers are required"},
		"empty source": {args: []string{"-brokers=b:9092", "-source-topic= "}, wantErr: "source-topic is required"},
		"replay loop":  {args: []string{"-brokers=b:9092", "-target-topic=" + kafka.TopicDeadLetterQueue}, wantErr: "must differ"},
		"zero limit":   {args: []string{"-brokers=b:9092", "-limit=0"}, wantErr: "limit"},
		"zero idle":    {args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout"},
		"unknown flag": {args: []string{"-order-topic"}, wantErr: "flag provided but not defined"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readConfig(tc.args, noEnv)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}

	_, err := readConfig([]string{"-limit=0", "-idle-timeout=0s"}, noEnv)
	require.ErrorContains(t, err, "kafka brokers are required")
	require.ErrorContains(t, err, "limit must be > 0")
	require.ErrorContains(t, err, "idle-timeout must be > 0")
}

func TestRun_ClosesSessionAndPrintsSummary(t *testing.T) {
	original := connect
	t.Cleanup(func() { connect = original })

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 5, idleTimeout: 20 * time.Millisecond}

	connect = func(config) (*session, error) { return nil, errors.New("brokers down") }
	require.ErrorContains(t, run(context.Background(), cfg, &bytes.Buffer{}), "brokers down")

	topic := newFakeTopic(t, map[int32][]letterSpec{
		0: {{aggregate: domain.AggregateCoupon, id: "FLASH50", event: domain.EventCouponGranted}},
	})
	var closed []string
	connect = func(config) (*session, error) {
		return &session{reader: topic, closers: []func() error{
			func() error { closed = append(closed, "client"); return nil },
			func() error { closed = append(closed, "consumer"); return nil },
		}}, nil
	}

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))
	require.Equal(t, []string{"consumer", "client"}, closed)
	require.Equal(t, "mode=dry-run scanned=1 replayed=0 listed=1 skipped=0\n", out.String())
}

func TestExitWith(t *testing.T) {
	if os.Getenv("DLQ_REPLAY_EXIT") == "1" {
		exitWith("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestExitWith")
	cmd.Env = append(os.Environ(), "DLQ_REPLAY_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())
}
