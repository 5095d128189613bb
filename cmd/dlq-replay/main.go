// Команда dlq-replay читает DLQ-топик и повторно публикует outbox-события,
// которые relay не смог доставить. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/flashsale/internal/messaging/kafka"
)

const (
	envKafkaBrokers    = "FLASHSALE_KAFKA_BROKERS"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	clientID    string
	sourceTopic string
	// targetTopic пустой: topic выбирается по типу агрегата, как при обычной доставке.
	targetTopic string
	eventType   string
	aggregate   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		exitWith("dlq-replay: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		exitWith("dlq-replay: %v", err)
	}
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	sess, err := connect(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	logger := log.WithFields(log.Fields{
		"component":    "dlq-replay",
		"source_topic": cfg.sourceTopic,
		"mode":         cfg.mode(),
	})
	result, err := newReplayer(cfg, sess.reader, sess.publisher, logger).Run(ctx)
	printSummary(out, cfg, result)
	return err
}

func printSummary(w io.Writer, cfg config, t tally) {
	_, _ = fmt.Fprintf(w, "mode=%s scanned=%d replayed=%d listed=%d skipped=%d\n",
		cfg.mode(), t.scanned, t.replayed, t.listed, t.skipped)
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers string

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $"+envKafkaBrokers+")")
	fs.StringVar(&cfg.clientID, "client-id", "flashsale-dlq-replay", "Kafka client id")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "publish into this topic instead of routing by aggregate")
	fs.StringVar(&cfg.eventType, "event", "", "replay only this domain event type")
	fs.StringVar(&cfg.aggregate, "aggregate", "", "replay only this aggregate type (order, coupon)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max dead letters to scan across partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages instead of listing them")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest dead letters of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)
	cfg.aggregate = strings.TrimSpace(cfg.aggregate)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if len(c.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	}
	switch {
	case c.sourceTopic == "":
		errs = append(errs, errors.New("source-topic is required"))
	case c.targetTopic == c.sourceTopic:
		errs = append(errs, errors.New("target-topic must differ from source-topic"))
	}
	if c.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if c.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return errors.Join(errs...)
}

func parseBrokers(raw string) []string {
	brokers := strings.Split(raw, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return slices.DeleteFunc(brokers, func(b string) bool { return b == "" })
}

func exitWith(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
