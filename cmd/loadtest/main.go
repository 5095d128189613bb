// Команда loadtest гоняет сценарии распродажи против запущенного сервиса и
// проверяет, что купон не выдан сверх ёмкости.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	flashsalev1 "github.com/vladislavdragonenkov/flashsale/api/flashsale/v1"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fail("invalid config: %v", err)
	}

	clients, closeAll, err := dial(cfg)
	if err != nil {
		fail("dial %s: %v", cfg.addr, err)
	}
	defer closeAll()

	result, err := run(context.Background(), cfg, clients)
	if err != nil {
		fail("load test failed: %v", err)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("write report: %v", err)
		}
	}
	if result.FailedScenarios > 0 || (result.Coupon != nil && result.Coupon.Oversold) {
		closeAll()
		os.Exit(1)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// dial открывает cfg.connections независимых соединений: один HTTP/2-канал
// упирается в лимит конкурентных стримов раньше сервиса.
func dial(cfg config) ([]flashsalev1.FlashSaleServiceClient, func(), error) {
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	closeAll := func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
		conns = conns[:0]
	}

	clients := make([]flashsalev1.FlashSaleServiceClient, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		conns = append(conns, conn)
		clients = append(clients, flashsalev1.NewFlashSaleServiceClient(conn))
	}
	return clients, closeAll, nil
}

// run раздаёт сценарии воркерам по кругу клиентов и собирает отчёт.
func run(ctx context.Context, cfg config, clients []flashsalev1.FlashSaleServiceClient) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}
	admin := clients[0]
	if cfg.mode == modeRedeem && cfg.provision > 0 {
		if err := provisionCoupon(ctx, admin, cfg); err != nil {
			return report{}, err
		}
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		dispatchJobs(groupCtx, jobs, cfg)
		return nil
	})
	for worker := range cfg.concurrency {
		client := clients[worker%len(clients)]
		group.Go(func() error {
			for index := range jobs {
				// провал сценария уже записан в col и не останавливает прогон
				_ = runScenario(groupCtx, client, cfg, index, runID, col)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return report{}, err
	}

	result := col.buildReport(startedAt, time.Since(startedAt))
	if cfg.mode != modeRedeem {
		return result, nil
	}
	coupon, err := couponSummary(ctx, admin, cfg, col)
	if err != nil {
		return result, err
	}
	result.Coupon = coupon
	return result, nil
}

// dispatchJobs выдаёт номера сценариев, пока не достигнут total или не
// истёк duration; закрывает jobs при выходе.
func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	capped := cfg.duration <= 0 || cfg.totalSet

	for index := 0; !capped || index < cfg.total; index++ {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- index:
		}
	}
}

func provisionCoupon(ctx context.Context, client flashsalev1.FlashSaleServiceClient, cfg config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	_, err := client.ProvisionCoupon(ctx, &flashsalev1.ProvisionCouponRequest{
		Code:     cfg.couponCode,
		Discount: cfg.discount,
		Capacity: cfg.provision,
	})
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.AlreadyExists:
		_, _ = fmt.Fprintf(os.Stderr, "coupon %s already provisioned, using existing counters\n", cfg.couponCode)
		return nil
	default:
		return fmt.Errorf("provision coupon %s: %w", cfg.couponCode, err)
	}
}

// couponSummary сверяет счётчик сервиса и число успешных Redeem с ёмкостью.
func couponSummary(ctx context.Context, client flashsalev1.FlashSaleServiceClient, cfg config, col *collector) (*couponReport, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	resp, err := client.GetCoupon(ctx, &flashsalev1.GetCouponRequest{Code: cfg.couponCode})
	if err != nil {
		return nil, fmt.Errorf("get coupon %s: %w", cfg.couponCode, err)
	}
	summary := &couponReport{
		Code:            resp.Coupon.Code,
		Capacity:        resp.Coupon.Capacity,
		GrantedByServer: resp.Coupon.Granted,
		GrantedObserved: col.codeCount("Redeem", codes.OK),
	}
	summary.Oversold = max(summary.GrantedByServer, summary.GrantedObserved) > summary.Capacity
	return summary, nil
}
