package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"buybox-watcher/internal/router"
)

// Simulate 将本地 payload 文件当作一条队列消息跑完整个处理链路。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.PayloadPath == "" {
		return errors.New("--payload is required")
	}

	body, err := os.ReadFile(opts.PayloadPath)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot simulate")
	}
	defer closeStore()

	rtr := a.newRouter(store)
	result := rtr.Handle(ctx, body)

	fmt.Fprintf(os.Stdout, "outcome: %s\n", result.Outcome)
	if result.Reason != "" {
		fmt.Fprintf(os.Stdout, "reason: %s\n", result.Reason)
	}
	if result.Outcome == router.OutcomeDeferred {
		return errors.New("simulated message was deferred")
	}
	return nil
}
