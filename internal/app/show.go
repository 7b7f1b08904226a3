package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"buybox-watcher/internal/storage"
)

// Show prints recent buybox activity followed by recent notification records.
// With Unviewed set it claims pending activity rows instead, marking them
// viewed so a second invocation returns nothing.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show activity")
	}
	defer closeStore()

	var activities []storage.BuyboxActivity
	if opts.Unviewed {
		activities, err = store.ClaimUnviewedActivities(ctx, opts.Limit)
	} else {
		activities, err = store.ListRecentActivities(ctx, opts.Limit)
	}
	if err != nil {
		return err
	}

	if len(activities) == 0 {
		fmt.Fprintln(os.Stdout, "no buybox activity found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tListing\tChannel\tEvent\tOld landed\tNew landed\tViewed")
		for _, activity := range activities {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
				activity.EventAt.UTC().Format(time.RFC3339),
				activity.ListingID,
				activity.Channel,
				activity.Event,
				formatNullableDecimal(activity.OldLandedPrice),
				formatNullableDecimal(activity.NewLandedPrice),
				activity.Viewed,
			)
		}
		writer.Flush()
	}

	if opts.Unviewed {
		return nil
	}

	notifications, err := store.ListRecentNotifications(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(notifications) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Received (UTC)\tEvent ID\tStatus\tReason")
	for _, n := range notifications {
		reason := ""
		if n.StatusReason != nil {
			reason = sanitizeInline(*n.StatusReason)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			n.CreatedAt.UTC().Format(time.RFC3339),
			n.EventID,
			n.Status,
			reason,
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatNullableDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}
