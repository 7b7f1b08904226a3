package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"buybox-watcher/internal/storage"
)

// Export renders a listing's buybox activity history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.ASIN == "" {
		return errors.New("--asin is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	seller, err := store.GetSellerByMerchantToken(ctx, a.Config.Marketplace.SellerToken)
	if err != nil {
		return err
	}
	if seller == nil {
		return fmt.Errorf("seller %q not found", a.Config.Marketplace.SellerToken)
	}

	listing, err := store.GetListing(ctx, seller.ID, opts.ASIN, a.Config.Marketplace.ID)
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("listing %q not tracked", opts.ASIN)
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-90 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	activities, err := store.ListActivitiesBetween(ctx, listing.ID, from, to)
	if err != nil {
		return err
	}
	if len(activities) == 0 {
		a.Logger.Info().Str("asin", opts.ASIN).Msg("no activity found for export window")
		return nil
	}

	downsampled := downsampleActivities(activities, opts.MaxPoints)
	a.Logger.Info().Int("total", len(activities)).Int("exported", len(downsampled)).Msg("exporting buybox activity")

	if opts.CSVPath != "" {
		if err := writeActivitiesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeActivitiesPNG(opts.PNGPath, opts.ASIN, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleActivities(activities []storage.BuyboxActivity, max int) []storage.BuyboxActivity {
	if max <= 0 || len(activities) <= max {
		return activities
	}

	result := make([]storage.BuyboxActivity, 0, max)
	step := float64(len(activities)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(activities) {
			idx = len(activities) - 1
		}
		result = append(result, activities[idx])
	}
	return result
}

func writeActivitiesCSV(path string, activities []storage.BuyboxActivity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"event_ts", "channel", "event", "old_landed_price", "new_landed_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, activity := range activities {
		oldPrice := ""
		if activity.OldLandedPrice != nil {
			oldPrice = activity.OldLandedPrice.String()
		}
		newPrice := ""
		if activity.NewLandedPrice != nil {
			newPrice = activity.NewLandedPrice.String()
		}
		record := []string{
			activity.EventAt.Format(time.RFC3339),
			string(activity.Channel),
			activity.Event,
			oldPrice,
			newPrice,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeActivitiesPNG(path, asin string, activities []storage.BuyboxActivity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x      []time.Time
		landed []float64
	)
	for _, activity := range activities {
		price := activity.NewLandedPrice
		if price == nil {
			price = activity.OldLandedPrice
		}
		if price == nil {
			continue
		}
		x = append(x, activity.EventAt)
		landed = append(landed, price.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("not enough priced activity to chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("Buybox landed price (%s)", asin),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Landed price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Landed price at transition",
				XValues: x,
				YValues: landed,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
