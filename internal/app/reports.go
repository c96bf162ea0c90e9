package app

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"dircheck/internal/audit"
	"dircheck/internal/report"
)

// LatestScanArg selects the newest scan in report commands.
const LatestScanArg = "latest"

// ReportScans lists the newest scans with their change counts. An empty
// rootArg lists scans of every root.
func (a *App) ReportScans(ctx context.Context, w io.Writer, rootArg string, limit int) error {
	var rootID int64
	if rootArg != "" {
		root, err := a.ResolveRoot(ctx, rootArg)
		if err != nil {
			return err
		}
		rootID = root.ID
	}

	scans, err := a.service.Scans(ctx, rootID, limit)
	if err != nil {
		return err
	}
	summaries, err := a.summarize(ctx, scans)
	if err != nil {
		return err
	}
	return report.WriteScans(w, summaries)
}

// ReportScan prints one scan and the tree of its changes. scanArg is a scan
// id or LatestScanArg, in which case rootArg may narrow the search to one
// root. withItems adds the tree of live items the scan confirmed.
func (a *App) ReportScan(ctx context.Context, w io.Writer, scanArg, rootArg string, withItems bool) error {
	scan, err := a.findScan(ctx, scanArg, rootArg)
	if err != nil {
		return err
	}
	root, err := a.service.RootPathByID(ctx, scan.RootPathID)
	if err != nil {
		return err
	}

	summaries, err := a.summarize(ctx, []*audit.Scan{scan})
	if err != nil {
		return err
	}
	if err := report.WriteScans(w, summaries); err != nil {
		return err
	}

	if _, err := report.WriteChanges(ctx, w, a.service, scan, root); err != nil {
		return err
	}
	if withItems {
		if _, err := report.WriteItems(ctx, w, a.service, scan, root); err != nil {
			return err
		}
	}
	return nil
}

// ReportRoots lists registered roots.
func (a *App) ReportRoots(ctx context.Context, w io.Writer) error {
	roots, err := a.service.RootPaths(ctx)
	if err != nil {
		return err
	}
	return report.WriteRoots(w, roots)
}

// ReportItem prints an item and its change history.
func (a *App) ReportItem(ctx context.Context, w io.Writer, itemArg string) error {
	id, err := strconv.ParseInt(itemArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q", itemArg)
	}
	item, err := a.service.Item(ctx, id)
	if err != nil {
		return err
	}
	history, err := a.service.ItemHistory(ctx, id)
	if err != nil {
		return err
	}
	return report.WriteItem(w, item, history)
}

func (a *App) findScan(ctx context.Context, scanArg, rootArg string) (*audit.Scan, error) {
	if scanArg != LatestScanArg {
		id, err := strconv.ParseInt(scanArg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid scan id %q", scanArg)
		}
		return a.service.ScanByID(ctx, id)
	}

	var rootID int64
	if rootArg != "" {
		root, err := a.ResolveRoot(ctx, rootArg)
		if err != nil {
			return nil, err
		}
		rootID = root.ID
	}
	return a.service.LatestScan(ctx, rootID)
}

func (a *App) summarize(ctx context.Context, scans []*audit.Scan) ([]report.ScanSummary, error) {
	out := make([]report.ScanSummary, 0, len(scans))
	for _, s := range scans {
		counts, err := a.service.AggregateChangeCounts(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, report.ScanSummary{Scan: s, Counts: counts})
	}
	return out, nil
}
