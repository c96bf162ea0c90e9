// Package report renders scans, roots and items for the command line.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"dircheck/internal/audit"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	ruleWidth  = 72
)

// Source is the read side of the audit service used by the tree reports.
type Source interface {
	ForEachChange(ctx context.Context, scanID int64, fn func(*audit.ChangeRecord) error) error
	ForEachLiveItem(ctx context.Context, scanID int64, fn func(*audit.Item) error) error
}

// ScanSummary is a scan with its aggregated change counts.
type ScanSummary struct {
	Scan   *audit.Scan
	Counts audit.ChangeCounts
}

// WriteScans prints one line per scan.
func WriteScans(w io.Writer, scans []ScanSummary) error {
	if len(scans) == 0 {
		_, err := fmt.Fprintln(w, "No scans.")
		return err
	}

	if _, err := fmt.Fprintf(w, "%6s  %6s  %-4s  %-19s  %7s  %7s  %-11s  %6s  %6s  %6s  %6s\n",
		"ID", "ROOT", "DEEP", "TIME", "FILES", "FOLDERS", "STATUS", "ADDS", "MODS", "DELS", "TYPES"); err != nil {
		return err
	}
	for _, s := range scans {
		deep := "no"
		if s.Scan.IsDeep {
			deep = "yes"
		}
		if _, err := fmt.Fprintf(w, "%6d  %6d  %-4s  %-19s  %7s  %7s  %-11s  %6d  %6d  %6d  %6d\n",
			s.Scan.ID,
			s.Scan.RootPathID,
			deep,
			formatTime(s.Scan.TimeOfScan),
			formatCount(s.Scan.FileCount.Int64, s.Scan.FileCount.Valid),
			formatCount(s.Scan.FolderCount.Int64, s.Scan.FolderCount.Valid),
			s.Scan.Status(),
			s.Counts.Adds,
			s.Counts.Modifies,
			s.Counts.Deletes,
			s.Counts.TypeChanges,
		); err != nil {
			return err
		}
	}
	return nil
}

// WriteRoots prints the registered roots.
func WriteRoots(w io.Writer, roots []*audit.RootPath) error {
	if len(roots) == 0 {
		_, err := fmt.Fprintln(w, "No root paths.")
		return err
	}
	if _, err := fmt.Fprintf(w, "%6s  %s\n", "ID", "PATH"); err != nil {
		return err
	}
	for _, r := range roots {
		if _, err := fmt.Fprintf(w, "%6d  %s\n", r.ID, r.Path); err != nil {
			return err
		}
	}
	return nil
}

// WriteItem prints one item followed by its change history.
func WriteItem(w io.Writer, item *audit.Item, history []*audit.ItemChange) error {
	size, hash := "-", "-"
	if item.FileSize.Valid {
		size = fmt.Sprintf("%d", item.FileSize.Int64)
	}
	if item.FileHash.Valid {
		hash = item.FileHash.String
	}

	lines := []struct{ key, value string }{
		{"ID", fmt.Sprintf("%d", item.ID)},
		{"Root", fmt.Sprintf("%d", item.RootPathID)},
		{"Path", item.Path},
		{"Type", kindName(item.Kind)},
		{"Tombstone", fmt.Sprintf("%t", item.IsTombstone)},
		{"Last Scan", fmt.Sprintf("%d", item.LastSeenScanID)},
		{"Modified", formatTime(item.LastModified)},
		{"Size", size},
		{"Hash", hash},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-10s %s\n", l.key+":", l.value); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "\nHistory:\n"); err != nil {
		return err
	}
	if len(history) == 0 {
		_, err := fmt.Fprintln(w, "  (none)")
		return err
	}
	for _, h := range history {
		mode := "shallow"
		if h.IsDeep {
			mode = "deep"
		}
		if _, err := fmt.Fprintf(w, "  #%-6d %s  %-7s  [%s]%s\n",
			h.ScanID, formatTime(h.TimeOfScan), mode, h.Kind, changeDetail(h.Change)); err != nil {
			return err
		}
	}
	return nil
}

// WriteChanges prints the changes of a scan as a tree, one line per change
// in the form "[A] name/ (item id)". It returns the number of changes.
func WriteChanges(ctx context.Context, w io.Writer, src Source, scan *audit.Scan, root *audit.RootPath) (int, error) {
	if err := writeHeading(w, "Changes", root); err != nil {
		return 0, err
	}

	tree := &treeWriter{w: w}
	count := 0
	err := src.ForEachChange(ctx, scan.ID, func(rec *audit.ChangeRecord) error {
		level, label, err := tree.place(rec.Path, rec.ItemKind.IsDir())
		if err != nil {
			return err
		}
		count++
		_, err = fmt.Fprintf(w, "%s[%s] %s (%d)%s\n", tree.indent(level), rec.Kind, label, rec.ItemID, changeDetail(rec.Change))
		return err
	})
	if err != nil {
		return count, err
	}

	if count == 0 {
		if _, err := fmt.Fprintln(w, "No changes."); err != nil {
			return count, err
		}
	}
	return count, writeRule(w)
}

// WriteItems prints the live items confirmed by a scan as a tree, one line
// per item in the form "[id] name/". It returns the number of items.
func WriteItems(ctx context.Context, w io.Writer, src Source, scan *audit.Scan, root *audit.RootPath) (int, error) {
	if err := writeHeading(w, "Items", root); err != nil {
		return 0, err
	}

	tree := &treeWriter{w: w}
	count := 0
	err := src.ForEachLiveItem(ctx, scan.ID, func(item *audit.Item) error {
		level, label, err := tree.place(item.Path, item.Kind.IsDir())
		if err != nil {
			return err
		}
		count++
		_, err = fmt.Fprintf(w, "%s[%d] %s\n", tree.indent(level), item.ID, label)
		return err
	})
	if err != nil {
		return count, err
	}

	if count == 0 {
		if _, err := fmt.Fprintln(w, "No items."); err != nil {
			return count, err
		}
	}
	return count, writeRule(w)
}

func writeHeading(w io.Writer, title string, root *audit.RootPath) error {
	if _, err := fmt.Fprintf(w, "\n%s - %s\n", title, root.Path); err != nil {
		return err
	}
	return writeRule(w)
}

func writeRule(w io.Writer) error {
	_, err := fmt.Fprintln(w, strings.Repeat("-", ruleWidth))
	return err
}

// changeDetail describes what a Modify detected. A content flag that was not
// determined is shown as unverified.
func changeDetail(c audit.Change) string {
	if c.Kind != audit.ChangeModify {
		return ""
	}
	var parts []string
	if c.MetadataChanged.Valid && c.MetadataChanged.Bool {
		parts = append(parts, "metadata")
	}
	switch {
	case !c.HashChanged.Valid:
		parts = append(parts, "content unverified")
	case c.HashChanged.Bool:
		parts = append(parts, "content")
	}
	return " " + strings.Join(parts, ", ")
}

func kindName(k audit.ItemKind) string {
	if k.IsDir() {
		return "directory"
	}
	return "file"
}

func formatTime(t time.Time) string {
	return t.Local().Format(timeLayout)
}

func formatCount(n int64, valid bool) string {
	if !valid {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
