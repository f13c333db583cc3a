package main

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/brandon/mailsync/internal/reconcile"
	"github.com/brandon/mailsync/pkg/types"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func status(err error, dryRun bool) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case dryRun:
		return "planned"
	default:
		return "ok"
	}
}

func renderReport(w io.Writer, report *reconcile.Report) {
	title := "Sync of " + report.Account
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, title)

	if report.IsEmpty() && !report.HasErrors() {
		fmt.Fprintln(w, "Nothing to do.")
		return
	}

	table := newTable(w, "Change", "Status")
	for _, r := range report.FoldersPatch {
		table.Append([]string{r.Hunk.String(), status(r.Err, report.DryRun)})
	}
	for _, r := range report.EnvelopesPatch {
		table.Append([]string{r.Hunk.String(), status(r.Err, report.DryRun)})
	}
	for _, r := range report.FoldersCachePatch {
		if r.Err != nil {
			table.Append([]string{r.Hunk.String(), status(r.Err, report.DryRun)})
		}
	}
	for _, r := range report.EnvelopesCachePatch {
		if r.Err != nil {
			table.Append([]string{r.Hunk.String(), status(r.Err, report.DryRun)})
		}
	}
	for _, e := range report.FolderErrors {
		table.Append([]string{e.Op + " of " + e.Folder, status(e.Err, false)})
	}
	if report.CommitErr != nil {
		table.Append([]string{"commit cache", status(report.CommitErr, false)})
	}
	table.Render()

	fmt.Fprintf(w, "%d folders, %d folder changes, %d envelope changes, %d cache updates\n",
		len(report.Folders), len(report.FoldersPatch), len(report.EnvelopesPatch),
		len(report.FoldersCachePatch)+len(report.EnvelopesCachePatch))
}

func renderFolders(w io.Writer, folders types.Folders) {
	table := newTable(w, "Name", "Delimiter")
	for _, f := range folders {
		table.Append([]string{f.Name, f.Delim})
	}
	table.Render()
}

func renderEnvelopes(w io.Writer, envs types.Envelopes) {
	table := newTable(w, "ID", "Flags", "Subject", "From", "Date")
	for _, e := range envs {
		date := ""
		if !e.Date.IsZero() {
			date = e.Date.Local().Format(time.DateTime)
		}
		table.Append([]string{e.ID, e.Flags.String(), e.Subject, e.From.String(), date})
	}
	table.Render()
}
