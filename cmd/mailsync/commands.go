package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
	"github.com/brandon/mailsync/internal/reconcile"
	"github.com/brandon/mailsync/pkg/types"
)

var (
	errUsage      = errors.New("invalid usage")
	errSyncFailed = errors.New("sync finished with errors")
)

// folderList collects a repeatable -folder flag
type folderList []string

func (f *folderList) String() string {
	return strings.Join(*f, ",")
}

func (f *folderList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("mailsync "+name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func (a *app) writeJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) sync(ctx context.Context, args []string) error {
	fs := a.flagSet("sync")
	name := fs.String("account", "", "Account to sync, the default account if omitted")
	all := fs.Bool("all", false, "Sync every sync enabled account")
	dryRun := fs.Bool("dry-run", false, "Show the changes without applying them")
	asJSON := fs.Bool("json", false, "Print the reports as JSON")
	progress := fs.Bool("progress", false, "Log every step of the sync")
	var folders folderList
	fs.Var(&folders, "folder", "Only sync this folder (repeatable)")
	if err := parse(fs, args); err != nil {
		return err
	}

	opts := account.SyncOptions{Folders: folders, DryRun: *dryRun}
	if *progress {
		opts.Progress = func(ev reconcile.Event) error {
			a.logger.WithFields(logrus.Fields{"folder": ev.Folder}).Info(ev.String())
			return nil
		}
	}

	var results []account.SyncResult
	if *all {
		results = a.manager.SyncAll(ctx, opts)
	} else {
		acc, err := a.manager.Account(*name)
		if err != nil {
			return err
		}
		report, err := a.manager.SyncAccount(ctx, acc.Name, opts)
		results = []account.SyncResult{{Account: acc.Name, Report: report, Err: err}}
	}

	if *asJSON {
		if err := a.writeJSON(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if res.Err != nil {
				fmt.Fprintf(a.stdout, "%s: %v\n", res.Account, res.Err)
				continue
			}
			renderReport(a.stdout, res.Report)
		}
	}

	for _, res := range results {
		if res.Err != nil || res.Report.HasErrors() {
			return errSyncFailed
		}
	}
	return nil
}

func (a *app) folders(ctx context.Context, args []string) error {
	fs := a.flagSet("folders")
	name := fs.String("account", "", "Account name, the default account if omitted")
	noCache := fs.Bool("no-cache", false, "Read the configured store instead of the local replica")
	asJSON := fs.Bool("json", false, "Print as JSON")
	if err := parse(fs, args); err != nil {
		return err
	}

	b, err := a.manager.DisableCache(*noCache).Backend(ctx, *name)
	if err != nil {
		return err
	}
	folders, err := b.ListFolders(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		return a.writeJSON(folders)
	}
	renderFolders(a.stdout, folders)
	return nil
}

type listFlags struct {
	name     *string
	folder   *string
	pageSize *int
	page     *int
	noCache  *bool
	asJSON   *bool
}

func addListFlags(fs *flag.FlagSet) *listFlags {
	return &listFlags{
		name:     fs.String("account", "", "Account name, the default account if omitted"),
		folder:   fs.String("folder", "inbox", "Folder name or alias"),
		pageSize: fs.Int("page-size", 20, "Envelopes per page, 0 for all"),
		page:     fs.Int("page", 0, "Zero-based page number"),
		noCache:  fs.Bool("no-cache", false, "Read the configured store instead of the local replica"),
		asJSON:   fs.Bool("json", false, "Print as JSON"),
	}
}

func (a *app) envelopes(ctx context.Context, args []string) error {
	fs := a.flagSet("envelopes")
	lf := addListFlags(fs)
	if err := parse(fs, args); err != nil {
		return err
	}

	return a.listEnvelopes(ctx, lf, func(b listing, folder string) (types.Envelopes, error) {
		return b.ListEnvelopes(ctx, folder, *lf.pageSize, *lf.page)
	})
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := a.flagSet("search")
	lf := addListFlags(fs)
	sort := fs.String("sort", "", "date (default), date:asc, subject or from")
	if err := parse(fs, args); err != nil {
		return err
	}

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		fmt.Fprintln(os.Stderr, "search needs a query")
		return errUsage
	}

	return a.listEnvelopes(ctx, lf, func(b listing, folder string) (types.Envelopes, error) {
		return b.SearchEnvelopes(ctx, folder, query, *sort, *lf.pageSize, *lf.page)
	})
}

// listing is the part of a backend the envelope commands use
type listing interface {
	ListEnvelopes(ctx context.Context, folder string, pageSize, page int) (types.Envelopes, error)
	SearchEnvelopes(ctx context.Context, folder, query, sort string, pageSize, page int) (types.Envelopes, error)
}

func (a *app) listEnvelopes(ctx context.Context, lf *listFlags, list func(listing, string) (types.Envelopes, error)) error {
	acc, err := a.manager.Account(*lf.name)
	if err != nil {
		return err
	}
	b, err := a.manager.DisableCache(*lf.noCache).Backend(ctx, acc.Name)
	if err != nil {
		return err
	}

	envs, err := list(b, acc.FolderAlias(*lf.folder))
	if err != nil {
		return err
	}

	if *lf.asJSON {
		return a.writeJSON(envs)
	}
	renderEnvelopes(a.stdout, envs)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := a.flagSet("export")
	name := fs.String("account", "", "Account name, the default account if omitted")
	folder := fs.String("folder", "inbox", "Folder name or alias")
	output := fs.String("o", "-", "Output mbox file, - for stdout")
	noCache := fs.Bool("no-cache", false, "Read the configured store instead of the local replica")
	if err := parse(fs, args); err != nil {
		return err
	}

	var w io.Writer = a.stdout
	if *output != "-" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *output, err)
		}
		defer f.Close()
		w = f
	}

	count, err := a.manager.DisableCache(*noCache).ExportMbox(ctx, *name, *folder, w)
	if err != nil {
		return err
	}
	if *output != "-" {
		fmt.Fprintf(a.stdout, "Exported %d messages to %s\n", count, *output)
	}
	return nil
}
