package main

import (
	"flag"
	"time"
)

// AdminCommands handles behavior analysis, retention and backup commands
type AdminCommands struct {
	cli *CLI
}

// NewAdminCommands creates a new admin commands handler
func NewAdminCommands(cli *CLI) *AdminCommands {
	return &AdminCommands{cli: cli}
}

// Behavior prints the activity pattern, anomalies and risk of an actor
func (a *AdminCommands) Behavior(args []string) {
	var days int
	var mark bool
	config, remaining, err := a.cli.ParseGlobalFlags(args, "behavior", func(fs *flag.FlagSet) {
		fs.IntVar(&days, "days", 0, "Analysis window in days (server default 7)")
		fs.BoolVar(&mark, "mark", false, "Flag the records of anomalous days")
	})
	if err == flag.ErrHelp {
		a.cli.Println("Usage: auditctl behavior [--days n] [--mark] [options] <actor-id>")
		return
	}
	if !a.cli.HandleError(err, "parsing flags") ||
		!a.cli.ValidateExactArgs(remaining, 1, "Usage: auditctl behavior <actor-id>") {
		return
	}

	client := a.cli.CreateClient(config)
	report, err := client.Behavior(remaining[0], days)
	if !a.cli.HandleError(err, "analyzing behavior") {
		return
	}

	a.cli.Printf("Actor:        %s\n", report.ActorID)
	a.cli.Printf("Window:       %s .. %s (%d days)\n", report.From.Format(time.DateOnly), report.To.Format(time.DateOnly), report.Days)
	a.cli.Printf("Events:       %d\n", report.Pattern.TotalEvents)
	a.cli.Printf("Risk:         %d (%s)\n", report.Risk.Score, report.Risk.Level)
	a.cli.Printf("Daily mean:   %.1f\n", report.Risk.MeanDailyVolume)
	if len(report.Pattern.ByEventType) > 0 {
		a.cli.Println("Top event types:")
		for _, g := range report.Pattern.ByEventType {
			a.cli.Printf("  %-24s %d\n", g.Key, g.Count)
		}
	}
	if len(report.Anomalies) == 0 {
		a.cli.Println("No anomalous days")
	} else {
		a.cli.Println("Anomalous days:")
		for _, an := range report.Anomalies {
			a.cli.Printf("  %s  %d events (threshold %.1f)\n", an.Date, an.Count, an.Threshold)
		}
	}

	if !mark {
		return
	}
	res, err := client.MarkAnomalies(remaining[0])
	if !a.cli.HandleError(err, "marking anomalies") {
		return
	}
	a.cli.Printf("Flagged %d records as anomalous\n", res.Marked)
}

// Retention runs the archive or purge sweep
func (a *AdminCommands) Retention(sweep string, args []string) {
	var ageDays int
	config, remaining, err := a.cli.ParseGlobalFlags(args, sweep, func(fs *flag.FlagSet) {
		fs.IntVar(&ageDays, "age-days", 0, "Age threshold in days (server default when 0)")
	})
	if err == flag.ErrHelp {
		a.cli.Printf("Usage: auditctl %s [--age-days n] [options]\n", sweep)
		return
	}
	if !a.cli.HandleError(err, "parsing flags") ||
		!a.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl "+sweep+" [options]") {
		return
	}

	res, err := a.cli.CreateClient(config).Retention(sweep, ageDays)
	if !a.cli.HandleError(err, "running "+sweep) {
		return
	}

	a.cli.Printf("%s: %d records older than %s (%d days)\n", res.Sweep, res.Affected, res.Cutoff.Format(time.RFC3339), res.AgeDays)
}

// Backup creates a store snapshot on the server
func (a *AdminCommands) Backup(args []string) {
	config, remaining, err := a.cli.ParseGlobalFlags(args, "backup", nil)
	if err == flag.ErrHelp {
		a.cli.Println("Usage: auditctl backup [options]")
		return
	}
	if !a.cli.HandleError(err, "parsing flags") ||
		!a.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl backup") {
		return
	}

	res, err := a.cli.CreateClient(config).CreateBackup()
	if !a.cli.HandleError(err, "creating backup") {
		return
	}

	a.cli.Printf("Successfully created backup: %s\n", res.Path)
}
