package main

import (
	"flag"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neogan74/auditlens/internal/audit"
)

// EventCommands handles record lookup, statistics and export commands
type EventCommands struct {
	cli *CLI
}

// NewEventCommands creates a new event commands handler
func NewEventCommands(cli *CLI) *EventCommands {
	return &EventCommands{cli: cli}
}

// searchFlags binds the search filter flags shared by search and export.
type searchFlags struct {
	eventType, category, actor, ip, text, tags, severity, status string
	from, to                                                     string
	limit, offset                                                int
	sort                                                         string
}

func (s *searchFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.eventType, "type", "", "Event type, e.g. auth.login")
	fs.StringVar(&s.category, "category", "", "Event category")
	fs.StringVar(&s.actor, "actor", "", "Actor user id")
	fs.StringVar(&s.ip, "ip", "", "Origin IP address")
	fs.StringVar(&s.text, "q", "", "Free text search")
	fs.StringVar(&s.tags, "tags", "", "Comma separated tags")
	fs.StringVar(&s.severity, "severity", "", "Comma separated severities")
	fs.StringVar(&s.status, "status", "", "Outcome status")
	fs.StringVar(&s.from, "from", "", "Start of range (RFC3339 or YYYY-MM-DD)")
	fs.StringVar(&s.to, "to", "", "End of range (RFC3339 or YYYY-MM-DD)")
	fs.IntVar(&s.limit, "limit", 0, "Page size")
	fs.IntVar(&s.offset, "offset", 0, "Page offset")
	fs.StringVar(&s.sort, "sort", "", "Sort order: timestamp, -timestamp, severity")
}

func (s *searchFlags) query() url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("eventType", s.eventType)
	set("category", s.category)
	set("actorId", s.actor)
	set("ipAddress", s.ip)
	set("q", s.text)
	set("tags", s.tags)
	set("severity", s.severity)
	set("status", s.status)
	set("from", s.from)
	set("to", s.to)
	set("sort", s.sort)
	if s.limit > 0 {
		q.Set("limit", strconv.Itoa(s.limit))
	}
	if s.offset > 0 {
		q.Set("offset", strconv.Itoa(s.offset))
	}
	return q
}

// Search lists records matching the filter flags
func (e *EventCommands) Search(args []string) {
	var sf searchFlags
	config, remaining, err := e.cli.ParseGlobalFlags(args, "search", sf.register)
	if err == flag.ErrHelp {
		e.cli.Println("Usage: auditctl search [--type t] [--actor id] [--severity high,critical] [--from d] [--to d] [options]")
		return
	}
	if !e.cli.HandleError(err, "parsing flags") || !e.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl search [options]") {
		return
	}

	res, err := e.cli.CreateClient(config).Search(sf.query())
	if !e.cli.HandleError(err, "searching records") {
		return
	}

	if len(res.Records) == 0 {
		e.cli.Println("No records found")
		return
	}

	e.cli.Printf("Showing %d of %d records (page %d/%d):\n", len(res.Records), res.Total, pageNumber(res.Offset, res.Limit), res.PageCount)
	for _, rec := range res.Records {
		e.printLine(rec)
	}
}

// Get prints one record
func (e *EventCommands) Get(args []string) {
	config, remaining, err := e.cli.ParseGlobalFlags(args, "get", nil)
	if err == flag.ErrHelp {
		e.cli.Println("Usage: auditctl get [options] <record-id>")
		return
	}
	if !e.cli.HandleError(err, "parsing flags") || !e.cli.ValidateExactArgs(remaining, 1, "Usage: auditctl get <record-id>") {
		return
	}

	rec, err := e.cli.CreateClient(config).Get(remaining[0])
	if !e.cli.HandleError(err, "getting record") {
		return
	}

	e.cli.Printf("ID:        %s\n", rec.ID)
	e.cli.Printf("Type:      %s (%s)\n", rec.EventType, rec.EventCategory)
	e.cli.Printf("Severity:  %s\n", rec.Severity)
	e.cli.Printf("Status:    %s\n", rec.Status)
	e.cli.Printf("Time:      %s\n", rec.Timestamp.Format(time.RFC3339))
	e.cli.Printf("Actor:     %s\n", actorName(rec))
	if rec.Session != nil {
		e.cli.Printf("Origin:    %s\n", rec.Session.IPAddress)
	}
	if rec.Resource != "" {
		e.cli.Printf("Resource:  %s\n", rec.Resource)
	}
	e.cli.Printf("Message:   %s\n", rec.Message)
	if len(rec.Tags) > 0 {
		e.cli.Printf("Tags:      %s\n", strings.Join(rec.Tags, ", "))
	}
	e.cli.Printf("Review:    %s", rec.Review.Status)
	if rec.Review.ReviewedBy != "" {
		e.cli.Printf(" by %s", rec.Review.ReviewedBy)
	}
	e.cli.Println()
	e.cli.Printf("Flags:     anomaly=%t review=%t suspicious=%t archived=%t\n",
		rec.Flags.IsAnomaly, rec.Flags.RequiresReview, rec.Flags.IsSuspicious, rec.Flags.IsArchived)
	if len(rec.Context.RelatedEventIDs) > 0 {
		e.cli.Printf("Related:   %s\n", strings.Join(rec.Context.RelatedEventIDs, ", "))
	}
}

// Stats prints aggregate statistics for a window
func (e *EventCommands) Stats(args []string) {
	var from, to string
	config, remaining, err := e.cli.ParseGlobalFlags(args, "stats", func(fs *flag.FlagSet) {
		fs.StringVar(&from, "from", "", "Start of range")
		fs.StringVar(&to, "to", "", "End of range")
	})
	if err == flag.ErrHelp {
		e.cli.Println("Usage: auditctl stats [--from d] [--to d] [options]")
		return
	}
	if !e.cli.HandleError(err, "parsing flags") || !e.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl stats [options]") {
		return
	}

	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}

	stats, err := e.cli.CreateClient(config).Statistics(q)
	if !e.cli.HandleError(err, "getting statistics") {
		return
	}

	o := stats.Overview
	e.cli.Printf("Total events:     %d\n", o.TotalEvents)
	e.cli.Printf("Critical/high:    %d\n", o.CriticalHigh)
	e.cli.Printf("Failures:         %d\n", o.Failures)
	e.cli.Printf("Unique actors:    %d\n", o.DistinctActors)
	e.cli.Printf("Unique origins:   %d\n", o.DistinctOrigins)
	e.cli.Printf("Anomalies:        %d\n", o.Anomalies)
	e.cli.Printf("Success rate:     %.2f%%\n", o.SuccessRate)
	printBuckets(e.cli, "By event type", stats.ByEventType)
	printBuckets(e.cli, "By severity", stats.BySeverity)
}

// Listing prints the critical or suspicious records of the last hours
func (e *EventCommands) Listing(kind string, args []string) {
	var hours int
	config, remaining, err := e.cli.ParseGlobalFlags(args, kind, func(fs *flag.FlagSet) {
		fs.IntVar(&hours, "hours", 0, "Window in hours (server default 24)")
	})
	if err == flag.ErrHelp {
		e.cli.Printf("Usage: auditctl %s [--hours n] [options]\n", kind)
		return
	}
	if !e.cli.HandleError(err, "parsing flags") || !e.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl "+kind+" [options]") {
		return
	}

	list, err := e.cli.CreateClient(config).Listing(kind, hours)
	if !e.cli.HandleError(err, "listing "+kind+" records") {
		return
	}

	if list.Count == 0 {
		e.cli.Printf("No %s records\n", kind)
		return
	}
	e.cli.Printf("%d %s records:\n", list.Count, kind)
	for _, rec := range list.Records {
		e.printLine(rec)
	}
}

// Export writes matching records as json or csv to stdout or --out
func (e *EventCommands) Export(args []string) {
	var sf searchFlags
	var format, out string
	config, remaining, err := e.cli.ParseGlobalFlags(args, "export", func(fs *flag.FlagSet) {
		sf.register(fs)
		fs.StringVar(&format, "format", "json", "Export format: json or csv")
		fs.StringVar(&out, "out", "", "Write to file instead of stdout")
	})
	if err == flag.ErrHelp {
		e.cli.Println("Usage: auditctl export [--format json|csv] [--out file] [filters]")
		return
	}
	if !e.cli.HandleError(err, "parsing flags") || !e.cli.ValidateExactArgs(remaining, 0, "Usage: auditctl export [options]") {
		return
	}

	q := sf.query()
	q.Set("format", format)

	data, count, err := e.cli.CreateClient(config).Export(q)
	if !e.cli.HandleError(err, "exporting records") {
		return
	}

	if out == "" {
		e.cli.Printf("%s", data)
		return
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		e.cli.HandleError(err, "writing export")
		return
	}
	e.cli.Printf("Exported %s records to %s\n", count, out)
}

func (e *EventCommands) printLine(rec *audit.Record) {
	e.cli.Printf("  %s  %-8s  %-24s  %-12s  %s  %s\n",
		rec.Timestamp.Format(time.RFC3339), rec.Severity, rec.EventType, actorName(rec), rec.ID, rec.Message)
}

func actorName(rec *audit.Record) string {
	if rec.Actor == nil {
		return "system"
	}
	if rec.Actor.Username != "" {
		return rec.Actor.Username
	}
	return rec.Actor.UserID
}

func printBuckets(cli *CLI, title string, buckets []audit.Bucket) {
	if len(buckets) == 0 {
		return
	}
	cli.Printf("%s:\n", title)
	for _, b := range buckets {
		cli.Printf("  %-24s %d\n", b.Key, b.Count)
	}
}

func pageNumber(offset, limit int) int {
	if limit <= 0 {
		return 1
	}
	return offset/limit + 1
}
