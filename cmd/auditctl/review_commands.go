package main

import (
	"flag"
	"strings"

	"github.com/neogan74/auditlens/internal/audit"
)

// ReviewCommands handles the review workflow commands
type ReviewCommands struct {
	cli *CLI
}

// NewReviewCommands creates a new review commands handler
func NewReviewCommands(cli *CLI) *ReviewCommands {
	return &ReviewCommands{cli: cli}
}

// Review sets the review status of a record
func (r *ReviewCommands) Review(args []string) {
	var req ReviewRequest
	config, remaining, err := r.cli.ParseGlobalFlags(args, "review", func(fs *flag.FlagSet) {
		fs.StringVar(&req.ReviewerID, "reviewer", "", "Reviewer id when the server has no authentication")
		fs.StringVar(&req.Notes, "notes", "", "Review notes")
	})
	if err == flag.ErrHelp {
		r.cli.Println("Usage: auditctl review [--notes text] [--reviewer id] [options] <record-id> <reviewed|approved|flagged>")
		return
	}
	if !r.cli.HandleError(err, "parsing flags") ||
		!r.cli.ValidateExactArgs(remaining, 2, "Usage: auditctl review <record-id> <reviewed|approved|flagged>") {
		return
	}
	req.Status = remaining[1]

	rec, err := r.cli.CreateClient(config).Review(remaining[0], req)
	if !r.cli.HandleError(err, "reviewing record") {
		return
	}

	r.cli.Printf("Record %s reviewed: %s by %s\n", rec.ID, rec.Review.Status, rec.Review.ReviewedBy)
}

// Flags sets or clears record flags given as name=true|false pairs
func (r *ReviewCommands) Flags(args []string) {
	config, remaining, err := r.cli.ParseGlobalFlags(args, "flags", nil)
	if err == flag.ErrHelp {
		r.cli.Println("Usage: auditctl flags [options] <record-id> <flag>=<true|false>...")
		r.cli.Println("Flags: anomaly, review, sensitive, suspicious, automated")
		return
	}
	if !r.cli.HandleError(err, "parsing flags") {
		return
	}
	if len(remaining) < 2 {
		r.cli.Errorln("Usage: auditctl flags <record-id> <flag>=<true|false>...")
		r.cli.Exit(1)
		return
	}

	patch, err := parseFlagPatch(remaining[1:])
	if !r.cli.HandleError(err, "parsing flag values") {
		return
	}

	rec, err := r.cli.CreateClient(config).SetFlags(remaining[0], patch)
	if !r.cli.HandleError(err, "updating flags") {
		return
	}

	r.cli.Printf("Record %s flags: anomaly=%t review=%t sensitive=%t suspicious=%t automated=%t\n",
		rec.ID, rec.Flags.IsAnomaly, rec.Flags.RequiresReview, rec.Flags.IsSensitive, rec.Flags.IsSuspicious, rec.Flags.IsAutomated)
}

// Link records a related event on a record
func (r *ReviewCommands) Link(args []string) {
	config, remaining, err := r.cli.ParseGlobalFlags(args, "link", nil)
	if err == flag.ErrHelp {
		r.cli.Println("Usage: auditctl link [options] <record-id> <related-id>")
		return
	}
	if !r.cli.HandleError(err, "parsing flags") ||
		!r.cli.ValidateExactArgs(remaining, 2, "Usage: auditctl link <record-id> <related-id>") {
		return
	}

	rec, err := r.cli.CreateClient(config).LinkRelated(remaining[0], remaining[1])
	if !r.cli.HandleError(err, "linking records") {
		return
	}

	r.cli.Printf("Record %s related to: %s\n", rec.ID, strings.Join(rec.Context.RelatedEventIDs, ", "))
}

func parseFlagPatch(pairs []string) (audit.FlagPatch, error) {
	var patch audit.FlagPatch
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return patch, &audit.ValidationError{Field: pair, Message: "expected name=true|false"}
		}
		var b bool
		switch strings.ToLower(value) {
		case "true", "yes", "1":
			b = true
		case "false", "no", "0":
		default:
			return patch, &audit.ValidationError{Field: name, Message: "value must be true or false"}
		}
		switch strings.ToLower(name) {
		case "anomaly":
			patch.IsAnomaly = &b
		case "review":
			patch.RequiresReview = &b
		case "sensitive":
			patch.IsSensitive = &b
		case "suspicious":
			patch.IsSuspicious = &b
		case "automated":
			patch.IsAutomated = &b
		default:
			return patch, &audit.ValidationError{Field: name, Message: "unknown flag"}
		}
	}
	return patch, nil
}
