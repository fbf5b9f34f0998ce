package main

import (
	"os"
)

const version = "1.0.0"

func main() {
	run(NewCLI(), os.Args[1:])
}

func run(cli *CLI, args []string) {
	if len(args) < 1 {
		printUsage(cli)
		cli.Exit(1)
		return
	}

	command := args[0]
	rest := args[1:]

	events := NewEventCommands(cli)
	review := NewReviewCommands(cli)
	admin := NewAdminCommands(cli)

	switch command {
	case "search":
		events.Search(rest)
	case "get":
		events.Get(rest)
	case "stats":
		events.Stats(rest)
	case "critical", "suspicious":
		events.Listing(command, rest)
	case "export":
		events.Export(rest)
	case "review":
		review.Review(rest)
	case "flags":
		review.Flags(rest)
	case "link":
		review.Link(rest)
	case "behavior":
		admin.Behavior(rest)
	case "archive", "purge":
		admin.Retention(command, rest)
	case "backup":
		admin.Backup(rest)
	case "version":
		cli.Printf("auditctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage(cli)
	default:
		cli.Errorf("Unknown command: %s\n", command)
		printUsage(cli)
		cli.Exit(1)
	}
}

func printUsage(cli *CLI) {
	cli.Println("auditctl - auditlens CLI Tool")
	cli.Println()
	cli.Println("Usage: auditctl <command> [options] [args]")
	cli.Println()
	cli.Println("Commands:")
	cli.Println("  search                    Search audit records")
	cli.Println("  get <id>                  Show one record")
	cli.Println("  stats                     Aggregate statistics")
	cli.Println("  critical                  Critical and high severity records of the last hours")
	cli.Println("  suspicious                Suspicious records of the last hours")
	cli.Println("  export                    Export records as json or csv")
	cli.Println("  review <id> <status>      Review a record (reviewed, approved, flagged)")
	cli.Println("  flags <id> <name=bool>... Set or clear record flags")
	cli.Println("  link <id> <related-id>    Link a related record")
	cli.Println("  behavior <actor-id>       Activity pattern, anomalies and risk of an actor")
	cli.Println("  archive                   Archive old records")
	cli.Println("  purge                     Delete archived records")
	cli.Println("  backup                    Snapshot the event store")
	cli.Println()
	cli.Println("  version                   Show version")
	cli.Println("  help                      Show this help")
	cli.Println()
	cli.Println("Global Options (before positional args):")
	cli.Println("  --server <url>     auditlens server URL (default: http://localhost:8890, env AUDITCTL_SERVER)")
	cli.Println("  --token <jwt>      Bearer token (env AUDITCTL_TOKEN)")
	cli.Println("  --timeout <dur>    Request timeout (default: 30s)")
}
