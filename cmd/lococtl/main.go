// lococtl is a command line client for a LocoInspect server.
//
//	lococtl -server http://localhost:8080 -user ADMINX -password password list -loco 372
//	lococtl -user ADMINX -password password export -format xlsx -out ./reports
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"locoinspect/apiclient"
	"locoinspect/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	godotenv.Load()

	var (
		server   = flag.String("server", envOr("LOCOINSPECT_SERVER", "http://localhost:8080"), "Server base URL")
		user     = flag.String("user", os.Getenv("LOCOINSPECT_USER"), "User id or HRMS id")
		password = flag.String("password", os.Getenv("LOCOINSPECT_PASSWORD"), "Password")
		verbose  = flag.Bool("v", false, "Verbose logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: lococtl [flags] users|list|export [command flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level, "console", "lococtl")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client := apiclient.New(*server, logger)
	command, args := flag.Arg(0), flag.Args()[1:]

	switch command {
	case "users":
		err = listUsers(client)
	case "list", "export":
		if err = client.Login(*user, *password); err != nil {
			break
		}
		defer client.Logout()
		if command == "list" {
			err = listInspections(client, args)
		} else {
			err = export(client, args, logger)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func listUsers(client *apiclient.Client) error {
	users, err := client.LoginUsers()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHRMS ID\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.HRMSID, u.Role)
	}
	return tw.Flush()
}

func listInspections(client *apiclient.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	loco := fs.String("loco", "", "Loco number substring")
	date := fs.String("date", "", "Inspection date (YYYY-MM-DD)")
	fs.Parse(args)

	result, err := client.Inspections(*loco, *date)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCO\tSHED\tSCHEDULE\tPANTOGRAPH\tTIMESTAMP\tSTATUS")
	for _, i := range result.Inspections {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			i.LocoNumber, i.BaseShed, i.Schedule, i.PantographNumber, i.Timestamp, i.SyncStatus)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d inspections\n", result.Count, result.Total)
	return nil
}

func export(client *apiclient.Client, args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "csv", "csv, html or xlsx")
	loco := fs.String("loco", "", "Loco number substring")
	date := fs.String("date", "", "Inspection date (YYYY-MM-DD)")
	out := fs.String("out", ".", "Output directory")
	fs.Parse(args)

	name, body, err := client.Export(*format, *loco, *date)
	if err != nil {
		return err
	}
	if name == "" {
		name = "export." + *format
	}

	path := filepath.Join(*out, filepath.Base(name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info("Export written", zap.String("path", path), zap.Int("bytes", len(body)))
	fmt.Println(path)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
