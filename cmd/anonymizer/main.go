// Command anonymizer redacts personal identifiers from Brazilian labor-court
// documents.
//
// Usage:
//
//	# Local HTTP API for the browser tool
//	./anonymizer serve -config anonymizer-config.json
//
//	# One document, settings from a profile file, names one per line
//	./anonymizer run -profile vara.yaml -names partes.txt sentenca.txt > sentenca.anon.txt
//
//	# From stdin
//	pdftotext peticao.pdf - | ./anonymizer run -names partes.txt
//
// run prints a summary of what was redacted to stderr; redacted text goes to
// stdout only.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"judicial-anonymizer/internal/anonymizer"
	"judicial-anonymizer/internal/config"
	"judicial-anonymizer/internal/logger"
	"judicial-anonymizer/internal/metrics"
	"judicial-anonymizer/internal/profiles"
	"judicial-anonymizer/internal/server"
)

const usageText = `Usage:
  anonymizer serve [-config file]
  anonymizer run [-profile file] [-names file] [-quiet] [input]

Commands:
  serve   start the local HTTP API
  run     anonymize one document from a file or stdin to stdout
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}
	switch args[0] {
	case "serve":
		return cmdServe(args[1:], stdout, stderr)
	case "run":
		return cmdRun(args[1:], stdin, stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}
}

func cmdServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "service config file (JSON or YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load(*configPath)
	log := logger.NewWithWriter("MAIN", cfg.LogLevel, stderr)
	profiles.SetLogLevel(cfg.LogLevel)

	store, err := profiles.Open(cfg.ProfilesPath)
	if err != nil {
		log.Errorf("startup", "open profile store: %v", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("shutdown", "close profile store: %v", err)
		}
	}()

	printBanner(stdout, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, store, metrics.New())
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Errorf("serve", "%v", err)
		return 1
	}
	return 0
}

func cmdRun(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", "", "redaction settings file (JSON or YAML); default: all categories except valores")
	namesPath := fs.String("names", "", "file with one person or company name per line")
	quiet := fs.Bool("quiet", false, "do not print the summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	log := logger.NewWithWriter("CLI", "warn", stderr)

	cfg, err := loadProfile(*profilePath)
	if err != nil {
		log.Errorf("profile", "%v", err)
		return 1
	}
	var names []string
	if *namesPath != "" {
		if names, err = readNames(*namesPath); err != nil {
			log.Errorf("names", "%v", err)
			return 1
		}
	}

	in := stdin
	if fs.NArg() > 0 && fs.Arg(0) != "-" {
		f, err := os.Open(fs.Arg(0)) // #nosec G304 -- path from operator argument
		if err != nil {
			log.Errorf("input", "%v", err)
			return 1
		}
		defer f.Close() //nolint:errcheck // read-only
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		log.Errorf("input", "read: %v", err)
		return 1
	}

	out, rep := anonymizer.AnonymizeWithReport(string(data), cfg, names)
	if _, err := io.WriteString(stdout, out); err != nil {
		log.Errorf("output", "write: %v", err)
		return 1
	}
	if !*quiet {
		printSummary(stderr, cfg, rep)
	}
	return 0
}

// loadProfile reads redaction settings from path. With no path the defaults
// apply with the engine enabled; a file is taken as written, so a file
// without "enabled: true" leaves the text unchanged.
func loadProfile(path string) (*anonymizer.Config, error) {
	cfg := anonymizer.DefaultConfig()
	if path == "" {
		cfg.Enabled = true
		return &cfg, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path from operator flag
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return &cfg, nil
}

// readNames returns the non-blank lines of path. Lines starting with # are
// comments.
func readNames(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path from operator flag
	if err != nil {
		return nil, fmt.Errorf("open names file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read names file: %w", err)
	}
	return names, nil
}

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
)

func printBanner(w io.Writer, cfg *config.Config) {
	auth := "off"
	if cfg.APIToken != "" {
		auth = "bearer token"
	}
	store := cfg.ProfilesPath
	if store == "" {
		store = "(memory, profiles are lost on exit)"
	}

	titleColor.Fprintln(w, "\n  Judicial Anonymizer") //nolint:errcheck // best-effort console output
	fmt.Fprintf(w, `  Listening       : %s:%d
  Profile store   : %s
  Default profile : %s
  Authentication  : %s
  Batch workers   : %d

  Check status:
    curl http://%s:%d/status
`, cfg.BindAddress, cfg.Port,
		store, cfg.DefaultProfile, auth, cfg.BatchWorkers,
		cfg.BindAddress, cfg.Port)
}

func printSummary(w io.Writer, cfg *anonymizer.Config, rep anonymizer.Report) {
	if !cfg.Enabled {
		warnColor.Fprintln(w, "anonymization disabled by profile; text unchanged") //nolint:errcheck // best-effort console output
		return
	}
	if rep.Total() == 0 {
		warnColor.Fprintln(w, "nothing redacted") //nolint:errcheck // best-effort console output
		return
	}
	okColor.Fprintf(w, "redacted %d token(s)\n", rep.Total()) //nolint:errcheck // best-effort console output
	for _, c := range anonymizer.Categories() {
		if n := rep.Categories[c]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", c, n)
		}
	}
	if rep.NameReplacements > 0 {
		fmt.Fprintf(w, "  %-10s %d (%d person(s))\n", "PESSOA", rep.NameReplacements, rep.Persons)
	}
}
