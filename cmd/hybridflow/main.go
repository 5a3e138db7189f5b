package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opentalon/hybridflow/internal/config"
	"github.com/opentalon/hybridflow/internal/export"
	"github.com/opentalon/hybridflow/internal/runner"
	"github.com/opentalon/hybridflow/internal/scheduler"
	"github.com/opentalon/hybridflow/internal/server"
	"github.com/opentalon/hybridflow/internal/version"
	"github.com/opentalon/hybridflow/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	workflowPath := flag.String("workflow", "", "workflow definition to run (YAML or JSON)")
	sessionID := flag.String("session", "", "session id (default \"default\")")
	startIndex := flag.Int("start", 0, "step index to start from")
	format := flag.String("format", "yaml", "output format: yaml, json or markdown")
	serve := flag.Bool("serve", false, "run the HTTP API and scheduler")
	showVersion := flag.Bool("version", false, "print version and exit")
	var vars varFlags
	flag.Var(&vars, "var", "template variable key=value (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	switch {
	case *serve:
		err = runServe(ctx, a, cfg)
	case *workflowPath != "":
		err = runOnce(ctx, a, *workflowPath, *sessionID, *startIndex, vars, *format)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func runOnce(ctx context.Context, a *app, path, session string, start int, vars varFlags, format string) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	wf, err := workflow.Load(path)
	if err != nil {
		return err
	}
	out, runErr := a.runner.Run(ctx, runner.Request{
		Workflow:   wf,
		SessionID:  session,
		StartIndex: start,
		Vars:       vars.Map(),
	})
	if out == nil {
		return runErr
	}
	if f == export.FormatMarkdown && isTerminal(os.Stdout) {
		rendered, err := export.Terminal(export.Markdown(out), 100)
		if err == nil {
			fmt.Print(rendered)
			return runErr
		}
		log.Printf("markdown rendering failed, printing raw: %v", err)
	}
	if err := export.Write(os.Stdout, f, out); err != nil {
		return err
	}
	return runErr
}

func runServe(ctx context.Context, a *app, cfg *config.Config) error {
	sched := scheduler.New(a.runner, cfg.State.Dir, a.logger)
	if err := sched.Start(jobsFromConfig(cfg)); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(a.runner, sched, a.registry, a.logger)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

func jobsFromConfig(cfg *config.Config) []scheduler.Job {
	jobs := make([]scheduler.Job, 0, len(cfg.Schedule.Jobs))
	for _, j := range cfg.Schedule.Jobs {
		jobs = append(jobs, scheduler.Job{
			Name:     j.Name,
			Cron:     j.Cron,
			Workflow: j.Workflow,
			Session:  j.Session,
			Input:    j.Input,
		})
	}
	return jobs
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// varFlags collects repeated -var key=value flags.
type varFlags []string

func (v *varFlags) String() string { return strings.Join(*v, ",") }

func (v *varFlags) Set(s string) error {
	if !strings.Contains(s, "=") || strings.HasPrefix(s, "=") {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	*v = append(*v, s)
	return nil
}

// Map returns the variables; a later flag overrides an earlier one.
func (v varFlags) Map() map[string]any {
	if len(v) == 0 {
		return nil
	}
	m := make(map[string]any, len(v))
	for _, kv := range v {
		k, val, _ := strings.Cut(kv, "=")
		m[k] = val
	}
	return m
}
