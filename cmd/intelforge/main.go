package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/intelforge/intelforge/internal/humaninput"
	"github.com/intelforge/intelforge/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	sessionID   string
	outputDir   string
	metricsAddr string
	inputData   string
	inputFile   string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intelforge",
		Short: "IntelForge - Phased Business Intelligence Pipeline",
		Long: `IntelForge runs a multi-phase business-intelligence analysis through an
LLM, tracking context-window consumption, pausing for externally-sourced
data, synthesizing intelligence archives at boundary phases, and cutting
handover checkpoints when the context budget runs out.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis pipeline",
		Long: `Run the phased analysis pipeline. Without --session a new session is
created; with --session an existing (resumed or unblocked) session continues
from its first unfinished phase.`,
		RunE: runPipeline,
	}
	runCmd.Flags().StringVar(&sessionID, "session", "", "Existing session id to continue")
	runCmd.Flags().StringVar(&outputDir, "output", "output", "Run artifact directory")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :2112)")

	statusCmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's progress",
		Args:  cobra.ExactArgs(1),
		RunE:  showStatus,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List all sessions",
		RunE:  listSessions,
	}

	phasesCmd := &cobra.Command{
		Use:   "phases <session-id>",
		Short: "Show per-phase token and timing metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  showPhases,
	}

	retryCmd := &cobra.Command{
		Use:   "retry <session-id> <phase-id>",
		Short: "Retry a failed phase",
		Args:  cobra.ExactArgs(2),
		RunE:  retryPhase,
	}

	// Human-input management commands
	inputCmd := &cobra.Command{
		Use:   "input",
		Short: "Manage human-input requests",
	}
	submitCmd := &cobra.Command{
		Use:   "submit <request-id>",
		Short: "Submit externally-sourced data for a waiting request",
		Args:  cobra.ExactArgs(1),
		RunE:  submitInput,
	}
	submitCmd.Flags().StringVar(&inputData, "data", "", "Response payload as inline JSON")
	submitCmd.Flags().StringVar(&inputFile, "file", "", "Response payload as a JSON file")
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List requests still waiting for data",
		RunE:  listPending,
	}
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Send due reminders and expire overdue requests",
		RunE:  sweepInputs,
	}
	inputCmd.AddCommand(submitCmd, pendingCmd, sweepCmd)

	// Handover management commands
	handoverCmd := &cobra.Command{
		Use:   "handover",
		Short: "Manage handover checkpoints",
	}
	handoverListCmd := &cobra.Command{
		Use:   "list",
		Short: "List unrecovered handover checkpoints",
		RunE:  listHandovers,
	}
	handoverResumeCmd := &cobra.Command{
		Use:   "resume <handover-id>",
		Short: "Resume from a handover into a fresh-context successor session",
		RunE:  resumeHandover,
		Args:  cobra.ExactArgs(1),
	}
	handoverResumeCmd.Flags().StringVar(&outputDir, "output", "output", "Run artifact directory")
	handoverResumeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :2112)")
	handoverCmd.AddCommand(handoverListCmd, handoverResumeCmd)

	rootCmd.AddCommand(runCmd, statusCmd, sessionsCmd, phasesCmd, retryCmd, inputCmd, handoverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	app, err := newApp(outputDir)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(app.Logger)

	session, err := app.resolveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return app.execute(ctx, session)
}

func resumeHandover(cmd *cobra.Command, args []string) error {
	app, err := newApp(outputDir)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveMetrics(app.Logger)

	session, err := app.Engine.ResumeFromHandover(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to resume from handover: %w", err)
	}
	app.Logger.Info("Resumed into successor session", "session_id", session.ID)
	return app.execute(ctx, session)
}

func showStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Engine.SessionStatus(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Session:     %s\n", summary.SessionID)
	fmt.Printf("Status:      %s\n", summary.Status)
	if summary.CurrentPhase != "" {
		fmt.Printf("Phase:       %s\n", summary.CurrentPhase)
	}
	fmt.Printf("Progress:    %.1f%%\n", summary.PercentComplete)
	fmt.Printf("Tokens:      %d (%.1f%% of window)\n", summary.TokensUsed, summary.ContextUtilization)
	for _, req := range summary.PendingInputs {
		fmt.Printf("Waiting on:  %s (%s), expires %s\n", req.ID, req.InputType, req.ExpiredAt.Format(time.RFC3339))
		fmt.Printf("  %s\n", req.Instructions)
	}
	return nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.Store.Sessions.List(context.Background())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s  phases=%d  tokens=%d  handovers=%d  %s\n",
			s.ID, s.Status, len(s.Phases), s.TokensUsed, s.HandoverCount,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func showPhases(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	phases, err := app.Engine.PhaseMetrics(context.Background(), args[0])
	if err != nil {
		return err
	}
	for _, m := range phases {
		fmt.Printf("%-24s  attempt=%d  %-13s  prompt=%d  response=%d  total=%d  %s\n",
			m.PhaseID, m.Attempt, m.Status, m.PromptTokens, m.ResponseTokens, m.TotalTokens,
			m.Duration.Round(time.Millisecond))
	}
	return nil
}

func retryPhase(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := app.Engine.RetryPhase(ctx, args[0], models.PhaseID(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("Phase %s completed on attempt %d (%d tokens)\n", rec.PhaseID, rec.Attempt, rec.TotalTokens)
	return nil
}

func submitInput(cmd *cobra.Command, args []string) error {
	payload, err := readInputPayload()
	if err != nil {
		return err
	}

	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := app.Engine.SubmitHumanInput(ctx, args[0], payload)
	if err != nil {
		var verr *humaninput.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("response rejected, request still waiting: %w", verr)
		}
		return err
	}
	app.Logger.Info("Human input accepted, session continued", "session_id", result.SessionID)
	return app.presentResult(ctx, result.SessionID, result)
}

func listPending(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	pending, err := app.Inputs.CheckPending(context.Background())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No waiting requests.")
		return nil
	}
	for _, req := range pending {
		fmt.Printf("%s  session=%s  phase=%s  type=%s  expires=%s\n",
			req.ID, req.SessionID, req.PhaseID, req.InputType, req.ExpiredAt.Format(time.RFC3339))
	}
	return nil
}

func sweepInputs(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	reminded, err := app.Inputs.SendReminders(ctx)
	if err != nil {
		return err
	}
	expired, err := app.Inputs.ExpireOldRequests(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Reminders sent: %d, requests expired: %d\n", reminded, expired)
	return nil
}

func listHandovers(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	handovers, err := app.Engine.ListUnrecoveredHandovers(context.Background())
	if err != nil {
		return err
	}
	if len(handovers) == 0 {
		fmt.Println("No unrecovered handovers.")
		return nil
	}
	for _, h := range handovers {
		fmt.Printf("%s  session=%s  seq=%d  utilization=%.1f%%  %s\n",
			h.ID, h.SessionID, h.Sequence, h.Utilization, h.NextAction)
	}
	return nil
}

// readInputPayload decodes the response JSON from --data or --file.
func readInputPayload() (map[string]any, error) {
	var raw []byte
	switch {
	case inputData != "":
		raw = []byte(inputData)
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		raw = data
	default:
		return nil, fmt.Errorf("one of --data or --file is required")
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("response payload is not valid JSON: %w", err)
	}
	return payload, nil
}

// serveMetrics exposes the Prometheus registry when --metrics-addr is set.
func serveMetrics(logger *slog.Logger) {
	if metricsAddr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics endpoint listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics endpoint failed", "error", err)
		}
	}()
}

// loadEnv loads environment variables from the env file when present.
func loadEnv(logger *slog.Logger) {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
		return
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
	}
}
