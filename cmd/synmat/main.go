package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Wshaoqing721/synmatai-test-platform/runner"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/agent"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/emit"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/load"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/model"
	anthropicmodel "github.com/Wshaoqing721/synmatai-test-platform/runner/model/anthropic"
	googlemodel "github.com/Wshaoqing721/synmatai-test-platform/runner/model/google"
	openaimodel "github.com/Wshaoqing721/synmatai-test-platform/runner/model/openai"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/policy"
	"github.com/Wshaoqing721/synmatai-test-platform/runner/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "synmat",
		Short: "Behavioral load testing for conversational agents",
		Long: "Synmat drives fleets of virtual users through scenario graphs " +
			"against an agent API, including multi-turn dialogs governed by " +
			"exit, message and task-detection policies.",
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario against a target agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadScenarioFile(args[0])
			if err != nil {
				return err
			}
			scenario := file.Scenario

			target, _ := cmd.Flags().GetString("target")
			users, _ := cmd.Flags().GetInt("users")
			concurrency, _ := cmd.Flags().GetInt("concurrency")

			// Scenario-file fan-out defaults apply unless overridden.
			if !cmd.Flags().Changed("users") && file.NumUsers > 0 {
				users = file.NumUsers
			}
			if !cmd.Flags().Changed("concurrency") && file.Concurrency > 0 {
				concurrency = file.Concurrency
			}
			timeout, _ := cmd.Flags().GetDuration("timeout")
			httpTimeout, _ := cmd.Flags().GetDuration("http-timeout")
			token, _ := cmd.Flags().GetString("token")
			runID, _ := cmd.Flags().GetString("run-id")
			events, _ := cmd.Flags().GetBool("events")
			jsonEvents, _ := cmd.Flags().GetBool("json-events")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			if target == "" {
				return fmt.Errorf("--target is required")
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			chat, err := buildChatModel(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			var emitter emit.Emitter
			if events || jsonEvents {
				emitter = emit.NewLogEmitter(os.Stderr, jsonEvents)
			}

			var metrics *runner.Metrics
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				metrics = runner.NewMetrics(registry)
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
					}
				}()
				fmt.Printf("Serving metrics on %s/metrics\n", metricsAddr)
			}

			caller := agent.NewHTTPCaller(target, httpTimeout, token)
			controller := runner.NewController(st, caller, policy.NewEvaluator(chat), emitter, metrics)

			// SIGINT cancels the run rather than killing the process, so
			// the aggregate is still persisted and printed.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Running scenario %q against %s with %d users\n", scenario.Name, target, users)
			result, err := controller.Run(ctx, scenario, runner.RunOptions{
				RunID:       runID,
				TotalUsers:  users,
				Concurrency: concurrency,
				Timeout:     timeout,
				Token:       token,
			})
			if err != nil {
				return fmt.Errorf("run aborted: %w", err)
			}

			printResult(result)
			if result.Status != runner.RunDone {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().String("target", "", "Base URL of the agent under test (required)")
	cmd.Flags().Int("users", 1, "Number of virtual users")
	cmd.Flags().Int("concurrency", 0, "Concurrent users (default: all)")
	cmd.Flags().Duration("timeout", 0, "Run-level timeout (0 disables)")
	cmd.Flags().Duration("http-timeout", 30*time.Second, "Per-request HTTP timeout")
	cmd.Flags().String("token", "", "Bearer token passed to every virtual user")
	cmd.Flags().String("run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().Bool("events", false, "Print progress events to stderr")
	cmd.Flags().Bool("json-events", false, "Print progress events as JSONL to stderr")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	addStoreFlags(cmd)
	addModelFlags(cmd)
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario-file>",
		Short: "Validate a scenario and print its execution order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := loadScenario(args[0])
			if err != nil {
				return err
			}

			order, err := scenario.TopoSort()
			if err != nil {
				return err
			}

			fmt.Printf("Scenario %q: %d nodes\n", scenario.Name, len(scenario.Nodes))
			for i, id := range order {
				node, _ := scenario.Node(id)
				line := fmt.Sprintf("  %d. %s [%s]", i+1, id, node.NodeType)
				if node.ExecutionMode == runner.ModeMultiTurnDialog {
					line += " (dialog)"
				}
				if node.Endpoint != "" {
					line += " " + node.Endpoint
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <scenario-file>",
		Short: "Print a scenario as a Graphviz DOT digraph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			dot, err := load.ToDOT(scenario)
			if err != nil {
				return err
			}
			fmt.Print(dot)
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			record, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run %s: %s\n", record.ID, record.ScenarioName)
			fmt.Printf("Status: %s\n", record.Status)
			fmt.Printf("Users: %d success, %d failed of %d (%d%%)\n",
				record.SuccessCount, record.FailedCount, record.TotalUsers, record.ProgressPct)
			if record.ErrorMessage != "" {
				fmt.Printf("Error: %s\n", record.ErrorMessage)
			}

			usersFlag, _ := cmd.Flags().GetBool("users")
			if !usersFlag {
				return nil
			}
			users, err := st.ListUsers(cmd.Context(), record.ID)
			if err != nil {
				return err
			}
			if len(users) > 0 {
				fmt.Println("\nUsers:")
				for _, user := range users {
					line := fmt.Sprintf("  %s [%s]", user.UserID, user.Status)
					if user.ErrorMessage != "" {
						line += " " + user.ErrorMessage
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().Bool("users", false, "Also list per-user outcomes")
	addStoreFlags(cmd)
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().String("mysql", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/synmat")
}

func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("ai-provider", "", "Chat model for ai_generated messages: openai, anthropic or google")
	cmd.Flags().String("ai-model", "", "Model name override for the chosen provider")
	cmd.Flags().Float64("ai-temperature", 0.7, "Sampling temperature for generated messages")
}

// openStore picks the backing store from flags. SQLite and MySQL are
// mutually exclusive; neither means results live only in memory for the
// lifetime of the process.
func openStore(cmd *cobra.Command) (store.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	mysqlDSN, _ := cmd.Flags().GetString("mysql")

	switch {
	case dbPath != "" && mysqlDSN != "":
		return nil, fmt.Errorf("--db and --mysql are mutually exclusive")
	case mysqlDSN != "":
		return store.NewMySQLStore(mysqlDSN)
	case dbPath != "":
		return store.NewSQLiteStore(dbPath)
	default:
		return store.NewMemoryStore(), nil
	}
}

// buildChatModel wires the optional chat model behind ai_generated message
// strategies. API keys come from the provider's conventional environment
// variable.
func buildChatModel(ctx context.Context, cmd *cobra.Command) (model.ChatModel, error) {
	provider, _ := cmd.Flags().GetString("ai-provider")
	modelName, _ := cmd.Flags().GetString("ai-model")
	temperature, _ := cmd.Flags().GetFloat64("ai-temperature")

	switch strings.ToLower(provider) {
	case "":
		return nil, nil
	case "openai":
		return openaimodel.NewChatModel(os.Getenv("OPENAI_API_KEY"), modelName, temperature), nil
	case "anthropic":
		return anthropicmodel.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"), modelName), nil
	case "google":
		return googlemodel.NewChatModel(ctx, os.Getenv("GOOGLE_API_KEY"), modelName, float32(temperature))
	default:
		return nil, fmt.Errorf("unknown ai provider %q", provider)
	}
}

// loadScenarioFile reads YAML by default and DOT for .dot/.gv files. DOT
// files carry no run defaults.
func loadScenarioFile(path string) (*load.File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario file: %w", err)
		}
		scenario, err := load.FromDOT(string(data))
		if err != nil {
			return nil, err
		}
		return &load.File{Scenario: scenario}, nil
	default:
		return load.ReadYAMLFile(path)
	}
}

func loadScenario(path string) (*runner.Scenario, error) {
	file, err := loadScenarioFile(path)
	if err != nil {
		return nil, err
	}
	return file.Scenario, nil
}

func printResult(result *runner.RunResult) {
	fmt.Printf("\nRun %s finished with status: %s\n", result.RunID, result.Status)
	fmt.Printf("Users: %d success, %d failed of %d (%d%%)\n",
		result.SuccessCount, result.FailedCount, result.TotalUsers, result.ProgressPct)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		fmt.Printf("Error: %s\n", result.Error)
	}
}
