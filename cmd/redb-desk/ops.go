package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbco/redb-desk/internal/database"
	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// execCmd runs any operation by name
var execCmd = &cobra.Command{
	Use:   "exec <profile> <operation> [args-json]",
	Short: "Run an operation against a saved profile",
	Long: "Connect with a saved profile, run one operation and print the normalized result.\n\n" +
		"Example:\n  redb-desk exec local-pg read '{\"namespace\":\"app\",\"container\":\"users\",\"limit\":10}'",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		call := database.Call{ConnectionID: args[0], Operation: dbcapabilities.Operation(args[1])}
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("arguments must be a JSON object")
			}
			call.Args = json.RawMessage(args[2])
		}
		call.Kind, _ = cmd.Flags().GetString("kind")

		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, call.ConnectionID); err != nil {
				return err
			}
			return printResult(a.manager.Execute(cmd.Context(), call))
		})
	},
}

// namespacesCmd lists databases or indices
var namespacesCmd = &cobra.Command{
	Use:   "namespaces <profile>",
	Short: "List databases, schemas or indices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.ListNamespaces(cmd.Context(), args[0]))
		})
	},
}

// containersCmd lists collections, tables, keys or topics
var containersCmd = &cobra.Command{
	Use:   "containers <profile> [namespace]",
	Short: "List collections, tables, keys or topics",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := ""
		if len(args) == 2 {
			namespace = args[1]
		}
		opts := adapter.ListOptions{}
		opts.Pattern, _ = cmd.Flags().GetString("pattern")
		opts.Limit, _ = cmd.Flags().GetInt("limit")
		opts.IncludeInternal, _ = cmd.Flags().GetBool("internal")

		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.ListContainers(cmd.Context(), args[0], namespace, opts))
		})
	},
}

// statsCmd prints server statistics
var statsCmd = &cobra.Command{
	Use:   "stats <profile>",
	Short: "Show server statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.ServerStats(cmd.Context(), args[0]))
		})
	},
}

// commandCmd runs a backend-native command
var commandCmd = &cobra.Command{
	Use:   "command <profile> <command...>",
	Short: "Run a native command (Redis command line, MongoDB JSON command, SQL)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.RawCommand(cmd.Context(), args[0], strings.Join(args[1:], " ")))
		})
	},
}

// subscribeCmd streams pub/sub messages until interrupted
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <profile> <channel...>",
	Short: "Print pub/sub messages until interrupted",
	Long:  "Subscribe to channels or glob patterns and print one JSON line per message. Press Ctrl+C to stop.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withApp(func(a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := connectProfile(ctx, a, id); err != nil {
				return err
			}
			a.serveMetrics()

			enc := json.NewEncoder(os.Stdout)
			unregister := a.manager.OnMessage(id, func(msg adapter.ChannelMessage) {
				_ = enc.Encode(msg)
			})
			defer unregister()

			res := a.manager.Subscribe(ctx, id, args[1:])
			if !res.Success {
				return printResult(res)
			}
			a.log.Info("Subscribed to %s", strings.Join(args[1:], ", "))

			<-ctx.Done()
			return nil
		})
	},
}

// publishCmd sends one pub/sub message
var publishCmd = &cobra.Command{
	Use:   "publish <profile> <channel> <payload>",
	Short: "Publish a pub/sub message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.Publish(cmd.Context(), args[0], args[1], args[2]))
		})
	},
}

// consumeCmd reads a bounded batch from a topic
var consumeCmd = &cobra.Command{
	Use:   "consume <profile> <topic>",
	Short: "Read recent (or earliest) messages from a topic",
	Long:  "Read up to --limit messages without joining a consumer group or committing offsets.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		fromBeginning, _ := cmd.Flags().GetBool("from-beginning")
		return withApp(func(a *app) error {
			if err := connectProfile(cmd.Context(), a, args[0]); err != nil {
				return err
			}
			return printResult(a.manager.ConsumeMessages(cmd.Context(), args[0], args[1], limit, fromBeginning))
		})
	},
}

// healthCmd connects every saved profile and reports their health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Connect all saved profiles and report their health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			list, err := a.profiles.List(cmd.Context())
			if err != nil {
				return err
			}
			start := time.Now()
			for _, p := range list {
				if res := a.manager.ConnectStored(cmd.Context(), p.ID); !res.Success {
					fmt.Fprintf(os.Stderr, "%s: %s\n", p.ID, res.Error.Message)
				}
			}
			res := a.manager.HealthCheck(cmd.Context())
			a.log.Debug("Health check of %d profiles took %s", len(list), time.Since(start))
			return printResult(res)
		})
	},
}

func init() {
	execCmd.Flags().String("kind", "", "Expected backend kind; the call fails if the profile is another kind")

	containersCmd.Flags().String("pattern", "", "Glob (Redis) or name prefix")
	containersCmd.Flags().Int("limit", 0, "Maximum number of containers")
	containersCmd.Flags().Bool("internal", false, "Include internal topics and system tables")

	consumeCmd.Flags().Int("limit", adapter.DefaultReadLimit, "Maximum number of messages")
	consumeCmd.Flags().Bool("from-beginning", false, "Read the earliest messages instead of the latest")
}
