package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	syndicate "github.com/zhenwuuu/JuliaSwarmSyndicate-sub001"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/bridge"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/config"
	"github.com/zhenwuuu/JuliaSwarmSyndicate-sub001/contracts"
)

var (
	version = "dev"
)

func main() {
	var (
		endpoint   string
		token      string
		configPath string
		timeout    time.Duration
	)

	rootCmd := &cobra.Command{
		Use:     "synctl",
		Short:   "Drive the swarm orchestration server from the command line",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "server endpoint (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "auth token")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-call timeout")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.Load(configPath)
		}
		cfg := config.Default()
		if err := cfg.FromEnv(); err != nil {
			return nil, err
		}
		if endpoint != "" {
			cfg.Endpoint = endpoint
		}
		if token != "" {
			cfg.Token = token
		}
		cfg.CallTimeout = timeout
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	connect := func(ctx context.Context) (*syndicate.Client, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		client, err := syndicate.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity with a server round trip",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			start := time.Now()
			if _, err := client.Call(ctx, "system.ping", nil); err != nil {
				return err
			}
			fmt.Printf("pong in %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	callCmd := &cobra.Command{
		Use:   "call <method> [json-payload]",
		Short: "Issue a raw call and print the response payload",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var payload json.RawMessage
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			result, err := client.Call(ctx, args[0], payload)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	var (
		awaitOwner    string
		awaitInterval time.Duration
		awaitTimeout  time.Duration
	)
	taskAwaitCmd := &cobra.Command{
		Use:   "await <task-id>",
		Short: "Poll a task until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			handle := contracts.TaskHandle{TaskID: args[0], OwnerID: awaitOwner}
			result, err := client.AwaitTask(ctx, handle,
				bridge.WithPollInterval(awaitInterval),
				bridge.WithOverallTimeout(awaitTimeout),
				bridge.WithPollObserver(func(attempt int, elapsed time.Duration) {
					fmt.Fprintf(os.Stderr, "poll %d (%v elapsed)\n", attempt, elapsed.Round(time.Second))
				}),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "completed after %d polls in %v\n",
				result.Attempts, result.Elapsed.Round(time.Millisecond))
			return printJSON(result.Value)
		},
	}
	taskAwaitCmd.Flags().StringVar(&awaitOwner, "owner", "", "owning swarm or agent id")
	taskAwaitCmd.Flags().DurationVar(&awaitInterval, "interval", 2*time.Second, "poll interval")
	taskAwaitCmd.Flags().DurationVar(&awaitTimeout, "await-timeout", 5*time.Minute, "overall wait budget")

	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Work with asynchronous server-side tasks",
	}
	taskCmd.AddCommand(taskAwaitCmd)

	swarmListCmd := &cobra.Command{
		Use:   "list",
		Short: "List swarms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.Swarms().List(ctx)
			if err != nil {
				return err
			}
			for _, s := range list {
				fmt.Printf("%-24s %-20s agents=%-4d %s\n", s.ID, s.Name, s.AgentCount, s.Status)
			}
			return nil
		},
	}

	var optimizeWait bool
	swarmOptimizeCmd := &cobra.Command{
		Use:   "optimize <swarm-id>",
		Short: "Start an optimization run, optionally waiting for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			handle, err := client.Swarms().StartOptimization(ctx, args[0], nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "started task %s\n", handle.TaskID)
			if !optimizeWait {
				return nil
			}
			result, err := client.AwaitTask(ctx, *handle)
			if err != nil {
				return err
			}
			return printJSON(result.Value)
		},
	}
	swarmOptimizeCmd.Flags().BoolVar(&optimizeWait, "wait", false, "wait for the optimization to finish")

	swarmCmd := &cobra.Command{
		Use:   "swarm",
		Short: "Manage swarms",
	}
	swarmCmd.AddCommand(swarmListCmd, swarmOptimizeCmd)

	agentListCmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.Agents().List(ctx)
			if err != nil {
				return err
			}
			for _, a := range list {
				fmt.Printf("%-24s %-20s %s\n", a.ID, a.Name, a.Role)
			}
			return nil
		},
	}

	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	agentCmd.AddCommand(agentListCmd)

	walletBalanceCmd := &cobra.Command{
		Use:   "balance <wallet-id>",
		Short: "Show a wallet balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := connect(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			b, err := client.Wallets().Balance(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s %s (as of %s)\n", b.Amount, b.Asset, b.AsOf.Format(time.RFC3339))
			return nil
		},
	}

	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect wallets",
	}
	walletCmd.AddCommand(walletBalanceCmd)

	rootCmd.AddCommand(pingCmd, callCmd, taskCmd, swarmCmd, agentCmd, walletCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Println("null")
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
