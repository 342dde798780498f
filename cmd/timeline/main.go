// cmd/timeline/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"timeline/client"
	"timeline/internal/config"
	"timeline/internal/logging"
	"timeline/internal/repository"
	"timeline/internal/server"
	"timeline/internal/watch"
	"timeline/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serverURL  string
	configPath string
	dbPath     string
)

var rootCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Timeline keeps checkpoints and branches of single files",
	Long: `Timeline records snapshots of a file as checkpoints, organises them into
branches and restores any of them. The commands talk to a local timeline
service; "timeline serve" starts one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultURL := os.Getenv("TIMELINE_URL")
	if defaultURL == "" {
		defaultURL = client.DefaultURL
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Timeline service URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file for serve (default per TIMELINE_ENV)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Repository path (default derived from FILE)")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the timeline service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			return serve(path)
		},
	}

	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.New(serverURL).Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(color.GreenString("healthy"), serverURL)
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit FILE",
		Short: "Record the current content of FILE as a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			cp, err := newClient().Commit(cmd.Context(), types.CommitRequest{
				RepoRef: types.RepoRef{DBPath: dbPath, FilePath: file},
				Message: message,
			})
			if err != nil {
				return err
			}
			printCheckpoint(*cp, "")
			return nil
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "Checkpoint message")

	var logCmd = &cobra.Command{
		Use:   "log FILE",
		Short: "Show the checkpoints of a branch, or of every branch with --all",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			all, _ := cmd.Flags().GetBool("all")
			limit, _ := cmd.Flags().GetInt("limit")

			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			c := newClient()

			var cps []types.Checkpoint
			if all {
				cps, err = c.Log(cmd.Context(), id, limit)
			} else {
				cps, err = c.Checkpoints(cmd.Context(), id, branchName, limit)
			}
			if err != nil {
				return err
			}

			head, err := c.LatestCommit(cmd.Context(), id, branchName)
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Println("No checkpoints yet")
				return nil
			}
			for _, cp := range cps {
				printCheckpoint(cp, head)
			}
			return nil
		},
	}
	logCmd.Flags().StringP("branch", "b", "", "Branch to show (default: active branch)")
	logCmd.Flags().Bool("all", false, "Show every checkpoint of the repository")
	logCmd.Flags().IntP("limit", "n", 0, "Maximum number of checkpoints")

	var restoreCmd = &cobra.Command{
		Use:   "restore FILE HASH",
		Short: "Overwrite FILE with the content of a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			cp, err := newClient().Restore(cmd.Context(), types.RestoreRequest{
				RepoRef: types.RepoRef{DBPath: dbPath, FilePath: file},
				Hash:    args[1],
			})
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s to %s\n", args[0], color.YellowString(short(cp.Hash)))
			return nil
		},
	}

	var latestCmd = &cobra.Command{
		Use:   "latest FILE",
		Short: "Print the head checkpoint hash of a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branchName, _ := cmd.Flags().GetString("branch")
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			hash, err := newClient().LatestCommit(cmd.Context(), id, branchName)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	latestCmd.Flags().StringP("branch", "b", "", "Branch (default: active branch)")

	var infoCmd = &cobra.Command{
		Use:   "info FILE",
		Short: "Show repository details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			info, err := newClient().Info(cmd.Context(), id)
			if err != nil {
				return err
			}
			printInfo(info)
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff FILE [FROM] [TO]",
		Short: "Show line changes between two checkpoints",
		Long: `Shows the changes between checkpoints FROM and TO. Without TO the head of
the active branch is used; without FROM, the parent of TO.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			contextLines, _ := cmd.Flags().GetInt("context")
			id, err := repoPath(args[0])
			if err != nil {
				return err
			}
			var from, to string
			if len(args) > 1 {
				from = args[1]
			}
			if len(args) > 2 {
				to = args[2]
			}
			d, err := newClient().Diff(cmd.Context(), id, from, to, contextLines)
			if err != nil {
				return err
			}
			printDiff(d)
			return nil
		},
	}
	diffCmd.Flags().IntP("context", "U", -1, "Context lines (default: service default)")

	var watchCmd = &cobra.Command{
		Use:   "watch FILE",
		Short: "Checkpoint FILE every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")

			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer logger.Sync()

			w, err := watch.New(args[0], newClient(), watch.Options{
				DBPath:   dbPath,
				Debounce: debounce,
				OnCommit: func(cp *types.Checkpoint) { printCheckpoint(*cp, "") },
			}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Printf("Watching %s, press Ctrl+C to stop\n", color.CyanString(args[0]))
			return w.Run(ctx)
		},
	}
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a save is committed")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(branchCmd())
	rootCmd.AddCommand(configCmd())
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithHealthGate())
}

// repoPath is the repository identity used in URL paths: --db when given,
// otherwise the path derived from file the same way the service does.
func repoPath(file string) (string, error) {
	if dbPath != "" {
		return filepath.Abs(dbPath)
	}
	return repository.MetadataPath(file)
}

func serve(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	s, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}
