package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"specloom/internal/app"
	"specloom/internal/config"
	"specloom/internal/events"
	"specloom/internal/manifest"
	"specloom/internal/schedule"
	"specloom/internal/server"
	"specloom/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "slm",
	Short: "Specloom CLI",
	Long: `Specloom tracks a meta-spec decomposed into sub-specs through four phases
(specify, plan, tasks, implement), persisted as a JSON manifest guarded by a
directory lock, with one git worktree per sub-spec for parallel development.

The manifest is the contract between cooperating agent processes: every
mutation happens under the lock as a full-document read-modify-write, and
readiness queries (get-ready, get-next) tell an orchestrator which sub-specs
may enter a phase. The implement phase stays blocked until a human approves
an execution schedule (mark-scheduled).`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("SPECLOOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("manifest", "", "explicit manifest path")
	rootCmd.PersistentFlags().String("meta-spec", "", "meta-spec id (resolved under the specs root)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("manifest", rootCmd.PersistentFlags().Lookup("manifest"))
	_ = viper.BindPFlag("meta-spec", rootCmd.PersistentFlags().Lookup("meta-spec"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(addSubSpecCmd())
	rootCmd.AddCommand(updatePhaseCmd())
	rootCmd.AddCommand(updateWorktreeCmd())
	rootCmd.AddCommand(markScheduledCmd())
	rootCmd.AddCommand(getReadyCmd())
	rootCmd.AddCommand(getNextCmd())
	rootCmd.AddCommand(allCompleteCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(findMetaSpecCmd())
	rootCmd.AddCommand(worktreeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(lockCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- command plumbing ---

func withStore(ctx context.Context, commandName string, fn func(context.Context, *manifest.Store, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	store, closeStore, err := app.NewStore(cfg, workspace, "slm "+commandName)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, store, cfg)
}

func resolveManifest(ctx context.Context, cfg *config.Config) (string, error) {
	return app.ResolveManifest(ctx, cfg, viper.GetString("workspace"),
		viper.GetString("manifest"), viper.GetString("meta-spec"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- spec lifecycle commands ---

func initCmd() *cobra.Command {
	var userStoryFile, breakdownFile string
	cmd := &cobra.Command{
		Use:   "init <path> <id> <title>",
		Short: "Create a new meta-spec manifest",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "init", func(ctx context.Context, s *manifest.Store, _ *config.Config) error {
				m, err := s.Init(ctx, args[0], manifest.InitOptions{
					ID:            args[1],
					Title:         args[2],
					UserStoryFile: userStoryFile,
					BreakdownFile: breakdownFile,
					Actor:         viper.GetString("actor"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("Initialized meta-spec %s at %s\n", m.MetaSpec.ID, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userStoryFile, "user-story-file", "", "path to the user story document")
	cmd.Flags().StringVar(&breakdownFile, "breakdown-file", "", "path to the breakdown document")
	return cmd
}

func addSubSpecCmd() *cobra.Command {
	var depends []string
	cmd := &cobra.Command{
		Use:   "add-sub-spec <id> <title>",
		Short: "Add a sub-spec to the manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "add-sub-spec", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				sub, err := s.AddSubSpec(ctx, path, manifest.AddSubSpecOptions{
					ID:      args[0],
					Title:   args[1],
					Depends: depends,
					Actor:   viper.GetString("actor"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sub)
				}
				fmt.Printf("Added sub-spec %s (branch %s)\n", sub.ID, sub.Branch)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&depends, "depends", []string{}, "dependency sub-spec id (repeatable)")
	return cmd
}

func updatePhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-phase <sub-spec-id> <phase> <status>",
		Short: "Set a sub-spec's phase status",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "update-phase", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				if err := s.UpdatePhase(ctx, path, args[0], args[1], args[2], viper.GetString("actor")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"subSpec": args[0], "phase": args[1], "status": args[2]})
				}
				fmt.Printf("%s: %s -> %s\n", args[0], args[1], args[2])
				return nil
			})
		},
	}
}

func updateWorktreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-worktree <sub-spec-id> <path>",
		Short: "Record a sub-spec's worktree path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "update-worktree", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				return s.SetWorktree(ctx, path, args[0], args[1], viper.GetString("actor"))
			})
		},
	}
}

func markScheduledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-scheduled <schedule-file>",
		Short: "Approve the execution schedule and unblock implement phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "mark-scheduled", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				doc, err := schedule.FromFile(args[0])
				if err != nil {
					return err
				}
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				if err := s.MarkScheduled(ctx, path, doc, viper.GetString("actor")); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Println("Schedule approved; implement phases unblocked")
				}
				return nil
			})
		},
	}
}

// --- query commands ---

func getReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-ready <phase>",
		Short: "List sub-specs ready for a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "get-ready", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				ready, err := s.ReadyForPhase(ctx, path, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if ready == nil {
						ready = []string{}
					}
					return printJSON(map[string]any{"phase": args[0], "ready": ready})
				}
				for _, id := range ready {
					fmt.Println(id)
				}
				return nil
			})
		},
	}
}

func getNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-next <phase>",
		Short: "Print the next sub-spec ready for a phase, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "get-next", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				next, err := s.NextForPhase(ctx, path, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"phase": args[0], "next": next})
				}
				if next != "" {
					fmt.Println(next)
				}
				return nil
			})
		},
	}
}

func allCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all-complete <phase>",
		Short: "Report whether every sub-spec completed a phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "all-complete", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				done, err := s.AllPhaseComplete(ctx, path, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"phase": args[0], "complete": done})
				}
				fmt.Println(done)
				return nil
			})
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the meta-spec and per-sub-spec phase statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "summary", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					m, err := s.Get(ctx, path)
					if err != nil {
						return err
					}
					return printJSON(m)
				}
				text, err := s.Summary(ctx, path)
				if err != nil {
					return err
				}
				fmt.Print(text)
				return nil
			})
		},
	}
}

func findMetaSpecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find-meta-spec <id>",
		Short: "Locate the manifest for a meta-spec id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			path, err := app.ResolveManifest(cmd.Context(), cfg, workspace, "", args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"id": args[0], "manifest": path})
			}
			fmt.Println(path)
			return nil
		},
	}
}

// --- worktree commands ---

func worktreeCmd() *cobra.Command {
	wt := &cobra.Command{
		Use:   "worktree",
		Short: "Manage per-sub-spec git worktrees",
		Long:  "Each sub-spec gets one worktree on branch {metaSpecId}-{subSpecId}. Creating or removing one records the path in the manifest.",
	}
	wt.AddCommand(worktreeAddCmd())
	wt.AddCommand(worktreeRemoveCmd())
	wt.AddCommand(worktreeListCmd())
	return wt
}

func worktreeManager(cfg *config.Config) worktree.Manager {
	return worktree.Manager{
		RepoPath: cfg.Worktrees.Repo,
		BaseDir:  cfg.Worktrees.BaseDir,
	}
}

func worktreeAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <sub-spec-id>",
		Short: "Create the worktree for a sub-spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "worktree add", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				m, err := s.Get(ctx, path)
				if err != nil {
					return err
				}
				if m.FindSubSpec(args[0]) == nil {
					return fmt.Errorf("sub-spec %s: %w", args[0], manifest.ErrNotFound)
				}
				wtPath, err := worktreeManager(cfg).Add(m.MetaSpec.ID, args[0])
				if err != nil {
					return err
				}
				if err := s.SetWorktree(ctx, path, args[0], wtPath, viper.GetString("actor")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"subSpec": args[0], "worktree": wtPath})
				}
				fmt.Println(wtPath)
				return nil
			})
		},
	}
}

func worktreeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <sub-spec-id>",
		Short: "Remove the worktree for a sub-spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "worktree remove", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				m, err := s.Get(ctx, path)
				if err != nil {
					return err
				}
				if err := worktreeManager(cfg).Remove(m.MetaSpec.ID, args[0]); err != nil {
					return err
				}
				return s.SetWorktree(ctx, path, args[0], "", viper.GetString("actor"))
			})
		},
	}
}

func worktreeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worktrees of the configured repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			paths, err := worktreeManager(cfg).List()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(paths)
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

// --- diagnostics ---

func logCmd() *cobra.Command {
	lc := &cobra.Command{
		Use:   "log",
		Short: "Manifest event log",
	}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest manifest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "log tail", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				evts, err := events.Tail(path, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Sub-spec", "Actor"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.SubSpec, evt.Actor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func lockCmd() *cobra.Command {
	lc := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or clear the manifest lock",
	}
	lc.AddCommand(lockStatusCmd())
	lc.AddCommand(lockClearCmd())
	return lc
}

func lockStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who holds the manifest lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "lock status", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				holder, err := s.Locks.Inspect(path)
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						fmt.Println("unlocked")
						return nil
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"pid":     holder.PID,
						"since":   holder.Since.Format(time.RFC3339),
						"command": holder.Command,
					})
				}
				fmt.Printf("locked by pid %d since %s (%s)\n", holder.PID, holder.Since.Format(time.RFC3339), holder.Command)
				return nil
			})
		},
	}
}

func lockClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Force-remove the manifest lock marker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "lock clear", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				if err := s.Locks.ForceClear(path); err != nil {
					return err
				}
				fmt.Println("lock cleared")
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP view of the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), "serve", func(ctx context.Context, s *manifest.Store, cfg *config.Config) error {
				path, err := resolveManifest(ctx, cfg)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Store:        s,
					ManifestPath: path,
					BasePath:     basePath,
					Auth:         server.AuthConfig{JWTSecret: os.Getenv("SPECLOOM_JWT_SECRET")},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving manifest API on http://%s%s\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
