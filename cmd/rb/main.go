package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reqboard/internal/app"
	"reqboard/internal/config"
	"reqboard/internal/domain"
	"reqboard/internal/logging"
	"reqboard/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "rb",
	Short: "Request board CLI",
	Long: `rb tracks requests across an ordered status board.

Requests start UNASSIGNED and move one column at a time. Only an administrator
or the current assignee can move a request, and it cannot leave UNASSIGNED
until someone is assigned. Moves are applied to the local board first and
undone if the server refuses them.

Run 'rb init' and 'rb serve' for a local API, then 'rb login' and 'rb board'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log-level")
		if level == "" {
			level = "warn"
		}
		logging.New(config.LogConfig{Level: level, Format: viper.GetString("log-format")}, os.Stderr)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REQBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("api-url", app.DefaultAPIURL, "request board API base URL")
	flags.BoolP("yes", "y", false, "answer yes to confirmations")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "api-url", "yes", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(statusesCmd())
	rootCmd.AddCommand(lookupCmd("types", "List request types"))
	rootCmd.AddCommand(lookupCmd("priorities", "List request priorities"))
	rootCmd.AddCommand(lookupCmd("users", "List users"))
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default reqboard.yml for the local API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := app.InitWorkspace(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("%s already exists; use --force to overwrite\n", path)
				return nil
			}
			fmt.Printf("Wrote %s. Default login is admin/admin; change it before sharing the server.\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the reference HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			logCfg := cfg.Log
			if lvl := viper.GetString("log-level"); lvl != "" {
				logCfg.Level = lvl
			}
			if cmd.Root().PersistentFlags().Changed("log-format") || os.Getenv("REQBOARD_LOG_FORMAT") != "" {
				logCfg.Format = viper.GetString("log-format")
			}
			logger := logging.New(logCfg, os.Stderr)
			srv, err := app.OpenServerWithConfig(cmd.Context(), workspace, cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			handler, err := srv.Handler()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			httpSrv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(ctx)
			}()
			logger.Info("serving request board API", "addr", addr, "base_path", cfg.Server.BasePath)
			fmt.Printf("Serving request board API on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n",
				addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if strings.TrimSpace(username) == "" {
					return fmt.Errorf("--username required")
				}
				if password == "" {
					fmt.Print("Password: ")
					line, err := bufio.NewReader(os.Stdin).ReadString('\n')
					if err != nil && line == "" {
						return fmt.Errorf("read password: %w", err)
					}
					password = strings.TrimRight(line, "\r\n")
				}
				s, err := d.Client.Login(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.User)
				}
				fmt.Printf("Signed in as %s (%s)\n", displayName(s.User), s.User.RoleCode)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if err := d.Client.Logout(); err != nil {
					return err
				}
				fmt.Println("Signed out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				s, err := d.RequireSession()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.User)
				}
				fmt.Printf("%s (%s) id=%s\n", displayName(s.User), s.User.RoleCode, s.User.ID)
				return nil
			})
		},
	}
}

func boardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show active requests grouped by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				snap, err := d.Load(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap.Columns())
				}
				renderBoard(os.Stdout, snap, userNames(cmd.Context(), d))
				return nil
			})
		},
	}
}

func moveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "move <request-id> <status>",
		Short: "Move a request to an adjacent status (code or id)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				snap, err := d.Load(cmd.Context())
				if err != nil {
					return err
				}
				target, err := resolveStatus(snap, args[1])
				if err != nil {
					return err
				}
				outcome, err := d.Board.MoveWithNote(cmd.Context(), args[0], target.ID, optionalString(note))
				if viper.GetBool("json") {
					if perr := printJSON(outcome); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note stored with the status change")
	return cmd
}

func assignCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "assign <request-id> <user>",
		Short: "Assign a request to a user (username or id); administrators only",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.Load(cmd.Context()); err != nil {
					return err
				}
				userID, err := resolveUser(cmd.Context(), d, args[1])
				if err != nil {
					return err
				}
				return d.Board.Assign(cmd.Context(), args[0], userID, optionalString(note))
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note stored with the assignment")
	return cmd
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Aliases: []string{"requests", "req"}, Short: "Manage requests"}
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestCreateCmd())
	cmd.AddCommand(requestUpdateCmd())
	cmd.AddCommand(requestDeleteCmd())
	return cmd
}

func requestListCmd() *cobra.Command {
	var all bool
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				snap, err := d.Load(cmd.Context())
				if err != nil {
					return err
				}
				items := snap.Requests
				if all {
					if items, err = d.Client.ListRequests(cmd.Context()); err != nil {
						return err
					}
				}
				if status != "" {
					st, err := resolveStatus(snap, status)
					if err != nil {
						return err
					}
					filtered := items[:0:0]
					for _, r := range items {
						if r.StatusID == st.ID {
							filtered = append(filtered, r)
						}
					}
					items = filtered
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderRequests(os.Stdout, snap.Statuses, items, userNames(cmd.Context(), d))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include deleted requests")
	cmd.Flags().StringVar(&status, "status", "", "only requests in this status (code or id)")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.RequireSession(); err != nil {
					return err
				}
				r, err := d.Client.GetRequest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				renderRequest(os.Stdout, r, userNames(cmd.Context(), d))
				return nil
			})
		},
	}
}

func requestCreateCmd() *cobra.Command {
	var in domain.NewRequest
	var typeCode, priorityCode string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a request in the initial status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.Load(cmd.Context()); err != nil {
					return err
				}
				var err error
				if in.RequestTypeID, err = resolveType(cmd.Context(), d, typeCode); err != nil {
					return err
				}
				if in.PriorityID, err = resolvePriority(cmd.Context(), d, priorityCode); err != nil {
					return err
				}
				created, err := d.Board.Create(cmd.Context(), in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Created %s in %s\n", created.ID, created.StatusName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&typeCode, "type", "", "request type code or id")
	cmd.Flags().StringVar(&priorityCode, "priority", "", "priority code or id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestUpdateCmd() *cobra.Command {
	var title, description, status string
	cmd := &cobra.Command{
		Use:   "update <request-id>",
		Short: "Edit a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				snap, err := d.Load(cmd.Context())
				if err != nil {
					return err
				}
				var patch domain.RequestPatch
				if cmd.Flags().Changed("title") {
					patch.Title = &title
				}
				if cmd.Flags().Changed("description") {
					patch.Description = &description
				}
				if status != "" {
					st, err := resolveStatus(snap, status)
					if err != nil {
						return err
					}
					patch.StatusID = &st.ID
				}
				if patch == (domain.RequestPatch{}) {
					return fmt.Errorf("nothing to update; pass --title, --description or --status")
				}
				updated, err := d.Board.Save(cmd.Context(), args[0], patch)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(updated)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "adjacent status (code or id)")
	return cmd
}

func requestDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <request-id>",
		Short: "Delete a request; administrators only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.Load(cmd.Context()); err != nil {
					return err
				}
				return d.Board.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <request-id>",
		Short: "Show the assignment history of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.RequireSession(); err != nil {
					return err
				}
				items, err := d.Store.Assignments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderAssignments(os.Stdout, items, userNames(cmd.Context(), d))
				return nil
			})
		},
	}
}

func journalCmd() *cobra.Command {
	var requestID string
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show local board moves, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				items, err := d.Journal.List(cmd.Context(), requestID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderJournal(os.Stdout, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "only moves of this request")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func statusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "List the status catalog in board order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				snap, err := d.Load(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap.Statuses)
				}
				renderStatuses(os.Stdout, snap.Statuses)
				return nil
			})
		},
	}
}

func lookupCmd(kind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   kind,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDashboard(func(d *app.Dashboard) error {
				if _, err := d.RequireSession(); err != nil {
					return err
				}
				ctx := cmd.Context()
				var (
					items any
					err   error
				)
				switch kind {
				case "types":
					items, err = d.Client.ListRequestTypes(ctx)
				case "priorities":
					items, err = d.Client.ListPriorities(ctx)
				default:
					items, err = d.Client.ListUsers(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderLookup(os.Stdout, items)
				return nil
			})
		},
	}
}

func withDashboard(fn func(*app.Dashboard) error) error {
	d, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		APIURL:    viper.GetString("api-url"),
		AssumeYes: viper.GetBool("yes"),
		In:        os.Stdin,
		Out:       os.Stdout,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

func resolveStatus(snap store.Snapshot, ref string) (domain.Status, error) {
	for _, s := range snap.Statuses {
		if s.ID == ref || strings.EqualFold(s.Code, ref) {
			return s, nil
		}
	}
	return domain.Status{}, fmt.Errorf("unknown status %q", ref)
}

func resolveUser(ctx context.Context, d *app.Dashboard, ref string) (string, error) {
	users, err := d.Client.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.ID == ref || strings.EqualFold(u.Username, ref) {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("unknown user %q", ref)
}

func resolveType(ctx context.Context, d *app.Dashboard, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	items, err := d.Client.ListRequestTypes(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range items {
		if t.ID == ref || strings.EqualFold(t.Code, ref) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("unknown request type %q", ref)
}

func resolvePriority(ctx context.Context, d *app.Dashboard, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	items, err := d.Client.ListPriorities(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range items {
		if p.ID == ref || strings.EqualFold(p.Code, ref) {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("unknown priority %q", ref)
}

// userNames maps user ids to display names. Lookup failures leave ids as is.
func userNames(ctx context.Context, d *app.Dashboard) map[string]string {
	names := map[string]string{}
	users, err := d.Client.ListUsers(ctx)
	if err != nil {
		slog.Debug("user lookup failed", "error", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = displayName(u)
	}
	return names
}

func displayName(u domain.User) string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
