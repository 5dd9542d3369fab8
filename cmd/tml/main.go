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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"thermoline/internal/config"
	"thermoline/internal/db"
	"thermoline/internal/domain"
	"thermoline/internal/engine"
	"thermoline/internal/ingest"
	"thermoline/internal/lookup"
	"thermoline/internal/migrate"
	"thermoline/internal/notify"
	"thermoline/internal/repo"
	"thermoline/internal/scheduler"
	"thermoline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tml",
	Short: "Thermoline CLI",
	Long: `Thermoline watches temperature sensors on trucks, trailers and terminal
sites. Monitors group thermometers under thresholds and an active-time
policy; breaches and silent sensors open incidents; unresolved incidents
escalate through paging policies until someone acknowledges them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("THERMOLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

// config

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default thermoline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	return cfg
}

// serve

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, sweeps and MQTT consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cfg := e.Config
				log, err := newLogger(cfg)
				if err != nil {
					return err
				}
				defer log.Sync()
				e.Log = log
				if cfg.Mail.Enabled {
					e.Mailer = notify.NewMailgun(cfg)
				} else {
					e.Mailer = notify.LogMailer{Log: log}
				}
				if cfg.Lookup.BaseURL != "" {
					e.Lookup = lookup.NewClient(cfg.Lookup.BaseURL, cfg.Lookup.APIKey)
				}

				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: cfg.HTTP.BasePath,
					Auth: server.AuthConfig{
						JWTSecret:              cfg.Auth.JWTSecret,
						CronKey:                cfg.Auth.CronKey,
						AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
						Logger:                 log,
					},
				})
				if err != nil {
					return err
				}

				sweeps, err := scheduler.New(cfg, e, log)
				if err != nil {
					return err
				}
				sweeps.Start()
				defer sweeps.Stop()

				if cfg.MQTT.Enabled {
					consumer := ingest.NewConsumer(cfg, e, log)
					if err := consumer.Start(); err != nil {
						return err
					}
					defer consumer.Stop()
				}

				srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving Thermoline API",
					zap.String("addr", cfg.HTTP.Addr),
					zap.String("base_path", cfg.HTTP.BasePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	return cmd
}

// sweep

func sweepCmd() *cobra.Command {
	sweep := &cobra.Command{Use: "sweep", Short: "Run periodic sweeps once"}
	sweep.AddCommand(&cobra.Command{
		Use:   "statuses",
		Short: "Resolve monitor lifecycle statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ResolveMonitorStatuses(ctx)
			})
		},
	})
	sweep.AddCommand(&cobra.Command{
		Use:   "lost-sensors",
		Short: "Open incidents for silent sensors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opened, err := e.CreateLostSensorIncidents(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("opened %d incident(s)\n", opened)
				return nil
			})
		},
	})
	sweep.AddCommand(&cobra.Command{
		Use:   "escalations",
		Short: "Fire due escalation policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fired, err := e.TriggerPolicies(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("paged %d polic(y/ies)\n", fired)
				return nil
			})
		},
	})
	return sweep
}

// monitor

func monitorCmd() *cobra.Command {
	mon := &cobra.Command{Use: "monitor", Short: "Manage thermal monitors"}
	mon.AddCommand(monitorListCmd())
	mon.AddCommand(monitorShowCmd())
	mon.AddCommand(monitorCreateCmd())
	mon.AddCommand(monitorDeleteCmd())
	return mon
}

func monitorListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				monitors, err := e.ListMonitors(ctx, repo.MonitorFilter{Status: domain.MonitorStatus(status)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(monitors)
				}
				t := newTable("ID", "NAME", "TYPE", "STATUS", "LOW", "HIGH", "THERMOMETERS")
				for _, m := range monitors {
					t.AppendRow(table.Row{
						m.ID, m.Name, m.Type, m.Status,
						formatThreshold(m.ThresholdLow), formatThreshold(m.ThresholdHigh),
						strings.Join(m.Thermometers, ","),
					})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func monitorShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <monitor-id>",
		Short: "Show monitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				monitor, err := e.GetMonitor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(monitor)
			})
		},
	}
	return cmd
}

func monitorCreateCmd() *cobra.Command {
	var name, monitorType, status, activeFrom, activeTo string
	var low, high float64
	var thermometers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				in := engine.MonitorInput{
					Name:         name,
					Type:         domain.MonitorType(monitorType),
					Status:       domain.MonitorStatus(status),
					Thermometers: thermometers,
					ActiveFrom:   optionalString(activeFrom),
					ActiveTo:     optionalString(activeTo),
				}
				if cmd.Flags().Changed("low") {
					in.ThresholdLow = &low
				}
				if cmd.Flags().Changed("high") {
					in.ThresholdHigh = &high
				}
				monitor, err := e.CreateMonitor(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(monitor)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "monitor name")
	cmd.Flags().StringVar(&monitorType, "type", "ONE_OFF", "ONE_OFF or SCHEDULED")
	cmd.Flags().StringVar(&status, "status", "", "initial status (defaults per type)")
	cmd.Flags().Float64Var(&low, "low", 0, "lower threshold, °C")
	cmd.Flags().Float64Var(&high, "high", 0, "upper threshold, °C")
	cmd.Flags().StringVar(&activeFrom, "active-from", "", "RFC3339 window start (ONE_OFF)")
	cmd.Flags().StringVar(&activeTo, "active-to", "", "RFC3339 window end (ONE_OFF)")
	cmd.Flags().StringSliceVar(&thermometers, "thermometer", nil, "thermometer id (repeatable)")
	return cmd
}

func monitorDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <monitor-id>",
		Short: "Delete monitor (TEST environment only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteMonitor(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

// incident

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{Use: "incident", Short: "Manage incidents"}
	inc.AddCommand(incidentListCmd())
	inc.AddCommand(incidentSetStatusCmd("ack", domain.IncidentAcknowledged, "Acknowledge incident"))
	inc.AddCommand(incidentSetStatusCmd("resolve", domain.IncidentResolved, "Resolve incident"))
	inc.AddCommand(&cobra.Command{
		Use:   "delete <incident-id>",
		Short: "Delete incident (TEST environment only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteIncident(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return inc
}

func incidentListCmd() *cobra.Command {
	var status, monitorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				incidents, err := e.ListIncidents(ctx, repo.IncidentFilter{
					Status:    domain.IncidentStatus(status),
					MonitorID: monitorID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(incidents)
				}
				t := newTable("ID", "MONITOR", "THERMOMETER", "STATUS", "TEMP", "TRIGGERED AT")
				for _, in := range incidents {
					t.AppendRow(table.Row{
						in.ID, in.MonitorID, in.ThermometerID, in.Status,
						formatThreshold(in.Temperature), in.TriggeredAt,
					})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&monitorID, "monitor", "", "filter by monitor id")
	return cmd
}

func incidentSetStatusCmd(use string, status domain.IncidentStatus, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <incident-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				incident, err := e.UpdateIncidentStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(incident)
			})
		},
	}
}

// contact

func contactCmd() *cobra.Command {
	contact := &cobra.Command{Use: "contact", Short: "Manage paging policy contacts"}
	contact.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contacts, err := e.ListContacts(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(contacts)
				}
				t := newTable("ID", "NAME", "TYPE", "CONTACT")
				for _, c := range contacts {
					t.AppendRow(table.Row{c.ID, c.Name, c.Type, c.Contact})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	})
	contact.AddCommand(contactCreateCmd())
	contact.AddCommand(&cobra.Command{
		Use:   "delete <contact-id>",
		Short: "Delete contact and its paging policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteContact(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return contact
}

func contactCreateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contact, err := e.CreateContact(ctx, engine.ContactInput{
					Name:    name,
					Type:    domain.ContactEmail,
					Contact: email,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(contact)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "contact name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

// policy

func policyCmd() *cobra.Command {
	policy := &cobra.Command{Use: "policy", Short: "Manage paging policies"}
	policy.AddCommand(policyListCmd())
	policy.AddCommand(policyAddCmd())
	policy.AddCommand(policyDeleteCmd())
	return policy
}

func policyListCmd() *cobra.Command {
	var monitorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitor's policies in escalation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorID == "" {
				return fmt.Errorf("--monitor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				policies, err := e.ListPolicies(ctx, monitorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(policies)
				}
				t := newTable("ID", "PRIORITY", "DELAY (S)", "CONTACT")
				for _, p := range policies {
					t.AppendRow(table.Row{p.ID, p.Priority, p.EscalationDelaySeconds, p.ContactID})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&monitorID, "monitor", "", "monitor id")
	return cmd
}

func policyAddCmd() *cobra.Command {
	var monitorID, contactID string
	var priority, delay int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add policy to monitor's escalation chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorID == "" || contactID == "" {
				return fmt.Errorf("--monitor and --contact required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				policy, err := e.CreatePolicy(ctx, monitorID, engine.PolicyInput{
					ContactID:              contactID,
					Priority:               priority,
					EscalationDelaySeconds: delay,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(policy)
			})
		},
	}
	cmd.Flags().StringVar(&monitorID, "monitor", "", "monitor id")
	cmd.Flags().StringVar(&contactID, "contact", "", "contact id")
	cmd.Flags().IntVar(&priority, "priority", 1, "chain position (lower pages first)")
	cmd.Flags().IntVar(&delay, "delay", 0, "escalation delay in seconds")
	return cmd
}

func policyDeleteCmd() *cobra.Command {
	var monitorID string
	cmd := &cobra.Command{
		Use:   "delete <policy-id>",
		Short: "Delete policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if monitorID == "" {
				return fmt.Errorf("--monitor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeletePolicy(ctx, monitorID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().StringVar(&monitorID, "monitor", "", "monitor id")
	return cmd
}

// apikey

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				t := newTable("ID", "ACTOR", "NAME", "CREATED AT")
				for _, k := range keys {
					t.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	})
	key.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, rawKey)
				fmt.Println("store the key now; only its hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

// log

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Audit event log"}
	var afterID int64
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.EventsAfter(ctx, limit, afterID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				t := newTable("ID", "TS", "TYPE", "ENTITY", "ACTOR")
				for _, evt := range events {
					t.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}
	tail.Flags().Int64Var(&afterID, "after", 0, "show events after this id")
	tail.Flags().IntVar(&limit, "n", 50, "max events")
	logc.AddCommand(tail)
	return logc
}

// helpers

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatThreshold(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
