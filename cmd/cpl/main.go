package main

import (
	"context"
	"database/sql"
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

	"carepool/internal/app"
	"carepool/internal/config"
	"carepool/internal/db"
	"carepool/internal/engine"
	"carepool/internal/migrate"
	"carepool/internal/notify"
	"carepool/internal/repo"
	"carepool/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cpl",
	Short: "Carepool CLI",
	Long: `Carepool allocates facility resources: rooms, appointment slots, and
countable stock like medicine SKUs and blood units. Every claim goes through
one coordinator so a unit is never double-booked and stock never goes
negative. Crossing a reorder threshold raises alerts to the configured sinks.
Workspace state lives in .carepool; view the audit log with 'cpl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CAREPOOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("facility", "", "facility id (overrides single-facility default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("facility", rootCmd.PersistentFlags().Lookup("facility"))
}

func registerCommands() {
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(unitCmd())
	rootCmd.AddCommand(allocateCmd())
	rootCmd.AddCommand(reservationCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func facilityCmd() *cobra.Command {
	fac := &cobra.Command{Use: "facility", Short: "Manage facilities"}
	fac.AddCommand(facilityListCmd())
	fac.AddCommand(facilityCreateCmd())
	fac.AddCommand(facilityShowCmd())
	fac.AddCommand(facilityConfigCmd())
	return fac
}

func facilityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List facilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFacilities(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func facilityCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create facility",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(id))
			f, err := e.InitFacility(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(f)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "facility id")
	cmd.Flags().StringVar(&name, "name", "", "facility name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func facilityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show facility",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.Repo.GetFacility(ctx, e.Config.Facility.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
}

func facilityConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Facility configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertFacilityConfig(ctx, e.Config.Facility.ID, loaded); err != nil {
					return err
				}
				return printJSONOrTable(loaded)
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	cfg.AddCommand(importCmd)
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print a default config template",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault(viper.GetString("facility")))
			return nil
		},
	})
	return cfg
}

func unitCmd() *cobra.Command {
	unit := &cobra.Command{Use: "unit", Short: "Manage resource units"}
	unit.AddCommand(unitAddCmd())
	unit.AddCommand(unitListCmd())
	unit.AddCommand(unitShowCmd())
	unit.AddCommand(unitReadyCmd())
	unit.AddCommand(unitRestockCmd())
	unit.AddCommand(unitDecommissionCmd())
	return unit
}

func unitAddCmd() *cobra.Command {
	var opts engine.UnitCreateOptions
	var floor, reorder, max int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.FacilityID = e.Config.Facility.ID
				opts.ActorID = viper.GetString("actor-id")
				if cmd.Flags().Changed("floor") {
					opts.Floor = &floor
				}
				if cmd.Flags().Changed("reorder-level") {
					opts.ReorderLevel = &reorder
				}
				if cmd.Flags().Changed("max-level") {
					opts.MaxLevel = &max
				}
				u, err := e.RegisterUnit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "unit id (generated if empty)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "room|inventory_sku|blood_unit|appointment_slot")
	cmd.Flags().StringVar(&opts.Name, "name", "", "unit name")
	cmd.Flags().IntVar(&opts.Capacity, "capacity", 0, "capacity (quantity for stock, 1 for rooms/slots)")
	cmd.Flags().StringVar(&opts.Department, "department", "", "department")
	cmd.Flags().StringVar(&opts.RoomType, "room-type", "", "room type")
	cmd.Flags().IntVar(&floor, "floor", 0, "floor number")
	cmd.Flags().StringVar(&opts.Category, "category", "", "stock category")
	cmd.Flags().StringVar(&opts.BloodType, "blood-type", "", "blood type")
	cmd.Flags().IntVar(&reorder, "reorder-level", 0, "reorder level")
	cmd.Flags().IntVar(&max, "max-level", 0, "maximum stock level")
	cmd.Flags().StringVar(&opts.Expiry, "expiry", "", "expiry timestamp (RFC3339)")
	cmd.Flags().StringVar(&opts.CollectionDate, "collected", "", "blood collection timestamp (RFC3339)")
	cmd.Flags().StringVar(&opts.DoctorID, "doctor", "", "doctor id for appointment slots")
	cmd.Flags().StringVar(&opts.WindowStart, "window-start", "", "slot window start (RFC3339)")
	cmd.Flags().StringVar(&opts.WindowEnd, "window-end", "", "slot window end (RFC3339)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func unitListCmd() *cobra.Command {
	var kind, state, department, category, bloodType, doctorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				units, err := e.Repo.ListUnits(ctx, repo.UnitFilters{
					FacilityID: e.Config.Facility.ID,
					Kind:       kind,
					State:      state,
					Department: department,
					Category:   category,
					BloodType:  bloodType,
					DoctorID:   doctorID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(units)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Name", "State", "Capacity", "Allocated", "Remaining"})
				for _, u := range units {
					tw.AppendRow(table.Row{u.ID, u.Kind, u.Name, u.State, u.Capacity, u.Allocated, u.Remaining()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().StringVar(&department, "department", "", "filter by department")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().StringVar(&bloodType, "blood-type", "", "filter by blood type")
	cmd.Flags().StringVar(&doctorID, "doctor", "", "filter by doctor")
	return cmd
}

func unitShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <unit-id>",
		Short: "Show unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUnit(ctx, args[0])
				if err != nil {
					return err
				}
				active, err := e.Repo.ListActive(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"unit":                u,
					"active_reservations": active,
				})
			})
		},
	}
	return cmd
}

func unitReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready <unit-id>",
		Short: "Return a unit to circulation after turnover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.MakeReady(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func unitRestockCmd() *cobra.Command {
	var quantity int
	var expiry string
	cmd := &cobra.Command{
		Use:   "restock <unit-id>",
		Short: "Restock a countable unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, alerts, err := e.Restock(ctx, args[0], quantity, expiry, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"unit": u, "alerts": alerts})
			})
		},
	}
	cmd.Flags().IntVar(&quantity, "quantity", 0, "quantity to add")
	cmd.Flags().StringVar(&expiry, "expiry", "", "new expiry timestamp (RFC3339)")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func unitDecommissionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decommission <unit-id>",
		Short: "Take a unit out of service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Decommission(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
}

func allocateCmd() *cobra.Command {
	var opts engine.AllocateOptions
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a resource unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.FacilityID = e.Config.Facility.ID
				opts.ActorID = viper.GetString("actor-id")
				result, err := e.Allocate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"reservation": result.Reservation,
					"unit":        result.Unit,
					"alerts":      result.Alerts,
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "unit kind")
	cmd.Flags().StringVar(&opts.UnitID, "unit", "", "specific unit id")
	cmd.Flags().StringVar(&opts.Department, "department", "", "room department filter")
	cmd.Flags().StringVar(&opts.RoomType, "room-type", "", "room type filter")
	cmd.Flags().StringVar(&opts.Category, "category", "", "stock category filter")
	cmd.Flags().StringVar(&opts.BloodType, "blood-type", "", "blood type filter")
	cmd.Flags().StringVar(&opts.DoctorID, "doctor", "", "doctor filter for slots")
	cmd.Flags().StringVar(&opts.RequesterID, "requester", "", "requester id (patient, order, ...)")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 1, "quantity for countable stock")
	cmd.Flags().StringVar(&opts.WindowStart, "window-start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&opts.WindowEnd, "window-end", "", "window end (RFC3339)")
	cmd.Flags().BoolVar(&opts.Hold, "hold", false, "hold a room instead of admitting")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-form note")
	_ = cmd.MarkFlagRequired("requester")
	return cmd
}

func reservationCmd() *cobra.Command {
	res := &cobra.Command{Use: "reservation", Short: "Manage reservations"}
	res.AddCommand(reservationListCmd())
	res.AddCommand(reservationShowCmd())
	res.AddCommand(reservationActionCmd("confirm", "Confirm a pending appointment", engine.Engine.Confirm))
	res.AddCommand(reservationActionCmd("reject", "Reject a pending appointment", engine.Engine.Reject))
	res.AddCommand(reservationActionCmd("admit", "Admit into a held room", engine.Engine.Admit))
	res.AddCommand(reservationActionCmd("release", "Release a reservation", engine.Engine.Release))
	res.AddCommand(reservationActionCmd("cancel", "Cancel a reservation", engine.Engine.Cancel))
	res.AddCommand(reservationActionCmd("complete", "Complete an appointment", engine.Engine.Complete))
	return res
}

func reservationListCmd() *cobra.Command {
	var unitID, requesterID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReservations(ctx, repo.ReservationFilters{
					FacilityID:  e.Config.Facility.ID,
					UnitID:      unitID,
					RequesterID: requesterID,
					Status:      status,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Unit", "Requester", "Qty", "Status", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.UnitID, r.RequesterID, r.Quantity, r.Status, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&unitID, "unit", "", "filter by unit")
	cmd.Flags().StringVar(&requesterID, "requester", "", "filter by requester")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func reservationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <reservation-id>",
		Short: "Show reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetReservation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func reservationActionCmd(name, short string, action func(engine.Engine, context.Context, string, string) (engine.AllocationResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <reservation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := action(e, ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"reservation": result.Reservation,
					"unit":        result.Unit,
					"alerts":      result.Alerts,
				})
			})
		},
	}
}

func alertsCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Current threshold alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				alerts, err := e.QueryAlerts(ctx, e.Config.Facility.ID, kind)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Unit", "Name", "Level", "Quantity", "Limit"})
				for _, a := range alerts {
					tw.AppendRow(table.Row{a.UnitID, a.UnitName, a.Level, a.ObservedQuantity, a.Limit})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				expired, err := e.SweepExpired(ctx, e.Config.Facility.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"expired": expired, "count": len(expired)})
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				facilityID := e.Config.Facility.ID
				events, err := e.Repo.LatestEvents(ctx, n, facilityID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(events); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				cursor, err := e.Repo.LatestEventID(ctx, facilityID)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					fresh, err := e.Repo.EventsAfter(ctx, n, cursor, facilityID)
					if err != nil {
						return err
					}
					for _, evt := range fresh {
						if err := printJSONOrTable(evt); err != nil {
							return err
						}
						cursor = evt.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll for new events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveFacilityAndConfig(cmd.Context(), viper.GetString("facility"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := newEngine(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Carepool API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func newEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	e := engine.New(conn, cfg)
	sinks := notify.PublishersFromConfig(cfg.Webhooks)
	sinks = append(sinks, notify.LogPublisher{})
	e.Notify = notify.NewDispatcher(sinks...)
	return e
}

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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveFacilityAndConfig(ctx, viper.GetString("facility"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	return fn(ctx, newEngine(conn, cfg))
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

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
