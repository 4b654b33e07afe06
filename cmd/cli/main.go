package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/internal/config"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/authoring"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/importer"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/ledger"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/lifecycle"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/reconcile"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store/postgres"
	"github.com/shorelinestewards/rsvp-ledger/pkg/utils/logging"
)

// App holds the application dependencies
type App struct {
	cfg       *config.Config
	database  *postgres.DB
	ledger    *ledger.Ledger
	lifecycle *lifecycle.Machine
	logger    *zap.Logger
	ctx       context.Context
}

var (
	env string
	app *App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Shoreline Stewards CLI - Manage cleanup events and RSVPs",
		Long:  `A CLI tool for managing beach cleanup events, volunteer RSVPs, and attendance records.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				if app.logger != nil {
					app.logger.Sync()
				}
				if app.database != nil {
					app.database.Close()
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.MarkPersistentFlagRequired("env")

	rootCmd.AddCommand(createEventCmd())
	rootCmd.AddCommand(listEventsCmd())
	rootCmd.AddCommand(cancelEventCmd())
	rootCmd.AddCommand(rsvpCmd())
	rootCmd.AddCommand(cancelRsvpCmd())
	rootCmd.AddCommand(listRsvpsCmd())
	rootCmd.AddCommand(markAttendanceCmd())
	rootCmd.AddCommand(volunteerMetricsCmd())
	rootCmd.AddCommand(sweepLifecycleCmd())
	rootCmd.AddCommand(archiveEventsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(importDataCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, and the database-backed store
func initApp() error {
	var err error
	app = &App{
		ctx: context.Background(),
	}

	// .env is optional; deployment environments set real variables
	godotenv.Load()

	app.logger, err = logging.InitLogger(env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger.Info("Starting application", zap.String("environment", env))

	app.logger.Info("Loading configuration")
	app.cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if app.cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not configured")
	}
	app.logger.Debug("Configuration loaded successfully")

	app.logger.Info("Connecting to database")
	app.database, err = postgres.NewDB(app.ctx, app.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := app.database.RunMigrations(app.ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	app.logger.Info("Database initialized successfully")

	app.ledger = ledger.New(app.database, app.logger, ledger.Options{
		MaxAttempts:        app.cfg.Retry.MaxAttempts,
		RetryBackoff:       app.cfg.RetryBackoff(),
		CancellationWindow: app.cfg.WindowDuration(),
		WindowMode:         ledger.WindowMode(app.cfg.CancellationWindow.Mode),
	})
	app.lifecycle = lifecycle.New(app.database, app.logger, lifecycle.Options{
		CompletionPolicy: lifecycle.CompletionPolicy(app.cfg.CompletionRSVPPolicy),
	})

	return nil
}

// Command definitions

func createEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createEvent <title> <start> <end>",
		Short: "Create a cleanup event (times in RFC 3339)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, args[1])
			if err != nil {
				return fmt.Errorf("start must be RFC 3339: %w", err)
			}
			end, err := time.Parse(time.RFC3339, args[2])
			if err != nil {
				return fmt.Errorf("end must be RFC 3339: %w", err)
			}

			cap, _ := cmd.Flags().GetInt("cap")
			if cap == 0 {
				cap = app.cfg.DefaultAttendanceCap
			}
			locationName, _ := cmd.Flags().GetString("location")
			rruleStr, _ := cmd.Flags().GetString("rrule")

			in := authoring.EventInput{
				Title:         args[0],
				StartTime:     start,
				EndTime:       end,
				Location:      store.Location{Name: locationName},
				AttendanceCap: cap,
			}

			if rruleStr != "" {
				events, err := authoring.CreateSeries(app.ctx, app.database, app.logger, in, rruleStr)
				if err != nil {
					return err
				}
				fmt.Printf("\nCreated %d events:\n", len(events))
				for _, ev := range events {
					fmt.Printf("  %s  %s\n", ev.StartTime.Format("2006-01-02 15:04"), ev.EventID)
				}
				return nil
			}

			ev, err := authoring.CreateEvent(app.ctx, app.database, app.logger, in)
			if err != nil {
				return err
			}
			fmt.Printf("\nEvent created: %s\n", ev.EventID)
			fmt.Printf("Start: %s\n", ev.StartTime.Format(time.RFC3339))
			fmt.Printf("Cap:   %d\n", ev.AttendanceCap)
			return nil
		},
	}

	cmd.Flags().Int("cap", 0, "Attendance cap (defaults to the configured cap)")
	cmd.Flags().String("location", "", "Location name")
	cmd.Flags().String("rrule", "", "Recurrence rule for a series, e.g. FREQ=WEEKLY;COUNT=6")

	return cmd
}

func listEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listEvents",
		Short: "List events by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")

			events, err := app.database.ListEventsByStatus(app.ctx, store.EventStatus(status))
			if err != nil {
				return err
			}

			fmt.Printf("\nFound %d %s events:\n\n", len(events), status)
			for _, ev := range events {
				fmt.Printf("- %s  %s  (%d/%d)  %s\n",
					ev.StartTime.Format("2006-01-02 15:04"),
					ev.EventID,
					ev.ActiveCount,
					ev.AttendanceCap,
					ev.Title,
				)
			}
			return nil
		},
	}

	cmd.Flags().String("status", "active", "Event status to list")

	return cmd
}

func cancelEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancelEvent <event_id>",
		Short: "Cancel an event and all of its active RSVPs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")

			result, err := app.lifecycle.CancelEvent(app.ctx, args[0], reason)
			if err != nil {
				return err
			}
			if result.AlreadyInactive {
				fmt.Printf("\nEvent %s was already cancelled.\n", args[0])
				return nil
			}
			fmt.Printf("\nEvent %s cancelled. Notified RSVPs:\n", args[0])
			for _, email := range result.CancelledRSVPs {
				fmt.Printf("  - %s\n", email)
			}
			return nil
		},
	}

	cmd.Flags().String("reason", "", "Why the event is being cancelled")

	return cmd
}

func rsvpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rsvp <event_id> <email> <first_name> <last_name>",
		Short: "Register a volunteer for an event",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			comments, _ := cmd.Flags().GetString("comments")

			result, err := app.ledger.CreateOrReactivateRSVP(app.ctx, ledger.SubmitInput{
				EventID:            args[0],
				Email:              args[1],
				FirstName:          args[2],
				LastName:           args[3],
				AdditionalComments: comments,
			})
			if err != nil {
				return err
			}

			if result.Reactivated {
				fmt.Printf("\nRSVP re-activated for %s\n", result.Email)
			} else {
				fmt.Printf("\nRSVP confirmed for %s\n", result.Email)
			}
			fmt.Printf("Spots: %d/%d\n", result.ActiveCount, result.AttendanceCap)
			return nil
		},
	}

	cmd.Flags().String("comments", "", "Additional comments for the organizers")

	return cmd
}

func cancelRsvpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancelRsvp <event_id> <email>",
		Short: "Cancel a volunteer's RSVP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.ledger.CancelRSVP(app.ctx, args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Printf("\nRSVP cancelled for %s\n", result.Email)
			fmt.Printf("Hours before event: %.1f\n", result.HoursBeforeEvent)
			if result.LateCancellation {
				fmt.Println("Note: this counts as a late cancellation.")
			}
			return nil
		},
	}
}

func listRsvpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listRsvps <event_id>",
		Short: "List all RSVPs for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rsvps, err := app.database.ListEventRSVPs(app.ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\nFound %d RSVPs for %s:\n\n", len(rsvps), args[0])
			for _, r := range rsvps {
				fmt.Printf("- %s %s (%s) - %s\n", r.FirstName, r.LastName, r.Email, r.Status)
			}
			return nil
		},
	}
}

func markAttendanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "markAttendance <event_id> <email> <attended|no_show>",
		Short: "Record whether a volunteer showed up",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var attended bool
			switch args[2] {
			case "attended":
				attended = true
			case "no_show":
				attended = false
			default:
				return fmt.Errorf("outcome must be attended or no_show, got %q", args[2])
			}

			rsvp, err := app.lifecycle.MarkAttendance(app.ctx, args[0], args[1], attended)
			if err != nil {
				return err
			}
			fmt.Printf("\nMarked %s as %s for %s\n", rsvp.Email, rsvp.Status, rsvp.EventID)
			return nil
		},
	}
}

func volunteerMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "volunteerMetrics <email>",
		Short: "Show a volunteer's aggregated RSVP history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volunteer, err := app.database.GetVolunteer(app.ctx, store.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}

			m := volunteer.Metrics
			fmt.Printf("\nMetrics for %s:\n\n", volunteer.Email)
			fmt.Printf("Total RSVPs:         %d\n", m.TotalRSVPs)
			fmt.Printf("Total cancellations: %d\n", m.TotalCancellations)
			fmt.Printf("Attended:            %d\n", m.TotalAttended)
			fmt.Printf("No-shows:            %d\n", m.TotalNoShows)
			if m.FirstEventDate != nil {
				fmt.Printf("First event:         %s\n", m.FirstEventDate.Format("2006-01-02"))
			}
			if m.LastEventDate != nil {
				fmt.Printf("Last event:          %s\n", m.LastEventDate.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func sweepLifecycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweepLifecycle",
		Short: "Complete every active event whose end time has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			completed, err := app.lifecycle.SweepCompleted(app.ctx)
			if err != nil {
				return err
			}
			if len(completed) == 0 {
				fmt.Println("\nNo events to complete.")
				return nil
			}
			fmt.Printf("\nCompleted %d events:\n", len(completed))
			for _, id := range completed {
				fmt.Printf("  - %s\n", id)
			}
			return nil
		},
	}
}

func archiveEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archiveEvents",
		Short: "Archive completed or cancelled events older than the cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			days, _ := cmd.Flags().GetInt("older-than-days")

			before := time.Now().AddDate(0, 0, -days)
			archived, err := app.lifecycle.ArchiveEvents(app.ctx, store.EventStatus(status), before)
			if err != nil {
				return err
			}
			fmt.Printf("\nArchived %d %s events older than %d days.\n", len(archived), status, days)
			return nil
		},
	}

	cmd.Flags().String("status", "completed", "Status to archive (completed or cancelled)")
	cmd.Flags().Int("older-than-days", 90, "Only archive events that started this many days ago")

	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair event counters and volunteer metrics from the RSVP rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := reconcile.Run(app.ctx, app.database, app.logger)
			if err != nil {
				return err
			}

			fmt.Printf("\nReconciliation finished:\n\n")
			fmt.Printf("Events checked:     %d\n", report.EventsChecked)
			fmt.Printf("Counters repaired:  %d\n", report.CountersRepaired)
			fmt.Printf("Volunteers checked: %d\n", report.VolunteersChecked)
			fmt.Printf("Metrics repaired:   %d\n", report.MetricsRepaired)
			for _, detail := range report.Details {
				fmt.Printf("  - %s\n", detail)
			}
			return nil
		},
	}
}

func importDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "importData <fixture.yaml>",
		Short: "Bulk-load events, volunteers, and RSVPs from a fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := importer.LoadFixture(args[0])
			if err != nil {
				return err
			}

			report, err := importer.Import(app.ctx, app.database, app.logger, fx)
			if err != nil {
				return err
			}

			fmt.Printf("\nImport finished:\n\n")
			fmt.Printf("Events imported:     %d\n", report.EventsImported)
			fmt.Printf("Volunteers imported: %d\n", report.VolunteersImported)
			fmt.Printf("RSVPs imported:      %d\n", report.RSVPsImported)
			if len(report.Skipped) > 0 {
				fmt.Printf("Skipped %d existing rows:\n", len(report.Skipped))
				for _, s := range report.Skipped {
					fmt.Printf("  - %s\n", s)
				}
			}
			return nil
		},
	}
}
