package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/doctor"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/leave"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/mailer"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/respond"
)

// doctorDirectoryAdapter exposes doctor data to the appointment service,
// keeping the dependency pointed from appointment toward doctor.
type doctorDirectoryAdapter struct {
	svc     *doctor.Service
	blocked doctor.BlockedSlotRepository
}

func (a *doctorDirectoryAdapter) Get(ctx context.Context, id uuid.UUID) (*doctor.Doctor, error) {
	return a.svc.Get(ctx, id)
}

func (a *doctorDirectoryAdapter) WeeklySchedule(ctx context.Context, id uuid.UUID) ([]doctor.DayAvailability, error) {
	return a.svc.WeeklySchedule(ctx, id)
}

func (a *doctorDirectoryAdapter) BlockedSlotsOn(ctx context.Context, id uuid.UUID, date time.Time) ([]*doctor.BlockedSlot, error) {
	return a.blocked.ListByDoctorAndWeekday(ctx, id, int(date.Weekday()))
}

// leaveCancellerAdapter lets the leave approval cascade cancel appointments
// without the leave package importing appointment.
type leaveCancellerAdapter struct {
	svc *appointment.Service
}

func (a *leaveCancellerAdapter) CancelActiveInRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time, reason string, cancelledBy uuid.UUID) ([]leave.CancelledVisit, error) {
	cancelled, err := a.svc.CancelActiveInRange(ctx, doctorID, from, to, reason, cancelledBy)
	if err != nil {
		return nil, err
	}
	out := make([]leave.CancelledVisit, 0, len(cancelled))
	for _, c := range cancelled {
		out = append(out, leave.CancelledVisit{
			AppointmentID: c.ID,
			PatientID:     c.PatientID,
			Date:          c.Date,
			Time:          c.Time,
		})
	}
	return out, nil
}

// doctorCancellerAdapter does the same for suspension and deletion cascades.
type doctorCancellerAdapter struct {
	svc *appointment.Service
}

func (a *doctorCancellerAdapter) CancelActiveFrom(ctx context.Context, doctorID uuid.UUID, from time.Time, reason string, cancelledBy uuid.UUID) ([]doctor.CancelledVisit, error) {
	cancelled, err := a.svc.CancelActiveFrom(ctx, doctorID, from, reason, cancelledBy)
	if err != nil {
		return nil, err
	}
	out := make([]doctor.CancelledVisit, 0, len(cancelled))
	for _, c := range cancelled {
		out = append(out, doctor.CancelledVisit{
			AppointmentID: c.ID,
			PatientID:     c.PatientID,
			Date:          c.Date,
			Time:          c.Time,
		})
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital Management API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	runner := db.NewRunner(pool)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = respond.HTTPErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSecret),
		}))
	}

	// Mail
	sender := mailer.NewLogSender(logger, cfg.MailFrom)
	mail := mailer.New(sender, mailer.NewTemplateEngine())

	// Repositories
	userRepo := identity.NewRepoPG(pool)
	notifRepo := notification.NewRepoPG(pool)
	doctorRepo := doctor.NewRepoPG(pool)
	blockedRepo := doctor.NewBlockedSlotRepoPG(pool)
	leaveRepo := leave.NewRepoPG(pool)
	apptRepo := appointment.NewRepoPG(pool)

	// Services
	userSvc := identity.NewService(userRepo)
	notifSvc := notification.NewService(notifRepo)
	doctorSvc := doctor.NewService(doctorRepo, blockedRepo, userRepo, notifSvc, mail, runner, logger)
	leaveSvc := leave.NewService(leaveRepo, doctorSvc, userRepo, notifSvc, mail, runner, logger)
	apptSvc := appointment.NewService(apptRepo,
		&doctorDirectoryAdapter{svc: doctorSvc, blocked: blockedRepo},
		leaveSvc, userRepo, notifSvc, mail, runner, logger)

	// Cascades point back from appointment through adapters.
	doctorSvc.SetCanceller(&doctorCancellerAdapter{svc: apptSvc})
	leaveSvc.SetCanceller(&leaveCancellerAdapter{svc: apptSvc})

	// Routes
	apiV1 := e.Group("/api/v1")
	identity.NewHandler(userSvc).RegisterRoutes(apiV1)
	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)
	doctor.NewHandler(doctorSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(apptSvc).RegisterRoutes(apiV1)

	resolveDoctor := func(c echo.Context) (uuid.UUID, error) {
		uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
		if err != nil {
			return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user identity")
		}
		d, err := doctorSvc.GetByUserID(c.Request().Context(), uid)
		if err != nil {
			return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no doctor profile for user")
		}
		return d.ID, nil
	}
	leave.NewHandler(leaveSvc, resolveDoctor).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", func(c echo.Context) error {
		if err := db.Check(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unreachable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
