package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/internal/version"
	"github.com/RcityLucas/Prizm-Agent-sub001/server"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/memdb"
)

var rootCmd = &cobra.Command{
	Use:   "prizm",
	Short: `A multi-party real-time conversation platform with frequency-aware proactive expression.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution; a systemd unit carries
		// its environment through the service config instead.
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:        viper.GetString("mode"),
			Addr:        viper.GetString("addr"),
			Port:        viper.GetInt("port"),
			Data:        viper.GetString("data"),
			Driver:      viper.GetString("driver"),
			DSN:         viper.GetString("dsn"),
			InstanceURL: viper.GetString("instance-url"),
			Version:     version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}
		setupLogger(instanceProfile)

		ctx, cancel := context.WithCancel(context.Background())
		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			cancel()
			printDatabaseError(err, instanceProfile)
			slog.Error("failed to open storage", "error", err)
			return
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			cancel()
			slog.Error("failed to create server", "error", err)
			return
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. The default signal
		// sent by `kill` is SIGTERM, which most process managers (systemd,
		// Kubernetes) use to request shutdown.
		signal.Notify(c, terminationSignals...)

		printGreetings(instanceProfile, storeInstance)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
			}
			cancel()
		}

		<-ctx.Done()
	},
}

// setupLogger installs the process-wide slog handler: colorized console
// output in dev and demo modes, plain JSON lines in prod.
func setupLogger(p *profile.Profile) {
	level := slog.LevelInfo
	if p.IsDev() {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if p.Mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: "15:04:05",
			Level:      level,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// reconnectInterval is how often a degraded store redials the real backend.
const reconnectInterval = 30 * time.Second

// openStore builds the configured driver and migrates it. When the backend is
// unreachable the store comes up degraded on an in-memory driver so the
// realtime surface keeps serving, and a background loop keeps redialing the
// real backend until it answers.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dial := func(ctx context.Context) (store.Driver, error) {
		driver, err := db.NewDBDriver(p)
		if err != nil {
			return nil, err
		}
		if err := driver.Migrate(ctx); err != nil {
			_ = driver.Close()
			return nil, err
		}
		return driver, nil
	}

	dbDriver, err := dial(ctx)
	if err == nil {
		return store.New(dbDriver, p), nil
	}
	if p.Driver == "memory" {
		return nil, err
	}

	slog.Warn("storage backend unavailable, degrading to in-memory store",
		"driver", p.Driver, "error", err)
	fallback, memErr := memdb.NewDB(p)
	if memErr != nil {
		return nil, err
	}
	st := store.New(fallback, p)
	st.MarkDegraded(fallback, err.Error())
	st.StartReconnect(ctx, reconnectInterval, dial)
	return st, nil
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "storage driver (sqlite, postgres, httpdoc, memory)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("instance-url", "", "the url of your prizm instance")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn", "instance-url"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("prizm")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile, st *store.Store) {
	fmt.Printf("Prizm %s started successfully!\n", p.Version)

	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}

	fmt.Printf("Storage driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.Data != "" {
		fmt.Printf("Data directory: %s\n", p.Data)
	}
	if st.IsDegraded() {
		fmt.Println("WARNING: storage is degraded, running on the in-memory driver")
	}
	if !p.IsAIEnabled() {
		fmt.Println("No LLM configured: dialogue and proactive expression use fallback replies")
	}

	if len(p.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", p.Port)
		fmt.Printf("Access Prizm at: http://localhost:%d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
		fmt.Printf("Access Prizm at: http://%s:%d\n", p.Addr, p.Port)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

// printDatabaseError provides actionable messages for storage startup failures.
func printDatabaseError(err error, p *profile.Profile) {
	fmt.Fprintln(os.Stderr, "\nStorage initialization failed")

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host"):
		fmt.Fprintln(os.Stderr, "The database server is not reachable.")
		if p.Driver == "postgres" {
			fmt.Fprintln(os.Stderr, "Start PostgreSQL, or run with --driver=sqlite --data=./data for local use.")
		}
	case strings.Contains(errMsg, "SSL is not enabled") || strings.Contains(errMsg, "sslmode"):
		fmt.Fprintln(os.Stderr, "PostgreSQL SSL configuration mismatch; add ?sslmode=disable to the DSN.")
	case strings.Contains(errMsg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "Database authentication failed; check the DSN or .env credentials.")
	default:
		fmt.Fprintln(os.Stderr, "Error:", errMsg)
	}

	if _, statErr := os.Stat(".env"); statErr != nil {
		fmt.Fprintln(os.Stderr, "Tip: a .env file in the working directory is loaded at startup.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
