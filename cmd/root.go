package cmd

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seatctl/config"
	"seatctl/logging"
	"seatctl/reservation"
	"seatctl/service"
	"seatctl/store"
	"seatctl/tui"
)

const appName = "seatctl"

var (
	version = "dev"
	commit  = "none"
)

var (
	apiURLFlag    string
	wsURLFlag     string
	logLevelFlag  string
	logStderrFlag bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of seatctl",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s", appName, version)
		if commit != "none" && commit != "" {
			fmt.Fprintf(out, " (%s)", commit)
		}
		fmt.Fprintln(out)
	},
}

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Cinema seat reservations from the terminal",
	Long: `Browse movies and sessions, pick seats on a live seat map and
hand the booking off to checkout, all from the terminal.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup(false)
		if err != nil {
			return err
		}
		defer env.close()

		model := tui.New(tui.Options{
			Client:   env.client,
			Config:   env.cfg.Client,
			Identity: env.identity,
			Logger:   env.logger,
		})
		if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
			env.logger.Error("tui exited", zap.Error(err))
			return err
		}
		return nil
	},
}

// Execute runs the command line. ver and rev are stamped at build time.
func Execute(ver string, rev string) {
	if ver != "" {
		version = ver
	}
	if rev != "" {
		commit = rev
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&apiURLFlag, "api-url", "", "reservation API root (default from SEATCTL_API_URL)")
	flags.StringVar(&wsURLFlag, "ws-url", "", "seat channel websocket URL (default derived from the API URL)")
	flags.StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&logStderrFlag, "log-stderr", false, "log to stderr instead of the log file")

	rootCmd.AddCommand(
		versionCmd,
		loginCmd,
		logoutCmd,
		signupCmd,
		whoamiCmd,
		moviesCmd,
		sessionsCmd,
		bookingsCmd,
		watchCmd,
		devserverCmd,
	)
}

// cliEnv is what every command that talks to the API shares.
type cliEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   *service.Client
	identity reservation.Identity
}

// setup loads configuration, applies the global flags and restores the
// saved credentials. Headless commands pass stderrLogs so their logs show
// up next to their output.
func setup(stderrLogs bool) (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Stderr: cfg.LogStderr || stderrLogs,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	jar, _ := cookiejar.New(nil)
	httpClient := &http.Client{Timeout: cfg.Client.HTTPTimeout, Jar: jar}
	client := service.NewClient(cfg.Client.APIURL, httpClient).WithLogger(logger)

	cookies, err := store.LoadCookies(client.BaseURL())
	if err != nil {
		logger.Warn("loading saved credentials", zap.Error(err))
	}
	client.RestoreSession(cookies)

	return &cliEnv{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		identity: reservation.NewIdentity(),
	}, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiURLFlag != "" {
		cfg.Client.SetAPIURL(apiURLFlag)
	}
	if wsURLFlag != "" {
		cfg.Client.WSURL = wsURLFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if logStderrFlag {
		cfg.LogStderr = true
	}
	return cfg, nil
}

func (e *cliEnv) close() {
	_ = e.logger.Sync()
}
