package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cmdgate/internal/config"
	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/integrations"
	"github.com/Dicklesworthstone/cmdgate/internal/obs"
	"github.com/Dicklesworthstone/cmdgate/internal/output"
	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// app bundles everything a command needs to talk to the engine.
type app struct {
	cfg        config.Config
	db         *db.DB
	engine     *core.Engine
	dispatcher *integrations.Dispatcher
	metrics    *obs.Metrics
	logger     *log.Logger
}

// loadConfig resolves configuration for the current project.
func loadConfig() (config.Config, error) {
	project, err := projectPath()
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(config.LoadOptions{
		ProjectDir: project,
		ConfigPath: flagConfig,
	})
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openApp loads config, opens the database and builds the engine. The
// caller must Close the result.
func openApp(logger *log.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.InitDefaultLogger()
		if flagVerbose {
			logger.SetLevel(log.DebugLevel)
		}
	}

	dbPath := flagDB
	if dbPath == "" && cfg.General.DatabasePath != "" {
		dbPath = cfg.General.DatabasePath
	}
	if dbPath == "" {
		dbPath = GetDB()
	}
	database, err := db.OpenAndMigrate(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	executor, err := core.NewExecutor(cfg.General.ExecutionMode,
		time.Duration(cfg.General.ExecutionTimeoutSeconds)*time.Second)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	metrics := obs.NewMetrics(nil)
	a := &app{cfg: cfg, db: database, metrics: metrics, logger: logger}

	var notifier integrations.WorkflowNotifier = integrations.NoopNotifier{}
	if cfg.Notifications.Enabled {
		a.dispatcher = integrations.NewDispatcher(buildTransports(cfg.Notifications, logger), integrations.DispatcherOptions{
			QueueSize:     cfg.Notifications.QueueSize,
			RatePerSecond: cfg.Notifications.RatePerSecond,
			Burst:         cfg.Notifications.Burst,
			SendTimeout:   time.Duration(cfg.Notifications.SendTimeoutSeconds) * time.Second,
			Logger:        logger.WithPrefix("notify"),
			Metrics:       metrics,
		})
		notifier = integrations.NewAnnouncer(a.dispatcher)
	}

	a.engine = core.New(database, core.Options{
		Executor:        executor,
		Notifier:        notifier,
		Metrics:         metrics,
		Logger:          logger,
		ProbeCommands:   cfg.Rules.ProbeCommands,
		EscalationDelay: time.Duration(cfg.Escalation.DeadlineMinutes) * time.Minute,
		DefaultCredits:  cfg.General.DefaultCredits,
		DefaultTier:     db.Tier(cfg.General.DefaultTier),
	})
	return a, nil
}

func buildTransports(cfg config.NotificationsConfig, logger *log.Logger) []integrations.Transport {
	var transports []integrations.Transport
	if cfg.TelegramBotToken != "" {
		transports = append(transports, integrations.NewTelegramTransport(cfg.TelegramBotToken, "", nil))
	}
	smtpCfg := integrations.SMTPConfig{
		Server:   cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPEmail,
		Password: cfg.SMTPPassword,
	}
	if smtpCfg.Configured() {
		transports = append(transports, integrations.NewEmailTransport(smtpCfg))
	}
	if len(transports) == 0 {
		transports = append(transports, integrations.LogTransport{Logger: logger})
	}
	return transports
}

// Close drains pending notifications and closes the database.
func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// actor loads the user named by --actor.
func (a *app) actor() (*db.User, error) {
	name := GetActor()
	u, err := a.db.GetUserByName(name)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: unknown user %q (ask an admin to run 'cmdgate user add %s')", core.ErrUnauthorized, name, name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %q: %w", name, err)
	}
	return u, nil
}

// withActor opens the app, resolves the actor and runs fn.
func withActor(fn func(a *app, actor *db.User) error) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()
	actor, err := a.actor()
	if err != nil {
		return err
	}
	return fn(a, actor)
}

func newWriter(cmd *cobra.Command) *output.Writer {
	return output.New(output.Format(GetOutput()),
		output.WithOutput(cmd.OutOrStdout()),
		output.WithErrorOutput(cmd.ErrOrStderr()),
	)
}
