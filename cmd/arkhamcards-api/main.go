package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaignlog"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/campaigns"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/cards"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/chaosbag"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/config"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/database"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/decks"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/identifiers"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/players"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/serial"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/server"
	"github.com/MarcoPoloResearchLab/arkhamcards/backend/internal/telemetry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	serviceName     = "arkhamcards-api"
	shutdownTimeout = 10 * time.Second
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Arkham Horror LCG deck and campaign backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newImportCardsCommand(), newValidateDeckCommand(), newIssueSessionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("catalog-path", "", "Comma separated card data files imported at startup")
	cmd.PersistentFlags().String("guides-path", defaults.GetString("guides.path"), "Directory of campaign guide YAML files")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for cross-instance realtime events")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "catalog.path", "catalog-path")
	bindFlag(cmd, "guides.path", "guides-path")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// appRuntime holds what every command needs: configuration, a logger and the
// migrated database.
type appRuntime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	store  *cards.Store
}

func openRuntime() (*appRuntime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	store, err := cards.NewStore(cards.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		_ = sqlDB.Close()
		_ = logger.Sync()
		return nil, nil, err
	}
	closeFn := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &appRuntime{config: appConfig, logger: logger, db: db, store: store}, closeFn, nil
}

// importCatalog upserts the card files and the optional taboo file.
func (r *appRuntime) importCatalog(ctx context.Context, cardPaths []string, tabooPath string) error {
	if len(cardPaths) > 0 {
		parsed, err := cards.LoadCardFiles(ctx, cardPaths...)
		if err != nil {
			return err
		}
		written, err := r.store.ImportCards(ctx, parsed)
		if err != nil {
			return err
		}
		r.logger.Info("cards imported", zap.Int("count", written), zap.Strings("files", cardPaths))
	}
	if strings.TrimSpace(tabooPath) != "" {
		sets, err := cards.LoadTabooFile(tabooPath)
		if err != nil {
			return err
		}
		if err := r.store.ImportTabooSets(ctx, sets); err != nil {
			return err
		}
		r.logger.Info("taboo sets imported", zap.Int("count", len(sets)), zap.String("file", tabooPath))
	}
	return nil
}

func splitPaths(raw string) []string {
	var paths []string
	for _, path := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	return paths
}

func runServer(ctx context.Context) error {
	rt, closeRuntime, err := openRuntime()
	if err != nil {
		return err
	}
	defer closeRuntime()
	appConfig := rt.config
	logger := rt.logger

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     appConfig.TracingEnabled,
		ServiceName: serviceName,
		Version:     version,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := rt.importCatalog(ctx, splitPaths(appConfig.CatalogPath), appConfig.TabooPath); err != nil {
		return err
	}
	registry := cards.NewRegistry(nil, nil)
	if err := registry.Reload(ctx, rt.store); err != nil {
		return err
	}
	logger.Info("card catalog loaded", zap.Int("cards", registry.Catalog().Len()))

	guides, err := campaignlog.LoadGuides(ctx, appConfig.GuidesPath)
	if err != nil {
		return err
	}
	logger.Info("campaign guides loaded", zap.Int("guides", len(guides)), zap.String("path", appConfig.GuidesPath))

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}
	playerService, err := players.NewService(players.ServiceConfig{Database: rt.db, Logger: logger})
	if err != nil {
		return err
	}
	deckService, err := decks.NewService(decks.ServiceConfig{
		Database:   rt.db,
		Catalogs:   registry,
		IDProvider: identifiers.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	queue := serial.NewQueue()
	campaignService, err := campaigns.NewService(campaigns.ServiceConfig{
		Database:   rt.db,
		Guides:     campaigns.GuideSet(guides),
		Queue:      queue,
		IDProvider: identifiers.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	chaosBagService, err := chaosbag.NewService(chaosbag.ServiceConfig{Database: rt.db, Queue: queue, Logger: logger})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, groupCtx := errgroup.WithContext(signalCtx)

	streams := server.NewRealtimeDispatcher()
	var publisher server.RealtimePublisher = streams
	if address := strings.TrimSpace(appConfig.RedisAddress); address != "" {
		client := redis.NewClient(&redis.Options{Addr: address})
		defer client.Close()
		relay, err := server.NewRedisRelay(server.RedisRelayConfig{
			Client:     client,
			Channel:    appConfig.RedisChannel,
			InstanceID: uuid.NewString(),
			Local:      streams,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		publisher = relay
		group.Go(func() error {
			if err := relay.Run(groupCtx); err != nil {
				logger.Warn("realtime relay stopped", zap.String("address", address), zap.Error(err))
			}
			return nil
		})
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:         validator,
		Players:          playerService,
		Catalogs:         registry,
		DecksService:     deckService,
		CampaignsService: campaignService,
		ChaosBagService:  chaosBagService,
		Realtime:         publisher,
		Streams:          streams,
		Logger:           logger,
		AllowedOrigins:   appConfig.CORSAllowedOrigins,
		ServiceName:      serviceName,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func newImportCardsCommand() *cobra.Command {
	var (
		cardFiles []string
		tabooFile string
	)
	cmd := &cobra.Command{
		Use:   "import-cards",
		Short: "Import card data and taboo sets into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cardFiles) == 0 && strings.TrimSpace(tabooFile) == "" {
				return fmt.Errorf("--file or --taboo is required")
			}
			rt, closeRuntime, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeRuntime()
			return rt.importCatalog(cmd.Context(), cardFiles, tabooFile)
		},
	}
	cmd.Flags().StringSliceVar(&cardFiles, "file", nil, "Card data JSON file (repeatable)")
	cmd.Flags().StringVar(&tabooFile, "taboo", "", "Taboo sets JSON file")
	return cmd
}

type deckFile struct {
	InvestigatorCode     string      `json:"investigator_code"`
	Slots                decks.Slots `json:"slots"`
	IgnoreDeckLimitSlots decks.Slots `json:"ignore_deck_limit_slots"`
	TabooID              int         `json:"taboo_id"`
}

func newValidateDeckCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate-deck",
		Short: "Validate a deck file against the stored catalog and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var deck deckFile
			if err := json.Unmarshal(data, &deck); err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}

			rt, closeRuntime, err := openRuntime()
			if err != nil {
				return err
			}
			defer closeRuntime()
			registry := cards.NewRegistry(nil, nil)
			if err := registry.Reload(cmd.Context(), rt.store); err != nil {
				return err
			}

			catalog := registry.CatalogFor(deck.TabooID)
			result := decks.Validate(decks.InputForInvestigator(catalog, deck.InvestigatorCode, deck.Slots, deck.IgnoreDeckLimitSlots))
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Deck JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newIssueSessionCommand() *cobra.Command {
	var (
		playerID    string
		email       string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-session",
		Short: "Print a signed session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(playerID, email, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&playerID, "player", "", "Player id carried by the session")
	cmd.Flags().StringVar(&email, "email", "", "Player email")
	cmd.Flags().StringVar(&displayName, "name", "", "Player display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Session lifetime (default 12h)")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}
