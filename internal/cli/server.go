package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"certquiz-service/internal/app"
	"certquiz-service/internal/config"
	"certquiz-service/internal/domain"
	"certquiz-service/internal/infra/memory"
	pginfra "certquiz-service/internal/infra/postgres"
	redisinfra "certquiz-service/internal/infra/redis"
	transport "certquiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bunDB *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleBanks())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}

	bankTTL := config.Duration(cfg.Quiz.BankTTL, 10*time.Minute)
	var bank app.QuestionBank
	if redisClient != nil {
		bank = redisinfra.NewQuestionBank(redisClient, loader, bankTTL)
	} else {
		bank = memory.NewQuestionBank(loader, bankTTL)
	}

	var sessions app.SessionRepository
	if bunDB != nil {
		sessions = pginfra.NewSessionRepository(bunDB, cfg.Quiz.SnapshotInterval)
	} else {
		sessions = memory.NewSessionRepository(cfg.Quiz.SnapshotInterval)
	}

	service := app.NewSessionService(sessions, bank, domain.SystemClock{})
	handler := transport.NewHandler(service)
	wsHandler := transport.NewWSHandler(service)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := app.NewSweeper(service,
		config.Duration(cfg.Quiz.SweepInterval, 30*time.Second),
		cfg.Quiz.SweepLimit)
	go sweeper.Run(sweepCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting certquiz service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleBanks provides a minimal CCNA bank for the no-database demo mode.
func sampleBanks() map[memory.BankKey][]domain.QuestionReference {
	easy := []domain.QuestionReference{
		{QuestionID: "ccna-vlan-1", CorrectOptionIDs: []string{"opt-b"}},
		{QuestionID: "ccna-osi-1", CorrectOptionIDs: []string{"opt-a"}},
		{QuestionID: "ccna-subnet-1", CorrectOptionIDs: []string{"opt-c"}},
		{QuestionID: "ccna-cable-1", CorrectOptionIDs: []string{"opt-a"}},
		{QuestionID: "ccna-arp-1", CorrectOptionIDs: []string{"opt-d"}},
	}
	medium := []domain.QuestionReference{
		{QuestionID: "ccna-ospf-1", CorrectOptionIDs: []string{"opt-a", "opt-d"}},
		{QuestionID: "ccna-stp-1", CorrectOptionIDs: []string{"opt-b"}},
		{QuestionID: "ccna-nat-1", CorrectOptionIDs: []string{"opt-d"}},
		{QuestionID: "ccna-acl-1", CorrectOptionIDs: []string{"opt-c"}},
		{QuestionID: "ccna-etherchannel-1", CorrectOptionIDs: []string{"opt-a", "opt-b"}},
	}
	return map[memory.BankKey][]domain.QuestionReference{
		{ExamType: domain.ExamCCNA, Difficulty: domain.DifficultyEasy}:   easy,
		{ExamType: domain.ExamCCNA, Difficulty: domain.DifficultyMedium}: medium,
	}
}
