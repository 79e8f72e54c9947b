package main

import (
	"context"
	"log"

	"locoinspect/backend"
	"locoinspect/config"
	"locoinspect/db"
	"locoinspect/logging"
	"locoinspect/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// userStore is the part of the table store seeding needs.
type userStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	InsertUsers(ctx context.Context, users []models.User) error
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, "console", "locoinspect-seed")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	var store userStore

	switch cfg.Database.Driver {
	case "postgres":
		pg, err := db.NewPostgresDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
		store = pg
	case "firestore":
		fs, err := db.NewFirestoreDB(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firestore", zap.Error(err))
		}
		defer fs.Close()
		store = fs
	default:
		logger.Fatal("Nothing to seed for this DB_DRIVER", zap.String("driver", cfg.Database.Driver))
	}

	logger.Info("Starting database seeding")

	if err := seedUsers(ctx, store, logger); err != nil {
		logger.Fatal("Failed to seed users", zap.Error(err))
	}

	logger.Info("Database seeding completed successfully")
}

// seedUsers writes the default accounts into an empty users table and leaves a populated one alone.
func seedUsers(ctx context.Context, store userStore, logger *zap.Logger) error {
	existing, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info("Users table already populated, skipping", zap.Int("count", len(existing)))
		return nil
	}

	users, err := backend.DefaultUsers()
	if err != nil {
		return err
	}
	if err := store.InsertUsers(ctx, users); err != nil {
		return err
	}

	for _, user := range users {
		logger.Info("Created user",
			zap.String("username", user.Username),
			zap.String("hrms_id", user.HRMSID),
			zap.String("role", string(user.Role)))
	}
	return nil
}
