package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"locoinspect/config"
	"locoinspect/models"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN/NOTIFY channel the schema triggers publish table names on.
const NotifyChannel = "locoinspect_changes"

//go:embed schema.sql
var schemaSQL string

// PostgresDB is the relational table store.
type PostgresDB struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger
}

// NewPostgresDB opens and pings a PostgreSQL connection pool
func NewPostgresDB(cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	conn, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return NewPostgresDBFromConn(conn, cfg.DSN, logger), nil
}

// NewPostgresDBFromConn wraps an existing pool. dsn is only needed by Watch.
func NewPostgresDBFromConn(conn *sql.DB, dsn string, logger *zap.Logger) *PostgresDB {
	return &PostgresDB{db: conn, dsn: dsn, logger: logger}
}

// Close closes the pool
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the tables and change triggers if they do not exist.
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// --- Inspection Operations ---

const inspectionColumns = `id, loco_number, base_shed, schedule, pantograph_number, photo_url, "timestamp", user_id, sync_status, last_modified`

func (p *PostgresDB) ListInspections(ctx context.Context) ([]models.Inspection, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+inspectionColumns+` FROM inspections ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspections: %w", err)
	}
	defer rows.Close()

	var inspections []models.Inspection
	for rows.Next() {
		var i models.Inspection
		var status string
		if err := rows.Scan(&i.ID, &i.LocoNumber, &i.BaseShed, &i.Schedule, &i.PantographNumber,
			&i.PhotoURL, &i.Timestamp, &i.UserID, &status, &i.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		i.SyncStatus = models.SyncStatus(status)
		inspections = append(inspections, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inspections: %w", err)
	}
	return inspections, nil
}

func (p *PostgresDB) InsertInspection(ctx context.Context, i models.Inspection) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO inspections (`+inspectionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		i.ID, i.LocoNumber, i.BaseShed, i.Schedule, i.PantographNumber,
		i.PhotoURL, i.Timestamp, i.UserID, string(i.SyncStatus), i.LastModified)
	if err != nil {
		return fmt.Errorf("failed to insert inspection: %w", err)
	}
	return nil
}

func (p *PostgresDB) DeleteInspection(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM inspections WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete inspection: %w", err)
	}
	return nil
}

// --- User Operations ---

func (p *PostgresDB) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, username, hrms_id, COALESCE(password, ''), role FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.HRMSID, &u.Password, &role); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Role = models.UserRole(role)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (p *PostgresDB) InsertUser(ctx context.Context, u models.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, username, hrms_id, password, role) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.HRMSID, nullIfEmpty(u.Password), string(u.Role))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// InsertUsers inserts all users in one transaction
func (p *PostgresDB) InsertUsers(ctx context.Context, users []models.User) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO users (id, username, hrms_id, password, role) VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare user insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.ID, u.Username, u.HRMSID, nullIfEmpty(u.Password), string(u.Role)); err != nil {
			return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users: %w", err)
	}
	return nil
}

func (p *PostgresDB) UpdateUser(ctx context.Context, id string, update models.UserUpdate) error {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Username != nil {
		add("username", *update.Username)
	}
	if update.Password != nil {
		add("password", nullIfEmpty(*update.Password))
	}
	if update.Role != nil {
		add("role", string(*update.Role))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (p *PostgresDB) DeleteUser(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// --- Change Feed ---

// Watch LISTENs on NotifyChannel and calls onChange for notifications naming table.
// A reconnect also triggers onChange since notifications may have been missed meanwhile.
func (p *PostgresDB) Watch(ctx context.Context, table string, onChange func()) error {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			p.logger.Warn("Postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil || n.Extra == table {
				onChange()
			}
		case <-ping.C:
			go listener.Ping()
		}
	}
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
