package history

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// Force HTTP/1.1 for WSS connections to prevent HTTP/2 ALPN negotiation.
	// WebSocket upgrade requires HTTP/1.1 semantics which fail under HTTP/2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// SurrealConfig holds SurrealDB connection configuration.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// errTransactionConflict marks writes that raced another writer on the same record.
var errTransactionConflict = errors.New("transaction conflict")

// SurrealBackend stores history entries as records in a kv table.
type SurrealBackend struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

// kvRecord is the stored shape. The history document stays JSON text so
// the round trip doesn't depend on CBOR time handling.
type kvRecord struct {
	Value string `json:"value"`
}

// OpenSurreal connects with an auto-reconnecting WebSocket.
func OpenSurreal(ctx context.Context, cfg SurrealConfig, log *slog.Logger) (*SurrealBackend, error) {
	// Create logger adapter for SurrealDB SDK
	var sdkLogger logger.Logger
	if log != nil {
		sdkLogger = logger.New(log.Handler())
	} else {
		sdkLogger = logger.New(slog.Default().Handler())
	}

	codec := surrealcbor.New()

	// gorillaws adds /rpc itself
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			ws := gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			})
			return ws, nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}

	if cfg.AuthLevel == "database" {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Namespace: cfg.Namespace,
			Database:  cfg.Database,
			Username:  cfg.Username,
			Password:  cfg.Password,
		})
	} else {
		_, err = db.SignIn(ctx, surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use: %w", err)
	}

	sdkLogger.Info("SurrealDB connection established")
	return &SurrealBackend{conn: conn, db: db, logger: sdkLogger}, nil
}

// Close closes the SurrealDB connection.
func (s *SurrealBackend) Close(ctx context.Context) error {
	s.logger.Info("closing SurrealDB connection")
	return s.conn.Close(ctx)
}

func (s *SurrealBackend) Read(ctx context.Context, key string) ([]byte, error) {
	results, err := surrealdb.Query[[]kvRecord](ctx, s.db, `
		SELECT value FROM type::record("kv", $key)
	`, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNoEntry
	}
	return []byte((*results)[0].Result[0].Value), nil
}

func (s *SurrealBackend) Write(ctx context.Context, key string, value []byte) error {
	const sql = `
		UPSERT type::record("kv", $key) SET
			value = $value,
			updated_at = time::now()
	`
	vars := map[string]any{"key": key, "value": string(value)}

	_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
	if errors.Is(wrapQueryError(err), errTransactionConflict) {
		// Snapshots are whole documents: retrying once is safe.
		s.logger.Warn("history write conflicted, retrying", "key", key)
		_, err = surrealdb.Query[any](ctx, s.db, sql, vars)
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, wrapQueryError(err))
	}
	return nil
}

func (s *SurrealBackend) Delete(ctx context.Context, key string) error {
	if _, err := surrealdb.Query[any](ctx, s.db, `
		DELETE type::record("kv", $key)
	`, map[string]any{"key": key}); err != nil {
		return fmt.Errorf("delete %s: %w", key, wrapQueryError(err))
	}
	return nil
}

// wrapQueryError tags SurrealDB transaction conflicts with a sentinel.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) && strings.Contains(queryErr.Message, "Transaction conflict") {
		return fmt.Errorf("%w: %s", errTransactionConflict, queryErr.Message)
	}
	return err
}
