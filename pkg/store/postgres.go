package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superyldr/relayer/pkg/models"
)

// PostgresStore persists intents in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS intents (
    ref_id TEXT PRIMARY KEY,
    flow TEXT NOT NULL,
    user_address TEXT NOT NULL,
    status TEXT NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    signed_chain_id BIGINT NOT NULL DEFAULT 0,
    nonce TEXT NOT NULL DEFAULT '',
    deadline BIGINT NOT NULL DEFAULT 0,
    adapter_key TEXT NOT NULL DEFAULT '',
    asset TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL DEFAULT '',
    min_amount TEXT NOT NULL DEFAULT '',
    amount_shares TEXT NOT NULL DEFAULT '',
    dst_token TEXT NOT NULL DEFAULT '',
    min_amount_out TEXT NOT NULL DEFAULT '',
    dst_chain_id BIGINT NOT NULL DEFAULT 0,
    from_chain_id BIGINT NOT NULL DEFAULT 0,
    to_chain_id BIGINT NOT NULL DEFAULT 0,
    to_token_address TEXT NOT NULL DEFAULT '',
    from_tx_hash TEXT NOT NULL DEFAULT '',
    to_tx_hash TEXT NOT NULL DEFAULT '',
    deposit_tx_hash TEXT NOT NULL DEFAULT '',
    mint_tx_hash TEXT NOT NULL DEFAULT '',
    burn_tx_hash TEXT NOT NULL DEFAULT '',
    redeem_tx_hash TEXT NOT NULL DEFAULT '',
    bridged_amount TEXT NOT NULL DEFAULT '',
    amount_out TEXT NOT NULL DEFAULT '',
    baseline_balance TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS intents_user_status_idx ON intents (lower(user_address), status);
CREATE INDEX IF NOT EXISTS intents_status_updated_idx ON intents (status, updated_at);
`

const selectColumns = `ref_id, flow, user_address, status, signature, signed_chain_id, nonce, deadline,
    adapter_key, asset, amount, min_amount, amount_shares, dst_token, min_amount_out,
    dst_chain_id, from_chain_id, to_chain_id, to_token_address,
    from_tx_hash, to_tx_hash, deposit_tx_hash, mint_tx_hash, burn_tx_hash, redeem_tx_hash,
    bridged_amount, amount_out, baseline_balance, error, created_at, updated_at`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Create(ctx context.Context, rec *models.Record) error {
	now := time.Now().UTC()
	createdAt, updatedAt := rec.CreatedAt, rec.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := p.pool.Exec(ctx, `
INSERT INTO intents (`+selectColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
`,
		strings.ToLower(rec.RefID), string(rec.Flow), rec.User, string(rec.Status), rec.Signature,
		rec.SignedChainID, rec.Nonce, rec.Deadline,
		rec.AdapterKey, rec.Asset, rec.Amount, rec.MinAmount, rec.AmountShares, rec.DstToken, rec.MinAmountOut,
		rec.DstChainID, rec.FromChainID, rec.ToChainID, rec.ToTokenAddress,
		rec.FromTxHash, rec.ToTxHash, rec.DepositTxHash, rec.MintTxHash, rec.BurnTxHash, rec.RedeemTxHash,
		rec.BridgedAmount, rec.AmountOut, rec.BaselineBalance, rec.Error, createdAt, updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrAlreadyExists
		}
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (p *PostgresStore) FindByRefID(ctx context.Context, refID string) (*models.Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM intents WHERE ref_id = $1`, strings.ToLower(refID))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ConditionalUpdate issues a single UPDATE ... WHERE status = expected, so
// concurrent writers racing on the same edge see exactly one row affected.
func (p *PostgresStore) ConditionalUpdate(ctx context.Context, refID string, expected, next models.Status, patch models.Patch, now time.Time) (int64, error) {
	if err := patch.Validate(); err != nil {
		return 0, err
	}

	fields := make([]models.Field, 0, len(patch))
	for field := range patch {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	sets := []string{"status = $1", "updated_at = $2"}
	args := []interface{}{string(next), now.UTC()}
	for _, field := range fields {
		args = append(args, columnValue(field, patch[field]))
		sets = append(sets, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	args = append(args, strings.ToLower(refID), string(expected))

	query := fmt.Sprintf(`UPDATE intents SET %s WHERE ref_id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update intent %s: %w", refID, err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) ListPendingByUser(ctx context.Context, user string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM intents
WHERE lower(user_address) = lower($1) AND status NOT IN ($2, $3, $4)
ORDER BY updated_at DESC
LIMIT $5
`, user, string(models.StatusMinted), string(models.StatusSuccess), string(models.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) ListNonTerminal(ctx context.Context, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM intents
WHERE status NOT IN ($1, $2, $3)
ORDER BY updated_at ASC
LIMIT $4
`, string(models.StatusMinted), string(models.StatusSuccess), string(models.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal intents: %w", err)
	}
	return collect(rows)
}

func columnValue(field models.Field, value string) interface{} {
	if field.IsInt() {
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	}
	return value
}

func collect(rows pgx.Rows) ([]*models.Record, error) {
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*models.Record, error) {
	var (
		rec    models.Record
		flow   string
		status string
	)
	err := row.Scan(
		&rec.RefID, &flow, &rec.User, &status, &rec.Signature, &rec.SignedChainID, &rec.Nonce, &rec.Deadline,
		&rec.AdapterKey, &rec.Asset, &rec.Amount, &rec.MinAmount, &rec.AmountShares, &rec.DstToken, &rec.MinAmountOut,
		&rec.DstChainID, &rec.FromChainID, &rec.ToChainID, &rec.ToTokenAddress,
		&rec.FromTxHash, &rec.ToTxHash, &rec.DepositTxHash, &rec.MintTxHash, &rec.BurnTxHash, &rec.RedeemTxHash,
		&rec.BridgedAmount, &rec.AmountOut, &rec.BaselineBalance, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Flow = models.Flow(flow)
	rec.Status = models.Status(status)
	return &rec, nil
}
