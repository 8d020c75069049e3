package mapping

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads and stores mapping rows.
type Repository interface {
	ListRows(ctx context.Context) ([]Row, error)
	ReplaceRows(ctx context.Context, rows []Row) error
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// SchemaSQL creates the mapping table. position preserves table order.
const SchemaSQL = `CREATE TABLE IF NOT EXISTS hl7_mapping (
	position       SERIAL PRIMARY KEY,
	segment        VARCHAR(16) NOT NULL,
	segment_id     VARCHAR(64),
	child_obr      VARCHAR(128),
	json_attribute VARCHAR(255) NOT NULL,
	hl7_key        VARCHAR(64),
	identifier     VARCHAR(128) NOT NULL,
	display_name   VARCHAR(255) NOT NULL,
	data_type      VARCHAR(16) NOT NULL,
	unit           VARCHAR(32),
	sequence       VARCHAR(16)
)`

const mappingCols = `segment, COALESCE(segment_id, ''), COALESCE(child_obr, ''),
	json_attribute, COALESCE(hl7_key, ''), identifier, display_name, data_type,
	COALESCE(unit, ''), COALESCE(sequence, '')`

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Repository backed by the hl7_mapping table.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// EnsureSchema creates the mapping table when it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("mapping: create hl7_mapping table: %w", err)
	}
	return nil
}

func (r *repoPG) ListRows(ctx context.Context) ([]Row, error) {
	return listRows(ctx, r.pool)
}

func listRows(ctx context.Context, q queryable) ([]Row, error) {
	rows, err := q.Query(ctx, `SELECT `+mappingCols+` FROM hl7_mapping ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("mapping: query rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Segment, &row.SegmentID, &row.ChildOBR,
			&row.Attribute, &row.HL7Key, &row.Identifier, &row.DisplayName,
			&row.DataType, &row.Unit, &row.Sequence); err != nil {
			return nil, fmt.Errorf("mapping: scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mapping: iterate rows: %w", err)
	}
	return out, nil
}

// ReplaceRows swaps the whole table content in one transaction.
func (r *repoPG) ReplaceRows(ctx context.Context, rows []Row) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("mapping: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE hl7_mapping RESTART IDENTITY`); err != nil {
		return fmt.Errorf("mapping: truncate: %w", err)
	}
	for i, row := range rows {
		_, err := tx.Exec(ctx, `
			INSERT INTO hl7_mapping (segment, segment_id, child_obr, json_attribute,
				hl7_key, identifier, display_name, data_type, unit, sequence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			row.Segment, row.SegmentID, row.ChildOBR, row.Attribute, row.HL7Key,
			row.Identifier, row.DisplayName, row.DataType, row.Unit, row.Sequence)
		if err != nil {
			return fmt.Errorf("mapping: insert row %d: %w", i+1, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadFromRepository compiles the rows stored in repo.
func LoadFromRepository(ctx context.Context, repo Repository) (*CompiledConfig, error) {
	rows, err := repo.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	return Compile(rows)
}
