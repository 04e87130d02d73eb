package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voxledger billing tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// Contracts are kept in their own table: they share the document shape but
// are a logically separate collection from invoices and estimates.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL DEFAULT '',
    phone      TEXT NOT NULL DEFAULT '',
    address    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id);

CREATE TABLE IF NOT EXISTS documents (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    client_id     TEXT NOT NULL,
    document_type TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'draft',
    number        TEXT NOT NULL DEFAULT '',
    line_items    JSONB NOT NULL DEFAULT '[]',
    subtotal      DOUBLE PRECISION NOT NULL DEFAULT 0,
    tax_rate      DOUBLE PRECISION,
    tax_amount    DOUBLE PRECISION NOT NULL DEFAULT 0,
    total         DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at       TIMESTAMPTZ,
    paid_at       TIMESTAMPTZ,
    signed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_documents_user_client ON documents(user_id, client_id);

CREATE TABLE IF NOT EXISTS contracts (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    client_id     TEXT NOT NULL,
    document_type TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'draft',
    number        TEXT NOT NULL DEFAULT '',
    line_items    JSONB NOT NULL DEFAULT '[]',
    subtotal      DOUBLE PRECISION NOT NULL DEFAULT 0,
    tax_rate      DOUBLE PRECISION,
    tax_amount    DOUBLE PRECISION NOT NULL DEFAULT 0,
    total         DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at       TIMESTAMPTZ,
    paid_at       TIMESTAMPTZ,
    signed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_contracts_user_client ON contracts(user_id, client_id);

CREATE TABLE IF NOT EXISTS transform_jobs (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'queued',
    config             JSONB NOT NULL DEFAULT '{}',
    result_document_id TEXT NOT NULL DEFAULT '',
    error              TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transform_jobs_user ON transform_jobs(user_id);
`

// documentColumns is the column list shared by the documents and contracts
// tables, in scan order.
const documentColumns = `id, user_id, client_id, document_type, status, number,
       line_items, subtotal, tax_rate, tax_amount, total,
       created_at, sent_at, paid_at, signed_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Line items are
// serialised as a JSONB column on their document row.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// billing tables and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("billing: migrate: %w", err)
	}
	return nil
}

// ListClients implements [ClientStore.ListClients].
func (s *PostgresStore) ListClients(ctx context.Context, userID string) ([]Client, error) {
	const query = `
		SELECT id, user_id, name, email, phone, address
		FROM clients
		WHERE user_id = $1
		ORDER BY name`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("billing: list clients: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Address); err != nil {
			return nil, fmt.Errorf("billing: list clients scan: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing: list clients: %w", err)
	}
	return clients, nil
}

// GetClient implements [ClientStore.GetClient].
func (s *PostgresStore) GetClient(ctx context.Context, userID, id string) (*Client, error) {
	const query = `
		SELECT id, user_id, name, email, phone, address
		FROM clients
		WHERE id = $1 AND user_id = $2`

	var c Client
	err := s.db.QueryRow(ctx, query, id, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Email, &c.Phone, &c.Address,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: get client %q: %w", id, err)
	}
	return &c, nil
}

// GetDocument implements [DocumentStore.GetDocument]. Both collections are
// consulted since the caller only holds an ID.
func (s *PostgresStore) GetDocument(ctx context.Context, userID, id string) (*Document, error) {
	for _, table := range []string{"documents", "contracts"} {
		doc, err := s.getDocumentFrom(ctx, table, userID, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		return doc, nil
	}
	return nil, ErrNotFound
}

func (s *PostgresStore) getDocumentFrom(ctx context.Context, table, userID, id string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM ` + table + ` WHERE id = $1 AND user_id = $2`

	var doc Document
	var itemsJSON []byte
	err := s.db.QueryRow(ctx, query, id, userID).Scan(
		&doc.ID, &doc.UserID, &doc.ClientID, &doc.Type, &doc.Status, &doc.Number,
		&itemsJSON, &doc.Subtotal, &doc.TaxRate, &doc.TaxAmount, &doc.Total,
		&doc.CreatedAt, &doc.SentAt, &doc.PaidAt, &doc.SignedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: get document %q: %w", id, err)
	}
	if err := json.Unmarshal(itemsJSON, &doc.LineItems); err != nil {
		return nil, fmt.Errorf("billing: unmarshal line_items: %w", err)
	}
	return &doc, nil
}

// ListDocuments implements [DocumentStore.ListDocuments].
func (s *PostgresStore) ListDocuments(ctx context.Context, userID, clientID string, docType DocumentType) ([]Document, error) {
	var docs []Document
	for _, table := range tablesFor(docType) {
		query := `SELECT ` + documentColumns + `
			FROM ` + table + `
			WHERE user_id = $1 AND client_id = $2`
		args := []any{userID, clientID}
		if docType != "" {
			query += ` AND document_type = $3`
			args = append(args, string(docType))
		}
		query += ` ORDER BY created_at DESC`

		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("billing: list documents: %w", err)
		}
		batch, err := scanDocuments(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, batch...)
	}
	// An untyped listing spans both tables; re-sort so the combined result
	// stays newest first.
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

// InsertDocument implements [DocumentStore.InsertDocument].
func (s *PostgresStore) InsertDocument(ctx context.Context, doc *Document) error {
	itemsJSON, err := json.Marshal(emptyItems(doc.LineItems))
	if err != nil {
		return fmt.Errorf("billing: marshal line_items: %w", err)
	}

	query := `
		INSERT INTO ` + tableFor(doc.Type) + ` (
			id, user_id, client_id, document_type, status, number,
			line_items, subtotal, tax_rate, tax_amount, total,
			created_at, sent_at, paid_at, signed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = s.db.Exec(ctx, query,
		doc.ID, doc.UserID, doc.ClientID, string(doc.Type), string(doc.Status), doc.Number,
		itemsJSON, doc.Subtotal, doc.TaxRate, doc.TaxAmount, doc.Total,
		doc.CreatedAt, doc.SentAt, doc.PaidAt, doc.SignedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("billing: document with id %q already exists", doc.ID)
		}
		return fmt.Errorf("billing: insert document: %w", err)
	}
	return nil
}

// CreateJob implements [JobStore.CreateJob].
func (s *PostgresStore) CreateJob(ctx context.Context, job *TransformJob) error {
	cfg := job.Config
	if len(cfg) == 0 {
		cfg = []byte(`{}`)
	}

	const query = `
		INSERT INTO transform_jobs (id, user_id, status, config, result_document_id, error)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		job.ID, job.UserID, string(job.Status), cfg, job.ResultDocumentID, job.Error,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("billing: job with id %q already exists", job.ID)
		}
		return fmt.Errorf("billing: create job: %w", err)
	}
	return nil
}

// GetJob implements [JobStore.GetJob].
func (s *PostgresStore) GetJob(ctx context.Context, userID, id string) (*TransformJob, error) {
	const query = `
		SELECT id, user_id, status, config, result_document_id, error, created_at, updated_at
		FROM transform_jobs
		WHERE id = $1 AND user_id = $2`

	var job TransformJob
	var status string
	err := s.db.QueryRow(ctx, query, id, userID).Scan(
		&job.ID, &job.UserID, &status, &job.Config,
		&job.ResultDocumentID, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("billing: get job %q: %w", id, err)
	}
	job.Status = JobStatus(status)
	return &job, nil
}

// UpdateJob implements [JobStore.UpdateJob]. The WHERE clause excludes
// terminal statuses, making the transition conditional at the database so
// concurrent writers can never move a job backwards out of a final state.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *TransformJob) error {
	const query = `
		UPDATE transform_jobs SET
			status = $3, result_document_id = $4, error = $5, updated_at = now()
		WHERE id = $1 AND user_id = $2
		  AND status NOT IN ('completed', 'failed', 'cancelled')
		RETURNING updated_at`

	err := s.db.QueryRow(ctx, query,
		job.ID, job.UserID, string(job.Status), job.ResultDocumentID, job.Error,
	).Scan(&job.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("billing: update job %q: %w", job.ID, err)
	}

	// No row updated: either the job is terminal or it is not visible to
	// this user. Re-read to tell the two apart.
	stored, getErr := s.GetJob(ctx, job.UserID, job.ID)
	if getErr != nil {
		return getErr
	}
	if stored.Status.Terminal() {
		return ErrTerminalJob
	}
	return fmt.Errorf("billing: update job %q: concurrent modification", job.ID)
}

// scanDocuments drains rows into a document slice, closing rows on return.
func scanDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var itemsJSON []byte
		if err := rows.Scan(
			&doc.ID, &doc.UserID, &doc.ClientID, &doc.Type, &doc.Status, &doc.Number,
			&itemsJSON, &doc.Subtotal, &doc.TaxRate, &doc.TaxAmount, &doc.Total,
			&doc.CreatedAt, &doc.SentAt, &doc.PaidAt, &doc.SignedAt,
		); err != nil {
			return nil, fmt.Errorf("billing: list documents scan: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &doc.LineItems); err != nil {
			return nil, fmt.Errorf("billing: unmarshal line_items: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing: list documents: %w", err)
	}
	return docs, nil
}

// tableFor returns the table a document of type t is stored in.
func tableFor(t DocumentType) string {
	if t == DocumentContract {
		return "contracts"
	}
	return "documents"
}

// tablesFor returns the tables to consult for documents of type t. An empty
// type spans both collections.
func tablesFor(t DocumentType) []string {
	switch t {
	case DocumentContract:
		return []string{"contracts"}
	case "":
		return []string{"documents", "contracts"}
	default:
		return []string{"documents"}
	}
}

// emptyItems returns items if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptyItems(items []LineItem) []LineItem {
	if items == nil {
		return []LineItem{}
	}
	return items
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Ping verifies database connectivity for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("billing: ping: %w", err)
	}
	return nil
}
