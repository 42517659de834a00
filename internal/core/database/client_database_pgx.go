package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/contexta-rag/internal/config"
	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN adds verify-ca parameters when a root certificate is configured.
func buildDSN(databaseURL, certPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
}

// ids are UUIDs; anything else cannot match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const documentColumns = `id, filename, storage_url, processing_status, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.ContextDocument, error) {
	var d models.ContextDocument
	if err := row.Scan(&d.ID, &d.Filename, &d.StorageURL, &d.ProcessingStatus, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.ContextDocument) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = models.StatusPending
	}
	if !doc.ProcessingStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", core.ErrInvalidArgument, doc.ProcessingStatus)
	}

	const q = `
		INSERT INTO context_documents (id, filename, storage_url, processing_status, version)
		VALUES ($1, $2, $3, $4, 1)
		RETURNING version, created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q, doc.ID, doc.Filename, doc.StorageURL, string(doc.ProcessingStatus)).
		Scan(&doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return persistErr("insert document", err)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.ContextDocument, error) {
	if !validID(id) {
		return nil, nil
	}
	q := `SELECT ` + documentColumns + ` FROM context_documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get document", err)
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context) ([]models.ContextDocument, error) {
	q := `SELECT ` + documentColumns + ` FROM context_documents ORDER BY created_at DESC, id`
	return c.queryDocuments(ctx, q)
}

func (c *DatabaseClient) ListDocumentsByStatus(ctx context.Context, status models.ProcessingStatus) ([]models.ContextDocument, error) {
	q := `SELECT ` + documentColumns + ` FROM context_documents WHERE processing_status = $1 ORDER BY created_at DESC, id`
	return c.queryDocuments(ctx, q, string(status))
}

func (c *DatabaseClient) queryDocuments(ctx context.Context, q string, args ...any) ([]models.ContextDocument, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr("list documents", err)
	}
	defer rows.Close()

	out := []models.ContextDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, persistErr("scan document", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list documents", err)
	}
	return out, nil
}

// UpdateDocumentStatus is a compare-and-set on the version column.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, expectedVersion int, status models.ProcessingStatus) (*models.ContextDocument, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", core.ErrInvalidArgument, status)
	}
	if !validID(id) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}

	q := `
		UPDATE context_documents
		SET processing_status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING ` + documentColumns
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, expectedVersion, string(status)))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, persistErr("update document status", err)
	}

	var current int
	err = c.db.QueryRowContext(ctx, `SELECT version FROM context_documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, persistErr("read document version", err)
	}
	return nil, fmt.Errorf("document %s at version %d, expected %d: %w", id, current, expectedVersion, core.ErrStaleVersion)
}

// DeleteDocument relies on ON DELETE CASCADE for the chunks.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM context_documents WHERE id = $1`, id)
	if err != nil {
		return false, persistErr("delete document", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("delete document", err)
	}
	return n > 0, nil
}

func (c *DatabaseClient) CountChunks(ctx context.Context, documentID string) (int, error) {
	if !validID(documentID) {
		return 0, nil
	}
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n); err != nil {
		return 0, persistErr("count chunks", err)
	}
	return n, nil
}

func (c *DatabaseClient) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	if chunk == nil {
		return errors.New("nil chunk")
	}
	out, err := c.CreateChunks(ctx, []models.Chunk{*chunk})
	if err != nil {
		return err
	}
	*chunk = out[0]
	return nil
}

// CreateChunks inserts every chunk in one transaction.
func (c *DatabaseClient) CreateChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if len(chunks) == 0 {
		return []models.Chunk{}, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, persistErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO chunks (content, metadata, document_id, embedding)
		VALUES ($1, $2::jsonb, $3, $4)
		RETURNING id, created_at
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, persistErr("prepare chunk insert", err)
	}
	defer stmt.Close()

	out := make([]models.Chunk, len(chunks))
	for i := range chunks {
		ch := chunks[i]
		meta, err := encodeMetadata(ch.Metadata)
		if err != nil {
			return nil, persistErr(fmt.Sprintf("encode chunk %d metadata", i), err)
		}
		err = stmt.QueryRowContext(ctx, ch.Content, meta, ch.DocumentID, pgvector.NewVector(ch.Embedding)).
			Scan(&ch.ID, &ch.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return nil, fmt.Errorf("chunk %d references document %s: %w", i, ch.DocumentID, core.ErrNotFound)
			}
			return nil, persistErr(fmt.Sprintf("insert chunk %d", i), err)
		}
		out[i] = ch
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit chunks", err)
	}
	return out, nil
}

const chunkColumns = `id, content, metadata, document_id, embedding, created_at`

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var (
		ch   models.Chunk
		meta []byte
		emb  pgvector.Vector
	)
	if err := row.Scan(&ch.ID, &ch.Content, &meta, &ch.DocumentID, &emb, &ch.CreatedAt); err != nil {
		return nil, err
	}
	md, err := decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	ch.Metadata = md
	ch.Embedding = emb.Slice()
	return &ch, nil
}

func (c *DatabaseClient) GetChunkByID(ctx context.Context, id int64) (*models.Chunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM chunks WHERE id = $1`
	ch, err := scanChunk(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get chunk", err)
	}
	return ch, nil
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	if !validID(documentID) {
		return []models.Chunk{}, nil
	}
	q := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1 ORDER BY id`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, persistErr("list chunks", err)
	}
	defer rows.Close()

	out := []models.Chunk{}
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, persistErr("scan chunk", err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list chunks", err)
	}
	return out, nil
}

// SearchSimilar delegates ranking to the match_documents function.
func (c *DatabaseClient) SearchSimilar(ctx context.Context, query []float32, threshold float64, count int) ([]models.ChunkMatch, error) {
	if count <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, content, metadata, document_id, similarity
		FROM match_documents($1, $2, $3)
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(query), threshold, count)
	if err != nil {
		return nil, persistErr("match documents", err)
	}
	defer rows.Close()

	var out []models.ChunkMatch
	for rows.Next() {
		var (
			m    models.ChunkMatch
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.Content, &meta, &m.DocumentID, &m.Similarity); err != nil {
			return nil, persistErr("scan match", err)
		}
		if m.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, persistErr("decode match metadata", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("match documents", err)
	}
	return out, nil
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	if !validID(documentID) {
		return nil
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return persistErr("delete chunks", err)
	}
	return nil
}

func encodeMetadata(md map[string]any) (string, error) {
	if md == nil {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return md, nil
}
