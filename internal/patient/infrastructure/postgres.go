package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// PostgresRepository implements domain.Repository using PostgreSQL.
// The aggregate is stored as a JSONB document next to a few projected
// columns that listing filters on.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save saves a new patient
func (r *PostgresRepository) Save(ctx context.Context, p *domain.Patient) error {
	defer observe("patient_save", time.Now())

	doc, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to marshal patient")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO patients (
			id, ref, external_ref, name, status, triage_level, department,
			registered_at, updated_at, version, document
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10
		)`

	_, err = tx.Exec(ctx, query,
		p.ID, p.Ref, nullable(p.ExternalRef), p.Name, p.Status, p.Triage.Level, department(p),
		p.RegisteredAt, p.UpdatedAt, doc,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("patient already exists")
		}
		return errors.Wrap(err, "failed to save patient")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// Update replaces the stored document of an existing patient
func (r *PostgresRepository) Update(ctx context.Context, p *domain.Patient) error {
	defer observe("patient_update", time.Now())

	doc, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to marshal patient")
	}

	query := `
		UPDATE patients SET
			name = $2, status = $3, triage_level = $4, department = $5,
			updated_at = $6, version = version + 1, document = $7
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		p.ID, p.Name, p.Status, p.Triage.Level, department(p), p.UpdatedAt, doc,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update patient")
	}

	if result.RowsAffected() == 0 {
		return errors.NotFound("patient", p.ID.String())
	}

	return nil
}

// FindByID finds a patient by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*domain.Patient, error) {
	defer observe("patient_find", time.Now())

	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM patients WHERE id = $1`, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("patient", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find patient")
	}

	return decode(doc)
}

// FindByExternalRef finds a patient registered from an external system
func (r *PostgresRepository) FindByExternalRef(ctx context.Context, ref string) (*domain.Patient, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, `SELECT document FROM patients WHERE external_ref = $1`, ref).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("patient", ref)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find patient by external reference")
	}

	return decode(doc)
}

// List lists patients with filters, newest registration first
func (r *PostgresRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Patient, int, error) {
	defer observe("patient_list", time.Now())

	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}

	if filter.Triage != nil {
		conditions = append(conditions, fmt.Sprintf("triage_level = $%d", argNum))
		args = append(args, *filter.Triage)
		argNum++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR ref ILIKE $%d OR document->>'complaint' ILIKE $%d)", argNum, argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM patients %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count patients")
	}

	query := fmt.Sprintf(`
		SELECT document
		FROM patients
		%s
		ORDER BY registered_at DESC
		LIMIT $%d OFFSET $%d`, whereClause, argNum, argNum+1)

	args = append(args, pageSize(filter.Limit), filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list patients")
	}
	defer rows.Close()

	patients := []domain.Patient{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, 0, errors.Wrap(err, "failed to scan patient")
		}
		p, err := decode(doc)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read patients")
	}

	return patients, total, nil
}

func decode(doc []byte) (*domain.Patient, error) {
	var p domain.Patient
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode patient document")
	}
	return &p, nil
}

func department(p *domain.Patient) string {
	if p.AITriage == nil {
		return string(domain.DeptUnknown)
	}
	return string(p.AITriage.Department)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func observe(operation string, start time.Time) {
	metrics.RecordDBQuery(operation, time.Since(start))
}

// pageSize applies the default and maximum page sizes
func pageSize(limit int) int {
	if limit > 0 && limit <= 100 {
		return limit
	}
	return 50
}
