// Package his polls the legacy hospital information system for emergency
// admissions and registers them as patients.
package his

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/workflow"
	"github.com/rs/zerolog"
)

// Actor is recorded on patients registered from the feed
const Actor = "system:his"

const feedName = "his"

// Registrar registers patients
type Registrar interface {
	Register(ctx context.Context, actorID string, reg domain.Registration, source string) (workflow.Result, error)
}

// Admission is one emergency admission row
type Admission struct {
	AdmissionID string
	AdmittedAt  time.Time
	Name        string
	BirthDate   sql.NullTime
	GenderCode  string
	Phone       sql.NullString
	Reason      sql.NullString
}

// Source lists admissions from a watermark on, oldest first
type Source interface {
	Admissions(ctx context.Context, since time.Time) ([]Admission, error)
	Ping(ctx context.Context) error
	Close() error
}

// Adapter polls Source and registers each new admission once
type Adapter struct {
	cfg       config.HISConfig
	source    Source
	registrar Registrar
	log       zerolog.Logger

	mu       sync.Mutex
	running  bool
	lastPoll time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an adapter over an existing source
func New(cfg config.HISConfig, source Source, registrar Registrar, log zerolog.Logger) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Adapter{
		cfg:       cfg,
		source:    source,
		registrar: registrar,
		log:       log.With().Str("component", "his").Str("institution", cfg.InstitutionName).Logger(),
	}
}

// Start begins polling from one poll interval ago
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}
	if err := a.source.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach HIS: %w", err)
	}

	a.lastPoll = time.Now().Add(-a.cfg.PollInterval)
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.running = true

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	a.log.Info().Dur("interval", a.cfg.PollInterval).Msg("HIS admission feed started")
	return nil
}

// Stop stops polling and closes the source
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.running = false
	return a.source.Close()
}

// Health checks connectivity to the HIS database
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	if !running {
		return fmt.Errorf("adapter not running")
	}
	return a.source.Ping(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Poll(ctx); err != nil {
				a.log.Error().Err(err).Msg("failed to poll admissions")
			}
		}
	}
}

// Poll registers every admission since the watermark. The watermark only
// advances past admissions that were handled, so a failed registration is
// retried on the next poll.
func (a *Adapter) Poll(ctx context.Context) error {
	a.mu.Lock()
	since := a.lastPoll
	a.mu.Unlock()

	admissions, err := a.source.Admissions(ctx, since)
	if err != nil {
		return err
	}

	watermark := since
	for _, adm := range admissions {
		if err := a.register(ctx, adm); err != nil {
			a.log.Error().Err(err).Str("admission_id", adm.AdmissionID).Msg("failed to register admission")
			metrics.RecordFeedMessage(feedName, "failed")
			break
		}
		if adm.AdmittedAt.After(watermark) {
			watermark = adm.AdmittedAt
		}
	}

	a.mu.Lock()
	a.lastPoll = watermark
	a.mu.Unlock()
	return nil
}

// register returns an error only for failures worth retrying
func (a *Adapter) register(ctx context.Context, adm Admission) error {
	reg := ToRegistration(adm)

	res, err := a.registrar.Register(ctx, Actor, reg, workflow.SourceHIS)
	switch {
	case err == nil:
		metrics.RecordFeedMessage(feedName, "registered")
		a.log.Info().
			Str("admission_id", adm.AdmissionID).
			Str("patient_id", res.Patient.ID.String()).
			Msg("admission registered")
		return nil
	case errors.Is(err, errors.ErrConflict):
		metrics.RecordFeedMessage(feedName, "duplicate")
		a.log.Debug().Str("admission_id", adm.AdmissionID).Msg("admission already registered")
		return nil
	case errors.Is(err, errors.ErrValidation):
		metrics.RecordFeedMessage(feedName, "rejected")
		a.log.Warn().Err(err).Str("admission_id", adm.AdmissionID).Msg("admission rejected")
		return nil
	default:
		return err
	}
}

// ExternalRef is the deduplication key of an admission
func ExternalRef(admissionID string) string {
	return "his:" + admissionID
}

// ToRegistration maps an admission row to a registration
func ToRegistration(adm Admission) domain.Registration {
	reg := domain.Registration{
		Name:        strings.TrimSpace(adm.Name),
		Gender:      mapGender(adm.GenderCode),
		ExternalRef: ExternalRef(adm.AdmissionID),
	}
	if adm.BirthDate.Valid {
		reg.Age = ageAt(adm.BirthDate.Time, adm.AdmittedAt)
	}
	if adm.Phone.Valid {
		reg.Phone = strings.TrimSpace(adm.Phone.String)
	}
	if adm.Reason.Valid {
		reg.Complaint = strings.TrimSpace(adm.Reason.String)
	}
	return reg
}

func ageAt(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.YearDay() < birth.YearDay() {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

func mapGender(code string) domain.Gender {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M":
		return domain.GenderMale
	case "F", "Z":
		return domain.GenderFemale
	default:
		return domain.GenderOther
	}
}

// --- SQL Server source ---

// SQLSource reads admissions from the HIS SQL Server database
type SQLSource struct {
	db  *sql.DB
	cfg config.HISConfig
}

// Open connects to the HIS database
func Open(ctx context.Context, cfg config.HISConfig) (*SQLSource, error) {
	db, err := sql.Open("sqlserver", ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLSource{db: db, cfg: cfg}, nil
}

// ConnString builds the sqlserver:// URL for cfg
func ConnString(cfg config.HISConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	if cfg.Encrypt {
		q.Set("encrypt", "true")
		q.Set("TrustServerCertificate", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Admissions lists emergency admissions admitted at or after since. Rows at
// the watermark are returned again and deduplicated by external reference.
func (s *SQLSource) Admissions(ctx context.Context, since time.Time) ([]Admission, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("his_admissions", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT
			a.AdmissionID,
			a.AdmissionDate,
			p.FirstName + ' ' + p.LastName AS PatientName,
			p.BirthDate,
			p.Gender,
			p.Phone,
			a.AdmissionReason
		FROM %s a
		INNER JOIN %s p ON a.PatientID = p.PatientID
		WHERE a.AdmissionDate >= @since
		  AND a.AdmissionType = 'EMERGENCY'
		ORDER BY a.AdmissionDate ASC
	`, s.cfg.AdmissionTable, s.cfg.PatientTable)

	rows, err := s.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Admission
	for rows.Next() {
		var adm Admission
		if err := rows.Scan(
			&adm.AdmissionID,
			&adm.AdmittedAt,
			&adm.Name,
			&adm.BirthDate,
			&adm.GenderCode,
			&adm.Phone,
			&adm.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, adm)
	}
	return out, rows.Err()
}

// Ping checks the connection
func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLSource) Close() error {
	return s.db.Close()
}
