package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store/migrations"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("opened record store", "path", path)
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", "name", name)
	}
	return nil
}

func (s *SQLiteStore) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *SQLiteStore) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

// upsertSuffix renders ON CONFLICT(id) DO UPDATE for every column but id.
func upsertSuffix(columns ...string) string {
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if c == "id" {
			continue
		}
		sets = append(sets, c+" = excluded."+c)
	}
	return "ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
}

// ==================== Sources ====================

var sourceColumns = []string{"id", "url", "content", "http_code", "accessed_at"}

// UpsertSource inserts or replaces a source.
func (s *SQLiteStore) UpsertSource(ctx context.Context, src models.Source) error {
	_, err := s.exec(ctx, sq.Insert("sources").
		Columns(sourceColumns...).
		Values(src.ID, src.URL, src.Content, src.HTTPCode, formatTime(src.AccessedAt)).
		Suffix(upsertSuffix(sourceColumns...)))
	if err != nil {
		return fmt.Errorf("upserting source %s: %w", src.ID, err)
	}
	return nil
}

// GetSource retrieves a source by ID.
func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*models.Source, error) {
	rows, err := s.query(ctx, sq.Select(sourceColumns...).From("sources").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	sources, err := scanSources(rows)
	if err != nil {
		return nil, fmt.Errorf("getting source %s: %w", id, err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return &sources[0], nil
}

// ListSources returns sources newest first, content omitted.
func (s *SQLiteStore) ListSources(ctx context.Context, limit int) ([]models.Source, error) {
	q := sq.Select("id", "url", "''", "http_code", "accessed_at").From("sources").OrderBy("accessed_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return scanSources(rows)
}

// DeleteSource removes a source; its breakdowns cascade.
func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.exec(ctx, sq.Delete("sources").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("deleting source %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: source %s", ErrNotFound, id)
	}
	return nil
}

func scanSources(rows *sql.Rows) ([]models.Source, error) {
	defer func() { _ = rows.Close() }()
	var out []models.Source
	for rows.Next() {
		var src models.Source
		var accessed string
		if err := rows.Scan(&src.ID, &src.URL, &src.Content, &src.HTTPCode, &accessed); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		src.AccessedAt = parseTime(accessed)
		out = append(out, src)
	}
	return out, rows.Err()
}

// ==================== Breakdowns ====================

var breakdownColumns = []string{
	"id", "source_id", "strategy", "stage", "failed_stage", "error", "chunk_count",
	"chunk_summaries", "summary", "parties_payload", "locations_payload", "timeline_payload",
	"result", "input_tokens", "output_tokens", "created_at", "updated_at",
}

// UpsertBreakdown inserts or replaces a breakdown keyed by its ID.
func (s *SQLiteStore) UpsertBreakdown(ctx context.Context, b *models.Breakdown) error {
	summaries, err := json.Marshal(nonNilStrings(b.ChunkSummaries))
	if err != nil {
		return fmt.Errorf("marshaling chunk summaries: %w", err)
	}
	var result any
	if b.Result != nil {
		raw, err := json.Marshal(b.Result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		result = string(raw)
	}

	_, err = s.exec(ctx, sq.Insert("breakdowns").
		Columns(breakdownColumns...).
		Values(b.ID, b.SourceID, string(b.Strategy), string(b.Stage), string(b.FailedStage), b.Error, b.ChunkCount,
			string(summaries), b.Summary, b.PartiesPayload, b.LocationsPayload, b.TimelinePayload,
			result, b.InputTokens, b.OutputTokens, formatTime(b.CreatedAt), formatTime(b.UpdatedAt)).
		Suffix(upsertSuffix(breakdownColumns...)))
	if err != nil {
		return fmt.Errorf("upserting breakdown %s: %w", b.ID, err)
	}
	return nil
}

// GetBreakdown retrieves a breakdown by ID.
func (s *SQLiteStore) GetBreakdown(ctx context.Context, id string) (*models.Breakdown, error) {
	out, err := s.selectBreakdowns(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("getting breakdown %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: breakdown %s", ErrNotFound, id)
	}
	return &out[0], nil
}

// ListBreakdownsBySource returns a source's breakdowns newest first.
func (s *SQLiteStore) ListBreakdownsBySource(ctx context.Context, sourceID string) ([]models.Breakdown, error) {
	out, err := s.selectBreakdowns(ctx, sq.Eq{"source_id": sourceID})
	if err != nil {
		return nil, fmt.Errorf("listing breakdowns for source %s: %w", sourceID, err)
	}
	return out, nil
}

// ListStalledBreakdowns returns non-terminal breakdowns untouched since cutoff.
func (s *SQLiteStore) ListStalledBreakdowns(ctx context.Context, cutoff time.Time) ([]models.Breakdown, error) {
	out, err := s.selectBreakdowns(ctx, sq.And{
		sq.NotEq{"stage": []string{string(models.StageComplete), string(models.StageFailed)}},
		sq.Lt{"updated_at": formatTime(cutoff)},
	})
	if err != nil {
		return nil, fmt.Errorf("listing stalled breakdowns: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) selectBreakdowns(ctx context.Context, where sq.Sqlizer) ([]models.Breakdown, error) {
	rows, err := s.query(ctx, sq.Select(breakdownColumns...).From("breakdowns").Where(where).OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Breakdown
	for rows.Next() {
		var (
			b                            models.Breakdown
			strategy, stage, failedStage string
			summaries                    string
			result                       sql.NullString
			created, updated             string
		)
		if err := rows.Scan(&b.ID, &b.SourceID, &strategy, &stage, &failedStage, &b.Error, &b.ChunkCount,
			&summaries, &b.Summary, &b.PartiesPayload, &b.LocationsPayload, &b.TimelinePayload,
			&result, &b.InputTokens, &b.OutputTokens, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning breakdown: %w", err)
		}
		b.Strategy = models.Strategy(strategy)
		b.Stage = models.Stage(stage)
		b.FailedStage = models.Stage(failedStage)
		b.CreatedAt = parseTime(created)
		b.UpdatedAt = parseTime(updated)
		if err := json.Unmarshal([]byte(summaries), &b.ChunkSummaries); err != nil {
			return nil, fmt.Errorf("decoding chunk summaries of %s: %w", b.ID, err)
		}
		if result.Valid {
			b.Result = &models.BreakdownResult{}
			if err := json.Unmarshal([]byte(result.String), b.Result); err != nil {
				return nil, fmt.Errorf("decoding result of %s: %w", b.ID, err)
			}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ==================== Parties ====================

var partyColumns = []string{"id", "name", "type", "aliases", "disambiguation_description", "created_at"}

// partyIdentityConflict keeps the first record of a (name, type) identity
// when another writer inserted it under a different ID.
const partyIdentityConflict = " ON CONFLICT(name, type) DO NOTHING"

// UpsertParty inserts or replaces a party. A new ID whose name and type
// are already stored is ignored.
func (s *SQLiteStore) UpsertParty(ctx context.Context, p models.Party) error {
	aliases, err := json.Marshal(nonNilStrings(p.Aliases))
	if err != nil {
		return fmt.Errorf("marshaling aliases: %w", err)
	}
	_, err = s.exec(ctx, sq.Insert("parties").
		Columns(partyColumns...).
		Values(p.ID, p.Name, string(p.Type), string(aliases), p.DisambiguationDescription, formatTime(p.CreatedAt)).
		Suffix(upsertSuffix(partyColumns...) + partyIdentityConflict))
	if err != nil {
		return fmt.Errorf("upserting party %s: %w", p.ID, err)
	}
	return nil
}

// FindPartyByIdentity returns the oldest party with exactly this name and type.
func (s *SQLiteStore) FindPartyByIdentity(ctx context.Context, name string, typ models.PartyType) (*models.Party, error) {
	out, err := s.selectParties(ctx, sq.Eq{"name": name, "type": string(typ)}, "created_at ASC", 1)
	if err != nil {
		return nil, fmt.Errorf("finding party %s (%s): %w", name, typ, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: party %s (%s)", ErrNotFound, name, typ)
	}
	return &out[0], nil
}

// GetParty retrieves a party by ID.
func (s *SQLiteStore) GetParty(ctx context.Context, id string) (*models.Party, error) {
	out, err := s.selectParties(ctx, sq.Eq{"id": id}, "", 1)
	if err != nil {
		return nil, fmt.Errorf("getting party %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: party %s", ErrNotFound, id)
	}
	return &out[0], nil
}

// ListParties returns all parties ordered by name.
func (s *SQLiteStore) ListParties(ctx context.Context) ([]models.Party, error) {
	out, err := s.selectParties(ctx, nil, "name ASC", 0)
	if err != nil {
		return nil, fmt.Errorf("listing parties: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) selectParties(ctx context.Context, where sq.Sqlizer, orderBy string, limit uint64) ([]models.Party, error) {
	q := sq.Select(partyColumns...).From("parties")
	if where != nil {
		q = q.Where(where)
	}
	if orderBy != "" {
		q = q.OrderBy(orderBy)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Party
	for rows.Next() {
		var (
			p                models.Party
			typ, aliases, ts string
		)
		if err := rows.Scan(&p.ID, &p.Name, &typ, &aliases, &p.DisambiguationDescription, &ts); err != nil {
			return nil, fmt.Errorf("scanning party: %w", err)
		}
		p.Type = models.PartyType(typ)
		p.CreatedAt = parseTime(ts)
		if err := json.Unmarshal([]byte(aliases), &p.Aliases); err != nil {
			return nil, fmt.Errorf("decoding aliases of %s: %w", p.ID, err)
		}
		if len(p.Aliases) == 0 {
			p.Aliases = nil
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteParty removes a party and, in the same transaction, every
// relationship it is part of.
func (s *SQLiteStore) DeleteParty(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting party %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := sq.Delete("party_relationships").
		Where(sq.Or{sq.Eq{"from_party_id": id}, sq.Eq{"to_party_id": id}}).
		RunWith(tx).ExecContext(ctx); err != nil {
		return fmt.Errorf("deleting relationships of party %s: %w", id, err)
	}
	res, err := sq.Delete("parties").Where(sq.Eq{"id": id}).RunWith(tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("deleting party %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: party %s", ErrNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deleting party %s: %w", id, err)
	}
	return nil
}

// ==================== Relationships ====================

var relationshipColumns = []string{"id", "from_party_id", "to_party_id", "type", "status", "created_at", "updated_at"}

// UpsertRelationship inserts or replaces a relationship. Both parties must exist.
func (s *SQLiteStore) UpsertRelationship(ctx context.Context, r models.PartyRelationship) error {
	_, err := s.exec(ctx, sq.Insert("party_relationships").
		Columns(relationshipColumns...).
		Values(r.ID, r.FromPartyID, r.ToPartyID, string(r.Type), string(r.Status), formatTime(r.CreatedAt), formatTime(r.UpdatedAt)).
		Suffix(upsertSuffix(relationshipColumns...)))
	if err != nil {
		return fmt.Errorf("upserting relationship %s: %w", r.ID, err)
	}
	return nil
}

// GetRelationship retrieves a relationship by ID.
func (s *SQLiteStore) GetRelationship(ctx context.Context, id string) (*models.PartyRelationship, error) {
	out, err := s.selectRelationships(ctx, sq.Eq{"id": id})
	if err != nil {
		return nil, fmt.Errorf("getting relationship %s: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: relationship %s", ErrNotFound, id)
	}
	return &out[0], nil
}

// ListRelationshipsByParty returns partyID's relationships, oldest first.
func (s *SQLiteStore) ListRelationshipsByParty(ctx context.Context, partyID string) ([]models.PartyRelationship, error) {
	out, err := s.selectRelationships(ctx, sq.Or{sq.Eq{"from_party_id": partyID}, sq.Eq{"to_party_id": partyID}})
	if err != nil {
		return nil, fmt.Errorf("listing relationships of party %s: %w", partyID, err)
	}
	return out, nil
}

func (s *SQLiteStore) selectRelationships(ctx context.Context, where sq.Sqlizer) ([]models.PartyRelationship, error) {
	rows, err := s.query(ctx, sq.Select(relationshipColumns...).
		From("party_relationships").
		Where(where).
		OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.PartyRelationship
	for rows.Next() {
		var (
			r                         models.PartyRelationship
			typ, status, created, upd string
		)
		if err := rows.Scan(&r.ID, &r.FromPartyID, &r.ToPartyID, &typ, &status, &created, &upd); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		r.Type = models.RelationshipType(typ)
		r.Status = models.RelationshipStatus(status)
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(upd)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ==================== Events ====================

var eventColumns = []string{"id", "source_id", "name", "description", "start_date", "end_date", "start_sort", "embedding", "created_at"}

// InsertEvent adds an event to the corpus.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e models.Event) error {
	start, err := marshalDate(e.StartDate)
	if err != nil {
		return err
	}
	end, err := marshalDate(e.EndDate)
	if err != nil {
		return err
	}
	var startSort any
	if e.StartDate != nil {
		startSort = e.StartDate.DateTime.Unix()
	}

	_, err = s.exec(ctx, sq.Insert("events").
		Columns(eventColumns...).
		Values(e.ID, e.SourceID, e.Name, e.Description, start, end, startSort, encodeVector(e.Embedding), formatTime(e.CreatedAt)))
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", e.ID, err)
	}
	return nil
}

// FindSimilarEvents scores every stored embedding against vector.
func (s *SQLiteStore) FindSimilarEvents(ctx context.Context, vector []float32, threshold float64) ([]SimilarEvent, error) {
	events, err := s.selectEvents(ctx, sq.NotEq{"embedding": nil})
	if err != nil {
		return nil, fmt.Errorf("finding similar events: %w", err)
	}
	return scanSimilar(events, vector, threshold), nil
}

// ListTimeline returns all events by start date, undated last.
func (s *SQLiteStore) ListTimeline(ctx context.Context) ([]models.Event, error) {
	events, err := s.selectEvents(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing timeline: %w", err)
	}
	sortTimeline(events)
	return events, nil
}

func (s *SQLiteStore) selectEvents(ctx context.Context, where sq.Sqlizer) ([]models.Event, error) {
	q := sq.Select(eventColumns...).From("events").OrderBy("start_sort IS NULL", "start_sort", "created_at")
	if where != nil {
		q = q.Where(where)
	}
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Event
	for rows.Next() {
		var (
			e          models.Event
			start, end sql.NullString
			startSort  sql.NullInt64
			embedding  []byte
			created    string
		)
		if err := rows.Scan(&e.ID, &e.SourceID, &e.Name, &e.Description, &start, &end, &startSort, &embedding, &created); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if e.StartDate, err = unmarshalDate(start); err != nil {
			return nil, fmt.Errorf("decoding start date of %s: %w", e.ID, err)
		}
		if e.EndDate, err = unmarshalDate(end); err != nil {
			return nil, fmt.Errorf("decoding end date of %s: %w", e.ID, err)
		}
		e.Embedding = decodeVector(embedding)
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ==================== Encoding helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func marshalDate(fd *models.FuzzyDate) (any, error) {
	if fd == nil {
		return nil, nil
	}
	raw, err := json.Marshal(fd)
	if err != nil {
		return nil, fmt.Errorf("marshaling date: %w", err)
	}
	return string(raw), nil
}

func unmarshalDate(s sql.NullString) (*models.FuzzyDate, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var fd models.FuzzyDate
	if err := json.Unmarshal([]byte(s.String), &fd); err != nil {
		return nil, err
	}
	fd.DateTime = fd.DateTime.UTC()
	return &fd, nil
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
