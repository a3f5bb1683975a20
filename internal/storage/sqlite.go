package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents, flashcards,
// review events, and topic accuracy. Chunk vectors live in the same
// database but are managed by the retrieval package via DB().
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "studygenie.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for packages that manage their
// own tables (the retrieval vector store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that
// haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Documents ---

func (s *Store) CreateDocument(d Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, owner_id, title, language, content, created_at, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		d.ID, d.OwnerID, d.Title, d.Language, d.Content, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	var indexedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, owner_id, title, language, content, created_at, indexed_at, chunk_count
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.OwnerID, &d.Title, &d.Language, &d.Content, &createdAt, &indexedAt, &d.ChunkCount)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, err
	}
	if indexedAt.Valid {
		if d.IndexedAt, err = parseTime(indexedAt.String); err != nil {
			return Document{}, err
		}
	}
	return d, nil
}

// MarkDocumentIndexed records a completed indexing pass.
func (s *Store) MarkDocumentIndexed(id string, at time.Time, chunkCount int) error {
	res, err := s.db.Exec(`UPDATE documents SET indexed_at = ?, chunk_count = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), chunkCount, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteDocument removes the document row. Chunk and flashcard cleanup
// is coordinated by the callers that own those tables.
func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- Flashcards ---

const flashcardColumns = `id, owner_id, document_id, front, back, topic, difficulty,
	repetitions, ease_factor, interval_days, next_review_at, created_at, last_reviewed_at`

func (s *Store) CreateFlashcards(cards []Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning flashcard insert: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO flashcards (` + flashcardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing flashcard insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		var lastReviewed any
		if !c.LastReviewedAt.IsZero() {
			lastReviewed = c.LastReviewedAt.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(
			c.ID, c.OwnerID, c.DocumentID, c.Front, c.Back, c.Topic, c.Difficulty,
			c.Repetitions, c.EaseFactor, c.IntervalDays,
			c.NextReviewAt.UTC().Format(time.RFC3339),
			c.CreatedAt.UTC().Format(time.RFC3339),
			lastReviewed,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting flashcard %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetFlashcard(id string) (Flashcard, error) {
	row := s.db.QueryRow(`SELECT `+flashcardColumns+` FROM flashcards WHERE id = ?`, id)
	c, err := scanFlashcard(row)
	if err == sql.ErrNoRows {
		return Flashcard{}, ErrNotFound
	}
	return c, err
}

// DueFlashcards returns the owner's cards with next_review_at <= asOf,
// most overdue first.
func (s *Store) DueFlashcards(ownerID string, asOf time.Time) ([]Flashcard, error) {
	rows, err := s.db.Query(`
		SELECT `+flashcardColumns+` FROM flashcards
		WHERE owner_id = ? AND next_review_at <= ?
		ORDER BY next_review_at ASC, id ASC`,
		ownerID, asOf.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlashcards(rows)
}

// ListFlashcards returns all of the owner's cards.
func (s *Store) ListFlashcards(ownerID string) ([]Flashcard, error) {
	rows, err := s.db.Query(`
		SELECT `+flashcardColumns+` FROM flashcards
		WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlashcards(rows)
}

func (s *Store) DeleteFlashcard(id string) error {
	res, err := s.db.Exec(`DELETE FROM flashcards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteFlashcardsByDocument removes all cards generated from a document.
func (s *Store) DeleteFlashcardsByDocument(documentID string) error {
	_, err := s.db.Exec(`DELETE FROM flashcards WHERE document_id = ?`, documentID)
	return err
}

// ApplyReview overwrites a card's scheduling state and appends the
// matching review event in a single transaction, so a review is
// all-or-nothing.
func (s *Store) ApplyReview(card Flashcard, ev ReviewEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning review transaction: %w", err)
	}

	res, err := tx.Exec(`
		UPDATE flashcards
		SET repetitions = ?, ease_factor = ?, interval_days = ?, next_review_at = ?, last_reviewed_at = ?
		WHERE id = ?`,
		card.Repetitions, card.EaseFactor, card.IntervalDays,
		card.NextReviewAt.UTC().Format(time.RFC3339),
		card.LastReviewedAt.UTC().Format(time.RFC3339),
		card.ID,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("updating flashcard %s: %w", card.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		tx.Rollback()
		return err
	} else if n == 0 {
		tx.Rollback()
		return ErrNotFound
	}

	if _, err := tx.Exec(`
		INSERT INTO review_events (id, card_id, quality, prev_repetitions, prev_ease_factor,
			prev_interval_days, repetitions, ease_factor, interval_days, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CardID, ev.Quality, ev.PrevRepetitions, ev.PrevEaseFactor,
		ev.PrevIntervalDays, ev.Repetitions, ev.EaseFactor, ev.IntervalDays,
		ev.ReviewedAt.UTC().Format(time.RFC3339),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("appending review event: %w", err)
	}

	return tx.Commit()
}

// ReviewEvents returns a card's review history, oldest first.
func (s *Store) ReviewEvents(cardID string) ([]ReviewEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, card_id, quality, prev_repetitions, prev_ease_factor, prev_interval_days,
			repetitions, ease_factor, interval_days, reviewed_at
		FROM review_events WHERE card_id = ? ORDER BY reviewed_at ASC, id ASC`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ReviewEvent
	for rows.Next() {
		var ev ReviewEvent
		var reviewedAt string
		if err := rows.Scan(&ev.ID, &ev.CardID, &ev.Quality, &ev.PrevRepetitions, &ev.PrevEaseFactor,
			&ev.PrevIntervalDays, &ev.Repetitions, &ev.EaseFactor, &ev.IntervalDays, &reviewedAt); err != nil {
			return nil, err
		}
		if ev.ReviewedAt, err = parseTime(reviewedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Quizzes ---

func (s *Store) CreateQuiz(q Quiz) error {
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO quizzes (id, owner_id, document_id, title, questions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.OwnerID, q.DocumentID, q.Title, q.QuestionsJSON, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetQuiz(id string) (Quiz, error) {
	var q Quiz
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, owner_id, document_id, title, questions, created_at
		FROM quizzes WHERE id = ?`, id,
	).Scan(&q.ID, &q.OwnerID, &q.DocumentID, &q.Title, &q.QuestionsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Quiz{}, ErrNotFound
	}
	if err != nil {
		return Quiz{}, err
	}
	if q.CreatedAt, err = parseTime(createdAt); err != nil {
		return Quiz{}, err
	}
	return q, nil
}

// DeleteQuizzesByDocument removes all quizzes generated from a document.
func (s *Store) DeleteQuizzesByDocument(documentID string) error {
	_, err := s.db.Exec(`DELETE FROM quizzes WHERE document_id = ?`, documentID)
	return err
}

// --- Topic accuracy ---

// RecordTopicResult accumulates one review outcome into the owner's
// per-topic accuracy counters.
func (s *Store) RecordTopicResult(ownerID, topic string, correct bool) error {
	hit := 0
	if correct {
		hit = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO topic_stats (owner_id, topic, correct, total, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(owner_id, topic) DO UPDATE SET
			correct = correct + excluded.correct,
			total = total + 1,
			updated_at = excluded.updated_at`,
		ownerID, topic, hit, time.Now().UTC().Format(time.RFC3339))
	return err
}

// TopicStats returns the owner's per-topic accuracy counters.
func (s *Store) TopicStats(ownerID string) ([]TopicStat, error) {
	rows, err := s.db.Query(`
		SELECT owner_id, topic, correct, total FROM topic_stats
		WHERE owner_id = ? ORDER BY topic ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TopicStat
	for rows.Next() {
		var t TopicStat
		if err := rows.Scan(&t.OwnerID, &t.Topic, &t.Correct, &t.Total); err != nil {
			return nil, err
		}
		stats = append(stats, t)
	}
	return stats, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlashcard(row rowScanner) (Flashcard, error) {
	var c Flashcard
	var nextReview, createdAt string
	var lastReviewed sql.NullString
	err := row.Scan(&c.ID, &c.OwnerID, &c.DocumentID, &c.Front, &c.Back, &c.Topic, &c.Difficulty,
		&c.Repetitions, &c.EaseFactor, &c.IntervalDays, &nextReview, &createdAt, &lastReviewed)
	if err != nil {
		return Flashcard{}, err
	}
	if c.NextReviewAt, err = parseTime(nextReview); err != nil {
		return Flashcard{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Flashcard{}, err
	}
	if lastReviewed.Valid {
		if c.LastReviewedAt, err = parseTime(lastReviewed.String); err != nil {
			return Flashcard{}, err
		}
	}
	return c, nil
}

func collectFlashcards(rows *sql.Rows) ([]Flashcard, error) {
	var cards []Flashcard
	for rows.Next() {
		c, err := scanFlashcard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", v, err)
	}
	return t, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
