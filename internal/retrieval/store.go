package retrieval

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides chunk vector storage and brute-force cosine
// similarity search backed by SQLite. Embeddings are stored as
// little-endian float32 blobs in the chunk_vectors table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The chunk_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds records to the chunk_vectors table in one transaction.
func (s *SQLiteStore) Insert(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	if err := insertTx(tx, records); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceDocument deletes all chunks of the document and inserts the
// replacement set in a single transaction, so retrieval never sees a
// partially retired chunk set.
func (s *SQLiteStore) ReplaceDocument(documentID string, records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM chunk_vectors WHERE document_id = ?", documentID); err != nil {
		tx.Rollback()
		return fmt.Errorf("retiring chunks of %s: %w", documentID, err)
	}
	if err := insertTx(tx, records); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTx(tx *sql.Tx, records []Record) error {
	stmt, err := tx.Prepare(`
		INSERT INTO chunk_vectors (id, document_id, owner_id, ordinal, content, embedding, doc_title, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(r.ID, r.DocumentID, r.OwnerID, r.Ordinal, r.Content, blob,
			r.DocTitle, r.Language, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", r.ID, err)
		}
	}
	return nil
}

// candidate holds the fields needed for ranking during the scan phase.
// Full record details are fetched only for top-K winners.
type candidate struct {
	ID         string
	DocumentID string
	Ordinal    int
	Score      float32
}

// Search scans the owner's chunk vectors, computes cosine similarity
// against the query vector, and returns the top-K records ordered by
// score descending with ties broken by lowest ordinal. The ordering is
// fully deterministic for a fixed store state and query vector.
func (s *SQLiteStore) Search(ownerID string, vector []float32, topK int, documentID string) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	query := `SELECT id, document_id, ordinal, embedding FROM chunk_vectors WHERE owner_id = ?`
	args := []any{ownerID}
	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	var candidates []candidate

	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Score = cosine(vector, buf, queryNorm)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ID < b.ID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	return s.fetchRanked(candidates)
}

// fetchRanked loads full records for the ranked candidates, preserving
// the candidate order (an IN query does not).
func (s *SQLiteStore) fetchRanked(candidates []candidate) ([]ScoredRecord, error) {
	args := make([]any, len(candidates))
	scores := make(map[string]float32, len(candidates))
	for i, c := range candidates {
		args[i] = c.ID
		scores[c.ID] = c.Score
	}

	query := `SELECT id, document_id, owner_id, ordinal, content, embedding, doc_title, language, created_at
		FROM chunk_vectors WHERE id IN (?` + strings.Repeat(",?", len(candidates)-1) + `)`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]ScoredRecord, len(candidates))
	for rows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.OwnerID, &r.Ordinal, &r.Content, &blob,
			&r.DocTitle, &r.Language, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		byID[r.ID] = ScoredRecord{Record: r, Score: scores[r.ID]}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	results := make([]ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := byID[c.ID]
		if !ok {
			return nil, fmt.Errorf("chunk %s disappeared during search", c.ID)
		}
		results = append(results, rec)
	}
	return results, nil
}

// DeleteByDocument removes all chunks of a document.
func (s *SQLiteStore) DeleteByDocument(documentID string) error {
	if _, err := s.db.Exec("DELETE FROM chunk_vectors WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", documentID, err)
	}
	return nil
}

// Count returns the number of chunks stored for the owner.
func (s *SQLiteStore) Count(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors WHERE owner_id = ?", ownerID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
