// Package store is the SQLite persistence layer: documents, their typed
// sections and image metadata, and section embeddings via sqlite-vec.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document statuses, in lifecycle order.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document represents a row in the documents table.
type Document struct {
	ID          int64      `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Filename    string     `json:"filename"`
	SourceURL   string     `json:"source_url,omitempty"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Author      string     `json:"author,omitempty"`
	Institution string     `json:"institution,omitempty"`
	PageCount   int        `json:"page_count"`
	HasImages   bool       `json:"has_images"`
	TOC         []TOCEntry `json:"toc,omitempty"`
	Status      string     `json:"status"`
	Degraded    bool       `json:"degraded"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// TOCEntry is one table-of-contents line stored on the document row.
type TOCEntry struct {
	Title         string `json:"title"`
	ChapterNumber string `json:"chapter_number"`
	Level         int    `json:"level"`
	PageStart     *int   `json:"page_start,omitempty"`
}

// Section represents a row in the sections table.
type Section struct {
	ID            int64    `json:"id"`
	DocumentID    int64    `json:"document_id"`
	OrderIndex    int      `json:"order_index"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	SectionType   string   `json:"section_type"`
	Level         int      `json:"level"`
	ChapterNumber string   `json:"chapter_number"`
	PageStart     *int     `json:"page_start,omitempty"`
	PageEnd       *int     `json:"page_end,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	TaskNumber    string   `json:"task_number,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	SolutionID    string   `json:"solution_id,omitempty"`
	ExerciseID    string   `json:"exercise_id,omitempty"`
}

// Image represents a row in the images table.
type Image struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	SectionID  *int64 `json:"section_id,omitempty"`
	PageNumber int    `json:"page_number"`
	ImageIndex int    `json:"image_index"`
	Path       string `json:"path"`
	PublicURL  string `json:"public_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	AltText    string `json:"alt_text,omitempty"`
}

// SectionMatch is one section search hit with its similarity score.
type SectionMatch struct {
	SectionID   int64   `json:"section_id"`
	DocumentID  int64   `json:"document_id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	SectionType string  `json:"section_type"`
	Filename    string  `json:"filename"`
	Score       float64 `json:"score"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// CreateDocument inserts a new document in pending state and returns its ID.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	status := doc.Status
	if status == "" {
		status = StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (owner_id, filename, source_url, title, page_count, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.OwnerID, doc.Filename, doc.SourceURL, doc.Title, doc.PageCount, status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	doc := &Document{}
	var sourceURL, title, summary, author, institution, toc, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, filename, source_url, title, summary, author, institution,
			page_count, has_images, toc, status, degraded, error, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &sourceURL, &title, &summary,
		&author, &institution, &doc.PageCount, &doc.HasImages, &toc, &doc.Status,
		&doc.Degraded, &errMsg, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.SourceURL = sourceURL.String
	doc.Title = title.String
	doc.Summary = summary.String
	doc.Author = author.String
	doc.Institution = institution.String
	doc.Error = errMsg.String
	if toc.Valid && toc.String != "" {
		if err := json.Unmarshal([]byte(toc.String), &doc.TOC); err != nil {
			return nil, fmt.Errorf("decoding toc of document %d: %w", id, err)
		}
	}
	return doc, nil
}

// ListDocuments returns an owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, filename, source_url, title, summary, author, institution,
			page_count, has_images, status, degraded, error, created_at, updated_at
		FROM documents WHERE owner_id = ? ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var sourceURL, title, summary, author, institution, errMsg sql.NullString
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &sourceURL, &title, &summary,
			&author, &institution, &d.PageCount, &d.HasImages, &d.Status, &d.Degraded,
			&errMsg, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.SourceURL = sourceURL.String
		d.Title = title.String
		d.Summary = summary.String
		d.Author = author.String
		d.Institution = institution.String
		d.Error = errMsg.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// MarkDocumentFailed sets failed status with the error message.
func (s *Store) MarkDocumentFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		StatusFailed, errMsg, id)
	return err
}

// UpdateDocumentResult records the structuring outcome on the document row.
func (s *Store) UpdateDocumentResult(ctx context.Context, id int64, doc Document) error {
	var toc any
	if len(doc.TOC) > 0 {
		b, err := json.Marshal(doc.TOC)
		if err != nil {
			return err
		}
		toc = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title = ?, summary = ?, author = ?, institution = ?,
			page_count = ?, has_images = ?, toc = ?, status = ?, degraded = ?,
			error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, doc.Title, doc.Summary, doc.Author, doc.Institution,
		doc.PageCount, doc.HasImages, toc, doc.Status, doc.Degraded, id)
	return err
}

// DeleteDocument removes a document and cascades to its sections, images,
// and embeddings.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_sections WHERE section_id IN (
				SELECT id FROM sections WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM images WHERE document_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM sections WHERE document_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE id = ?", id); err != nil {
			return err
		}
		return nil
	})
}

// --- Section operations ---

// ReplaceSections atomically swaps a document's sections for the given
// list and returns the new section IDs in input order. Existing
// embeddings of the replaced sections are dropped with them.
func (s *Store) ReplaceSections(ctx context.Context, docID int64, sections []Section) ([]int64, error) {
	ids := make([]int64, len(sections))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_sections WHERE section_id IN (
				SELECT id FROM sections WHERE document_id = ?
			)`, docID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM sections WHERE document_id = ?", docID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sections (document_id, order_index, title, content, section_type,
				level, chapter_number, page_start, page_end, summary, task_number,
				keywords, solution_id, exercise_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, sec := range sections {
			var keywords any
			if len(sec.Keywords) > 0 {
				b, err := json.Marshal(sec.Keywords)
				if err != nil {
					return err
				}
				keywords = string(b)
			}

			res, err := stmt.ExecContext(ctx,
				docID, i, sec.Title, sec.Content, sec.SectionType,
				sec.Level, sec.ChapterNumber, sec.PageStart, sec.PageEnd,
				sec.Summary, sec.TaskNumber, keywords, sec.SolutionID, sec.ExerciseID)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

// GetSections returns a document's sections in reading order.
func (s *Store) GetSections(ctx context.Context, docID int64) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, order_index, title, content, section_type,
			level, chapter_number, page_start, page_end, summary, task_number,
			keywords, solution_id, exercise_id
		FROM sections WHERE document_id = ? ORDER BY order_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []Section
	for rows.Next() {
		var sec Section
		var summary, taskNumber, keywords, solutionID, exerciseID sql.NullString
		if err := rows.Scan(&sec.ID, &sec.DocumentID, &sec.OrderIndex, &sec.Title,
			&sec.Content, &sec.SectionType, &sec.Level, &sec.ChapterNumber,
			&sec.PageStart, &sec.PageEnd, &summary, &taskNumber,
			&keywords, &solutionID, &exerciseID); err != nil {
			return nil, err
		}
		sec.Summary = summary.String
		sec.TaskNumber = taskNumber.String
		sec.SolutionID = solutionID.String
		sec.ExerciseID = exerciseID.String
		if keywords.Valid && keywords.String != "" {
			if err := json.Unmarshal([]byte(keywords.String), &sec.Keywords); err != nil {
				return nil, fmt.Errorf("decoding keywords of section %d: %w", sec.ID, err)
			}
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// --- Image operations ---

// InsertImages stores image metadata rows for a document, replacing any
// previous row for the same page and index.
func (s *Store) InsertImages(ctx context.Context, docID int64, images []Image) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO images (document_id, section_id, page_number, image_index,
				path, public_url, width, height, format, alt_text)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_id, page_number, image_index) DO UPDATE SET
				section_id = excluded.section_id,
				path = excluded.path,
				public_url = excluded.public_url,
				width = excluded.width,
				height = excluded.height,
				format = excluded.format,
				alt_text = excluded.alt_text
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, img := range images {
			if _, err := stmt.ExecContext(ctx,
				docID, img.SectionID, img.PageNumber, img.ImageIndex,
				img.Path, img.PublicURL, img.Width, img.Height,
				img.Format, img.AltText); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetImages returns a document's images ordered by page and paint order.
func (s *Store) GetImages(ctx context.Context, docID int64) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, section_id, page_number, image_index,
			path, public_url, width, height, format, alt_text
		FROM images WHERE document_id = ? ORDER BY page_number, image_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		var altText sql.NullString
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.SectionID,
			&img.PageNumber, &img.ImageIndex, &img.Path, &img.PublicURL,
			&img.Width, &img.Height, &img.Format, &altText); err != nil {
			return nil, err
		}
		img.AltText = altText.String
		images = append(images, img)
	}
	return images, rows.Err()
}

// --- Embedding operations ---

// InsertSectionEmbedding stores a vector embedding for a section.
func (s *Store) InsertSectionEmbedding(ctx context.Context, sectionID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_sections (section_id, embedding) VALUES (?, ?)",
		sectionID, serializeFloat32(embedding))
	return err
}

// SearchSections performs a KNN search over section embeddings.
func (s *Store) SearchSections(ctx context.Context, queryEmbedding []float32, k int) ([]SectionMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.section_id, v.distance,
			sec.title, sec.content, sec.section_type, sec.document_id,
			d.filename
		FROM vec_sections v
		JOIN sections sec ON sec.id = v.section_id
		JOIN documents d ON d.id = sec.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SectionMatch
	for rows.Next() {
		var m SectionMatch
		var distance float64
		if err := rows.Scan(&m.SectionID, &distance,
			&m.Title, &m.Content, &m.SectionType, &m.DocumentID,
			&m.Filename); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
