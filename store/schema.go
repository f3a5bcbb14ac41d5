package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Uploaded documents and their ingestion state
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    owner_id TEXT NOT NULL,
    filename TEXT NOT NULL,
    source_url TEXT,
    title TEXT,
    summary TEXT,
    author TEXT,
    institution TEXT,
    page_count INTEGER DEFAULT 0,
    has_images INTEGER DEFAULT 0,
    toc JSON,
    status TEXT DEFAULT 'pending',
    degraded INTEGER DEFAULT 0,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Typed content sections in reading order
CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    order_index INTEGER NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    section_type TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    chapter_number TEXT NOT NULL DEFAULT '0',
    page_start INTEGER,
    page_end INTEGER,
    summary TEXT,
    task_number TEXT,
    keywords JSON,
    solution_id TEXT,
    exercise_id TEXT
);

-- Extracted page images stored in the blob store
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    section_id INTEGER REFERENCES sections(id) ON DELETE SET NULL,
    page_number INTEGER NOT NULL,
    image_index INTEGER NOT NULL,
    path TEXT NOT NULL,
    public_url TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    format TEXT NOT NULL,
    alt_text TEXT,
    UNIQUE(document_id, page_number, image_index)
);

-- Section embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_sections USING vec0(
    section_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document_id, order_index);
CREATE INDEX IF NOT EXISTS idx_sections_type ON sections(section_type);
CREATE INDEX IF NOT EXISTS idx_images_document ON images(document_id);
CREATE INDEX IF NOT EXISTS idx_images_section ON images(section_id);
`, embeddingDim)
}
