package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"formcoach/internal/embedding"
	"formcoach/internal/logging"
)

// Knowledge categories. Each pipeline stage consults one of them.
const (
	CategoryFormGuides     = "form_guides"
	CategoryInjuryPatterns = "injury_patterns"
	CategoryCorrectives    = "correctives"
)

// Atom is one retrievable piece of coaching knowledge.
type Atom struct {
	ID         int64
	Category   string
	Concept    string
	Content    string
	Source     string
	Confidence float64
	Tags       []string
	CreatedAt  time.Time
}

// contentHash fingerprints an atom for deduplication.
func contentHash(category, concept, content string) string {
	h := sha256.Sum256([]byte(category + "\x00" + concept + "\x00" + content))
	return hex.EncodeToString(h[:])
}

// StoreAtom inserts one atom, embedding its content when an engine is
// attached. Duplicate content within a category is ignored.
func (s *LocalStore) StoreAtom(ctx context.Context, atom Atom) error {
	timer := logging.StartTimer(logging.CategoryStore, "StoreAtom")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertAtomLocked(ctx, atom)
}

// insertAtomLocked does the actual insert; the caller holds the write lock.
func (s *LocalStore) insertAtomLocked(ctx context.Context, atom Atom) error {
	logging.StoreDebug("Storing atom: category=%s concept=%s content_len=%d",
		atom.Category, atom.Concept, len(atom.Content))

	tagsJSON, err := json.Marshal(atom.Tags)
	if err != nil {
		tagsJSON = []byte("[]")
	}

	var embJSON string
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, atom.Content)
		if err != nil {
			// The atom is still useful for keyword search
			logging.Get(logging.CategoryStore).Warn("Failed to embed atom %s: %v (stored without embedding)", atom.Concept, err)
		} else if b, err := json.Marshal(vec); err == nil {
			embJSON = string(b)
		}
	}

	if atom.Confidence == 0 {
		atom.Confidence = 1.0
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO knowledge_atoms (category, concept, content, source, confidence, tags, embedding, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		atom.Category, atom.Concept, atom.Content, atom.Source, atom.Confidence,
		string(tagsJSON), embJSON, contentHash(atom.Category, atom.Concept, atom.Content),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to store atom %s: %v", atom.Concept, err)
		return err
	}
	return nil
}

// ReplaceCategory swaps all atoms of a category: the old rows are cleared,
// then the new set is inserted. Used by the corpus loader on reload.
func (s *LocalStore) ReplaceCategory(ctx context.Context, category string, atoms []Atom) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceCategory")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM knowledge_atoms WHERE category = ?", category); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear category %s: %w", category, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}

	inserted := 0
	for _, atom := range atoms {
		atom.Category = category
		if err := s.insertAtomLocked(ctx, atom); err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping atom %s: %v", atom.Concept, err)
			continue
		}
		inserted++
	}

	logging.Store("Category %s replaced: %d atoms", category, inserted)
	return nil
}

// CountAtoms returns the number of atoms in a category ("" counts all).
func (s *LocalStore) CountAtoms(category string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	var err error
	if category == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM knowledge_atoms").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM knowledge_atoms WHERE category = ?", category).Scan(&count)
	}
	return count, err
}

// scoredAtom pairs an atom with its retrieval score during search.
type scoredAtom struct {
	atom  Atom
	score float64
}

// SearchAtoms retrieves the atoms most relevant to the query within one
// category. Keyword overlap selects candidates; when an embedding engine is
// attached and candidates carry embeddings, cosine similarity reranks them.
func (s *LocalStore) SearchAtoms(ctx context.Context, category, query string, limit int) ([]Atom, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchAtoms")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 3
	}

	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return nil, nil
	}

	// Pull a generous candidate set; scoring happens in memory
	rows, err := s.db.Query(
		`SELECT id, category, concept, content, source, confidence, tags, embedding, created_at
		 FROM knowledge_atoms WHERE category = ?`,
		category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []scoredAtom
	var candidates []Atom
	var vectors [][]float32
	for rows.Next() {
		var atom Atom
		var tagsJSON, embJSON, source string
		if err := rows.Scan(&atom.ID, &atom.Category, &atom.Concept, &atom.Content,
			&source, &atom.Confidence, &tagsJSON, &embJSON, &atom.CreatedAt); err != nil {
			continue
		}
		atom.Source = source
		if tagsJSON != "" {
			json.Unmarshal([]byte(tagsJSON), &atom.Tags)
		}

		score := keywordScore(atom, keywords)
		if score == 0 {
			continue
		}
		scored = append(scored, scoredAtom{atom: atom, score: score})

		var vec []float32
		if embJSON != "" {
			json.Unmarshal([]byte(embJSON), &vec)
		}
		candidates = append(candidates, atom)
		vectors = append(vectors, vec)
	}

	if len(scored) == 0 {
		logging.StoreDebug("SearchAtoms: no keyword hits for %q in %s", query, category)
		return nil, nil
	}

	if ranked, ok := s.rerankSemantic(ctx, query, candidates, vectors, limit); ok {
		return ranked, nil
	}

	// Keyword order: score desc, confidence breaks ties
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].atom.Confidence > scored[j].atom.Confidence
	})

	n := limit
	if n > len(scored) {
		n = len(scored)
	}
	out := make([]Atom, 0, n)
	for _, sa := range scored[:n] {
		out = append(out, sa.atom)
	}
	logging.StoreDebug("SearchAtoms: %d keyword results for %q in %s", len(out), query, category)
	return out, nil
}

// keywordScore counts query keywords present in the atom's concept, tags,
// or content. Concept hits weigh double.
func keywordScore(atom Atom, keywords []string) float64 {
	concept := strings.ToLower(atom.Concept)
	content := strings.ToLower(atom.Content)
	tags := strings.ToLower(strings.Join(atom.Tags, " "))

	var score float64
	for _, kw := range keywords {
		switch {
		case strings.Contains(concept, kw):
			score += 2
		case strings.Contains(tags, kw):
			score += 1.5
		case strings.Contains(content, kw):
			score++
		}
	}
	return score
}

// rerankSemantic reorders candidates by embedding similarity. Returns
// false when no engine is attached or no candidate has an embedding.
func (s *LocalStore) rerankSemantic(ctx context.Context, query string, candidates []Atom, vectors [][]float32, limit int) ([]Atom, bool) {
	if s.embedder == nil {
		return nil, false
	}

	// Keep only candidates that actually have embeddings
	var atoms []Atom
	var corpus [][]float32
	for i, vec := range vectors {
		if len(vec) > 0 {
			atoms = append(atoms, candidates[i])
			corpus = append(corpus, vec)
		}
	}
	if len(atoms) == 0 {
		return nil, false
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Query embedding failed, keyword order kept: %v", err)
		return nil, false
	}

	top, err := embedding.FindTopK(queryVec, corpus, limit)
	if err != nil || len(top) == 0 {
		return nil, false
	}

	out := make([]Atom, 0, len(top))
	for _, hit := range top {
		out = append(out, atoms[hit.Index])
	}
	logging.StoreDebug("SearchAtoms: semantic rerank returned %d atoms (top similarity %.3f)", len(out), top[0].Similarity)
	return out, true
}
