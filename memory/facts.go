package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory/textnorm"
)

// dedupCandidates is how many nearest facts are checked for a duplicate.
const dedupCandidates = 3

// FactInput is a fact observation to be saved.
type FactInput struct {
	UserID     string
	Category   core.Category
	Text       string
	Confidence float64

	// Source defaults to core.SourceConversation.
	Source string

	// Overwrite replaces the confidence of a matching fact instead of
	// keeping the maximum.
	Overwrite bool
}

// FactFilter narrows List.
type FactFilter struct {
	// Category restricts results when non-empty.
	Category      core.Category
	MinConfidence float64
}

// FactStore keeps categorized, confidence-scored facts per user.
type FactStore struct {
	store  RecordStore
	config *Config
	logger *zap.Logger
}

// NewFactStore creates a FactStore over store.
func NewFactStore(store RecordStore, config *Config) *FactStore {
	config = config.withDefaults()
	return &FactStore{
		store:  store,
		config: config,
		logger: config.Logger.Named("facts"),
	}
}

// Save stores a fact, or folds it into an existing near-duplicate of the
// same user and category. It returns the id of the stored fact.
//
// Concurrent saves of the same fact may both miss each other and create two
// records; the next save of that fact merges into one of them.
func (s *FactStore) Save(ctx context.Context, in FactInput) (string, error) {
	if err := validateFact(in); err != nil {
		return "", err
	}
	if in.Source == "" {
		in.Source = core.SourceConversation
	}
	now := s.config.Now()

	existing, found, err := s.findDuplicate(ctx, in)
	if err != nil {
		return "", err
	}
	if found {
		prev := existing.Confidence
		if in.Overwrite || in.Confidence > existing.Confidence {
			existing.Confidence = in.Confidence
		}
		existing.UpdatedAt = now
		if err := s.store.Put(ctx, CollectionFacts, factRecord(existing)); err != nil {
			return "", err
		}
		FactsDeduplicated.Inc()
		s.logger.Debug("fact reinforced",
			zap.String("user_id", in.UserID),
			zap.String("fact_id", existing.ID),
			zap.Float64("previous", prev),
			zap.Float64("confidence", existing.Confidence))
		return existing.ID, nil
	}

	fact := core.Fact{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Category:   in.Category,
		Text:       strings.TrimSpace(in.Text),
		Confidence: in.Confidence,
		Source:     in.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Put(ctx, CollectionFacts, factRecord(fact)); err != nil {
		return "", err
	}
	s.logger.Debug("fact stored",
		zap.String("user_id", in.UserID),
		zap.String("fact_id", fact.ID),
		zap.String("category", string(fact.Category)))
	return fact.ID, nil
}

func validateFact(in FactInput) error {
	if err := core.RequireText("user_id", in.UserID); err != nil {
		return err
	}
	if err := in.Category.Validate(); err != nil {
		return err
	}
	if err := core.RequireText("text", in.Text); err != nil {
		return err
	}
	return core.ValidateConfidence(in.Confidence)
}

// findDuplicate looks for a fact of the same user and category that says
// the same thing: equal folded text, token Jaccard at or above DedupJaccard,
// or embedding similarity at or above DedupCosine. Candidates whose negation
// words differ from the input never match.
func (s *FactStore) findDuplicate(ctx context.Context, in FactInput) (core.Fact, bool, error) {
	filter := Filter{keyUserID: in.UserID, keyCategory: string(in.Category)}
	recs, err := s.store.GetByMetadata(ctx, CollectionFacts, filter)
	if err != nil {
		return core.Fact{}, false, err
	}
	if len(recs) == 0 {
		return core.Fact{}, false, nil
	}

	folded := textnorm.Fold(in.Text)
	var (
		best      Record
		bestScore float64
	)
	for _, rec := range recs {
		if textnorm.Fold(rec.Text) == folded {
			best, bestScore = rec, 1
			break
		}
		if !textnorm.SamePolarity(in.Text, rec.Text) {
			continue
		}
		if j := textnorm.Jaccard(in.Text, rec.Text); j > bestScore {
			best, bestScore = rec, j
		}
	}
	if bestScore >= s.config.DedupJaccard {
		f, err := decodeFact(best)
		return f, err == nil, err
	}

	hits, err := s.store.Query(ctx, CollectionFacts, in.Text, dedupCandidates, filter)
	if err != nil {
		return core.Fact{}, false, err
	}
	for _, hit := range hits {
		if float64(hit.Score) < s.config.DedupCosine {
			break
		}
		if !textnorm.SamePolarity(in.Text, hit.Text) {
			continue
		}
		f, err := decodeFact(hit.Record)
		return f, err == nil, err
	}
	return core.Fact{}, false, nil
}

// List returns userID's facts matching filter, highest confidence first,
// most recently updated first among equals.
func (s *FactStore) List(ctx context.Context, userID string, filter FactFilter) ([]core.Fact, error) {
	where := Filter{keyUserID: userID}
	if filter.Category != "" {
		if err := filter.Category.Validate(); err != nil {
			return nil, err
		}
		where[keyCategory] = string(filter.Category)
	}
	recs, err := s.store.GetByMetadata(ctx, CollectionFacts, where)
	if err != nil {
		return nil, err
	}

	facts := make([]core.Fact, 0, len(recs))
	for _, rec := range recs {
		f, err := decodeFact(rec)
		if err != nil {
			return nil, err
		}
		if f.Confidence < filter.MinConfidence {
			continue
		}
		facts = append(facts, f)
	}
	sortFacts(facts)
	return facts, nil
}

func sortFacts(facts []core.Fact) {
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Confidence != facts[j].Confidence {
			return facts[i].Confidence > facts[j].Confidence
		}
		return facts[i].UpdatedAt.After(facts[j].UpdatedAt)
	})
}

// Get returns a fact by id, or core.ErrNotFound.
func (s *FactStore) Get(ctx context.Context, factID string) (core.Fact, error) {
	rec, err := s.store.GetByID(ctx, CollectionFacts, factID)
	if err != nil {
		return core.Fact{}, err
	}
	return decodeFact(rec)
}

// Delete removes one of userID's facts. Facts of other users are reported
// as not found.
func (s *FactStore) Delete(ctx context.Context, userID, factID string) error {
	f, err := s.Get(ctx, factID)
	if err != nil {
		return err
	}
	if f.UserID != userID {
		return core.NotFoundf("fact %s", factID)
	}
	return s.store.Delete(ctx, CollectionFacts, factID)
}

// Summary renders userID's trusted facts grouped by category for inclusion
// in a prompt. It returns "" when there is nothing to say.
func (s *FactStore) Summary(ctx context.Context, userID string) (string, error) {
	facts, err := s.List(ctx, userID, FactFilter{MinConfidence: s.config.SummaryMinConfidence})
	if err != nil {
		return "", err
	}
	return formatFacts(facts, s.config.SummaryPerCategory), nil
}

func formatFacts(facts []core.Fact, perCategory int) string {
	if len(facts) == 0 {
		return ""
	}
	byCategory := make(map[core.Category][]core.Fact)
	for _, f := range facts {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	var b strings.Builder
	b.WriteString("📌 INFORMACIÓN CONOCIDA DEL USUARIO:\n")
	for _, cat := range core.Categories {
		group := byCategory[cat]
		if len(group) == 0 {
			continue
		}
		sortFacts(group)
		if len(group) > perCategory {
			group = group[:perCategory]
		}
		fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(string(cat)))
		for _, f := range group {
			fmt.Fprintf(&b, "  • %s (%.0f%%)\n", f.Text, f.Confidence*100)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
