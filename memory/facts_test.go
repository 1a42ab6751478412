package memory_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/convmem/core"
	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/store/chromem"
)

func newFactStore(t *testing.T) (*memory.FactStore, *countingStore, *testClock) {
	t.Helper()
	clock := newClock()
	store := &countingStore{RecordStore: newStore(t)}
	return memory.NewFactStore(store, testConfig(t, clock)), store, clock
}

func TestSave_NearDuplicateRaisesConfidence(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)
	before := testutil.ToFloat64(memory.FactsDeduplicated)

	id1, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack, Text: "Usa Python 3.11", Confidence: 0.6})
	require.NoError(t, err)
	id2, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack, Text: "usa python 3.11.", Confidence: 0.9})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	all, err := facts.List(ctx, "alice", memory.FactFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0.9, all[0].Confidence)
	assert.Equal(t, "Usa Python 3.11", all[0].Text)
	assert.True(t, all[0].UpdatedAt.After(all[0].CreatedAt))
	assert.Equal(t, before+1, testutil.ToFloat64(memory.FactsDeduplicated))
}

func TestSave_ConfidenceNeverDecreasesUnlessOverwritten(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)
	in := memory.FactInput{UserID: "alice", Category: core.CategoryPreferences, Text: "Prefiere respuestas en español", Confidence: 0.9}

	id, err := facts.Save(ctx, in)
	require.NoError(t, err)

	in.Confidence = 0.3
	_, err = facts.Save(ctx, in)
	require.NoError(t, err)
	f, err := facts.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.9, f.Confidence)

	in.Overwrite = true
	_, err = facts.Save(ctx, in)
	require.NoError(t, err)
	f, err = facts.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.3, f.Confidence)
}

func TestSave_DistinctFactsAndCategoriesKeptApart(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)

	inputs := []memory.FactInput{
		{UserID: "alice", Category: core.CategoryTechStack, Text: "Usa Python 3.11", Confidence: 0.8},
		{UserID: "alice", Category: core.CategoryTechStack, Text: "Despliega con Docker en Kubernetes", Confidence: 0.8},
		{UserID: "alice", Category: core.CategoryProjectInfo, Text: "Usa Python 3.11", Confidence: 0.8},
		{UserID: "bob", Category: core.CategoryTechStack, Text: "Usa Python 3.11", Confidence: 0.8},
	}
	for _, in := range inputs {
		_, err := facts.Save(ctx, in)
		require.NoError(t, err)
	}

	alice, err := facts.List(ctx, "alice", memory.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, alice, 3)

	tech, err := facts.List(ctx, "alice", memory.FactFilter{Category: core.CategoryTechStack})
	require.NoError(t, err)
	assert.Len(t, tech, 2)

	bob, err := facts.List(ctx, "bob", memory.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestSave_ValidationWritesNothing(t *testing.T) {
	ctx := context.Background()
	facts, store, _ := newFactStore(t)

	tests := []struct {
		name string
		in   memory.FactInput
	}{
		{"confidence above one", memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: "x", Confidence: 1.5}},
		{"negative confidence", memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: "x", Confidence: -0.1}},
		{"nan confidence", memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: "x", Confidence: math.NaN()}},
		{"unknown category", memory.FactInput{UserID: "alice", Category: "hobbies", Text: "x", Confidence: 0.5}},
		{"empty text", memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: " ", Confidence: 0.5}},
		{"no user", memory.FactInput{Category: core.CategorySecurity, Text: "x", Confidence: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := facts.Save(ctx, tt.in)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}

	assert.Zero(t, store.Puts(memory.CollectionFacts))
}

func TestList_OrderAndFloor(t *testing.T) {
	ctx := context.Background()
	facts, _, clock := newFactStore(t)

	save := func(text string, c float64) {
		_, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryUsagePattern, Text: text, Confidence: c})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	save("Trabaja de noche", 0.7)
	save("Ejecuta tests antes de cada commit", 0.95)
	save("Pide diagramas de arquitectura", 0.7)
	save("Revisa dependencias cada lunes", 0.4)

	all, err := facts.List(ctx, "alice", memory.FactFilter{MinConfidence: 0.5})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Ejecuta tests antes de cada commit", all[0].Text)
	assert.Equal(t, "Pide diagramas de arquitectura", all[1].Text, "ties go to the most recently updated")
	assert.Equal(t, "Trabaja de noche", all[2].Text)
	assert.Equal(t, core.SourceConversation, all[0].Source)
}

func TestSummary_EmptyWhenNoFacts(t *testing.T) {
	facts, _, _ := newFactStore(t)

	summary, err := facts.Summary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestSummary_GroupsAndCaps(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)

	techFacts := []string{
		"Usa Python 3.11", "Usa FastAPI para servicios", "Base de datos PostgreSQL",
		"Frontend en React", "Cola de mensajes Kafka", "Cache con Redis",
	}
	for i, text := range techFacts {
		_, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack, Text: text, Confidence: 0.9 - float64(i)*0.01})
		require.NoError(t, err)
	}
	_, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: "Tiene numpy vulnerable", Confidence: 0.8})
	require.NoError(t, err)
	_, err = facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryPreferences, Text: "Le gustan los emojis", Confidence: 0.5})
	require.NoError(t, err)

	summary, err := facts.Summary(ctx, "alice")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(summary, "📌 INFORMACIÓN CONOCIDA DEL USUARIO:"))
	assert.Contains(t, summary, "TECH_STACK:")
	assert.Contains(t, summary, "  • Usa Python 3.11 (90%)")
	assert.NotContains(t, summary, "Cache con Redis", "only five facts per category")
	assert.Contains(t, summary, "SECURITY:")
	assert.NotContains(t, summary, "PREFERENCES:", "low-confidence facts are left out")
	assert.Less(t, strings.Index(summary, "TECH_STACK:"), strings.Index(summary, "SECURITY:"))
}

func TestSummary_ZeroFloorKeepsEveryFact(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, newClock())
	cfg.SummaryMinConfidence = 0
	facts := memory.NewFactStore(newStore(t), cfg)

	_, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryPreferences, Text: "Le gustan los emojis", Confidence: 0.2})
	require.NoError(t, err)

	summary, err := facts.Summary(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, summary, "  • Le gustan los emojis (20%)")
}

func TestDelete_OnlyOwnFacts(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)

	id, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategorySecurity, Text: "Rota claves cada mes", Confidence: 0.8})
	require.NoError(t, err)

	assert.ErrorIs(t, facts.Delete(ctx, "bob", id), core.ErrNotFound)
	require.NoError(t, facts.Delete(ctx, "alice", id))
	_, err = facts.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// tableEmbedder returns fixed vectors so similarity is chosen by the test.
type tableEmbedder map[string][]float32

func (e tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (e tableEmbedder) Dimensions() int { return 4 }

func newTableFactStore(t *testing.T, vectors tableEmbedder) *memory.FactStore {
	t.Helper()
	store, err := chromem.New(chromem.Options{Embedder: vectors})
	require.NoError(t, err)
	return memory.NewFactStore(store, testConfig(t, newClock()))
}

func TestSave_MergesReorderedTokens(t *testing.T) {
	ctx := context.Background()
	facts, _, _ := newFactStore(t)

	id1, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack,
		Text: "Usa Python 3.11 y Django 4.2 en producción con Postgres", Confidence: 0.6})
	require.NoError(t, err)
	id2, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack,
		Text: "Usa Django 4.2 y Python 3.11 en producción con Postgres", Confidence: 0.9})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	f, err := facts.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 0.9, f.Confidence)
}

func TestSave_MergesByEmbeddingSimilarity(t *testing.T) {
	ctx := context.Background()
	facts := newTableFactStore(t, tableEmbedder{
		"Trabaja con bases de datos PostgreSQL": {1, 0.1, 0, 0},
		"Su motor SQL es Postgres":              {1, 0.15, 0, 0},
	})

	id1, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack,
		Text: "Trabaja con bases de datos PostgreSQL", Confidence: 0.6})
	require.NoError(t, err)
	id2, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack,
		Text: "Su motor SQL es Postgres", Confidence: 0.8})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	all, err := facts.List(ctx, "alice", memory.FactFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Trabaja con bases de datos PostgreSQL", all[0].Text)
	assert.Equal(t, 0.8, all[0].Confidence)
}

func TestSave_NegationIsNotADuplicate(t *testing.T) {
	ctx := context.Background()
	facts := newTableFactStore(t, tableEmbedder{
		"Tiene una vulnerabilidad en numpy":    {0, 1, 0, 0},
		"No tiene una vulnerabilidad en numpy": {0, 1, 0, 0},
	})

	id1, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategorySecurity,
		Text: "Tiene una vulnerabilidad en numpy", Confidence: 0.6})
	require.NoError(t, err)
	id2, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategorySecurity,
		Text: "No tiene una vulnerabilidad en numpy", Confidence: 0.9})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	f, err := facts.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 0.6, f.Confidence)

	// High token overlap with a negation word added is still a different fact.
	long := "Usa Python 3.11 y Django 4.2 en producción con Postgres y Redis"
	id3, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack, Text: long, Confidence: 0.7})
	require.NoError(t, err)
	id4, err := facts.Save(ctx, memory.FactInput{UserID: "alice", Category: core.CategoryTechStack,
		Text: "No usa Python 3.11 y Django 4.2 en producción con Postgres y Redis", Confidence: 0.9})
	require.NoError(t, err)
	assert.NotEqual(t, id3, id4)

	all, err := facts.List(ctx, "alice", memory.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
