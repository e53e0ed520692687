package catalog

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/hitoshi/latework/internal/model"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64 { return &v }

func TestNormalize_AllFieldsMissing(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	got := Normalize(model.CourseRecord{ID: "c1"}, now)

	assert.Equal(t, got.ID, "c1")
	assert.Equal(t, got.Name, "")
	assert.Equal(t, got.Description, DefaultDescription)
	assert.Equal(t, got.Level, DefaultLevel)
	assert.Equal(t, got.Duration, "")
	assert.Equal(t, got.Pic, DefaultPic)
	assert.Equal(t, got.Category, DefaultCategory)
	assert.Equal(t, got.RecommendedFor, "")
	assert.Equal(t, got.CreatedAt, int64(1700000000000))
	assert.Equal(t, got.UpdatedAt, int64(1700000000000))
}

func TestNormalize_KeepsPresentFields(t *testing.T) {
	raw := model.CourseRecord{
		ID:             "c2",
		Name:           strp("Go入門"),
		Description:    strp("Goの基礎を学ぶ"),
		Level:          strp("Intermediate"),
		Duration:       strp("8 weeks"),
		Pic:            strp("https://example.com/go.png"),
		Category:       strp("Programming"),
		RecommendedFor: strp("バックエンド開発者"),
		CreatedAt:      i64p(100),
		UpdatedAt:      i64p(200),
	}

	got := Normalize(raw, time.Now())

	assert.Equal(t, got, model.Course{
		ID:             "c2",
		Name:           "Go入門",
		Description:    "Goの基礎を学ぶ",
		Level:          "Intermediate",
		Duration:       "8 weeks",
		Pic:            "https://example.com/go.png",
		Category:       "Programming",
		RecommendedFor: "バックエンド開発者",
		CreatedAt:      100,
		UpdatedAt:      200,
	})
}

func TestNormalize_EmptyStringsAreDefaulted(t *testing.T) {
	raw := model.CourseRecord{
		ID:          "c3",
		Description: strp("   "),
		Level:       strp(""),
		Pic:         strp(""),
		Category:    strp(""),
		CreatedAt:   i64p(0),
	}
	now := time.UnixMilli(42)

	got := Normalize(raw, now)

	assert.Equal(t, got.Description, DefaultDescription)
	assert.Equal(t, got.Level, DefaultLevel)
	assert.Equal(t, got.Pic, DefaultPic)
	assert.Equal(t, got.Category, DefaultCategory)
	assert.Equal(t, got.CreatedAt, int64(42))
}

func TestNormalizeAll_NeverProducesBlankDescription(t *testing.T) {
	records := []*model.CourseRecord{
		{ID: "a"},
		{ID: "b", Description: strp("")},
		nil,
		{ID: "c", Description: strp("説明あり")},
	}

	got := NormalizeAll(records, time.Now())

	assert.Equal(t, len(got), 3)
	for _, c := range got {
		assert.NotEqual(t, c.Description, "")
	}
}
