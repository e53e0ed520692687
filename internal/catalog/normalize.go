// Package catalog はコースカタログの読み取り経路を提供する。
// ストアから読んだレコードは必ずNormalizeを通してから利用する。
package catalog

import (
	"strings"
	"time"

	"github.com/hitoshi/latework/internal/model"
)

// 欠落フィールドの既定値。
const (
	DefaultDescription = "コースの詳細は準備中です"
	DefaultLevel       = "Beginner"
	DefaultPic         = "https://via.placeholder.com/150"
	DefaultCategory    = "General"
)

// Normalize は生レコードの欠落フィールドを既定値で補完する。
// 空文字列も欠落として扱う。タイムスタンプが欠落（または0）の場合はnowを使う。
func Normalize(raw model.CourseRecord, now time.Time) model.Course {
	nowMillis := now.UnixMilli()

	description := valueOr(raw.Description, "")
	if strings.TrimSpace(description) == "" {
		description = DefaultDescription
	}

	return model.Course{
		ID:             raw.ID,
		Name:           valueOr(raw.Name, ""),
		Description:    description,
		Level:          valueOr(raw.Level, DefaultLevel),
		Duration:       valueOr(raw.Duration, ""),
		Pic:            valueOr(raw.Pic, DefaultPic),
		Category:       valueOr(raw.Category, DefaultCategory),
		RecommendedFor: valueOr(raw.RecommendedFor, ""),
		CreatedAt:      millisOr(raw.CreatedAt, nowMillis),
		UpdatedAt:      millisOr(raw.UpdatedAt, nowMillis),
	}
}

// NormalizeAll は複数レコードを正規化する。
func NormalizeAll(records []*model.CourseRecord, now time.Time) []model.Course {
	courses := make([]model.Course, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		courses = append(courses, Normalize(*rec, now))
	}
	return courses
}

func valueOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func millisOr(p *int64, def int64) int64 {
	if p == nil || *p == 0 {
		return def
	}
	return *p
}
