package catalog

import (
	"sort"
	"strings"

	"github.com/hitoshi/latework/internal/model"
)

// Filter は名前・説明・カテゴリ・レベルに対する大文字小文字を区別しない部分一致で絞り込む。
// 入力スライスは変更しない。空白のみのクエリは入力をそのまま返す。
func Filter(courses []model.Course, query string) []model.Course {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return courses
	}

	filtered := make([]model.Course, 0, len(courses))
	for _, c := range courses {
		if matches(c, q) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func matches(c model.Course, lowerQuery string) bool {
	for _, field := range []string{c.Name, c.Description, c.Category, c.Level} {
		if strings.Contains(strings.ToLower(field), lowerQuery) {
			return true
		}
	}
	return false
}

// SortByNewest は作成日時の降順（同時刻はID昇順）に並べ替える。
func SortByNewest(courses []model.Course) {
	sort.SliceStable(courses, func(i, j int) bool {
		if courses[i].CreatedAt != courses[j].CreatedAt {
			return courses[i].CreatedAt > courses[j].CreatedAt
		}
		return courses[i].ID < courses[j].ID
	})
}
