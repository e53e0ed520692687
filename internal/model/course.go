// Package model はドメインモデルを定義する。
package model

// Course は正規化済みのコースを表す。
// 読み取り経路では必ず catalog.Normalize を通した値のみを扱う。
// タイムスタンプはエポックからのミリ秒。
type Course struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Level          string `json:"level"`
	Duration       string `json:"duration"`
	Pic            string `json:"pic"`
	Category       string `json:"category"`
	RecommendedFor string `json:"recommendedFor"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// CourseRecord はストアに保存されたままのコースレコード。
// ID以外のフィールドは欠落しうるためポインタで保持する。
type CourseRecord struct {
	ID             string
	Name           *string
	Description    *string
	Level          *string
	Duration       *string
	Pic            *string
	Category       *string
	RecommendedFor *string
	CreatedAt      *int64
	UpdatedAt      *int64
}

// CoursePatch はコースのマージ更新内容。
// nilのフィールドは既存値を維持する。
type CoursePatch struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Level          *string `json:"level,omitempty"`
	Duration       *string `json:"duration,omitempty"`
	Pic            *string `json:"pic,omitempty"`
	Category       *string `json:"category,omitempty"`
	RecommendedFor *string `json:"recommendedFor,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p CoursePatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Level == nil && p.Duration == nil &&
		p.Pic == nil && p.Category == nil && p.RecommendedFor == nil
}

// Lesson はコースに属するレッスンを表す。
// Orderは並び順のキーであり、一意性・連続性は保証されない。
type Lesson struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	Order       int    `json:"order"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// LessonPatch はレッスンのマージ更新内容。
type LessonPatch struct {
	Title       *string
	Description *string
	VideoURL    *string
	DocumentURL *string
	Order       *int
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p LessonPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.VideoURL == nil &&
		p.DocumentURL == nil && p.Order == nil
}

// LessonWithNeighbors はレッスン閲覧画面の前後ナビゲーション用の構造体。
type LessonWithNeighbors struct {
	Lesson   *Lesson
	Previous *Lesson
	Next     *Lesson
	Position int // 1始まりの位置
	Total    int
}
