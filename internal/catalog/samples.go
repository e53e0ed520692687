package catalog

import (
	"time"

	"github.com/hitoshi/latework/internal/model"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// sampleCourses は空のカタログの代わりに表示するサンプルコース。
// ageDays は作成日時をnowから何日前にするか。
var sampleCourses = []struct {
	course  model.Course
	ageDays int64
}{
	{
		course: model.Course{
			ID:             "1",
			Name:           "Certified Ethical Hacker (CEH)",
			Description:    "倫理的ハッキングの研修コース。攻撃者が使う手法とツールを学びます。",
			Level:          "Advanced",
			Duration:       "30 days",
			Pic:            "https://cicra.edu.lk/library/programmes/featured_images/hq720.jpg",
			Category:       "Security",
			RecommendedFor: "合法的なハッキングの分野に進み、資格取得を目指す方",
		},
		ageDays: 0,
	},
	{
		course: model.Course{
			ID:             "2",
			Name:           "React Native Development",
			Description:    "React Nativeによるモバイルアプリ開発を基礎から応用まで学びます。",
			Level:          "Intermediate",
			Duration:       "45 days",
			Pic:            "https://reactnative.dev/img/tiny_logo.png",
			Category:       "Programming",
			RecommendedFor: "Web開発の経験を活かしてモバイルアプリ開発に進みたい方",
		},
		ageDays: 1,
	},
	{
		course: model.Course{
			ID:             "3",
			Name:           "Firebase for Mobile Apps",
			Description:    "Firebaseでモバイルアプリを構築・運用します。Authentication、Firestore、Storageを扱います。",
			Level:          "Beginner",
			Duration:       "21 days",
			Pic:            "https://firebase.google.com/images/social.png",
			Category:       "Cloud",
			RecommendedFor: "FirebaseとGoogleのクラウドサービスを使いたい開発者",
		},
		ageDays: 2,
	},
}

// SampleCourses はサンプルコース3件を固定の順序で返す。
// 呼び出しごとに新しいスライスを返すため、呼び出し側で変更してよい。
func SampleCourses(now time.Time) []model.Course {
	nowMillis := now.UnixMilli()
	courses := make([]model.Course, len(sampleCourses))
	for i, s := range sampleCourses {
		c := s.course
		c.CreatedAt = nowMillis - s.ageDays*dayMillis
		c.UpdatedAt = c.CreatedAt
		courses[i] = c
	}
	return courses
}

// IsSampleCourseID はサンプルコースのIDかどうかを返す。
func IsSampleCourseID(id string) bool {
	for _, s := range sampleCourses {
		if s.course.ID == id {
			return true
		}
	}
	return false
}
