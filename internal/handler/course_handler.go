package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/latework/internal/catalog"
	"github.com/hitoshi/latework/internal/model"
)

// CatalogReader はカタログの1回限りの読み取りインターフェース。
type CatalogReader interface {
	ListCourses(ctx context.Context, query string) (*catalog.Listing, error)
	GetCourse(ctx context.Context, courseID string) (*model.Course, error)
	ListLessons(ctx context.Context, courseID string) ([]*model.Lesson, error)
	GetLesson(ctx context.Context, courseID, lessonID string) (*model.LessonWithNeighbors, error)
}

// EnrollmentServiceInterface は受講登録ハンドラーが必要とするサービスインターフェース。
type EnrollmentServiceInterface interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	Enroll(ctx context.Context, userID, courseID string) error
	Unenroll(ctx context.Context, userID, courseID string) error
	ListEnrolledCourses(ctx context.Context, userID string) (*catalog.EnrolledView, error)
	RecordLessonAccess(ctx context.Context, userID, courseID, lessonID string) error
}

// CourseHandler はカタログ閲覧と受講登録のHTTPハンドラー。
type CourseHandler struct {
	catalog    CatalogReader
	enrollment EnrollmentServiceInterface
}

// NewCourseHandler はCourseHandlerを生成する。
func NewCourseHandler(catalog CatalogReader, enrollment EnrollmentServiceInterface) *CourseHandler {
	return &CourseHandler{catalog: catalog, enrollment: enrollment}
}

// courseListResponse はコース一覧のAPIレスポンス。
// 読み取りに失敗してサンプルに置き換えた場合はerrorも含む。
type courseListResponse struct {
	Courses  []model.Course    `json:"courses"`
	Fallback bool              `json:"fallback"`
	Error    *apiErrorResponse `json:"error,omitempty"`
}

type lessonListResponse struct {
	Lessons []*model.Lesson `json:"lessons"`
}

type lessonResponse struct {
	Lesson   *model.Lesson `json:"lesson"`
	Previous *model.Lesson `json:"previous"`
	Next     *model.Lesson `json:"next"`
	Position int           `json:"position"`
	Total    int           `json:"total"`
}

type enrollmentResponse struct {
	CourseID string `json:"courseId"`
	Enrolled bool   `json:"enrolled"`
}

type myCoursesResponse struct {
	EnrolledCourseIDs []string       `json:"enrolledCourseIds"`
	Courses           []model.Course `json:"courses"`
	Fallback          bool           `json:"fallback"`
}

// ListCourses はカタログ一覧を返す。qで名前・説明を絞り込む。
// GET /api/courses
func (h *CourseHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	listing, err := h.catalog.ListCourses(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := courseListResponse{Courses: listing.Courses, Fallback: listing.Fallback}
	if resp.Courses == nil {
		resp.Courses = []model.Course{}
	}
	if listing.Err != nil {
		e := toAPIErrorResponse(listing.Err)
		resp.Error = &e
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCourse はコース詳細を返す。
// GET /api/courses/{id}
func (h *CourseHandler) GetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := h.catalog.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// ListLessons はコースのレッスンを順番どおりに返す。
// GET /api/courses/{id}/lessons
func (h *CourseHandler) ListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.catalog.ListLessons(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if lessons == nil {
		lessons = []*model.Lesson{}
	}
	writeJSON(w, http.StatusOK, lessonListResponse{Lessons: lessons})
}

// GetLesson はレッスンと前後のレッスンを返す。
// GET /api/courses/{id}/lessons/{lessonID}
func (h *CourseHandler) GetLesson(w http.ResponseWriter, r *http.Request) {
	res, err := h.catalog.GetLesson(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lessonID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lessonResponse{
		Lesson:   res.Lesson,
		Previous: res.Previous,
		Next:     res.Next,
		Position: res.Position,
		Total:    res.Total,
	})
}

// GetEnrollment は受講登録状態を返す。
// GET /api/courses/{id}/enrollment
func (h *CourseHandler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	courseID := chi.URLParam(r, "id")

	enrolled, err := h.enrollment.IsEnrolled(r.Context(), userID, courseID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollmentResponse{CourseID: courseID, Enrolled: enrolled})
}

// Enroll はコースに受講登録する。登録済みでも成功する。
// PUT /api/courses/{id}/enrollment
func (h *CourseHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	courseID := chi.URLParam(r, "id")

	if err := h.enrollment.Enroll(r.Context(), userID, courseID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollmentResponse{CourseID: courseID, Enrolled: true})
}

// Unenroll は受講登録を解除する。
// DELETE /api/courses/{id}/enrollment
func (h *CourseHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.enrollment.Unenroll(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordAccess は最後に閲覧したレッスンを記録する。
// POST /api/courses/{id}/lessons/{lessonID}/access
func (h *CourseHandler) RecordAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	err := h.enrollment.RecordLessonAccess(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "lessonID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MyCourses は受講中のコース一覧を返す。
// GET /api/me/courses
func (h *CourseHandler) MyCourses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	view, err := h.enrollment.ListEnrolledCourses(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := myCoursesResponse{
		EnrolledCourseIDs: view.IDs,
		Courses:           view.Courses,
		Fallback:          view.Fallback,
	}
	if resp.EnrolledCourseIDs == nil {
		resp.EnrolledCourseIDs = []string{}
	}
	if resp.Courses == nil {
		resp.Courses = []model.Course{}
	}
	writeJSON(w, http.StatusOK, resp)
}
