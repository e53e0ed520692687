package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/latework/internal/course"
	"github.com/hitoshi/latework/internal/model"
)

// multipartMemory はマルチパート解析時にメモリへ保持する上限。超えた分は一時ファイルに置かれる。
const multipartMemory = 8 << 20

// CourseAdminInterface は管理者用ハンドラーが必要とするコース管理インターフェース。
type CourseAdminInterface interface {
	CreateCourse(ctx context.Context, in course.CourseInput) (*model.Course, error)
	UpdateCourse(ctx context.Context, courseID string, patch model.CoursePatch) (*model.Course, error)
	DeleteCourse(ctx context.Context, courseID string) error
	CreateLesson(ctx context.Context, courseID string, in course.LessonInput) (*model.Lesson, error)
	UpdateLesson(ctx context.Context, courseID, lessonID string, in course.LessonUpdate) (*model.Lesson, error)
	DeleteLesson(ctx context.Context, courseID, lessonID string) error
	ImportLessonsFromFeed(ctx context.Context, courseID, feedURL string) ([]*model.Lesson, error)
}

// ImageServiceInterface はコース画像の保存インターフェース。
type ImageServiceInterface interface {
	UploadCourseImage(ctx context.Context, r io.Reader, declaredType string) (string, error)
	ImportRemoteImage(ctx context.Context, rawURL string) (string, error)
}

// AdminHandler は管理者用のHTTPハンドラー。
type AdminHandler struct {
	courses CourseAdminInterface
	images  ImageServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。imagesがnilの場合は画像APIを提供しない。
func NewAdminHandler(courses CourseAdminInterface, images ImageServiceInterface) *AdminHandler {
	return &AdminHandler{courses: courses, images: images}
}

type feedImportRequest struct {
	URL string `json:"url"`
}

type imageImportRequest struct {
	URL string `json:"url"`
}

type imageResponse struct {
	URL string `json:"url"`
}

// CreateCourse はコースを作成する。
// POST /api/admin/courses
func (h *AdminHandler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req course.CourseInput
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.courses.CreateCourse(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateCourse はコースをマージ更新する。
// PATCH /api/admin/courses/{id}
func (h *AdminHandler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	var req model.CoursePatch
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.courses.UpdateCourse(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCourse はコースとそのレッスンを削除する。
// DELETE /api/admin/courses/{id}
func (h *AdminHandler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	if err := h.courses.DeleteCourse(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateLesson はレッスンを作成する。
// POST /api/admin/courses/{id}/lessons
func (h *AdminHandler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var req course.LessonInput
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.courses.CreateLesson(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateLesson はレッスンをマージ更新する。
// PATCH /api/admin/courses/{id}/lessons/{lessonID}
func (h *AdminHandler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	var req course.LessonUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.courses.UpdateLesson(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lessonID"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteLesson はレッスンを削除する。
// DELETE /api/admin/courses/{id}/lessons/{lessonID}
func (h *AdminHandler) DeleteLesson(w http.ResponseWriter, r *http.Request) {
	if err := h.courses.DeleteLesson(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "lessonID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportLessons はフィードのエントリをレッスンとして取り込む。
// POST /api/admin/courses/{id}/lessons/import
func (h *AdminHandler) ImportLessons(w http.ResponseWriter, r *http.Request) {
	var req feedImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	lessons, err := h.courses.ImportLessonsFromFeed(r.Context(), chi.URLParam(r, "id"), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if lessons == nil {
		lessons = []*model.Lesson{}
	}
	writeJSON(w, http.StatusCreated, lessonListResponse{Lessons: lessons})
}

// UploadImage はマルチパートのfileフィールドで受け取った画像を保存する。
// POST /api/admin/images
func (h *AdminHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("file", "画像ファイルを指定してください"))
		return
	}
	defer file.Close()

	url, err := h.images.UploadCourseImage(r.Context(), file, header.Header.Get("Content-Type"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{URL: url})
}

// ImportImage は外部URLの画像を取得して保存する。
// POST /api/admin/images/import
func (h *AdminHandler) ImportImage(w http.ResponseWriter, r *http.Request) {
	var req imageImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	url, err := h.images.ImportRemoteImage(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, imageResponse{URL: url})
}
