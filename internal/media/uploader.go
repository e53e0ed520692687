package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/security"
)

const keyPrefix = "courses/"

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Uploader はコース画像を courses/<ULID>.<拡張子> に保存し、公開URLを返す。
type Uploader struct {
	store    ObjectWriter
	urls     PublicURLs
	maxBytes int64
	logger   *zap.Logger
	newKey   func() string
}

// NewUploader はUploaderを生成する。
func NewUploader(store ObjectWriter, urls PublicURLs, maxBytes int64, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		store:    store,
		urls:     urls,
		maxBytes: maxBytes,
		logger:   logger,
		newKey:   func() string { return ulid.Make().String() },
	}
}

// UploadCourseImage は画像を保存して公開URLを返す。
// 形式は先頭バイトから判定し、申告されたContent-Typeと食い違う場合は判定結果を使う。
func (u *Uploader) UploadCourseImage(ctx context.Context, r io.Reader, declaredType string) (string, error) {
	data, err := security.ReadLimited(r, u.maxBytes)
	if errors.Is(err, security.ErrResponseTooLarge) {
		return "", model.NewValidationError("image", "画像サイズが上限を超えています")
	}
	if err != nil {
		return "", model.NewUploadFailedError()
	}
	if len(data) == 0 {
		return "", model.NewValidationError("image", "画像が空です")
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		u.logger.Warn("unsupported image type",
			zap.String("declared", declaredType),
			zap.String("detected", contentType),
		)
		return "", model.NewValidationError("image", "JPEG・PNG・GIF・WebP形式の画像を指定してください")
	}

	key := keyPrefix + strings.ToLower(u.newKey()) + ext
	if err := u.store.Write(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		u.logger.Error("failed to upload course image", zap.String("key", key), zap.Error(err))
		return "", model.NewUploadFailedError()
	}

	u.logger.Info("course image uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return u.urls.URL(key), nil
}
