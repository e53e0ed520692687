package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hitoshi/latework/internal/model"
	"github.com/hitoshi/latework/internal/security"
)

// Importer は外部URLの画像を取得し、Uploaderで自前のストアに保存し直す。
type Importer struct {
	guard    security.URLGuard
	uploader *Uploader
	logger   *zap.Logger
}

// NewImporter はImporterを生成する。
func NewImporter(guard security.URLGuard, uploader *Uploader, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{guard: guard, uploader: uploader, logger: logger}
}

// ImportRemoteImage は画像URLを取得して保存し、保存先の公開URLを返す。
func (im *Importer) ImportRemoteImage(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}
	if err := im.guard.Validate(rawURL); err != nil {
		im.logger.Warn("blocked image import url", zap.String("url", rawURL), zap.Error(err))
		return "", model.NewSSRFBlockedError()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("Accept", "image/*")

	resp, err := im.guard.Client().Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	return im.uploader.UploadCourseImage(ctx, resp.Body, resp.Header.Get("Content-Type"))
}
