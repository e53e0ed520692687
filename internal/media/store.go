// Package media はコース画像の保存先（Blob Store）への書き込みと公開URLの解決を提供する。
package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectWriter はオブジェクトの書き込み先。
type ObjectWriter interface {
	Write(ctx context.Context, key, contentType string, r io.Reader) error
}

// GCSStore はGoogle Cloud Storageのバケットに書き込むObjectWriter。
type GCSStore struct {
	client *storage.Client
	bucket string
}

// GCSOptions はGCSクライアントの接続設定。
type GCSOptions struct {
	Bucket          string
	CredentialsFile string
	// EmulatorHost が設定されている場合は認証なしでエミュレーターに接続する。
	EmulatorHost string
}

// NewGCSStore はGCSStoreを生成する。
func NewGCSStore(ctx context.Context, opts GCSOptions) (*GCSStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket is not configured")
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.EmulatorHost != "":
		endpoint := strings.TrimRight(opts.EmulatorHost, "/") + "/storage/v1/"
		clientOpts = append(clientOpts, option.WithoutAuthentication(), option.WithEndpoint(endpoint))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, option.WithScopes(storage.ScopeReadWrite))

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: opts.Bucket}, nil
}

// Write はオブジェクトを書き込む。1回の書き込みは2分で打ち切る。
func (s *GCSStore) Write(ctx context.Context, key, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// 書き込み用のコンテキストを別に持ち、途中で失敗したらCloseせずに取り消す。
	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(writeCtx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	return commitObject(key, w, abort, r)
}

// commitObject はrの内容をwへ書き込み、すべて書けた場合だけCloseで確定する。
// コピーに失敗した場合はabortを呼んでアップロードを破棄し、部分的なオブジェクトを残さない。
func commitObject(key string, w io.WriteCloser, abort context.CancelFunc, r io.Reader) error {
	if _, err := io.Copy(w, r); err != nil {
		abort()
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close object writer %s: %w", key, err)
	}
	return nil
}

// Close はクライアントを閉じる。
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// PublicURLs はオブジェクトキーから公開URLを組み立てる。
// 優先順位: CDNドメイン > エミュレーター > storage.googleapis.com
type PublicURLs struct {
	Bucket       string
	CDNDomain    string
	EmulatorHost string
}

// URL はキーに対応する公開URLを返す。
func (p PublicURLs) URL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	switch {
	case p.CDNDomain != "":
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(p.CDNDomain, "/"), key)
	case p.EmulatorHost != "":
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.EmulatorHost, "/"), p.Bucket, key)
	default:
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.Bucket, key)
	}
}

// compile-time interface check
var _ ObjectWriter = (*GCSStore)(nil)
