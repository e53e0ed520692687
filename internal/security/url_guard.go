package security

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge はレスポンスが上限サイズを超えた場合のエラー。
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// URLGuard は管理者が指定した外部URL（画像・フィード）の取得を安全に行うための
// 検証とHTTPクライアントを提供する。
type URLGuard interface {
	// Validate はDNS解決を伴わない静的なURL検証を行う。
	Validate(rawURL string) error
	// Client はプライベートアドレスへの接続をダイアル時に拒否するHTTPクライアントを返す。
	Client() *http.Client
	// MaxBytes は1レスポンスあたりの読み込み上限。
	MaxBytes() int64
}

// SafeFetcher はsafeurlをベースにしたURLGuardの実装。
type SafeFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewSafeFetcher はSafeFetcherを生成する。
// 許可するのはhttp/httpsの80・443番ポートのみ。
func NewSafeFetcher(timeout time.Duration, maxBytes int64) *SafeFetcher {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return &SafeFetcher{
		client:   safeurl.Client(cfg).Client,
		maxBytes: maxBytes,
	}
}

// Client はSSRF対策済みのHTTPクライアントを返す。
func (f *SafeFetcher) Client() *http.Client {
	return f.client
}

// MaxBytes は読み込み上限サイズを返す。
func (f *SafeFetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Validate はスキーム・ホスト・IPリテラルを検証する。
// DNS再バインディングはClientのダイアル時検証で防ぐ。
func (f *SafeFetcher) Validate(rawURL string) error {
	return ValidateRemoteURL(rawURL)
}

// ValidateRemoteURL はURLが公開されたhttp/httpsのURLかどうかを静的に検証する。
func ValidateRemoteURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil && isPrivateAddress(ip) {
		return fmt.Errorf("blocked IP address: %s", ip)
	}
	return nil
}

// ReadLimited はrから最大maxBytesまで読み込む。超過した場合はErrResponseTooLargeを返す。
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

var privateNetworks = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータサーバーを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateAddress(ip net.IP) bool {
	if ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ URLGuard = (*SafeFetcher)(nil)
