// Package security はパスワード・セッショントークン・HTML・外部URLに関する
// セキュリティ機能を提供する。
package security

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var httpsOnly = regexp.MustCompile(`^https://`)

// HTMLSanitizer はレッスン説明文のHTMLを保存前に無害化する。
type HTMLSanitizer interface {
	// Sanitize は許可リストに含まれるタグのみを残したHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// LessonSanitizer はレッスン説明文向けのbluemondayポリシーを保持する。
// ポリシーは生成後に変更しないため、複数goroutineから共有してよい。
type LessonSanitizer struct {
	policy *bluemonday.Policy
}

// NewLessonSanitizer はLessonSanitizerを生成する。
//
// 許可するもの:
//   - 段落・改行・見出し(h3, h4)・リスト・強調・コード
//   - aタグ（絶対URLのhttp/httpsのみ、target="_blank"とrel="noopener noreferrer"を付与）
//   - imgタグ（httpsのsrcとaltのみ）
func NewLessonSanitizer() *LessonSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "h3", "h4",
		"ul", "ol", "li",
		"strong", "em", "code", "pre",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsOnly).OnElements("img")

	return &LessonSanitizer{policy: p}
}

// Sanitize はHTMLを無害化する。前後の空白は取り除く。
func (s *LessonSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// compile-time interface check
var _ HTMLSanitizer = (*LessonSanitizer)(nil)
