package course

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hitoshi/latework/internal/model"
)

// LessonOrder はJSONの数値・数値文字列のどちらでも受け付けるレッスンの順番。
// 解析できない値もそのまま保持し、Intで INVALID_ORDER として報告する。
type LessonOrder struct {
	raw string
}

// NewLessonOrder は文字列からLessonOrderを生成する。フォーム入力用。
func NewLessonOrder(raw string) *LessonOrder {
	return &LessonOrder{raw: raw}
}

// UnmarshalJSON は数値または文字列を受け付ける。型が合わない値もエラーにはしない。
func (o *LessonOrder) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var s string
	if len(b) > 0 && b[0] == '"' && json.Unmarshal(b, &s) == nil {
		o.raw = s
		return nil
	}
	o.raw = string(b)
	return nil
}

// MarshalJSON は解析済みの値を数値として出力する。不正な値は文字列のまま出力する。
func (o LessonOrder) MarshalJSON() ([]byte, error) {
	if n, err := o.Int(); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(o.raw)
}

// Int は1以上の整数として解釈した値を返す。
// 整数でない・1未満の場合は INVALID_ORDER を返す。
func (o LessonOrder) Int() (int, error) {
	s := strings.TrimSpace(o.raw)
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, model.NewInvalidOrderError(o.raw)
		}
		n = int(f)
	}
	if n < 1 {
		return 0, model.NewInvalidOrderError(o.raw)
	}
	return n, nil
}
