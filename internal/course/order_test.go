package course

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hitoshi/latework/internal/model"
)

func TestLessonOrder_Int(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    int
		wantErr bool
	}{
		{"数値", `3`, 3, false},
		{"数値文字列", `"7"`, 7, false},
		{"前後に空白のある文字列", `" 2 "`, 2, false},
		{"整数値の小数", `4.0`, 4, false},
		{"小数", `1.5`, 0, true},
		{"ゼロ", `0`, 0, true},
		{"負数", `"-1"`, 0, true},
		{"数値でない文字列", `"first"`, 0, true},
		{"空文字列", `""`, 0, true},
		{"真偽値", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in struct {
				Order *LessonOrder `json:"order"`
			}
			if err := json.Unmarshal([]byte(`{"order":`+tt.json+`}`), &in); err != nil {
				t.Fatalf("Unmarshal should accept any JSON value, got %v", err)
			}
			if in.Order == nil {
				t.Fatal("Order should be set")
			}

			got, err := in.Order.Int()
			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidOrder {
					t.Errorf("Int() error = %v, want INVALID_ORDER", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Int() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Int() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLessonOrder_NullIsOmitted(t *testing.T) {
	var in struct {
		Order *LessonOrder `json:"order"`
	}
	if err := json.Unmarshal([]byte(`{"order":null}`), &in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Order != nil {
		t.Errorf("null order should be treated as omitted")
	}
}

func TestLessonOrder_Marshal(t *testing.T) {
	b, err := json.Marshal(NewLessonOrder("5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "5" {
		t.Errorf("Marshal = %s, want 5", b)
	}
}
