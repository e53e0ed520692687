package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateRemoteURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https公開URL", "https://example.com/feed.xml", false},
		{"http公開URL", "http://blog.example.com/", false},
		{"公開IP", "https://93.184.216.34/a.png", false},
		{"空文字", "", true},
		{"空白のみ", "   ", true},
		{"ftpスキーム", "ftp://example.com/a.png", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"ホストなし", "https:///path", true},
		{"localhost", "http://localhost:8080/", true},
		{"localhostサブドメイン", "http://api.localhost/", true},
		{"ループバック", "http://127.0.0.1/", true},
		{"プライベート10", "http://10.1.2.3/", true},
		{"プライベート172", "http://172.20.0.1/", true},
		{"プライベート192", "http://192.168.0.10/", true},
		{"メタデータ", "http://169.254.169.254/latest/meta-data/", true},
		{"ゼロアドレス", "http://0.0.0.0/", true},
		{"IPv6ループバック", "http://[::1]/", true},
		{"IPv6ユニークローカル", "http://[fd00::1]/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRemoteURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRemoteURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestSafeFetcher_ClientSettings(t *testing.T) {
	f := NewSafeFetcher(5*time.Second, 1024)

	if f.Client() == nil {
		t.Fatal("Client() returned nil")
	}
	if f.Client().Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", f.Client().Timeout)
	}
	if f.Client().Transport == nil || f.Client().Transport == http.DefaultTransport {
		t.Error("expected a guarded transport")
	}
	if f.MaxBytes() != 1024 {
		t.Errorf("MaxBytes() = %d, want 1024", f.MaxBytes())
	}
}

// httptestサーバーはループバックで待ち受けるため、ダイアル時に拒否される。
func TestSafeFetcher_BlocksLoopbackAtDial(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	f := NewSafeFetcher(2*time.Second, 1024)
	resp, err := f.Client().Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback request to be blocked")
	}
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("12345"), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "12345" {
		t.Errorf("data = %q", data)
	}

	_, err = ReadLimited(strings.NewReader("123456"), 5)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Errorf("err = %v, want ErrResponseTooLarge", err)
	}
}
