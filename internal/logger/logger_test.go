package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}
	return entry
}

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", zap.String("key", "value"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_IncludesTimeField(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf).Info("test")

	entry := decodeEntry(t, &buf)
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf).Warn("warning test")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_DebugIsSuppressed(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf).Debug("noise")

	if buf.Len() != 0 {
		t.Errorf("expected no output for debug level, got %s", buf.String())
	}
}

func TestSetup_MultipleFields(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("snapshot published",
		zap.String("user_id", "u-123"),
		zap.String("course_id", "c-456"),
		zap.Int("course_count", 3),
		zap.Bool("fallback", true),
	)

	entry := decodeEntry(t, &buf)
	if entry["user_id"] != "u-123" {
		t.Errorf("user_id = %q, want %q", entry["user_id"], "u-123")
	}
	if entry["course_id"] != "c-456" {
		t.Errorf("course_id = %q, want %q", entry["course_id"], "c-456")
	}
	if entry["course_count"] != float64(3) {
		t.Errorf("course_count = %v, want %v", entry["course_count"], 3)
	}
	if entry["fallback"] != true {
		t.Errorf("fallback = %v, want true", entry["fallback"])
	}
}

func TestSetup_RedactsSecretFields(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("password reset requested",
		zap.String("reset_token", "abcdef"),
		zap.String("Password", "hunter2"),
		zap.String("email_domain", "example.com"),
	)

	entry := decodeEntry(t, &buf)
	if entry["reset_token"] != redactedValue {
		t.Errorf("reset_token = %v, want %q", entry["reset_token"], redactedValue)
	}
	if entry["Password"] != redactedValue {
		t.Errorf("Password = %v, want %q", entry["Password"], redactedValue)
	}
	if entry["email_domain"] != "example.com" {
		t.Errorf("email_domain = %v, want %q", entry["email_domain"], "example.com")
	}
}

func TestSetup_RedactsFieldsAddedWithWith(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf).With(zap.String("jwt_secret", "s3cr3t"))

	l.Info("with test")

	entry := decodeEntry(t, &buf)
	if entry["jwt_secret"] != redactedValue {
		t.Errorf("jwt_secret = %v, want %q", entry["jwt_secret"], redactedValue)
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	zap.L().Info("global test", zap.String("test_key", "test_val"))

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}
