package catalog

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSampleCourses_FixedOrderAndTimestamps(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	got := SampleCourses(now)

	assert.Equal(t, ids(got), []string{"1", "2", "3"})
	assert.Equal(t, got[0].Name, "Certified Ethical Hacker (CEH)")
	assert.Equal(t, got[0].Level, "Advanced")
	assert.Equal(t, got[0].CreatedAt, int64(1700000000000))
	assert.Equal(t, got[1].Name, "React Native Development")
	assert.Equal(t, got[1].CreatedAt, int64(1700000000000-86400000))
	assert.Equal(t, got[2].Name, "Firebase for Mobile Apps")
	assert.Equal(t, got[2].Category, "Cloud")
	assert.Equal(t, got[2].CreatedAt, int64(1700000000000-172800000))
}

func TestSampleCourses_ReturnsIndependentCopies(t *testing.T) {
	now := time.Now()
	first := SampleCourses(now)
	first[0].Name = "changed"

	second := SampleCourses(now)

	assert.Equal(t, second[0].Name, "Certified Ethical Hacker (CEH)")
}

func TestIsSampleCourseID(t *testing.T) {
	assert.Equal(t, IsSampleCourseID("2"), true)
	assert.Equal(t, IsSampleCourseID("uuid-like"), false)
}
