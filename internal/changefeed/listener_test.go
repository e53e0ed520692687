package changefeed

import "testing"

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
		wantErr bool
	}{
		{
			name:    "lesson with parent",
			payload: `{"collection":"lessons","document_id":"l1","parent_id":"c1","op":"insert"}`,
			want:    Event{Collection: CollectionLessons, DocumentID: "l1", ParentID: "c1", Op: OpInsert},
		},
		{
			name:    "null parent",
			payload: `{"collection":"courses","document_id":"c1","parent_id":null,"op":"delete"}`,
			want:    Event{Collection: CollectionCourses, DocumentID: "c1", Op: OpDelete},
		},
		{
			name:    "broken json",
			payload: `{"collection":`,
			wantErr: true,
		},
		{
			name:    "missing op",
			payload: `{"collection":"courses","document_id":"c1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewPostgresListener_Initializes(t *testing.T) {
	l := NewPostgresListener("postgres://localhost/latework", NewHub(nil), nil)
	if l == nil {
		t.Fatal("expected non-nil listener")
	}
}
