package types

import (
	"errors"
	"testing"
)

func TestDispatchJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"ad-hoc body", `{"projectId":"P1","type":"0","body":{"title":"Hi"}}`, nil},
		{"raw data", `{"projectId":"P1","type":"-1","data":{"k":"v"}}`, nil},
		{"template", `{"projectId":"P1","type":"1","template_id":"t1"}`, ErrTemplateNotImplemented},
		{"missing project", `{"type":"0","body":{"title":"Hi"}}`, ErrInvalidJob},
		{"bad type", `{"projectId":"P1","type":"2","body":{"title":"Hi"}}`, ErrInvalidJob},
		{"none present", `{"projectId":"P1","type":"0"}`, ErrInvalidJob},
		{"body and data", `{"projectId":"P1","type":"0","body":{"title":"Hi"},"data":{}}`, ErrInvalidJob},
		{"variant with body", `{"projectId":"P1","type":"0","body":{"title":"Hi"},"variant":{"a":1}}`, ErrInvalidJob},
		{"type mismatch", `{"projectId":"P1","type":"-1","body":{"title":"Hi"}}`, ErrInvalidJob},
		{"empty title", `{"projectId":"P1","type":"0","body":{"body":"text"}}`, ErrInvalidJob},
		{"null data", `{"projectId":"P1","type":"-1","data":null}`, ErrInvalidJob},
		{"project with separator", `{"projectId":"P1:tmp:9","type":"-1","data":{}}`, ErrInvalidJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := DecodeDispatchJob([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			err = job.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected valid job, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDispatchJobMetadata(t *testing.T) {
	job := &DispatchJob{ProjectID: "P1", Type: NotificationAdHoc, Body: &NotificationBody{Title: "Sale"}}
	md := job.Metadata()
	if md["type"] != "0" || md["title"] != "Sale" {
		t.Errorf("unexpected metadata %v", md)
	}
}
