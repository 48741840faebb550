package async

import (
	"encoding/json"
	"testing"
)

// createTestJob is a shared helper for all tests to create jobs with generic payloads
func createTestJob(t *testing.T, handlerName, source string) *Job {
	t.Helper()

	payload, err := json.Marshal(map[string]interface{}{
		"file_reference": source,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job, err := NewJobWithPayload(handlerName, source, payload, -1)
	if err != nil {
		t.Fatalf("NewJobWithPayload: %v", err)
	}
	return job
}
