package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "student1" {
			t.Fatalf("unexpected username %q", body["username"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user":         map[string]any{"id": 1, "name": "Student One", "username": "student1"},
			"access_token": "tok-123",
		})
	})

	client := NewClient(srv.URL, false)
	defer client.Close()

	user, err := client.Login(context.Background(), "student1", "hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.Username != "student1" {
		t.Errorf("expected username student1, got %q", user.Username)
	}
	if client.accessToken != "tok-123" {
		t.Errorf("expected access token to be stored")
	}
}

func TestGetCoursesError(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"message":     "no permission",
			"description": "you may not view these courses",
			"code":        "0",
		})
	})

	client := NewClient(srv.URL, false)
	defer client.Close()

	_, err := client.GetCourses(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if apiErr.Code != IncorrectPermission {
		t.Errorf("expected IncorrectPermission, got %v", apiErr.Code)
	}
}

func TestGetAssignmentRubricNotFoundIsEmpty(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client := NewClient(srv.URL, false)
	defer client.Close()

	rows, err := client.GetAssignmentRubric(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if rows != nil {
		t.Errorf("expected nil rows, got %v", rows)
	}
}

func TestGetSubmissionRubricNotFoundIsEmpty(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	client := NewClient(srv.URL, false)
	defer client.Close()

	rub, err := client.GetSubmissionRubric(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if len(rub.Rubrics) != 0 || len(rub.Selected) != 0 {
		t.Errorf("expected empty rubric, got %+v", rub)
	}
}

func TestCreateFileOwnerQueryParam(t *testing.T) {
	t.Parallel()
	var gotOwner, gotPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotOwner = r.URL.Query().Get("owner")
		gotPath = r.URL.Query().Get("path")
		json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "name": "a b.py"})
	})

	client := NewClient(srv.URL, true)
	defer client.Close()

	entry, err := client.CreateFile(context.Background(), 7, "dir/a b.py", []byte("x = 1\n"))
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if gotOwner != "student" {
		t.Errorf("expected owner=student in fixed mode, got %q", gotOwner)
	}
	if gotPath != "dir/a b.py" {
		t.Errorf("expected decoded path round-trip, got %q", gotPath)
	}
	if entry.ID != "file-1" {
		t.Errorf("expected file-1, got %q", entry.ID)
	}
}

func TestRenameFileEncodesNewPath(t *testing.T) {
	t.Parallel()
	var gotQuery, gotNewPath string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotNewPath = r.URL.Query().Get("new_path")
		json.NewEncoder(w).Encode(map[string]any{"id": "file-1", "name": "new name.py"})
	})

	client := NewClient(srv.URL, false)
	defer client.Close()

	if _, err := client.RenameFile(context.Background(), 1, "new name.py"); err != nil {
		t.Fatalf("RenameFile failed: %v", err)
	}
	if gotQuery == "" {
		t.Fatal("expected query string on rename request")
	}
	if gotNewPath != "new name.py" {
		t.Errorf("expected encoded new_path to decode to %q, got %q", "new name.py", gotNewPath)
	}
}
