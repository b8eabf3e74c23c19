// Package api is the Remote API client: a thin, typed Go binding for the
// CodeGrade REST API that the rest of cgfs is built against.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// requestTimeout bounds every single HTTP round trip. The original
// implementation gives each request the same 3-second budget regardless of
// endpoint; we keep that rather than invent per-endpoint timeouts.
const requestTimeout = 3 * time.Second

// APICode mirrors the server's numeric error codes. Only a couple of these
// are special-cased by the VFS adapter's errno mapping; the rest propagate
// as a generic error.
type APICode int

const (
	IncorrectPermission APICode = 0
	NotLoggedIn         APICode = 1
	ObjectIDNotFound    APICode = 2
	ObjectWrongType     APICode = 3
	MissingRequiredParam APICode = 4
	InvalidParam        APICode = 5
	RequestTooLarge     APICode = 6
	LoginFailure        APICode = 7
	InactiveUser        APICode = 8
	InvalidURL          APICode = 9
	ObjectNotFound      APICode = 10
	BlockedAssignment   APICode = 11
	InvalidCredentials  APICode = 12
	InvalidState        APICode = 13
	InvalidOAuthRequest APICode = 14
	DisabledFeature     APICode = 15
)

// Error is returned for any response with a status code >= 400.
type Error struct {
	StatusCode  int
	Code        APICode
	Message     string
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%s) [status %d]", e.Message, e.Description, e.StatusCode)
}

type apiErrorBody struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// Client talks to a CodeGrade-shaped REST API. It is safe for concurrent
// use once logged in.
type Client struct {
	base        string
	owner       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	stats       *Stats
	accessToken string
}

// NewClient constructs a Client for base, which must already be a reachable
// API root (e.g. "https://codegra.de/api/v1"). fixed selects the "owner"
// query parameter every file-scoped request carries: "student" in fixed
// mode, "auto" otherwise.
func NewClient(base string, fixed bool) *Client {
	owner := "auto"
	if fixed {
		owner = "student"
	}
	return &Client{
		base:       strings.TrimRight(base, "/"),
		owner:      owner,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		stats:      NewStats(),
	}
}

// Close releases background resources (the periodic stats logger).
func (c *Client) Close() {
	c.stats.Close()
}

// Login exchanges a username/password for a bearer token. Every subsequent
// call on this client uses the resulting token.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	var result struct {
		User          User   `json:"user"`
		AccessToken   string `json:"access_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, c.base+"/login", body, &result); err != nil {
		return User{}, err
	}
	c.accessToken = result.AccessToken
	return result.User, nil
}

func (c *Client) GetCourses(ctx context.Context) ([]Course, error) {
	var result struct {
		Courses []Course `json:"courses"`
	}
	url := c.base + "/courses/?extended=true"
	// The endpoint returns a bare JSON array of courses, and only that shape
	// is decoded: a wrapped {"courses": [...]} body fails to decode, and
	// result.Courses is never filled, so an empty array yields nil.
	var list []Course
	if err := c.doRaw(ctx, "get_courses", http.MethodGet, url, nil, &list); err != nil {
		return nil, err
	}
	if len(list) > 0 {
		return list, nil
	}
	return result.Courses, nil
}

func (c *Client) GetSubmissions(ctx context.Context, assignmentID int) ([]Submission, error) {
	var subs []Submission
	url := fmt.Sprintf("%s/assignments/%d/submissions/", c.base, assignmentID)
	if err := c.doRaw(ctx, "get_submissions", http.MethodGet, url, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *Client) GetSubmissionFiles(ctx context.Context, submissionID int) (FileTreeEntry, error) {
	var tree FileTreeEntry
	url := fmt.Sprintf("%s/submissions/%d/files/?owner=%s", c.base, submissionID, c.owner)
	if err := c.doRaw(ctx, "get_files", http.MethodGet, url, nil, &tree); err != nil {
		return FileTreeEntry{}, err
	}
	return tree, nil
}

func (c *Client) GetFileMeta(ctx context.Context, submissionID int, path string) (FileTreeEntry, error) {
	var entry FileTreeEntry
	url := fmt.Sprintf("%s/submissions/%d/files/?path=%s&owner=%s",
		c.base, submissionID, url.QueryEscape(path), c.owner)
	if err := c.doRaw(ctx, "get_file_meta", http.MethodGet, url, nil, &entry); err != nil {
		return FileTreeEntry{}, err
	}
	return entry, nil
}

func (c *Client) CreateFile(ctx context.Context, submissionID int, path string, data []byte) (FileTreeEntry, error) {
	var entry FileTreeEntry
	u := fmt.Sprintf("%s/submissions/%d/files/?path=%s&owner=%s",
		c.base, submissionID, url.QueryEscape(path), c.owner)
	if err := c.doBytes(ctx, "create_file", http.MethodPost, u, data, &entry); err != nil {
		return FileTreeEntry{}, err
	}
	return entry, nil
}

func (c *Client) RenameFile(ctx context.Context, fileID int, newPath string) (FileTreeEntry, error) {
	var entry FileTreeEntry
	u := fmt.Sprintf("%s/code/%d?operation=rename&new_path=%s",
		c.base, fileID, url.QueryEscape(newPath))
	if err := c.do(ctx, "rename_file", http.MethodPatch, u, nil, &entry); err != nil {
		return FileTreeEntry{}, err
	}
	return entry, nil
}

func (c *Client) GetFile(ctx context.Context, fileID int) ([]byte, error) {
	u := fmt.Sprintf("%s/code/%d", c.base, fileID)
	return c.getBytes(ctx, "get_file_buf", u)
}

func (c *Client) PatchFile(ctx context.Context, fileID int, data []byte) (FileTreeEntry, error) {
	var entry FileTreeEntry
	u := fmt.Sprintf("%s/code/%d", c.base, fileID)
	if err := c.doBytes(ctx, "patch_file", http.MethodPatch, u, data, &entry); err != nil {
		return FileTreeEntry{}, err
	}
	return entry, nil
}

func (c *Client) DeleteFile(ctx context.Context, fileID int) error {
	u := fmt.Sprintf("%s/code/%d", c.base, fileID)
	return c.do(ctx, "delete_file", http.MethodDelete, u, nil, nil)
}

// GetAssignmentRubric returns an empty rubric rather than an error when the
// assignment has none defined, matching the 404-to-empty special case.
func (c *Client) GetAssignmentRubric(ctx context.Context, assignmentID int) ([]RubricRow, error) {
	var rows []RubricRow
	u := fmt.Sprintf("%s/assignments/%d/rubrics/", c.base, assignmentID)
	status, err := c.doStatus(ctx, "get_assignment_rubric", http.MethodGet, u, nil, &rows)
	if status == http.StatusNotFound {
		return nil, nil
	}
	return rows, err
}

func (c *Client) SetAssignmentRubric(ctx context.Context, assignmentID int, rows []RubricRow) error {
	u := fmt.Sprintf("%s/assignments/%d/rubrics/", c.base, assignmentID)
	return c.do(ctx, "set_assignment_rubric", http.MethodPut, u, rows, nil)
}

// GetSubmissionRubric returns an empty SubmissionRubric, not an error, when
// the submission's assignment has no rubric.
func (c *Client) GetSubmissionRubric(ctx context.Context, submissionID int) (SubmissionRubric, error) {
	var rub SubmissionRubric
	u := fmt.Sprintf("%s/submissions/%d/rubrics/", c.base, submissionID)
	status, err := c.doStatus(ctx, "get_submission_rubric", http.MethodGet, u, nil, &rub)
	if status == http.StatusNotFound {
		return SubmissionRubric{}, nil
	}
	return rub, err
}

func (c *Client) SelectRubricItems(ctx context.Context, submissionID int, items []int) error {
	u := fmt.Sprintf("%s/submissions/%d/rubricitems/", c.base, submissionID)
	return c.do(ctx, "select_rubricitems", http.MethodPatch, u, map[string]any{"items": items}, nil)
}

func (c *Client) GetAssignmentFeedback(ctx context.Context, assignmentID int) (AssignmentFeedback, error) {
	var fb AssignmentFeedback
	u := fmt.Sprintf("%s/assignments/%d/feedbacks/", c.base, assignmentID)
	if err := c.do(ctx, "get_feedbacks", http.MethodGet, u, nil, &fb); err != nil {
		return AssignmentFeedback{}, err
	}
	return fb, nil
}

func (c *Client) GetFileFeedback(ctx context.Context, fileID int) (FileFeedback, error) {
	var fb FileFeedback
	u := fmt.Sprintf("%s/code/%d?type=feedback", c.base, fileID)
	if err := c.do(ctx, "get_feedback", http.MethodGet, u, nil, &fb); err != nil {
		return FileFeedback{}, err
	}
	return fb, nil
}

func (c *Client) AddFeedback(ctx context.Context, fileID, line int, message string) error {
	u := fmt.Sprintf("%s/code/%d/comments/%d", c.base, fileID, line)
	return c.do(ctx, "add_feedback", http.MethodPut, u, map[string]string{"comment": message}, nil)
}

func (c *Client) DeleteFeedback(ctx context.Context, fileID, line int) error {
	u := fmt.Sprintf("%s/code/%d/comments/%d", c.base, fileID, line)
	return c.do(ctx, "delete_feedback", http.MethodDelete, u, nil, nil)
}

func (c *Client) GetAssignment(ctx context.Context, assignmentID int) (Assignment, error) {
	var a Assignment
	u := fmt.Sprintf("%s/assignments/%d", c.base, assignmentID)
	if err := c.do(ctx, "get_assignment", http.MethodGet, u, nil, &a); err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (c *Client) SetAssignment(ctx context.Context, assignmentID int, settings AssignmentSettings) error {
	u := fmt.Sprintf("%s/assignments/%d", c.base, assignmentID)
	body := map[string]string{
		"name":     settings.Name,
		"state":    settings.State,
		"deadline": settings.Deadline,
	}
	return c.do(ctx, "set_assignment", http.MethodPatch, u, body, nil)
}

func (c *Client) GetSubmission(ctx context.Context, submissionID int) (Submission, error) {
	var s Submission
	u := fmt.Sprintf("%s/submissions/%d", c.base, submissionID)
	if err := c.do(ctx, "get_submission", http.MethodGet, u, nil, &s); err != nil {
		return Submission{}, err
	}
	return s, nil
}

// SetSubmission updates grade and/or feedback. Pass grade == nil to leave
// the grade untouched, or a pointer to NaN-free float to set it. Clearing
// the grade is not possible through SetSubmission; DeleteGrade does that.
func (c *Client) SetSubmission(ctx context.Context, submissionID int, grade *float64, feedback *string) error {
	u := fmt.Sprintf("%s/submissions/%d", c.base, submissionID)
	body := map[string]any{}
	if grade != nil {
		body["grade"] = *grade
	}
	if feedback != nil {
		body["feedback"] = *feedback
	}
	return c.do(ctx, "set_submission", http.MethodPatch, u, body, nil)
}

// DeleteGrade clears a submission's grade.
func (c *Client) DeleteGrade(ctx context.Context, submissionID int) error {
	u := fmt.Sprintf("%s/submissions/%d", c.base, submissionID)
	return c.do(ctx, "delete_grade", http.MethodPatch, u, map[string]any{"grade": nil}, nil)
}

// --- transport plumbing ---

func (c *Client) do(ctx context.Context, op, method, u string, body, out any) error {
	_, err := c.doStatus(ctx, op, method, u, body, out)
	return err
}

func (c *Client) doRaw(ctx context.Context, op, method, u string, body, out any) error {
	return c.do(ctx, op, method, u, body, out)
}

func (c *Client) doBytes(ctx context.Context, op, method, u string, data []byte, out any) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	status, err := c.send(req, out)
	c.stats.Record(op, time.Since(start), err)
	_ = status
	return err
}

func (c *Client) getBytes(ctx context.Context, op, u string) ([]byte, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	c.stats.Record(op, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) doStatus(ctx context.Context, op, method, u string, body, out any) (int, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encoding request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req)

	status, sendErr := c.send(req, out)
	c.stats.Record(op, time.Since(start), sendErr)
	return status, sendErr
}

func (c *Client) setHeaders(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
}

func (c *Client) send(req *http.Request, out any) (int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, decodeError(resp.StatusCode, data)
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeError(status int, data []byte) error {
	var body apiErrorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return &Error{StatusCode: status, Message: strings.TrimSpace(string(data))}
	}
	code, _ := strconv.Atoi(body.Code)
	return &Error{
		StatusCode:  status,
		Code:        APICode(code),
		Message:     body.Message,
		Description: body.Description,
	}
}
