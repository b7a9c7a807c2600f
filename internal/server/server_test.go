package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/chunk"
	"github.com/filedepot/filedepot/internal/storage"
	"github.com/filedepot/filedepot/internal/transfer"
	"github.com/filedepot/filedepot/pkg/proto"
	"github.com/filedepot/filedepot/testutil"
)

func newTestServer(t *testing.T) (*Server, *auth.Manager) {
	t.Helper()
	store := storage.NewMemoryStore()
	chunks, err := chunk.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	sessions := auth.NewManager(store, time.Hour, 1)
	svc := transfer.New(store, chunks, sessions)
	return New(svc, sessions), sessions
}

// do runs one request through the server and returns the recorder.
func do(t *testing.T, srv *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func registerAndLogin(t *testing.T, srv *Server, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(proto.RegisterRequest{Username: username, Password: password})
	w := do(t, srv, http.MethodPost, "/api/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body, _ = json.Marshal(proto.LoginRequest{Username: username, Password: password})
	w = do(t, srv, http.MethodPost, "/api/login", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func loginMaster(t *testing.T, srv *Server, sessions *auth.Manager) string {
	t.Helper()

	_, err := sessions.Bootstrap(context.Background(), "master", "masterpass1", 100)
	require.NoError(t, err)

	body, _ := json.Marshal(proto.LoginRequest{Username: "master", Password: "masterpass1"})
	w := do(t, srv, http.MethodPost, "/api/login", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func initUpload(t *testing.T, srv *Server, token string, req proto.InitUploadRequest) *storage.File {
	t.Helper()

	body, _ := json.Marshal(req)
	w := do(t, srv, http.MethodPost, "/api/files", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var f storage.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &f))
	require.NotEmpty(t, f.ID)
	return &f
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Register(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(proto.RegisterRequest{Username: "alice", Password: "password123"})
	w := do(t, srv, http.MethodPost, "/api/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var u storage.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, storage.RoleClient, u.Role)
	assert.Equal(t, 1, u.GBAllocation)
	assert.NotContains(t, w.Body.String(), "password_hash")

	// Same username again
	w = do(t, srv, http.MethodPost, "/api/register", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_Register_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"username": `},
		{"missing password", `{"username":"alice"}`},
		{"short password", `{"username":"alice","password":"short"}`},
		{"short username", `{"username":"al","password":"password123"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/register", "", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestServer_Login_WrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	registerAndLogin(t, srv, "alice", "password123")

	body, _ := json.Marshal(proto.LoginRequest{Username: "alice", Password: "wrong-password"})
	w := do(t, srv, http.MethodPost, "/api/login", "", body)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_Logout(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	w := do(t, srv, http.MethodPost, "/api/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The token is dead now
	w = do(t, srv, http.MethodGet, "/api/me/storage", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_UploadDownloadFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	payloads := testutil.Chunks(3, 4)
	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename:    "report.pdf",
		MimeType:    "application/pdf",
		TotalSize:   12,
		TotalChunks: 3,
	})

	// Reservation is visible before any chunk arrives
	w := do(t, srv, http.MethodGet, "/api/me/storage", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats transfer.StorageStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(12), stats.ReservedBytes)
	assert.Zero(t, stats.UsedBytes)

	// Chunks land out of order
	for n, index := range []int{2, 0, 1} {
		path := fmt.Sprintf("/api/files/%s/chunks/%d", f.ID, index)
		w = do(t, srv, http.MethodPut, path, token, payloads[index])
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp proto.ChunkResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, n+1, resp.ChunksPresent)
	}

	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/finalize", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Metadata reflects the finalized state
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/meta", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var meta storage.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, storage.FileComplete, meta.Status)

	// Whole-file download
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "report.pdf")
	assert.Equal(t, testutil.Join(payloads), w.Body.Bytes())

	// The reservation became usage
	w = do(t, srv, http.MethodGet, "/api/me/storage", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(12), stats.UsedBytes)
	assert.Zero(t, stats.ReservedBytes)

	// Delete releases everything
	w = do(t, srv, http.MethodDelete, "/api/files/"+f.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/api/me/storage", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Zero(t, stats.UsedBytes)
}

func TestServer_ListFiles(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	initUpload(t, srv, token, proto.InitUploadRequest{Filename: "a.bin", TotalSize: 1, TotalChunks: 1})
	initUpload(t, srv, token, proto.InitUploadRequest{Filename: "b.bin", TotalSize: 1, TotalChunks: 1})

	w := do(t, srv, http.MethodGet, "/api/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []*storage.File `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Files, 2)
}

func TestServer_InitUpload_QuotaExceeded(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	// Registration grants 1 GiB
	body, _ := json.Marshal(proto.InitUploadRequest{
		Filename: "huge.bin", TotalSize: 2 * storage.GiB, TotalChunks: 1,
	})
	w := do(t, srv, http.MethodPost, "/api/files", token, body)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "quota")
}

func TestServer_InitUpload_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	// Passes DTO validation, rejected by the core rule
	body, _ := json.Marshal(proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 10, TotalChunks: 0,
	})
	w := do(t, srv, http.MethodPost, "/api/files", token, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Fails DTO validation outright
	w = do(t, srv, http.MethodPost, "/api/files", token, []byte(`{"filename":""}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_UploadChunk_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 4, TotalChunks: 2,
	})

	// Anonymous caller
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", "", []byte("xx"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Another client
	intruder := registerAndLogin(t, srv, "mallory", "password123")
	w = do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", intruder, []byte("xx"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Index outside the declared range
	w = do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/2", token, []byte("xx"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unparseable index
	w = do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/abc", token, []byte("xx"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown file
	w = do(t, srv, http.MethodPut, "/api/files/nope/chunks/0", token, []byte("xx"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Finalize_MissingChunk(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 4, TotalChunks: 2,
	})
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", token, []byte("ab"))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/finalize", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "missing")
}

func TestServer_Download_Authorization(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 2, TotalChunks: 1,
	})
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", token, []byte("ab"))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/finalize", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// No session, no share token
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Another client
	intruder := registerAndLogin(t, srv, "mallory", "password123")
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID, intruder, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Owner
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ShareFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "shared.txt", MimeType: "text/plain", TotalSize: 5, TotalChunks: 1,
	})
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", token, []byte("hello"))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/finalize", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Anonymous callers cannot share
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/share", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/share", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var share proto.ShareLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &share))

	fileID, shareToken, err := proto.SplitShareLink(share.Link)
	require.NoError(t, err)
	assert.Equal(t, f.ID, fileID)

	// Sharing again returns the same link
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/share", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var again proto.ShareLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, share.Link, again.Link)

	// The combined link downloads with no session at all
	w = do(t, srv, http.MethodGet, "/api/shared/"+share.Link, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))

	// The bare token works on the file route too
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"?share="+shareToken, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A wrong token falls back to the session rule
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"?share=bogus", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Malformed link form
	w = do(t, srv, http.MethodGet, "/api/shared/not-a-link", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Deleting the file kills the link
	w = do(t, srv, http.MethodDelete, "/api/files/"+f.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, http.MethodGet, "/api/shared/"+share.Link, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ChunkedDownload(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	payloads := testutil.Chunks(2, 3)
	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 6, TotalChunks: 2,
	})
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", token, payloads[0])
	require.Equal(t, http.StatusOK, w.Code)

	// A present chunk is served even while the file is pending
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/chunks/0", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, payloads[0], w.Body.Bytes())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	// An absent one is a conflict naming the gap
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/chunks/1", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Out of declared range
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/chunks/5", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_StorageStats_Authorization(t *testing.T) {
	srv, sessions := newTestServer(t)
	master := loginMaster(t, srv, sessions)
	alice := registerAndLogin(t, srv, "alice", "password123")

	var me transfer.StorageStats
	w := do(t, srv, http.MethodGet, "/api/me/storage", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))

	// Master can read any account's stats
	w = do(t, srv, http.MethodGet, "/api/users/"+me.UserID+"/storage", master, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A client cannot read another account's stats
	bob := registerAndLogin(t, srv, "bob", "password123")
	w = do(t, srv, http.MethodGet, "/api/users/"+me.UserID+"/storage", bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown subject
	w = do(t, srv, http.MethodGet, "/api/users/nope/storage", master, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The bare user path only accepts DELETE
	w = do(t, srv, http.MethodGet, "/api/users/"+me.UserID, master, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// Unroutable user paths
	w = do(t, srv, http.MethodGet, "/api/users/"+me.UserID+"/bogus", master, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_UserAdmin(t *testing.T) {
	srv, sessions := newTestServer(t)
	master := loginMaster(t, srv, sessions)

	// Create a staff account
	body, _ := json.Marshal(proto.CreateUserRequest{
		Username: "operator", Password: "password123", Role: "staff", GBAllocation: 10,
	})
	w := do(t, srv, http.MethodPost, "/api/users", master, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var staff storage.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &staff))
	assert.Equal(t, storage.RoleStaff, staff.Role)
	assert.Equal(t, 10, staff.GBAllocation)

	// An omitted role falls back to client
	body, _ = json.Marshal(proto.CreateUserRequest{
		Username: "carol", Password: "password123", GBAllocation: 2,
	})
	w = do(t, srv, http.MethodPost, "/api/users", master, body)
	require.Equal(t, http.StatusCreated, w.Code)
	var carol storage.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &carol))
	assert.Equal(t, storage.RoleClient, carol.Role)

	// Listing shows every account and never leaks hashes
	w = do(t, srv, http.MethodGet, "/api/users", master, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Users []*storage.User `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Users, 3)
	assert.NotContains(t, w.Body.String(), "password_hash")

	// Allocation changes land in the account's stats
	body, _ = json.Marshal(proto.SetAllocationRequest{GBAllocation: 5})
	w = do(t, srv, http.MethodPut, "/api/users/"+carol.ID+"/allocation", master, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/users/"+carol.ID+"/storage", master, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats transfer.StorageStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 5, stats.GBAllocation)
	assert.Equal(t, 5*storage.GiB, stats.QuotaBytes)

	// Removal takes the account with its stats
	w = do(t, srv, http.MethodDelete, "/api/users/"+carol.ID, master, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, http.MethodGet, "/api/users/"+carol.ID+"/storage", master, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_UserAdmin_Authorization(t *testing.T) {
	srv, sessions := newTestServer(t)
	master := loginMaster(t, srv, sessions)
	alice := registerAndLogin(t, srv, "alice", "password123")

	body, _ := json.Marshal(proto.CreateUserRequest{Username: "eve", Password: "password123"})

	// Clients cannot manage accounts
	w := do(t, srv, http.MethodPost, "/api/users", alice, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, srv, http.MethodGet, "/api/users", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Anonymous callers get 401, not 403
	w = do(t, srv, http.MethodGet, "/api/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The master role is not assignable
	body, _ = json.Marshal(proto.CreateUserRequest{
		Username: "usurper", Password: "password123", Role: "master",
	})
	w = do(t, srv, http.MethodPost, "/api/users", master, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The master account itself cannot be deleted
	var me transfer.StorageStats
	w = do(t, srv, http.MethodGet, "/api/me/storage", master, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	w = do(t, srv, http.MethodDelete, "/api/users/"+me.UserID, master, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_SystemStorage(t *testing.T) {
	srv, sessions := newTestServer(t)
	master := loginMaster(t, srv, sessions)
	alice := registerAndLogin(t, srv, "alice", "password123")

	initUpload(t, srv, alice, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 12, TotalChunks: 3,
	})

	w := do(t, srv, http.MethodGet, "/api/system/storage", master, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats transfer.SystemStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.PendingFiles)
	assert.Zero(t, stats.CompleteFiles)
	assert.Equal(t, int64(12), stats.ReservedBytes)

	// The disk-backed chunk store reports its volume
	require.NotNil(t, stats.Volume)
	assert.Positive(t, stats.Volume.TotalBytes)

	// CapAnyStats gates the endpoint
	w = do(t, srv, http.MethodGet, "/api/system/storage", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, srv, http.MethodGet, "/api/system/storage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_ShareQR(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "qr.txt", MimeType: "text/plain", TotalSize: 2, TotalChunks: 1,
	})
	w := do(t, srv, http.MethodPut, "/api/files/"+f.ID+"/chunks/0", token, []byte("ab"))
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/finalize", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/share/qr", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp proto.ShareLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))

	// The QR endpoint mints the same link the plain share form returns
	w = do(t, srv, http.MethodPost, "/api/files/"+f.ID+"/share", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var share proto.ShareLinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &share))
	assert.Equal(t, share.Link, resp.Link)

	// Anonymous callers cannot mint links through the QR form either
	w = do(t, srv, http.MethodGet, "/api/files/"+f.ID+"/share/qr", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	token := registerAndLogin(t, srv, "alice", "password123")

	w := do(t, srv, http.MethodGet, "/api/register", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	f := initUpload(t, srv, token, proto.InitUploadRequest{
		Filename: "a.bin", TotalSize: 1, TotalChunks: 1,
	})
	w = do(t, srv, http.MethodPatch, "/api/files/"+f.ID, token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/shared/x_y", token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
