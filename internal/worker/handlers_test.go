package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/usersvc/internal/cluster"
	"github.com/dreamware/usersvc/internal/replica"
	"github.com/dreamware/usersvc/internal/storage"
)

type response struct {
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeData(t, rec, &body)
	return body.Error
}

func TestHandleUsersCollection(t *testing.T) {
	rep := replica.New("w-1", nil)
	h := NewRouter(rep, "127.0.0.1:3001")

	t.Run("empty list", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/users", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var users []storage.Record
		decodeData(t, rec, &users)
		assert.Empty(t, users)
	})

	t.Run("create", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/users", `{"username":"Roby","age":34,"hobbies":["skiing"]}`)
		require.Equal(t, http.StatusCreated, rec.Code)

		var result userResult
		decodeData(t, rec, &result)
		assert.Equal(t, "User created successfully", result.Message)
		assert.Equal(t, "Roby", result.User.Username)
		_, err := uuid.Parse(result.User.ID)
		assert.NoError(t, err)

		list := do(t, h, http.MethodGet, "/api/users", "")
		var users []storage.Record
		decodeData(t, list, &users)
		assert.Equal(t, []storage.Record{result.User}, users)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/users", `{"username":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON", errorOf(t, rec))
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/users", `{"username":"Roby"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, errorOf(t, rec), "required fields")
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := do(t, h, http.MethodPatch, "/api/users", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "Method PATCH is not allowed", errorOf(t, rec))
	})
}

func TestHandleSingleUser(t *testing.T) {
	rep := replica.New("w-1", nil)
	h := NewRouter(rep, "127.0.0.1:3001")
	created := rep.Store.Create(storage.RecordData{Username: "Roby", Age: 34, Hobbies: []string{"skiing"}})
	missing := uuid.NewString()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "get existing", method: http.MethodGet, path: "/api/users/" + created.ID, wantStatus: http.StatusOK},
		{name: "get unknown uuid", method: http.MethodGet, path: "/api/users/" + missing, wantStatus: http.StatusNotFound, wantError: "User with id: " + missing + " is not found"},
		{name: "get malformed id", method: http.MethodGet, path: "/api/users/not-a-uuid", wantStatus: http.StatusBadRequest, wantError: "Id: not-a-uuid is not a valid uuid"},
		{name: "put invalid json", method: http.MethodPut, path: "/api/users/" + created.ID, body: "{", wantStatus: http.StatusBadRequest, wantError: "Invalid JSON"},
		{name: "put wrong types", method: http.MethodPut, path: "/api/users/" + created.ID, body: `{"username":"a","age":"x","hobbies":[]}`, wantStatus: http.StatusBadRequest},
		{name: "put unknown uuid", method: http.MethodPut, path: "/api/users/" + missing, body: `{"username":"a","age":1,"hobbies":[]}`, wantStatus: http.StatusNotFound},
		{name: "delete malformed id", method: http.MethodDelete, path: "/api/users/nope", wantStatus: http.StatusBadRequest},
		{name: "post on single user", method: http.MethodPost, path: "/api/users/" + created.ID, wantStatus: http.StatusMethodNotAllowed},
		{name: "unknown path", method: http.MethodGet, path: "/api/other", wantStatus: http.StatusNotFound, wantError: "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, errorOf(t, rec))
			}
		})
	}
}

func TestHandleUpdateAndDelete(t *testing.T) {
	rep := replica.New("w-1", nil)
	h := NewRouter(rep, "127.0.0.1:3001")
	created := rep.Store.Create(storage.RecordData{Username: "Roby", Age: 34, Hobbies: []string{"skiing"}})

	rec := do(t, h, http.MethodPut, "/api/users/"+created.ID, `{"username":"Bob","age":40,"hobbies":["chess"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result userResult
	decodeData(t, rec, &result)
	assert.Equal(t, "User updated successfully", result.Message)
	assert.Equal(t, created.ID, result.User.ID)
	assert.Equal(t, "Bob", result.User.Username)

	rec = do(t, h, http.MethodDelete, "/api/users/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = do(t, h, http.MethodGet, "/api/users/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndInfo(t *testing.T) {
	rep := replica.New("w-7", nil)
	h := NewRouter(rep, "127.0.0.1:3007")

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info replica.ReplicaInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "w-7", info.WorkerID)
	assert.Equal(t, replica.ReplicaStateEmpty, info.State)
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error. Cause: boom", errorOf(t, rec))
}

// TestMutationReportedAfterClientCancel checks a committed write is still
// reported when the client has gone away.
func TestMutationReportedAfterClientCancel(t *testing.T) {
	coordSide, workerSide := cluster.Pipe()
	defer coordSide.Close()
	defer workerSide.Close()

	rep := replica.New("w-1", workerSide)
	h := NewRouter(rep, "127.0.0.1:3001")

	reports := make(chan cluster.Message, 1)
	go func() {
		if msg, err := coordSide.Recv(); err == nil {
			reports <- msg
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/users",
		strings.NewReader(`{"username":"Roby","age":34,"hobbies":[]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	select {
	case msg := <-reports:
		assert.Equal(t, cluster.MessageDataCreated, msg.Type)
		r, err := msg.Record()
		require.NoError(t, err)
		assert.Equal(t, "Roby", r.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("no DATA_CREATED report after client cancel")
	}
	assert.Zero(t, rep.GetStats().Ops.ReportsFailed)
}

func TestCreateRejectsNullHobby(t *testing.T) {
	rep := replica.New("w-1", nil)
	h := NewRouter(rep, "127.0.0.1:3001")

	rec := do(t, h, http.MethodPost, "/api/users", `{"username":"Roby","age":34,"hobbies":[null]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rep.GetAll())
}
