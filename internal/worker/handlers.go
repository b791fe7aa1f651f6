package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dreamware/usersvc/internal/replica"
	"github.com/dreamware/usersvc/internal/storage"
)

// envelope wraps every response body as {"data": ...}.
type envelope struct {
	Data any `json:"data"`
}

type errorBody struct {
	Error string `json:"error"`
}

type userResult struct {
	Message string         `json:"message"`
	User    storage.Record `json:"user"`
}

// NewRouter builds the worker's HTTP surface over rep.
//
// Routes:
//   - GET    /api/users       list all records
//   - POST   /api/users       create a record
//   - GET    /api/users/{id}  fetch one record
//   - PUT    /api/users/{id}  replace a record's fields
//   - DELETE /api/users/{id}  delete a record
//   - GET    /health          liveness probe for the coordinator
//   - GET    /info            replica statistics
func NewRouter(rep *replica.Replica, addr string) *mux.Router {
	h := &handlers{rep: rep}

	r := mux.NewRouter()
	r.Use(recoverMiddleware)
	r.Use(requestLogger(addr))

	r.HandleFunc("/api/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users", h.createUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{id}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{id}", h.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.HandleFunc("/info", h.info).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s is not allowed", req.Method))
	})

	return r
}

type handlers struct {
	rep *replica.Replica
}

func (h *handlers) listUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rep.GetAll())
}

func (h *handlers) createUser(w http.ResponseWriter, r *http.Request) {
	data, ok := readRecordData(w, r)
	if !ok {
		return
	}
	rec := h.rep.Create(r.Context(), data)
	writeJSON(w, http.StatusCreated, userResult{Message: "User created successfully", User: rec})
}

func (h *handlers) getUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	data, ok := readRecordData(w, r)
	if !ok {
		return
	}

	updated, err := h.rep.Update(r.Context(), rec.ID, data)
	if errors.Is(err, storage.ErrRecordNotFound) {
		// deleted or replaced by a snapshot since lookup
		writeNotFound(w, rec.ID)
		return
	}
	if err != nil {
		panic(err)
	}
	writeJSON(w, http.StatusOK, userResult{Message: "User updated successfully", User: updated})
}

func (h *handlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.rep.Delete(r.Context(), rec.ID); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			writeNotFound(w, rec.ID)
			return
		}
		panic(err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) info(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.rep.Info())
}

// lookup resolves {id}, answering 404 for an unknown uuid and 400 for
// anything that isn't a uuid.
func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (storage.Record, bool) {
	id := mux.Vars(r)["id"]

	rec, err := h.rep.Get(id)
	if err == nil {
		return rec, true
	}
	if !errors.Is(err, storage.ErrRecordNotFound) {
		panic(err)
	}

	if _, perr := uuid.Parse(id); perr != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Id: %s is not a valid uuid", id))
	} else {
		writeNotFound(w, id)
	}
	return storage.Record{}, false
}

func readRecordData(w http.ResponseWriter, r *http.Request) (storage.RecordData, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return storage.RecordData{}, false
	}

	data, err := storage.ParseRecordData(body)
	switch {
	case errors.Is(err, storage.ErrInvalidJSON):
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return storage.RecordData{}, false
	case err != nil:
		writeError(w, http.StatusBadRequest, "Request body does not contain required fields or they have wrong types")
		return storage.RecordData{}, false
	}
	return data, true
}

func writeNotFound(w http.ResponseWriter, id string) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("User with id: %s is not found", id))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// recoverMiddleware turns a handler panic into a 500 response.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, v)
				writeError(w, http.StatusInternalServerError, fmt.Sprintf("Internal Server Error. Cause: %v", v))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(addr string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("Request with method %s is sent to http://%s%s", r.Method, addr, r.URL.RequestURI())
			next.ServeHTTP(w, r)
		})
	}
}
