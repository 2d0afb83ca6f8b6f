package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// writeJSON sends a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("API Error: failed to encode response: %v", err)
	}
}

// respondWithError logs the error and sends a JSON error response
// Use this to avoid exposing internal errors while still logging them
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		log.Printf("API Error [%d]: %s - %v", code, message, err)
	} else {
		log.Printf("API Error [%d]: %s", code, message)
	}
	http.Error(w, message, code)
}

// getIntParam retrieves an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultVal int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultVal
	}
	return val
}

// pathID parses the {id} path segment as int64
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
