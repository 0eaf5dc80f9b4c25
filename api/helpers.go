package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/viktorbarna/tradesim/cmd/rest"
)

func (s *Server) serverError(w http.ResponseWriter, err error) {
	trace := fmt.Sprintf("%s\n%s", err.Error(), debug.Stack())
	s.errorLog.Output(2, trace)

	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (s *Server) clientError(w http.ResponseWriter, status int) {
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.clientError(w, http.StatusNotFound)
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)

	// []byte slices are not converting correctly, so I need to type switch
	switch data := v.(type) {
	case []byte:
		_, err := w.Write(data)
		return err
	default:
		return json.NewEncoder(w).Encode(data)
	}
}

var (
	symbolCacheOnce sync.Once
	symbolCache     map[string]struct{}
	symbolCacheErr  error
)

// ValidateSymbol checks the trading pair against the exchange's symbol list.
// The list is fetched once per process.
func ValidateSymbol(symbol string) error {
	symbolCacheOnce.Do(func() {
		symbolCache, symbolCacheErr = rest.NewSymbolCache()
	})
	if symbolCacheErr != nil {
		return fmt.Errorf("symbol cache unavailable: %w", symbolCacheErr)
	}

	if _, ok := symbolCache[strings.ToUpper(symbol)]; !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	return nil
}
