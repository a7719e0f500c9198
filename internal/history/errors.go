package history

import (
	"errors"
	"net/http"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

var ErrUnknownMetric = errors.New("unknown trend metric")

// MapHTTPStatus maps history errors to HTTP status codes, deferring to the
// record store for everything it reports.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrUnknownMetric) {
		return http.StatusBadRequest
	}
	return records.MapHTTPStatus(err)
}
