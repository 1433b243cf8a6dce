package handler

import (
	"net/http"
	"strconv"

	"privata/internal/entity/models"
	"privata/internal/schema"
	dErrors "privata/pkg/domain-errors"
)

// FindResponse is returned by GET /v1/entities/{type}.
type FindResponse struct {
	Entities []*models.Entity `json:"entities"`
	Count    int              `json:"count"`
}

// parseQuery reads limit and exact-match filters. With a schema, filters on
// number and boolean fields are converted to the declared kind.
func parseQuery(r *http.Request, sch *schema.Schema) (models.Query, error) {
	var fields map[string]schema.FieldSpec
	if sch != nil {
		fields = sch.Fields()
	}
	q := models.Query{Filters: map[string]any{}}
	for key, values := range r.URL.Query() {
		if key == "limit" {
			limit, err := strconv.Atoi(values[0])
			if err != nil || limit < 0 || limit > maxLimit {
				return q, dErrors.New(dErrors.CodeBadRequest, "limit must be between 0 and "+strconv.Itoa(maxLimit))
			}
			q.Limit = limit
			continue
		}
		if len(values) > 1 {
			return q, dErrors.New(dErrors.CodeBadRequest, "filter "+key+" given more than once")
		}
		value, err := filterValue(fields[key].Type, values[0])
		if err != nil {
			return q, dErrors.New(dErrors.CodeBadRequest, "filter "+key+" must be "+string(fields[key].Type))
		}
		q.Filters[key] = value
	}
	return q, nil
}

func filterValue(kind schema.Kind, raw string) (any, error) {
	switch kind {
	case schema.KindNumber:
		return strconv.ParseFloat(raw, 64)
	case schema.KindBoolean:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}
