package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// maxBodyBytes caps JSON request bodies. Transcripts of long sessions are the
// largest payloads.
const maxBodyBytes = 2 << 20

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New()
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return vld
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

// validID reports whether a path id is safe to pass to storage.
func validID(id string) bool { return idPattern.MatchString(id) }

// decodeJSON reads a capped JSON body into dst and runs struct validation.
// Field errors are returned as details keyed by json field name.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: payload too large", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			details := make(map[string]string, len(ve))
			for _, fe := range ve {
				details[fe.Field()] = fe.Tag()
			}
			return details, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return nil, nil
}

// acceptsJSON mirrors the API's only representation.
func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || strings.Contains(a, "*/*") || strings.Contains(a, "application/json")
}
