package restapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"livetrail.dev/internal/engine"
	"livetrail.dev/internal/models"
)

const (
	targetLatest  = "latest"
	targetInitial = "initial"
	targetNone    = "none"

	maxSelectBody = 1 << 10
)

type selectRequest struct {
	Index  *int   `json:"index" validate:"omitempty,gte=0"`
	Target string `json:"target" validate:"omitempty,oneof=latest initial none"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseSelectRequest returns field errors for anything the client must fix.
func parseSelectRequest(r io.Reader) (selectRequest, map[string][]string) {
	var req selectRequest

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, map[string][]string{"body": {"must be a JSON object with index or target"}}
	}

	fieldErrors := map[string][]string{}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return req, map[string][]string{"body": {err.Error()}}
		}
		for _, fe := range verrs {
			fieldErrors[fe.Field()] = append(fieldErrors[fe.Field()], validationMessage(fe))
		}
	}

	switch {
	case req.Index == nil && req.Target == "":
		fieldErrors["target"] = append(fieldErrors["target"], "index or target is required")
	case req.Index != nil && req.Target != "":
		fieldErrors["index"] = append(fieldErrors["index"], "cannot be combined with target")
	}

	if len(fieldErrors) > 0 {
		return req, fieldErrors
	}
	return req, nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}

// resolveSelection maps the request onto the current state. ok is false
// when the requested point does not exist.
func resolveSelection(state models.RenderState, req selectRequest) (models.Selection, bool) {
	if req.Index != nil {
		if *req.Index >= len(state.Trail) {
			return models.Selection{}, false
		}
		p := state.Trail[*req.Index]
		return models.Selection{Point: &p}, true
	}

	switch req.Target {
	case targetLatest:
		if state.LatestFix == nil {
			return models.Selection{}, false
		}
		fix := *state.LatestFix
		return models.Selection{Fix: &fix}, true
	case targetInitial:
		if state.InitialPoint == nil {
			return models.Selection{}, false
		}
		p := *state.InitialPoint
		return models.Selection{Point: &p}, true
	case targetNone:
		return models.Selection{}, true
	}
	return models.Selection{}, false
}

func (api *RestAPI) selectHandler(w http.ResponseWriter, r *http.Request) {
	req, fieldErrors := parseSelectRequest(http.MaxBytesReader(w, r.Body, maxSelectBody))
	if fieldErrors != nil {
		api.validationErrorResponse(w, r, fieldErrors)
		return
	}

	sel, ok := resolveSelection(api.Engine.Current(), req)
	if !ok {
		api.sendNotFound(w, r)
		return
	}

	// the trail may have been cleared since Current
	if err := api.Engine.Select(sel); err != nil {
		if errors.Is(err, engine.ErrUnknownSelection) {
			api.sendNotFound(w, r)
			return
		}
		api.serverErrorResponse(w, r, err)
		return
	}

	api.sendResponse(w, r, models.NewEntryResponse(api.Engine.Current().Selected))
}
