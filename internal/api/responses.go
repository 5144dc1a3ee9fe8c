package api

import (
	stderrors "errors"
	"net/http"

	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type errorBody struct {
	Category   errors.ErrorCategory `json:"category,omitempty"`
	Code       errors.ErrorCode     `json:"code"`
	Message    string               `json:"message"`
	Suggestion string               `json:"suggestion,omitempty"`
	Fields     map[string]string    `json:"fields,omitempty"`
	RequestID  string               `json:"request_id,omitempty"`
}

// statusForError maps an error category to an HTTP status.
func statusForError(rerr *errors.ReconcilerError) int {
	switch rerr.Category {
	case errors.CategoryValidation, errors.CategoryParse, errors.CategoryFile:
		return http.StatusBadRequest
	case errors.CategoryProvider:
		return http.StatusServiceUnavailable
	case errors.CategoryReconciliation:
		if rerr.Code == errors.CodeBatchCancelled {
			return http.StatusRequestTimeout
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		rerr = errors.InternalError(errors.CodeUnexpectedError, c.FullPath(), err)
	}
	status := statusForError(rerr)

	body := errorBody{
		Category:   rerr.Category,
		Code:       rerr.Code,
		Message:    rerr.Message,
		Suggestion: rerr.Suggestion,
		RequestID:  c.GetString(requestIDKey),
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": body})
}

// respondBindError reports request bodies that fail to decode or validate,
// naming each failed field and the rule it broke.
func respondBindError(c *gin.Context, err error) {
	body := errorBody{
		Category:  errors.CategoryValidation,
		Code:      errors.CodeInvalidData,
		Message:   "invalid request body",
		RequestID: c.GetString(requestIDKey),
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		body.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			body.Fields[fe.Field()] = fe.Tag()
		}
	} else {
		body.Message = err.Error()
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": body})
}

// statusForOutcome maps an alias decision outcome to an HTTP status.
func statusForOutcome(outcome reconciler.Outcome) int {
	switch outcome {
	case reconciler.OutcomeCommitted, reconciler.OutcomeUnchanged, reconciler.OutcomeRemoved:
		return http.StatusOK
	case reconciler.OutcomeConflict:
		return http.StatusConflict
	case reconciler.OutcomeNotFound:
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}
