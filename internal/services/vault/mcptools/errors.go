package mcptools

import (
	"encoding/json"
	"log"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/errors/i18n"
)

// ToolError is the structured body of a failed tool call. Its Error text is
// the JSON encoding, which the SDK places in the tool result content.
type ToolError struct {
	Code     string            `json:"code"`
	Kind     string            `json:"kind"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Message  string            `json:"message"`

	cause error
}

func (e *ToolError) Error() string {
	body, err := json.Marshal(e)
	if err != nil {
		return e.Message
	}
	return string(body)
}

func (e *ToolError) Unwrap() error {
	return e.cause
}

// toolError renders err for a client in locale. Errors without a domain code
// are logged and reported as UNKNOWN without their text.
func toolError(err error, locale string) error {
	if err == nil {
		return nil
	}
	appErr, ok := apperrors.As(err)
	if !ok {
		code := apperrors.CodeOf(err)
		if code == apperrors.CodeUnknown {
			log.Printf("mcp tool: %v", err)
		}
		appErr = apperrors.Wrap(code, "unclassified error", err)
	}
	catalog := i18n.GetCatalog(locale)
	message := catalog.Format(string(appErr.Code), appErr.Metadata)
	st := appErr.ToGRPCStatus(catalog.Locale(), message)
	return &ToolError{
		Code:     string(appErr.Code),
		Kind:     string(appErr.Code.Kind()),
		Status:   st.Code().String(),
		Metadata: appErr.Metadata,
		Message:  message,
		cause:    err,
	}
}

func invalidArgument(message string) error {
	return apperrors.New(apperrors.CodeInvalidArgument, message)
}
