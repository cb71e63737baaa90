package log

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrAttrKey is the field name for an error passed to Logger.Error.
const ErrAttrKey = "error"

// appendFields writes key/value pairs onto a zerolog context or event.
// A leading error value (Logger.Error(msg, err, ...)) is stored under
// ErrAttrKey; errors carrying a cockroachdb stack get StacktraceKey too.
func appendFields(e *zerolog.Event, fields []any) *zerolog.Event {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = appendError(e, ErrAttrKey, err)
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case error:
			e = appendError(e, key, v)
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	if len(fields)%2 == 1 {
		e = e.Interface("!BADKEY", fields[len(fields)-1])
	}
	return e
}

func appendError(e *zerolog.Event, key string, err error) *zerolog.Event {
	e = e.Str(key, err.Error())
	var marshaler zerolog.LogObjectMarshaler
	if errors.As(err, &marshaler) {
		e = e.Object(key+"_detail", marshaler)
	}
	if stack := extractStacktrace(err); stack != "" {
		e = e.Str(StacktraceKey, stack)
	}
	return e
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
