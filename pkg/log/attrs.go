package log

import "log/slog"

func ExecutionID[T ~string](id T) slog.Attr {
	return slog.String("execution_id", string(id))
}

func RunbookID[T ~string](id T) slog.Attr {
	return slog.String("runbook_id", string(id))
}

func StepID[T ~string](id T) slog.Attr {
	return slog.String("step_id", string(id))
}

func ApprovalID[T ~string](id T) slog.Attr {
	return slog.String("approval_id", string(id))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Attempt(attempt int) slog.Attr {
	return slog.Int("attempt", attempt)
}

func StepIndex(index int) slog.Attr {
	return slog.Int("step_index", index)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
