package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidFormat, "unknown format: %s", "bmp")

	if err.Code != ErrCodeInvalidFormat {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidFormat)
	}
	if err.Message != "unknown format: bmp" {
		t.Errorf("Message = %v", err.Message)
	}
	if want := "INVALID_FORMAT: unknown format: bmp"; err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("syntax error at line 1")
	err := Wrap(ErrCodeRenderFailed, cause, "render diagram %d", 0)

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if want := "RENDER_FAILED: render diagram 0: syntax error at line 1"; err.Error() != want {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{"matching code", New(ErrCodeInvalidConfig, "x"), ErrCodeInvalidConfig, true},
		{"non-matching code", New(ErrCodeInvalidConfig, "x"), ErrCodeTimeout, false},
		{"outer code wins", Wrap(ErrCodeExportFailed, New(ErrCodeInvalidFormat, "inner"), "outer"), ErrCodeExportFailed, true},
		{"plain error", errors.New("plain"), ErrCodeInternal, false},
		{"nil error", nil, ErrCodeInternal, false},
		{"empty code", errors.New("plain"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCodeAndUserMessage(t *testing.T) {
	wrapped := Wrap(ErrCodeSaveFailed, errors.New("disk full"), "save view state")
	if GetCode(wrapped) != ErrCodeSaveFailed {
		t.Errorf("GetCode() = %v", GetCode(wrapped))
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
	if UserMessage(wrapped) != "save view state" {
		t.Errorf("UserMessage() = %q", UserMessage(wrapped))
	}
	if UserMessage(errors.New("plain")) != "plain" {
		t.Error("UserMessage of plain error should be its text")
	}
}

func TestErrorCodesAreUnique(t *testing.T) {
	codes := []Code{
		ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeInvalidFormat, ErrCodeInvalidPath,
		ErrCodeNotFound, ErrCodeFileNotFound,
		ErrCodeRenderFailed, ErrCodeRestoreFailed, ErrCodeTeardownFailed, ErrCodeSaveFailed, ErrCodeExportFailed,
		ErrCodeTimeout, ErrCodeInternal, ErrCodeUnsupported,
	}
	seen := make(map[Code]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("duplicate error code: %s", code)
		}
		seen[code] = true
	}
}
