package errors

import "testing"

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "img/arch.png", false},
		{"filename only", "README.md", false},
		{"dots in name", "v1..2/diagram.svg", false},

		{"empty", "", true},
		{"too long", string(make([]byte, 600)), true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../secret.md", true},
		{"traversal middle", "img/../../x", true},
		{"null byte", "foo\x00bar", true},
		{"backslash", "foo\\bar", true},
		{"newline", "foo\nbar", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidPath) {
				t.Errorf("ValidatePath(%q) wrong code: %v", tt.input, err)
			}
		})
	}
}

func TestValidateExportName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default", "mermaid-diagram-1700000000000", false},
		{"spaces", "my diagram", false},
		{"empty", "", true},
		{"separator", "out/diagram", true},
		{"hidden", ".diagram", true},
		{"control", "a\tb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateExportName(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateExportName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
