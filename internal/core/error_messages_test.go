package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/session"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint \"idx_variant_sku\""), "DB001"},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: catalog_variants.sku"), "DB002"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB004"},
		{"session conflict", session.ErrConflict, "DB008"},
		{"barcode pool", fmt.Errorf("no free barcode for SKU: %w", catalog.ErrPoolExhausted), "IMP006"},
		{"required value", errors.New("row 4: product_name: required field is empty"), "VAL003"},
		{"mapping missing field", errors.New(`invalid column mapping: required field "variant_sku" is not mapped`), "MAP002"},
		{"unsupported type", fmt.Errorf("detect: %w", analyzer.ErrUnsupportedType), "FILE002"},
		{"no header", analyzer.ErrNoData, "FILE005"},
		{"busy", ErrTooManyImports, "IMP002"},
		{"saturated limiter", queue.ErrSaturated, "IMP002"},
		{"not found", session.ErrNotFound, "IMP003"},
		{"terminal", fmt.Errorf("cancel: %w", session.ErrTerminal), "IMP004"},
		{"deadline", errors.New("process: context deadline exceeded"), "IMP009"},
		{"generic timeout", errors.New("i/o timeout"), "DB006"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v) code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("duplicate key value violates"))
	want := "A product or SKU with this key already exists (Code: DB001). Check the file for duplicate SKUs or product names"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", errors.New("duplicate key"), true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	techErr := errors.New("pq: duplicate key value")
	userErr := NewUserError(techErr)
	if userErr.Error() != "A product or SKU with this key already exists" {
		t.Errorf("Error() = %q, want user message", userErr.Error())
	}
	if !errors.Is(userErr, techErr) {
		t.Error("Unwrap() should return original error")
	}
}
