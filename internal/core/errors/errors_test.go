package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "version not found")
		if err.Error() != "[NOT_FOUND] version not found" {
			t.Errorf("expected [NOT_FOUND] version not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("disk full")
		err := Wrap(original, CodeIOFailure, "append to triple log")
		expected := "[IO_FAILURE] append to triple log: disk full"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
		if !errors.Is(err, original) {
			t.Error("expected wrapped error to unwrap to the original")
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeOrderingViolation, "version 1 is not greater than 2")
		if !IsCode(err, CodeOrderingViolation) {
			t.Error("expected IsCode to return true for CodeOrderingViolation")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeThroughFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("commit: %w", New(CodeConcurrentWriter, "dataset busy"))
		if !IsCode(err, CodeConcurrentWriter) {
			t.Error("expected IsCode to see through fmt wrapping")
		}
	})

	t.Run("IsCodeNested", func(t *testing.T) {
		inner := New(CodeOrderingViolation, "stale version")
		outer := Wrap(inner, CodeHookFailure, "precommit rejected")
		if !IsCode(outer, CodeHookFailure) || !IsCode(outer, CodeOrderingViolation) {
			t.Error("expected both outer and inner codes to match")
		}
		if CodeOf(outer) != CodeHookFailure {
			t.Errorf("expected outer code HOOK_FAILURE, got %s", CodeOf(outer))
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := New(CodeNotFound, "no such version")
		err = AddContext(err, CtxDataset, "bldg")
		err = AddContext(err, CtxVersion, int64(7))
		expected := "[NOT_FOUND] no such version {dataset=bldg version=7}"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("AddContextPlain", func(t *testing.T) {
		err := AddContext(errors.New("boom"), CtxOperation, "scan")
		if !IsCode(err, CodeInternal) {
			t.Errorf("expected plain errors to become INTERNAL_ERROR, got %v", err)
		}
		if AddContext(nil, CtxOperation, "scan") != nil {
			t.Error("expected nil error to stay nil")
		}
	})
}
