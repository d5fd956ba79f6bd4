package itemdb

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestItemError_ErrorAndUnwrap(t *testing.T) {
	err := &ItemError{Item: "//F/N", Attribute: "title", Msg: "bad 1", Err: ErrInvalidValue}
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("errors.Is(err, ErrInvalidValue) = false, wanted true")
	}
	if s := err.Error(); s != "//F/N.title: bad 1: invalid value" {
		t.Fatalf("err.Error() = %q", s)
	}
	if s := (&ItemError{Item: "//F", Err: ErrItemDeleted}).Error(); s != "//F: item is deleted" {
		t.Fatalf("err.Error() = %q", s)
	}
	if s := (&ItemError{Item: "//F", Msg: "plain"}).Error(); s != "//F: plain" {
		t.Fatalf("err.Error() = %q", s)
	}
}

func TestLoadError(t *testing.T) {
	err := fmt.Errorf("loading: %w", &LoadError{What: "kind", Ref: "//Schema/X", From: "//F"})
	if !errors.Is(err, ErrLoadReferenceMissing) {
		t.Fatalf("errors.Is(err, ErrLoadReferenceMissing) = false, wanted true")
	}
	if !strings.HasSuffix(err.Error(), "//F: kind //Schema/X not found") {
		t.Fatalf("err.Error() = %q", err.Error())
	}
}

func TestMergeConflictError(t *testing.T) {
	var conflicts []*Conflict
	for i := range 7 {
		conflicts = append(conflicts, &Conflict{Category: ValueConflict, Attribute: fmt.Sprintf("a%d", i)})
	}
	err := &MergeConflictError{Conflicts: conflicts}
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("errors.Is(err, ErrMergeConflict) = false, wanted true")
	}
	if err.Category() != ValueConflict {
		t.Fatalf("Category() = %v", err.Category())
	}
	s := err.Error()
	if !strings.HasPrefix(s, "7 merge conflict(s)") || !strings.HasSuffix(s, "; ...") {
		t.Fatalf("err.Error() = %q", s)
	}
	if (&MergeConflictError{}).Category() != 0 {
		t.Fatalf("empty Category() is not zero")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(contentionErr(errors.New("version moved"))) {
		t.Fatalf("contention is not retryable")
	}
	if IsRetryable(&MergeConflictError{}) || IsRetryable(nil) {
		t.Fatalf("non-contention errors are retryable")
	}
}
