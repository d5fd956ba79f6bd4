package itemdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingAttributeValue = errors.New("missing attribute value")
	ErrInvalidCardinality    = errors.New("invalid cardinality")
	ErrInvalidReferenceState = errors.New("invalid reference state")
	ErrUnknownAttribute      = errors.New("unknown attribute")
	ErrSchemaInheritance     = errors.New("schema inheritance error")
	ErrLoadReferenceMissing  = errors.New("load reference missing")
	ErrMergeConflict         = errors.New("merge conflict")
	ErrStoreContention       = errors.New("store contention")

	ErrItemDeleted     = errors.New("item is deleted")
	ErrNameExists      = errors.New("sibling with this name already exists")
	ErrNotInSuperIndex = errors.New("key is not in super index")
	ErrInvalidValue    = errors.New("invalid value")
	ErrViewClosed      = errors.New("view is closed")
)

// IsRetryable reports whether err is a transient failure that can be fixed by
// re-running the whole commit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreContention)
}

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// ItemError describes a failed operation on one item attribute.
type ItemError struct {
	Item      string // path or id
	Attribute string
	Msg       string
	Err       error
}

func itemErrf(it *Item, attr string, err error, format string, args ...any) error {
	var desc string
	if it != nil {
		desc = it.describe()
	}
	return &ItemError{desc, attr, fmt.Sprintf(format, args...), err}
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func (e *ItemError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Item)
	if e.Attribute != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Attribute)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// LoadError reports a persisted record naming a kind, parent or attribute
// that could not be resolved.
type LoadError struct {
	What string // "kind", "parent", "super-kind", ...
	Ref  string
	From string
}

func (e *LoadError) Unwrap() error {
	return ErrLoadReferenceMissing
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s %s not found", e.From, e.What, e.Ref)
}

// MergeConflictError is returned by a commit that diverged from the latest
// version in a way that needs a resolver.
type MergeConflictError struct {
	Conflicts []*Conflict
}

func (e *MergeConflictError) Unwrap() error {
	return ErrMergeConflict
}

func (e *MergeConflictError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%d merge conflict(s)", len(e.Conflicts))
	for i, c := range e.Conflicts {
		if i >= 5 {
			fmt.Fprintf(&buf, "; ...")
			break
		}
		buf.WriteString("; ")
		buf.WriteString(c.String())
	}
	return buf.String()
}

// Category returns the category of the first conflict.
func (e *MergeConflictError) Category() ConflictCategory {
	if len(e.Conflicts) == 0 {
		return 0
	}
	return e.Conflicts[0].Category
}

func contentionErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreContention, err)
}
