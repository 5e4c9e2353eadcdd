package earthquake

import "fmt"

// ResultKind tags which variant a Result holds.
type ResultKind int

const (
	Success ResultKind = iota
	Empty
	Failure
)

// String returns string representation.
func (k ResultKind) String() string {
	switch k {
	case Success:
		return "Success"
	case Empty:
		return "Empty"
	case Failure:
		return "Failure"
	default:
		return fmt.Sprintf("Invalid(%d)", int(k))
	}
}

// Result is the outcome of one load attempt: Success, Empty or Failure.
// Exactly one variant is populated; a Result is not modified after construction.
type Result struct {
	kind    ResultKind
	records []Record
	failure FailureKind
	err     error
	skipped int
}

// Succeeded builds a Success result. An empty slice yields Empty instead.
func Succeeded(records []Record, skipped int) Result {
	if len(records) == 0 {
		return Result{kind: Empty, skipped: skipped}
	}
	owned := make([]Record, len(records))
	copy(owned, records)
	return Result{kind: Success, records: owned, skipped: skipped}
}

// Failed builds a Failure result. kind KindNone is derived from err via Classify.
func Failed(kind FailureKind, err error) Result {
	if kind == KindNone {
		kind = Classify(err)
	}
	return Result{kind: Failure, failure: kind, err: err}
}

// Kind returns the variant tag.
func (r Result) Kind() ResultKind {
	return r.kind
}

// Records returns a copy of the records in feed order. Nil unless Kind is Success.
func (r Result) Records() []Record {
	if r.kind != Success {
		return nil
	}
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records without copying.
func (r Result) Len() int {
	return len(r.records)
}

// FailureKind returns the failure classification, KindNone unless Kind is Failure.
func (r Result) FailureKind() FailureKind {
	return r.failure
}

// Err returns the failure detail, nil unless Kind is Failure.
func (r Result) Err() error {
	return r.err
}

// Skipped reports how many malformed features were dropped while extracting.
func (r Result) Skipped() int {
	return r.skipped
}

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r.kind {
	case Success:
		return fmt.Sprintf("Success(%d records, %d skipped)", len(r.records), r.skipped)
	case Empty:
		return fmt.Sprintf("Empty(%d skipped)", r.skipped)
	default:
		return fmt.Sprintf("Failure(%s: %v)", r.failure, r.err)
	}
}
